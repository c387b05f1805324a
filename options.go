package driftwatch

import (
	"log/slog"
	"time"
)

// Option configures an Engine at construction time.
type Option func(*engineOptions)

type engineOptions struct {
	config Config
	logger *slog.Logger
	clock  func() time.Time
}

// WithConfig replaces the default configuration wholesale. Validated by New.
func WithConfig(cfg Config) Option {
	return func(o *engineOptions) { o.config = cfg }
}

// WithLogger sets the structured logger. If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithClock overrides the engine's time source. Tests use this to pin
// record timestamps; production code should not need it.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.clock = now }
}
