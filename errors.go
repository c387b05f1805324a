package driftwatch

import "errors"

// Sentinel errors returned by the engine. All are recoverable from the
// caller's perspective; nothing in this package is fatal to the host process.
var (
	// ErrInsufficientData means the stored series is shorter than the
	// configured minimum. Callers should retry once more data has arrived.
	ErrInsufficientData = errors.New("driftwatch: insufficient data points for analysis")

	// ErrAnalysisInProgress means a detection run for the same entity is
	// already in flight. Runs are rejected rather than queued; retry later.
	ErrAnalysisInProgress = errors.New("driftwatch: analysis already in progress for entity")

	// ErrStoreUnavailable wraps metrics store failures on paths that cannot
	// degrade to an empty result.
	ErrStoreUnavailable = errors.New("driftwatch: metrics store unavailable")

	// ErrEngineClosed is returned by operations invoked after Close.
	ErrEngineClosed = errors.New("driftwatch: engine is closed")
)
