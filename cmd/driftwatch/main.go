// Command driftwatch runs the quality anomaly detection daemon: it sweeps
// every entity with recorded quality metrics on an interval, runs the full
// detection pass, and logs flagged anomalies as they are published.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/castplan/driftwatch"
	"github.com/castplan/driftwatch/internal/config"
	"github.com/castplan/driftwatch/internal/sqlite"
	"github.com/castplan/driftwatch/internal/storage"
	"github.com/castplan/driftwatch/internal/telemetry"
	"github.com/castplan/driftwatch/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// entityLister is the store capability the scan loop needs beyond the engine's
// own MetricsStore contract. Both backends provide it.
type entityLister interface {
	ListEntities(ctx context.Context) ([]driftwatch.EntityRef, error)
}

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("DRIFTWATCH_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("driftwatch starting", "version", version, "backend", cfg.Backend)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	store, lister, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := driftwatch.New(store,
		driftwatch.WithConfig(engineConfig(cfg)),
		driftwatch.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	// Log every published anomaly for the duration of the process.
	anomalies := engine.Subscribe()
	go func() {
		for a := range anomalies {
			logger.Info("anomaly detected",
				"id", a.ID,
				"entity_id", a.EntityID,
				"dimension", a.Metadata.QualityDimension,
				"algorithm", a.Algorithm,
				"severity", a.Severity,
				"score", a.Score,
			)
		}
	}()

	scanLoop(ctx, engine, lister, cfg.ScanInterval, logger)

	slog.Info("driftwatch shutting down")
	return nil
}

// openStore builds the configured backend. Postgres runs migrations on start;
// SQLite applies its schema in Open.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (driftwatch.MetricsStore, entityLister, func(), error) {
	switch cfg.Backend {
	case "postgres":
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("migrations: %w", err)
		}
		return db, db, db.Close, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		return st, st, func() { _ = st.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// scanLoop sweeps all known entities on the configured interval until the
// context is canceled. Entities without enough history are skipped quietly.
func scanLoop(ctx context.Context, engine *driftwatch.Engine, lister entityLister, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep := func() {
		// Cached results have no TTL; drop them so each sweep sees new data.
		engine.ClearCache()

		entities, err := lister.ListEntities(ctx)
		if err != nil {
			logger.Warn("listing entities failed, skipping sweep", "error", err)
			return
		}
		for _, ref := range entities {
			result, err := engine.DetectAnomalies(ctx, ref.ID, ref.Type, "")
			switch {
			case err == nil:
				logger.Debug("sweep entity complete",
					"entity_id", ref.ID, "anomalies", len(result.Anomalies))
			case errors.Is(err, driftwatch.ErrInsufficientData),
				errors.Is(err, driftwatch.ErrAnalysisInProgress):
				logger.Debug("sweep entity skipped", "entity_id", ref.ID, "reason", err)
			case ctx.Err() != nil:
				return
			default:
				logger.Warn("sweep entity failed", "entity_id", ref.ID, "error", err)
			}
		}
	}

	sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// engineConfig maps environment configuration onto the engine's config surface.
func engineConfig(cfg config.Config) driftwatch.Config {
	ec := driftwatch.DefaultConfig()
	ec.ZScore.Threshold = cfg.ZScoreThreshold
	ec.ZScore.WindowSize = cfg.ZScoreWindow
	ec.ModifiedZScore.Threshold = cfg.ModifiedZThreshold
	ec.ModifiedZScore.WindowSize = cfg.ModifiedZWindow
	ec.IQR.Multiplier = cfg.IQRMultiplier
	ec.IQR.WindowSize = cfg.IQRWindow
	ec.Trend.WindowSize = cfg.TrendWindow
	ec.Trend.SeasonalPeriod = cfg.SeasonalPeriod
	ec.Trend.ForecastHorizon = cfg.ForecastHorizon
	ec.Data.MinDataPoints = cfg.MinDataPoints
	ec.Data.MaxHistorySize = cfg.MaxHistorySize
	ec.Data.CleanupInterval = cfg.CleanupInterval
	ec.Data.RetentionPeriod = cfg.RetentionPeriod
	ec.Performance.CacheSize = cfg.CacheSize
	ec.Performance.MaxConcurrentAnalysis = cfg.MaxConcurrentAnalysis
	return ec
}
