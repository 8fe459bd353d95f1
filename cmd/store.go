package main

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/bureau-cli/internal/pipeline"
	"github.com/sells-group/bureau-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "bureau.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pipelineEnv bundles the store and orchestrator for commands that run reports.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Orchestrator
}

// Close releases the store.
func (e *pipelineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initPipeline validates config for mode, opens and migrates the store and
// builds the orchestrator. OCR calls share one rate limiter when
// batch.ocr_rate_per_sec is positive.
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var opts []pipeline.Option
	if r := cfg.Batch.OCRRatePerSec; r > 0 {
		opts = append(opts, pipeline.WithRateLimiter(rate.NewLimiter(rate.Limit(r), 1)))
	}

	orch, err := pipeline.NewFromConfig(cfg, st, opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &pipelineEnv{Store: st, Pipeline: orch}, nil
}
