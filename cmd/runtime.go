package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/cache"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/core"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/database"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/output"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/pipeline"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/source"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/telemetry"
)

// runtime holds the collaborators a command needs and closes them afterwards
type runtime struct {
	cfg       *config.Config
	log       *logger.Logger
	cache     core.Cache
	limiter   *ratelimit.Limiter
	fetcher   *source.Fetcher
	store     *database.Store
	telemetry core.Telemetry
}

func newRuntime(ctx context.Context, cfg *config.Config, log *logger.Logger) (*runtime, error) {
	c, err := cache.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	rt := &runtime{
		cfg:     cfg,
		log:     log,
		cache:   c,
		limiter: ratelimit.NewLimiter(ratelimit.FromSettings(cfg.RateLimit)),
	}
	rt.fetcher = source.NewFetcher(cfg.Source, c, log,
		source.WithLimiter(rt.limiter),
		source.WithCacheTTL(cfg.Cache.TTL),
	)

	rt.telemetry, err = telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		log.Warnw("Telemetry disabled", "error", err)
		rt.telemetry = telemetry.NewNoop()
	}

	if cfg.Database.Enabled {
		rt.store, err = database.NewStore(ctx, cfg.Database, log)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	return rt, nil
}

// Pipeline wires the analysis. Output writers are attached only when write is set.
func (rt *runtime) Pipeline(ctx context.Context, write bool, extra ...pipeline.Option) (*pipeline.Pipeline, error) {
	opts := []pipeline.Option{
		pipeline.WithTelemetry(rt.telemetry),
		pipeline.WithHideUncovered(rt.cfg.Output.HideUncovered),
	}

	if rt.cfg.D3FEND.Enabled {
		opts = append(opts, pipeline.WithEnricher(
			source.NewD3FENDClient(rt.cfg.D3FEND, nil, rt.limiter, rt.cache, rt.log),
		))
	}

	if write {
		w, err := output.New(ctx, rt.cfg, rt.log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize output: %w", err)
		}
		opts = append(opts, pipeline.WithLayerWriter(w), pipeline.WithDatasetWriter(w))
	}

	if rt.store != nil {
		opts = append(opts, pipeline.WithRunStore(rt.store))
	}

	return pipeline.New(rt.fetcher, rt.log, append(opts, extra...)...), nil
}

func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if rt.telemetry != nil {
		if err := rt.telemetry.Shutdown(ctx); err != nil {
			rt.log.Warnw("Failed to flush telemetry", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.log.Warnw("Failed to close database", "error", err)
		}
	}
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			rt.log.Warnw("Failed to close cache", "error", err)
		}
	}
}
