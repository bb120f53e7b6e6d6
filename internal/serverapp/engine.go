package serverapp

import (
	"context"
	"fmt"

	"crm-approvals/internal/config"
	"crm-approvals/internal/logging"
	"crm-approvals/internal/review"
	"crm-approvals/internal/schemacache"
)

// Engine is the review engine without the HTTP server, for one-shot
// operator commands.
type Engine struct {
	Reviewer *review.Service
	Schema   *schemacache.Cache

	cleanup cleanupStack
	logger  *logging.Logger
}

// BuildEngine connects the configured platform and schema cache. Metrics
// and tracing are not initialized. Close releases the connections.
func BuildEngine(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	e := &Engine{logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = e.cleanup.run(context.Background(), logger)
		}
	}()

	client, mirror, err := buildPlatformClient(ctx, cfg, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize platform client: %w", err)
	}
	if mirror != nil {
		e.cleanup.push("database", func(context.Context) error { return mirror.db.Close() })
	}

	redisClient, store, err := buildSchemaStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema cache store: %w", err)
	}
	if redisClient != nil {
		e.cleanup.push("redis", func(context.Context) error { return redisClient.Close() })
	}

	e.Schema, err = buildSchemaCache(cfg, logger, client, store, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema cache: %w", err)
	}
	e.Reviewer, err = buildReviewService(cfg, logger, client, e.Schema, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize review service: %w", err)
	}

	ok = true
	return e, nil
}

// Close releases the engine's connections.
func (e *Engine) Close(ctx context.Context) error {
	return e.cleanup.run(ctx, nil)
}
