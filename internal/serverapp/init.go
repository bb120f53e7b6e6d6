package serverapp

import (
	"context"
	"fmt"
	"log/slog"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, reviewMetrics, schemaMetrics, securityMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	client, mirror, err := buildPlatformClient(ctx, a.cfg, a.logger, reviewMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize platform client: %w", err)
	}
	if mirror != nil {
		cleanup.push("database", func(_ context.Context) error {
			if mirror.statsReg != nil {
				if err := mirror.statsReg.Unregister(); err != nil {
					a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
				}
			}
			return mirror.db.Close()
		})
	}

	redisClient, store, err := buildSchemaStore(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize schema cache store: %w", err)
	}
	if redisClient != nil {
		cleanup.push("redis", func(_ context.Context) error {
			return redisClient.Close()
		})
	}

	schema, err := buildSchemaCache(a.cfg, a.logger, client, store, schemaMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize schema cache: %w", err)
	}

	reviewer, err := buildReviewService(a.cfg, a.logger, client, schema, reviewMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize review service: %w", err)
	}

	apiHandler, err := buildAPIHandler(a.cfg, reviewer, schema, securityMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize API handler: %w", err)
	}

	var healthCheck func(context.Context) error
	if mirror != nil {
		healthCheck = mirror.db.PingContext
	}
	mux := buildRouter(a.cfg, a.logger, healthCheck, apiHandler, meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, mux)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv, err := buildServer(a.cfg, a.logger, handler, serverAddr)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.reviewMetrics = reviewMetrics
	a.schemaMetrics = schemaMetrics
	a.securityMetrics = securityMetrics
	a.tracerProvider = tracerProvider
	if mirror != nil {
		a.db = mirror.db
		a.dbStatsReg = mirror.statsReg
	}
	a.client = client
	a.redis = redisClient
	a.schema = schema
	a.reviewer = reviewer
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
