package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"crm-approvals/internal/api"
	"crm-approvals/internal/config"
	"crm-approvals/internal/dbexec"
	"crm-approvals/internal/logging"
	"crm-approvals/internal/middleware"
	"crm-approvals/internal/naming"
	"crm-approvals/internal/observability"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/platform/rest"
	"crm-approvals/internal/platform/sqlmirror"
	"crm-approvals/internal/review"
	"crm-approvals/internal/schemacache"
	"crm-approvals/internal/schemamap"

	"github.com/XSAM/otelsql"
	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	apiPrefix   = "/api/v1/approvals"
	adminPrefix = "/admin"
)

func observabilityConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

// InitLogger builds the process logger and, when log export is enabled,
// an OTLP logger provider bridged into it.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observabilityConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	logger.Info("OpenTelemetry logging initialized successfully")

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.ReviewMetrics, *observability.SchemaMetrics, *observability.SecurityMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(observabilityConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, nil, nil, err
	}

	reviewMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	schemaMetrics, err := observability.InitSchemaMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	securityMetrics, err := observability.InitSecurityMetrics()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger.Info("OpenTelemetry metrics initialized successfully")
	return meterProvider, reviewMetrics, schemaMetrics, securityMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	tracerProvider, err := observability.InitTracerProvider(observabilityConfig(cfg, tracesConfig))
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized successfully")
	return tracerProvider, nil
}

// mirrorConn is the database behind a sqlmirror client.
type mirrorConn struct {
	db       *sql.DB
	statsReg interface{ Unregister() error }
}

// buildPlatformClient returns the configured platform client. The mirror
// connection is non-nil only for the sqlmirror backend and is owned by the
// caller.
func buildPlatformClient(ctx context.Context, cfg *config.Config, logger *logging.Logger, metrics *observability.ReviewMetrics) (platform.Client, *mirrorConn, error) {
	switch cfg.Platform.Backend {
	case config.BackendREST:
		client, err := buildRESTClient(ctx, cfg, logger, metrics)
		return client, nil, err
	case config.BackendSQLMirror:
		return buildMirrorClient(ctx, cfg, logger, metrics)
	default:
		return nil, nil, fmt.Errorf("unsupported platform backend %q", cfg.Platform.Backend)
	}
}

func buildRESTClient(ctx context.Context, cfg *config.Config, logger *logging.Logger, metrics *observability.ReviewMetrics) (*rest.Client, error) {
	restCfg := cfg.Platform.REST
	tokens, err := rest.NewTokenSource(ctx, rest.AuthConfig{
		Flow:            restCfg.Auth.Flow,
		TokenURL:        restCfg.Auth.TokenURL,
		ClientID:        restCfg.Auth.ClientID,
		ClientSecret:    restCfg.Auth.ClientSecret,
		Scopes:          restCfg.Auth.Scopes,
		Username:        restCfg.Auth.Username,
		Audience:        restCfg.Auth.Audience,
		PrivateKeyPath:  restCfg.Auth.PrivateKeyFile,
		AccessToken:     restCfg.Auth.AccessToken,
		SessionLifetime: restCfg.Auth.SessionLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build platform token source: %w", err)
	}

	client, err := rest.New(rest.Config{
		InstanceURL: restCfg.InstanceURL,
		APIVersion:  restCfg.APIVersion,
		TokenSource: tokens,
		Timeout:     restCfg.Timeout,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("platform client ready",
		slog.String("backend", config.BackendREST),
		slog.String("instance_url", restCfg.InstanceURL),
		slog.String("auth_flow", restCfg.Auth.Flow),
	)
	return client, nil
}

func buildMirrorClient(ctx context.Context, cfg *config.Config, logger *logging.Logger, metrics *observability.ReviewMetrics) (*sqlmirror.Mirror, *mirrorConn, error) {
	mirrorCfg := &cfg.Platform.SQLMirror
	if err := mirrorCfg.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}
	dsn, err := mirrorCfg.MirrorDSN()
	if err != nil {
		return nil, nil, err
	}
	dsn, database, err := sqlmirror.NormalizeDSN(dsn)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("connecting to SQL mirror",
		slog.String("host", mirrorCfg.Host),
		slog.Int("port", mirrorCfg.Port),
		slog.String("database", database),
		slog.Bool("dsn_present", strings.TrimSpace(mirrorCfg.DSN) != ""),
	)

	conn, err := connectDB(cfg, logger, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = conn.db.Close()
		}
	}()

	conn.db.SetMaxOpenConns(mirrorCfg.Pool.MaxOpen)
	conn.db.SetMaxIdleConns(mirrorCfg.Pool.MaxIdle)
	conn.db.SetConnMaxLifetime(mirrorCfg.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, mirrorCfg, logger, conn.db); err != nil {
		return nil, nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	mirror, err := sqlmirror.New(sqlmirror.Config{
		Executor:    dbexec.NewStandardExecutor(conn.db, dbexec.WithSlowQueryLog(logger, mirrorCfg.SlowQueryThreshold)),
		Database:    database,
		PageSize:    mirrorCfg.PageSize,
		OffsetCap:   mirrorCfg.OffsetCap,
		LocatorTTL:  mirrorCfg.LocatorTTL,
		DescribeTTL: mirrorCfg.DescribeTTL,
		Namer:       naming.New(cfg.Naming, logger.Logger),
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("platform client ready",
		slog.String("backend", config.BackendSQLMirror),
		slog.String("database", database),
		slog.Int("pool_max_open", mirrorCfg.Pool.MaxOpen),
		slog.Int("pool_max_idle", mirrorCfg.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", mirrorCfg.Pool.MaxLifetime),
	)
	ok = true
	return mirror, conn, nil
}

func connectDB(cfg *config.Config, logger *logging.Logger, dsn string) (*mirrorConn, error) {
	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
		return &mirrorConn{db: db}, nil
	}

	commenter := cfg.Platform.SQLMirror.SQLCommenterEnabled
	opts := []otelsql.Option{
		otelsql.WithAttributes(semconv.DBSystemMySQL),
	}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
		if commenter {
			opts = append(opts, otelsql.WithSQLCommenter(true))
			logger.Info("SQLCommenter enabled - trace context will be injected into SQL queries")
		}
	} else if commenter {
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open("mysql", dsn, opts...)
	if err != nil {
		return nil, err
	}
	conn := &mirrorConn{db: db}

	if cfg.Observability.MetricsEnabled {
		conn.statsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
		slog.Bool("sqlcommenter", commenter && cfg.Observability.TracingEnabled),
	)
	return conn, nil
}

// waitForDatabase pings until the mirror answers or ConnectionTimeout
// elapses. A zero timeout pings once.
func waitForDatabase(ctx context.Context, cfg *config.SQLMirrorConfig, logger *logging.Logger, db *sql.DB) error {
	timeout := cfg.ConnectionTimeout
	interval := cfg.ConnectionRetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0
	for {
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}

func buildSchemaStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (redis.UniversalClient, schemacache.Store, error) {
	if cfg.SchemaCache.Backend != config.CacheRedis {
		return nil, schemacache.NewMemoryStore(), nil
	}

	redisCfg := cfg.SchemaCache.Redis
	client, err := schemacache.NewRedisClient(ctx, schemacache.RedisConfig{
		Address:  redisCfg.Address,
		Password: redisCfg.Password,
		Database: redisCfg.Database,
		PoolSize: redisCfg.PoolSize,
		Key:      redisCfg.Key,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("schema cache using redis",
		slog.String("address", redisCfg.Address),
		slog.Int("database", redisCfg.Database),
	)
	return client, schemacache.NewRedisStore(client, redisCfg.Key), nil
}

func buildSchemaCache(cfg *config.Config, logger *logging.Logger, client platform.Client, store schemacache.Store, metrics *observability.SchemaMetrics) (*schemacache.Cache, error) {
	discoverer, err := schemamap.NewService(schemamap.Config{
		Client:           client,
		CandidateObjects: cfg.Review.CandidateObjects,
		RoleOverrides:    cfg.Review.RoleOverrideMap(),
		Naming:           cfg.Naming,
		Logger:           logger,
		Metrics:          metrics,
	})
	if err != nil {
		return nil, err
	}
	return schemacache.New(schemacache.Config{
		Discoverer: discoverer,
		Store:      store,
		TTL:        cfg.SchemaCache.TTL,
		Logger:     logger,
		Metrics:    metrics,
	})
}

func buildReviewService(cfg *config.Config, logger *logging.Logger, client platform.Client, schema *schemacache.Cache, metrics *observability.ReviewMetrics) (*review.Service, error) {
	rc := cfg.Review
	return review.NewService(review.Config{
		Client:          client,
		Schema:          schema,
		Logger:          logger,
		Metrics:         metrics,
		Naming:          cfg.Naming,
		OffsetCap:       rc.OffsetCap,
		MaxBatchSize:    rc.MaxBatchSize,
		MaxPages:        rc.MaxPages,
		FilterChunkSize: rc.FilterChunkSize,
		FilterMaxChunks: rc.FilterMaxChunks,
		UpdateChunkSize: rc.UpdateChunkSize,
		MaxUpdateIDs:    rc.MaxUpdateIDs,
		OptionsMaxPages: rc.OptionsMaxPages,
		PendingStatus:   rc.PendingStatus,
		ApprovedStatus:  rc.ApprovedStatus,
		RejectedStatus:  rc.RejectedStatus,
	})
}

func buildAPIHandler(cfg *config.Config, reviewer api.Reviewer, schema api.SchemaInvalidator, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	h, err := api.NewHandler(api.HandlerConfig{
		Reviewer:       reviewer,
		Schema:         schema,
		RequestTimeout: cfg.Review.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	var routerCfg api.RouterConfig
	if cfg.Server.Admin.Enabled {
		adminAuth, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
			Token:      cfg.Server.Admin.AuthToken,
			HeaderName: cfg.Server.Admin.HeaderName,
			Metrics:    securityMetrics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure admin auth: %w", err)
		}
		routerCfg.AdminAuth = adminAuth
	}
	return api.NewRouter(h, routerCfg), nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, healthCheck func(context.Context) error, apiHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(apiPrefix+"/", apiHandler)
	mux.Handle(apiPrefix, apiHandler)
	if cfg.Server.Admin.Enabled {
		mux.Handle(adminPrefix+"/", apiHandler)
	}

	mux.HandleFunc("/health", healthHandler(cfg.Platform.Backend, healthCheck, cfg.Server.HealthCheckTimeout))

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	handler = middleware.LoggingMiddleware(logger, "/health", "/metrics")(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			ExposeHeaders:    cfg.Server.CORSExposeHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(handler)
	}

	if cfg.Server.RateLimitEnabled {
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled: cfg.Server.RateLimitEnabled,
			RPS:     cfg.Server.RateLimitRPS,
			Burst:   cfg.Server.RateLimitBurst,
		})(handler)
	}

	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute keeps span names low-cardinality.
func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/health", "/metrics", adminPrefix + "/schema/invalidate":
		return rawPath
	}
	trimmed := strings.TrimSuffix(rawPath, "/")
	switch trimmed {
	case apiPrefix, apiPrefix + "/summary", apiPrefix + "/filter-options",
		apiPrefix + "/schema", apiPrefix + "/approve", apiPrefix + "/reject":
		return trimmed
	}
	return "/*"
}

func tlsEnabled(cfg *config.Config) bool {
	return cfg.Server.TLSMode == "file"
}

func buildServer(cfg *config.Config, logger *logging.Logger, handler http.Handler, serverAddr string) (*http.Server, error) {
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	switch cfg.Server.TLSMode {
	case "", "off":
	case "file":
		if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
			return nil, fmt.Errorf("tls_mode file requires tls_cert_file and tls_key_file")
		}
		logger.Info("TLS enabled",
			slog.String("mode", cfg.Server.TLSMode),
			slog.String("cert_file", cfg.Server.TLSCertFile))
	default:
		return nil, fmt.Errorf("unsupported tls_mode %q", cfg.Server.TLSMode)
	}

	return srv, nil
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	secure := tlsEnabled(cfg)
	go func() {
		protocol := "http"
		if secure {
			protocol = "https"
		}

		logAttrs := []any{
			slog.String("protocol", protocol),
			slog.String("address", serverAddr),
			slog.String("api_endpoint", apiPrefix),
			slog.String("health_endpoint", "/health"),
			slog.String("platform_backend", cfg.Platform.Backend),
			slog.String("schema_cache", cfg.SchemaCache.Backend),
			slog.Duration("request_timeout", cfg.Review.RequestTimeout),
			slog.String("log_level", cfg.Observability.Logging.Level),
			slog.String("log_format", cfg.Observability.Logging.Format),
			slog.Bool("tls_enabled", secure),
		}

		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		if cfg.Server.Admin.Enabled {
			logAttrs = append(logAttrs, slog.String("admin_endpoint", adminPrefix+"/schema/invalidate"))
		}
		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
			)
		}

		logger.Info("server starting", logAttrs...)

		var err error
		if secure {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler reports liveness. With a check (the mirror database ping)
// the platform dependency must answer within timeout.
func healthHandler(backend string, check func(context.Context) error, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if check == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprintf(w, `{"status":"healthy","platform":%q}`, backend)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := check(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			// Generic message; the driver error stays in the log.
			_, _ = fmt.Fprintf(w, `{"status":"unhealthy","platform":%q,"database":"failed"}`, backend)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"healthy","platform":%q,"database":"ok"}`, backend)
	}
}
