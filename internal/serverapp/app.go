package serverapp

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"crm-approvals/internal/config"
	"crm-approvals/internal/logging"
	"crm-approvals/internal/observability"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/review"
	"crm-approvals/internal/schemacache"

	"github.com/go-redis/redis/v8"
)

// App owns runtime resources for the approval review server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	meterProvider   *observability.MeterProvider
	reviewMetrics   *observability.ReviewMetrics
	schemaMetrics   *observability.SchemaMetrics
	securityMetrics *observability.SecurityMetrics
	tracerProvider  *observability.TracerProvider

	// db is only set for the sqlmirror backend.
	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	client   platform.Client
	redis    redis.UniversalClient
	schema   *schemacache.Cache
	reviewer *review.Service

	mux     *http.ServeMux
	handler http.Handler

	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	switch cfg.Platform.Backend {
	case config.BackendREST, config.BackendSQLMirror:
	default:
		return nil, fmt.Errorf("unsupported platform backend %q", cfg.Platform.Backend)
	}

	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
