package serverapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"crm-approvals/internal/config"
	"crm-approvals/internal/logging"
	"crm-approvals/internal/naming"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "info", Format: "text"})
}

func restConfig() *config.Config {
	return &config.Config{
		Platform: config.PlatformConfig{
			Backend: config.BackendREST,
			REST: config.RESTConfig{
				InstanceURL: "https://acme.crm.invalid",
				Timeout:     time.Second,
				Auth: config.RESTAuthConfig{
					Flow:        "static",
					AccessToken: "token",
				},
			},
		},
		Review: config.ReviewConfig{
			RequestTimeout: time.Second,
		},
		SchemaCache: config.SchemaCacheConfig{Backend: config.CacheMemory},
		Server: config.ServerConfig{
			Port:               18090,
			Admin:              config.AdminConfig{Enabled: true, AuthToken: "secret", HeaderName: "X-Admin-Token"},
			ReadTimeout:        time.Second,
			WriteTimeout:       2 * time.Second,
			IdleTimeout:        time.Second,
			ShutdownTimeout:    time.Second,
			HealthCheckTimeout: time.Second,
			TLSMode:            "off",
		},
		Observability: config.ObservabilityConfig{
			ServiceName:    "crm-approvals",
			ServiceVersion: "test",
			Environment:    "test",
			Logging:        config.LoggingConfig{Level: "info", Format: "text"},
		},
		Naming: naming.DefaultConfig(),
	}
}

func TestNew_RejectsUnknownBackend(t *testing.T) {
	cfg := restConfig()
	cfg.Platform.Backend = "soap"
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatalf("expected unknown backend to be rejected")
	}
}

func TestWaitForStop_SignalWins(t *testing.T) {
	app := &App{logger: testLogger()}
	stop := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)

	stop <- syscall.SIGTERM

	reason, err := app.WaitForStop(stop, serverErrors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != StopSignal {
		t.Fatalf("expected reason=signal, got %q", reason)
	}
}

func TestWaitForStop_ServerErrorWins(t *testing.T) {
	app := &App{logger: testLogger()}
	stop := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)
	serverErrors <- errors.New("boom")

	reason, err := app.WaitForStop(stop, serverErrors)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if reason != StopServerError {
		t.Fatalf("expected reason=server_error, got %q", reason)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	app := &App{logger: testLogger()}
	var calls int32
	app.cleanup.push("test", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown failed: %v", err)
	}
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown failed: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected cleanup to run once, ran %d times", got)
	}
}

func TestCleanupStack_RunsInReverseOrder(t *testing.T) {
	var order []string
	var stack cleanupStack
	for _, name := range []string{"first", "second", "third"} {
		stack.push(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	if err := stack.run(context.Background(), nil); err != nil {
		t.Fatalf("unexpected cleanup error: %v", err)
	}

	if strings.Join(order, ",") != "third,second,first" {
		t.Fatalf("unexpected cleanup order %v", order)
	}
}

func TestStart_BeforeInit_Fails(t *testing.T) {
	app := &App{logger: testLogger()}
	if _, err := app.Start(); err == nil {
		t.Fatalf("expected start to fail before init")
	}
}

func TestStartAndShutdown_HappyPath(t *testing.T) {
	app := &App{
		cfg: &config.Config{
			Server: config.ServerConfig{TLSMode: "off"},
		},
		logger:     testLogger(),
		serverAddr: "127.0.0.1:0",
		srv: &http.Server{
			Addr:    "127.0.0.1:0",
			Handler: http.NewServeMux(),
		},
		initialized: true,
	}
	app.cleanup.push("HTTP server", func(ctx context.Context) error {
		return app.srv.Shutdown(ctx)
	})

	if _, err := app.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestInit_RESTBackendServesHealthAndAdmin(t *testing.T) {
	app, err := New(restConfig(), testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	handler := app.Handler()
	if handler == nil {
		t.Fatalf("expected handler after init")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"platform":"rest"`) {
		t.Fatalf("unexpected health body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/schema/invalidate", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/schema/invalidate", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with admin token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInit_AdminDisabledHidesRoute(t *testing.T) {
	cfg := restConfig()
	cfg.Server.Admin = config.AdminConfig{}
	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/schema/invalidate", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when admin is disabled, got %d", rec.Code)
	}
}

func TestInitFailure_DoesNotMarkInitialized(t *testing.T) {
	cfg := restConfig()
	cfg.Platform = config.PlatformConfig{
		Backend: config.BackendSQLMirror,
		SQLMirror: config.SQLMirrorConfig{
			Host:     "127.0.0.1",
			Port:     1,
			User:     "crm_approvals",
			Password: "invalid",
			Database: "crm",
			TLS:      config.DatabaseTLSConfig{Mode: "off"},
			Pool: config.PoolConfig{
				MaxOpen:     1,
				MaxIdle:     1,
				MaxLifetime: time.Second,
			},
			ConnectionTimeout:       0,
			ConnectionRetryInterval: 10 * time.Millisecond,
		},
	}

	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	if err := app.Init(context.Background()); err == nil {
		t.Fatalf("expected init to fail with unreachable database")
	}

	app.stateMu.Lock()
	initialized := app.initialized
	app.stateMu.Unlock()
	if initialized {
		t.Fatalf("app should not be marked initialized after failed Init")
	}
}

func TestBuildEngine_RESTBackend(t *testing.T) {
	engine, err := BuildEngine(context.Background(), restConfig(), testLogger())
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	defer func() { _ = engine.Close(context.Background()) }()

	if engine.Reviewer == nil || engine.Schema == nil {
		t.Fatalf("engine is missing components")
	}
	if err := engine.Schema.Invalidate(context.Background()); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
}

func TestShutdown_ReportsCleanupErrors(t *testing.T) {
	app := &App{logger: testLogger()}
	var ran bool
	app.cleanup.push("first", func(context.Context) error {
		ran = true
		return nil
	})
	app.cleanup.push("broken", func(context.Context) error {
		return errors.New("close failed")
	})

	err := app.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "broken: close failed") {
		t.Fatalf("expected joined cleanup error, got %v", err)
	}
	if !ran {
		t.Fatalf("expected remaining cleanup to run after a failure")
	}
}

func TestWaitForStop_NilStopWaitsForServer(t *testing.T) {
	app := &App{logger: testLogger()}
	serverErrors := make(chan error, 1)
	serverErrors <- nil

	reason, err := app.WaitForStop(nil, serverErrors)
	if reason != StopServerError || err == nil {
		t.Fatalf("expected unexpected-stop error, got %q %v", reason, err)
	}
}
