package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/testerbesterkali/marketer/internal/adapters/adaptertest"
	"github.com/testerbesterkali/marketer/internal/app"
	"github.com/testerbesterkali/marketer/internal/config"
	"github.com/testerbesterkali/marketer/internal/logger"
	"github.com/testerbesterkali/marketer/internal/progress"
	"github.com/testerbesterkali/marketer/internal/store/storetest"
)

func testConfig(t *testing.T) *config.EnvSpec {
	t.Helper()
	t.Setenv("PUBLISHER_ENABLED", "false")
	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.DatabaseURL = "postgres://example"
	return cfg
}

func memoryApp(ctx context.Context, cfg *config.EnvSpec, log *logger.Logger) (*app.App, error) {
	return app.Assemble(cfg, log, app.Parts{
		Store:   storetest.NewMemory(),
		Bus:     progress.NewHub(),
		Scraper: &adaptertest.Scraper{},
		LLM:     &adaptertest.LLM{},
		Images:  &adaptertest.Images{},
	}), nil
}

func TestNewServer_UsesPort(t *testing.T) {
	cfg := testConfig(t)
	cfg.Port = "12345"
	srv := newServer(cfg, http.NotFoundHandler())
	if srv.Addr != ":12345" {
		t.Fatalf("expected :12345, got %q", srv.Addr)
	}
	if srv.WriteTimeout != 0 {
		t.Fatalf("stage responses must not be cut off by a write timeout")
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	a, _ := memoryApp(context.Background(), cfg, nil)
	r := a.Router()

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Body.String(), "{") {
		t.Fatalf("expected json 200, got %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("expected prometheus exposition, got %d", rr.Code)
	}
}

func TestRun_Smoke_NoRealListen(t *testing.T) {
	cfg := testConfig(t)
	stop := make(chan os.Signal, 1)
	stop <- os.Interrupt

	migrated := false
	err := run(deps{
		loadConfig: func() (*config.EnvSpec, error) { return cfg, nil },
		openApp:    memoryApp,
		migrateUp: func(*app.App) error {
			migrated = true
			return nil
		},
		listenAndServe: func(*http.Server) error { return http.ErrServerClosed },
		stopCh:         stop,
	})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if !migrated {
		t.Fatalf("expected migrations to run before serving")
	}
}

func TestRun_PropagatesFailures(t *testing.T) {
	cfg := testConfig(t)
	boom := errors.New("boom")

	err := run(deps{
		loadConfig:     func() (*config.EnvSpec, error) { return cfg, nil },
		openApp:        func(context.Context, *config.EnvSpec, *logger.Logger) (*app.App, error) { return nil, boom },
		listenAndServe: func(*http.Server) error { return nil },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}

	err = run(deps{
		loadConfig:     func() (*config.EnvSpec, error) { return cfg, nil },
		openApp:        memoryApp,
		migrateUp:      func(*app.App) error { return boom },
		listenAndServe: func(*http.Server) error { return nil },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected migrate error, got %v", err)
	}

	if err := run(deps{}); err == nil {
		t.Fatalf("expected error for missing deps")
	}
}

func TestDefaultDeps_HasRequiredFields(t *testing.T) {
	d := defaultDeps()
	if d.loadConfig == nil || d.openApp == nil || d.migrateUp == nil || d.listenAndServe == nil || d.notify == nil {
		t.Fatalf("expected all default deps to be non-nil")
	}
}
