// Package app wires the configured store, progress bus, adapters and services together.
// cmd/api and cmd/marketer both start from here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/testerbesterkali/marketer/internal/adapters/imagegen"
	"github.com/testerbesterkali/marketer/internal/adapters/llm"
	"github.com/testerbesterkali/marketer/internal/adapters/scrape"
	"github.com/testerbesterkali/marketer/internal/adapters/social"
	"github.com/testerbesterkali/marketer/internal/config"
	"github.com/testerbesterkali/marketer/internal/handlers"
	"github.com/testerbesterkali/marketer/internal/logger"
	"github.com/testerbesterkali/marketer/internal/metrics"
	"github.com/testerbesterkali/marketer/internal/middleware"
	"github.com/testerbesterkali/marketer/internal/pipeline"
	"github.com/testerbesterkali/marketer/internal/progress"
	"github.com/testerbesterkali/marketer/internal/publisher"
	"github.com/testerbesterkali/marketer/internal/store"
	"github.com/testerbesterkali/marketer/internal/workers"
)

// Social is the Meta Graph surface: publishing for the sweep, OAuth for the callback.
type Social interface {
	publisher.Platforms
	handlers.MetaOAuth
}

// Parts are the pluggable edges of the system. Tests pass the in-memory store and fakes.
type Parts struct {
	Store   store.Store
	Bus     progress.Bus
	Scraper pipeline.Scraper
	LLM     pipeline.Completer
	Images  pipeline.ImageGenerator
	Social  Social
	Now     func() time.Time
}

type App struct {
	Config    *config.EnvSpec
	Log       *logger.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Store     store.Store
	Bus       progress.Bus
	Stages    *pipeline.Service
	Publisher *publisher.Publisher
	Handler   *handlers.Handler

	db *sql.DB
}

// Open connects to Postgres and Redis (when configured) and builds the real adapters.
func Open(ctx context.Context, cfg *config.EnvSpec, log *logger.Logger) (*App, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var bus progress.Bus
	if cfg.RedisURL != "" {
		rb, err := progress.NewRedisBus(log, cfg.RedisURL)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		bus = rb
	} else {
		log.Warn("redis_not_configured", "fallback", "in-process hub")
		bus = progress.NewHub()
	}

	a := Assemble(cfg, log, Parts{
		Store:   store.NewPostgres(db),
		Bus:     bus,
		Scraper: scrape.New(cfg.JinaBaseURL, cfg.JinaAPIKey),
		LLM:     llm.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel).WithRateLimit(cfg.LLMRPS, 1),
		Images:  imagegen.New(cfg.PollinationsBaseURL, cfg.PollinationsProbe),
		Social:  social.New(cfg.MetaGraphURL, cfg.MetaAppID, cfg.MetaAppSecret).WithLimiters(social.NewLimiters(os.Getenv)),
	})
	a.db = db
	return a, nil
}

// Assemble builds the services over the given parts.
func Assemble(cfg *config.EnvSpec, log *logger.Logger, p Parts) *App {
	log = logger.OrNop(log)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	stages := pipeline.New(pipeline.Deps{
		Store:    p.Store,
		Scraper:  p.Scraper,
		LLM:      p.LLM,
		Images:   p.Images,
		Progress: p.Bus,
		Log:      log,
		Metrics:  m,
		Timeouts: pipeline.Timeouts{
			Scrape: cfg.ScrapeTimeout,
			LLM:    cfg.LLMTimeout,
			Image:  cfg.ImageTimeout,
			Write:  cfg.StageWriteTimeout,
		},
		Now: p.Now,
	})
	pub := publisher.New(p.Store, p.Social, publisher.Options{
		BatchLimit:     cfg.PublisherBatchLimit,
		PublishTimeout: cfg.PublishTimeout,
		Log:            log,
		Metrics:        m,
		Notifier:       p.Bus,
		Now:            p.Now,
	})
	h := handlers.New(handlers.Deps{
		Store:            p.Store,
		Stages:           stages,
		Sweeper:          pub,
		Progress:         p.Bus,
		Meta:             p.Social,
		Log:              log,
		PublicURL:        cfg.PublicURL,
		SiteURL:          cfg.SiteURL,
		InternalWSSecret: cfg.InternalWSSecret,
	})
	return &App{
		Config:    cfg,
		Log:       log,
		Registry:  reg,
		Metrics:   m,
		Store:     p.Store,
		Bus:       p.Bus,
		Stages:    stages,
		Publisher: pub,
		Handler:   h,
	}
}

// Migrate applies pending migrations from cfg.MigrationsURL.
func (a *App) Migrate() error {
	if a.db == nil {
		return errors.New("migrations need a database connection")
	}
	driver, err := postgres.WithInstance(a.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to init migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(a.Config.MigrationsURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}

// Router returns the API routes wrapped in CORS.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.NewRequestLogger(a.Log, a.Metrics).Middleware)
	handlers.Register(a.Handler, r, promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// StartWorkers launches the scheduled publisher and the generating reaper. They stop with ctx.
func (a *App) StartWorkers(ctx context.Context) {
	if a.Config.PublisherEnabled {
		w := &publisher.Worker{
			Publisher: a.Publisher,
			Schedule:  a.Config.PublisherSchedule,
			Log:       a.Log,
		}
		go func() {
			if err := w.Start(ctx); err != nil {
				a.Log.Error("worker_failed", "worker", "ScheduledPublisher", "error", err)
			}
		}()
	} else {
		a.Log.Info("worker_disabled", "worker", "ScheduledPublisher")
	}

	reaper := &workers.StaleGeneratingReaper{
		Store:    a.Store,
		After:    a.Config.StaleGeneratingAfter,
		Schedule: a.Config.ReaperSchedule,
		Log:      a.Log,
		Metrics:  a.Metrics,
	}
	go func() {
		if err := reaper.Start(ctx); err != nil {
			a.Log.Error("worker_failed", "worker", "StaleGeneratingReaper", "error", err)
		}
	}()
}

func (a *App) Close() error {
	var errs []error
	if a.Bus != nil {
		errs = append(errs, a.Bus.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
