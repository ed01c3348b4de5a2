package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/testerbesterkali/marketer/internal/app"
	"github.com/testerbesterkali/marketer/internal/config"
	"github.com/testerbesterkali/marketer/internal/logger"
)

func main() {
	if err := run(defaultDeps()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type deps struct {
	loadConfig     func() (*config.EnvSpec, error)
	openApp        func(ctx context.Context, cfg *config.EnvSpec, log *logger.Logger) (*app.App, error)
	migrateUp      func(a *app.App) error
	listenAndServe func(srv *http.Server) error
	notify         func(c chan<- os.Signal, sig ...os.Signal)
	stopCh         chan os.Signal
}

func defaultDeps() deps {
	return deps{
		loadConfig:     config.Load,
		openApp:        app.Open,
		migrateUp:      (*app.App).Migrate,
		listenAndServe: (*http.Server).ListenAndServe,
		notify:         signal.Notify,
	}
}

func newServer(cfg *config.EnvSpec, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:     handler,
		Addr:        ":" + cfg.Port,
		ReadTimeout: 15 * time.Second,
		// Stage functions and the progress websocket hold responses open for minutes.
		WriteTimeout: 0,
	}
}

func run(d deps) error {
	if d.loadConfig == nil || d.openApp == nil || d.listenAndServe == nil {
		return errors.New("loadConfig, openApp and listenAndServe are required")
	}
	cfg, err := d.loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()
	log = log.With("component", "API")

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := d.openApp(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if d.migrateUp != nil {
		if err := d.migrateUp(a); err != nil {
			return err
		}
		log.Info("database_up_to_date")
	}

	srv := newServer(cfg, a.Router())

	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}

	a.StartWorkers(rootCtx)

	go func() {
		<-stop
		log.Info("shutting_down")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("shutdown_failed", "error", err)
		}
	}()

	log.Info("server_starting", "port", cfg.Port)
	if err := d.listenAndServe(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server_stopped")
	return nil
}
