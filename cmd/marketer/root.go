package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/testerbesterkali/marketer/internal/apiclient"
	"github.com/testerbesterkali/marketer/internal/app"
	"github.com/testerbesterkali/marketer/internal/config"
	"github.com/testerbesterkali/marketer/internal/logger"
)

// env holds what the commands reach for, so tests can swap the database-backed app.
type env struct {
	loadConfig func() (*config.EnvSpec, error)
	openApp    func(ctx context.Context, cfg *config.EnvSpec, log *logger.Logger) (*app.App, error)
	newClient  func(baseURL string, log *logger.Logger) *apiclient.Client
}

func defaultEnv() *env {
	return &env{
		loadConfig: config.Load,
		openApp:    app.Open,
		newClient:  apiclient.New,
	}
}

type rootOptions struct {
	apiURL  string
	logMode string
	timeout time.Duration
}

func newRootCmd(e *env) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "marketer",
		Short:         "Onboarding pipeline and publisher tools",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", "", "API base URL (defaults to PUBLIC_URL)")
	root.PersistentFlags().StringVar(&opts.logMode, "log-mode", "", "dev or prod (defaults to LOG_MODE)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "overall command timeout")

	root.AddCommand(newStageCmd(e, opts), newPublishSweepCmd(e, opts), newWatchCmd(e, opts))
	return root
}

// session loads config and logger for one command run.
type session struct {
	cfg *config.EnvSpec
	log *logger.Logger
}

func (o *rootOptions) session(e *env) (*session, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if o.apiURL != "" {
		cfg.PublicURL = o.apiURL
	}
	mode := cfg.LogMode
	if o.logMode != "" {
		mode = o.logMode
	}
	log, err := logger.New(mode)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, log: log.With("component", "CLI")}, nil
}

func (o *rootOptions) context(parent context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.timeout)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
