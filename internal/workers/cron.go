package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/testerbesterkali/marketer/internal/logger"
)

type cronLogger struct{ l *logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

// RunScheduled runs fn on the cron spec (standard 5-field or "@every 1m") until ctx is done.
// A run still in progress when the next tick fires causes that tick to be skipped.
// Each run gets its own context bounded by timeout when timeout > 0.
func RunScheduled(ctx context.Context, log *logger.Logger, name, spec string, timeout time.Duration, fn func(context.Context)) error {
	log = logger.OrNop(log).With("component", name)
	cl := cronLogger{l: log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(spec, func() {
		runCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		defer cancel()
		fn(runCtx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	log.Info("worker_started", "schedule", spec, "timeout", timeout.String())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("worker_stopped", "error", ctx.Err())
	return nil
}
