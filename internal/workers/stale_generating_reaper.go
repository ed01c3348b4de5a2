package workers

import (
	"context"
	"time"

	"github.com/testerbesterkali/marketer/internal/logger"
	"github.com/testerbesterkali/marketer/internal/metrics"
)

const StaleGeneratingReason = "generation timed out"

type staleFailer interface {
	FailStaleGenerating(ctx context.Context, olderThan time.Time, reason string) (int64, error)
}

// StaleGeneratingReaper fails posts left in generating by a regeneration that never finished.
// Regenerating the post is the recovery path.
type StaleGeneratingReaper struct {
	Store    staleFailer
	After    time.Duration // default 15m
	Schedule string        // default "@every 5m"
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func (w *StaleGeneratingReaper) defaults() {
	if w.After <= 0 {
		w.After = 15 * time.Minute
	}
	if w.Schedule == "" {
		w.Schedule = "@every 5m"
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	w.Log = logger.OrNop(w.Log)
	w.Metrics = metrics.OrNoop(w.Metrics)
}

// Start runs the reaper until ctx is done.
func (w *StaleGeneratingReaper) Start(ctx context.Context) error {
	w.defaults()
	return RunScheduled(ctx, w.Log, "StaleGeneratingReaper", w.Schedule, time.Minute, func(ctx context.Context) {
		_, _ = w.RunOnce(ctx)
	})
}

func (w *StaleGeneratingReaper) RunOnce(ctx context.Context) (int64, error) {
	w.defaults()
	cutoff := w.Now().Add(-w.After)
	n, err := w.Store.FailStaleGenerating(ctx, cutoff, StaleGeneratingReason)
	if err != nil {
		w.Log.Error("reap_failed", "component", "StaleGeneratingReaper", "error", err)
		return 0, err
	}
	if n > 0 {
		w.Metrics.ReapedPosts.Add(float64(n))
		w.Log.Info("reaped_generating_posts", "component", "StaleGeneratingReaper", "count", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}
