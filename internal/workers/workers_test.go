package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/testerbesterkali/marketer/internal/metrics"
	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/store/storetest"
)

func TestStaleGeneratingReaper_FailsOnlyStalePosts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mem := storetest.NewMemory()
	mem.Now = func() time.Time { return now }

	stale, _ := mem.InsertPost(ctx, &models.Post{WorkspaceID: "ws", Platform: "instagram", Status: models.PostGenerating})
	fresh, _ := mem.InsertPost(ctx, &models.Post{WorkspaceID: "ws", Platform: "instagram", Status: models.PostGenerating})
	draft, _ := mem.InsertPost(ctx, &models.Post{WorkspaceID: "ws", Platform: "instagram", Status: models.PostDraft})
	mem.SetPostUpdatedAt(stale.ID, now.Add(-time.Hour))
	mem.SetPostUpdatedAt(draft.ID, now.Add(-time.Hour))

	m := metrics.Noop()
	w := &StaleGeneratingReaper{Store: mem, After: 15 * time.Minute, Metrics: m, Now: func() time.Time { return now }}
	n, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	got, _ := mem.GetPost(ctx, stale.ID)
	if got.Status != models.PostFailed || got.PublishError == nil || *got.PublishError != StaleGeneratingReason {
		t.Fatalf("unexpected stale post %+v", got)
	}
	if got, _ := mem.GetPost(ctx, fresh.ID); got.Status != models.PostGenerating {
		t.Fatalf("fresh post should be untouched, got %s", got.Status)
	}
	if got, _ := mem.GetPost(ctx, draft.ID); got.Status != models.PostDraft {
		t.Fatalf("draft post should be untouched, got %s", got.Status)
	}
	if v := testutil.ToFloat64(m.ReapedPosts); v != 1 {
		t.Fatalf("expected counter 1, got %v", v)
	}
}

func TestRunScheduled_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- RunScheduled(ctx, nil, "Test", "@every 1s", time.Second, func(context.Context) {
			if runs.Add(1) == 1 {
				cancel()
			}
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("worker did not stop")
	}
	if runs.Load() < 1 {
		t.Fatalf("expected at least one run")
	}
}

func TestRunScheduled_BadSpec(t *testing.T) {
	if err := RunScheduled(context.Background(), nil, "Test", "every minute", 0, func(context.Context) {}); err == nil {
		t.Fatalf("expected error for bad spec")
	}
}
