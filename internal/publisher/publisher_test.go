package publisher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testerbesterkali/marketer/internal/adapters/social"
	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/progress"
	"github.com/testerbesterkali/marketer/internal/store/storetest"
)

var sweepNow = time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func duePost(t *testing.T, mem *storetest.Memory, workspaceID, platform string, status models.PostStatus) *models.Post {
	t.Helper()
	ctx := context.Background()
	p, err := mem.InsertPost(ctx, &models.Post{
		WorkspaceID: workspaceID,
		Platform:    platform,
		Status:      models.PostDraft,
		Caption:     "Hello",
		Hashtags:    []string{"#acme"},
		ImageURL:    strPtr("https://images.test/1.png"),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mem.TransitionPost(ctx, p.ID, []models.PostStatus{models.PostDraft}, models.PostApproved, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := mem.SchedulePost(ctx, p.ID, sweepNow.Add(-time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if status == models.PostApproved {
		// approved with a past time, as left by an older client
		if err := mem.TransitionPost(ctx, p.ID, []models.PostStatus{models.PostScheduled}, models.PostApproved, nil); err != nil {
			t.Fatalf("reset to approved: %v", err)
		}
	}
	return p
}

func graphServer(t *testing.T, igCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ig-1/media", func(w http.ResponseWriter, r *http.Request) {
		igCalls.Add(1)
		_ = r.ParseForm()
		if r.Form.Get("access_token") != "tok" || !strings.Contains(r.Form.Get("caption"), "#acme") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad container request"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"creation-1"}`))
	})
	mux.HandleFunc("/ig-1/media_publish", func(w http.ResponseWriter, r *http.Request) {
		igCalls.Add(1)
		_ = r.ParseForm()
		if r.Form.Get("creation_id") != "creation-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id":"media-1"}`))
	})
	mux.HandleFunc("/page-1/photos", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"(#200) Permissions error"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSweep_IsolatesEachPost(t *testing.T) {
	ctx := context.Background()
	mem := storetest.NewMemory()
	mem.Now = func() time.Time { return sweepNow }
	var igCalls atomic.Int32
	srv := graphServer(t, &igCalls)

	_, _ = mem.UpsertSocialConnection(ctx, &models.SocialConnection{
		WorkspaceID: "ws-1", Platform: "instagram", AccessToken: "tok",
		InstagramBusinessID: strPtr("ig-1"), Connected: true,
	})
	_, _ = mem.UpsertSocialConnection(ctx, &models.SocialConnection{
		WorkspaceID: "ws-1", Platform: "facebook", AccessToken: "tok",
		MetaPageID: strPtr("page-1"), Connected: true,
	})
	_, _ = mem.UpsertSocialConnection(ctx, &models.SocialConnection{
		WorkspaceID: "ws-1", Platform: "linkedin", AccessToken: "tok", Connected: true,
	})

	ig := duePost(t, mem, "ws-1", "instagram", models.PostScheduled)
	fb := duePost(t, mem, "ws-1", "facebook", models.PostApproved)
	li := duePost(t, mem, "ws-1", "linkedin", models.PostScheduled)
	orphan := duePost(t, mem, "ws-2", "instagram", models.PostApproved)

	hub := progress.NewHub()
	sub, _ := hub.Subscribe(ctx, progress.PostsChannel("ws-1"))
	defer sub.Close()

	p := New(mem, social.New(srv.URL, "app", "secret"), Options{Now: func() time.Time { return sweepNow }, Notifier: hub})
	results, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %+v", results)
	}
	byID := map[string]Result{}
	for _, r := range results {
		byID[r.PostID] = r
	}
	if !byID[ig.ID].Success || igCalls.Load() != 2 {
		t.Fatalf("instagram should publish in two calls: %+v calls=%d", byID[ig.ID], igCalls.Load())
	}
	if r := byID[fb.ID]; r.Success || !strings.Contains(r.Error, "(#200) Permissions error") {
		t.Fatalf("facebook error should carry the platform message: %+v", r)
	}
	var nie *NotImplementedError
	if r := byID[li.ID]; r.Success || !strings.Contains(r.Error, "not implemented") {
		t.Fatalf("linkedin should be not implemented: %+v", r)
	}
	if _, err := p.dispatch(ctx, *li); !errors.As(err, &nie) {
		t.Fatalf("expected NotImplementedError, got %v", err)
	}
	if r := byID[orphan.ID]; r.Success || r.Error != ReasonNoConnection {
		t.Fatalf("orphan should fail with no connection: %+v", r)
	}

	for _, id := range []string{ig.ID, fb.ID, li.ID, orphan.ID} {
		got, _ := mem.GetPost(ctx, id)
		if got.Status != models.PostPublished && got.Status != models.PostFailed {
			t.Fatalf("post %s left in %s", id, got.Status)
		}
	}
	got, _ := mem.GetPost(ctx, ig.ID)
	if got.PublishedAt == nil || !got.PublishedAt.Equal(sweepNow) || got.PlatformPostID == nil || *got.PlatformPostID != "media-1" {
		t.Fatalf("unexpected published post %+v", got)
	}
	got, _ = mem.GetPost(ctx, orphan.ID)
	if got.PublishError == nil || !strings.Contains(*got.PublishError, "no connected account") {
		t.Fatalf("expected failure reason, got %+v", got.PublishError)
	}

	select {
	case ev := <-sub.Events():
		if ev.Step != progress.StepPostUpdated || ev.PostID == "" {
			t.Fatalf("unexpected notice %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a post.updated notice")
	}

	again, err := p.Sweep(ctx)
	if err != nil || len(again) != 0 {
		t.Fatalf("second sweep should find nothing, got %+v err=%v", again, err)
	}
}

func TestSweep_SkipsFuturePosts(t *testing.T) {
	ctx := context.Background()
	mem := storetest.NewMemory()
	p, _ := mem.InsertPost(ctx, &models.Post{WorkspaceID: "ws", Platform: "instagram", Status: models.PostDraft})
	_ = mem.TransitionPost(ctx, p.ID, []models.PostStatus{models.PostDraft}, models.PostApproved, nil)
	_ = mem.SchedulePost(ctx, p.ID, sweepNow.Add(time.Hour))

	pub := New(mem, nil, Options{Now: func() time.Time { return sweepNow }})
	results, err := pub.Sweep(ctx)
	if err != nil || len(results) != 0 {
		t.Fatalf("expected nothing due, got %+v err=%v", results, err)
	}
}

func TestSweep_DisconnectedAccount(t *testing.T) {
	ctx := context.Background()
	mem := storetest.NewMemory()
	_, _ = mem.UpsertSocialConnection(ctx, &models.SocialConnection{WorkspaceID: "ws-1", Platform: "instagram", Connected: false})
	post := duePost(t, mem, "ws-1", "instagram", models.PostScheduled)

	pub := New(mem, nil, Options{Now: func() time.Time { return sweepNow }})
	results, _ := pub.Sweep(ctx)
	if len(results) != 1 || results[0].Error != ReasonNoConnection {
		t.Fatalf("unexpected results %+v", results)
	}
	got, _ := mem.GetPost(ctx, post.ID)
	if got.Status != models.PostFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}

func TestCaptionWithHashtags(t *testing.T) {
	got := captionWithHashtags(models.Post{Caption: " Hi ", Hashtags: []string{"#a", "#b"}})
	if got != "Hi\n\n#a #b" {
		t.Fatalf("got %q", got)
	}
}

func TestSweep_ReadsEveryPage(t *testing.T) {
	for _, limit := range []int{0, 25, 50} {
		ctx := context.Background()
		mem := storetest.NewMemory()
		for i := 0; i < 60; i++ {
			duePost(t, mem, "ws-1", "instagram", models.PostApproved)
		}

		pub := New(mem, nil, Options{BatchLimit: limit, Now: func() time.Time { return sweepNow }})
		results, err := pub.Sweep(ctx)
		if err != nil {
			t.Fatalf("limit=%d sweep: %v", limit, err)
		}
		if len(results) != 60 {
			t.Fatalf("limit=%d expected 60 results, got %d", limit, len(results))
		}
		left, _ := mem.ListDuePosts(ctx, sweepNow, 0)
		if len(left) != 0 {
			t.Fatalf("limit=%d: %d due posts still approved after one sweep", limit, len(left))
		}
	}
}

// stuckStore cannot write failures, so every attempted row stays due.
type stuckStore struct {
	*storetest.Memory
}

func (s stuckStore) MarkPostFailed(context.Context, string, string) error {
	return errors.New("db unavailable")
}

func TestSweep_AttemptsStuckRowsOnce(t *testing.T) {
	ctx := context.Background()
	mem := storetest.NewMemory()
	for i := 0; i < 5; i++ {
		duePost(t, mem, "ws-1", "instagram", models.PostScheduled)
	}

	pub := New(stuckStore{mem}, nil, Options{BatchLimit: 2, Now: func() time.Time { return sweepNow }})
	results, err := pub.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected each post attempted once, got %d results", len(results))
	}
	seen := map[string]bool{}
	for _, r := range results {
		if seen[r.PostID] {
			t.Fatalf("post %s attempted twice", r.PostID)
		}
		seen[r.PostID] = true
	}
}

// unrecordedStore loses the published write.
type unrecordedStore struct {
	*storetest.Memory
}

func (s unrecordedStore) MarkPostPublished(context.Context, string, string, time.Time) error {
	return errors.New("connection reset")
}

func TestSweep_UnrecordedPublishIsNotRepeated(t *testing.T) {
	ctx := context.Background()
	mem := storetest.NewMemory()
	var igCalls atomic.Int32
	srv := graphServer(t, &igCalls)
	_, _ = mem.UpsertSocialConnection(ctx, &models.SocialConnection{
		WorkspaceID: "ws-1", Platform: "instagram", AccessToken: "tok",
		InstagramBusinessID: strPtr("ig-1"), Connected: true,
	})
	post := duePost(t, mem, "ws-1", "instagram", models.PostScheduled)

	pub := New(unrecordedStore{mem}, social.New(srv.URL, "app", "secret"), Options{Now: func() time.Time { return sweepNow }})
	results, err := pub.Sweep(ctx)
	if err != nil || len(results) != 1 {
		t.Fatalf("unexpected sweep %+v err=%v", results, err)
	}
	if results[0].Success || !strings.Contains(results[0].Error, "published as media-1") {
		t.Fatalf("expected unrecorded result, got %+v", results[0])
	}
	got, _ := mem.GetPost(ctx, post.ID)
	if got.Status != models.PostFailed || got.PublishError == nil || !strings.Contains(*got.PublishError, "published as media-1") {
		t.Fatalf("expected failed row naming the platform id, got %s %v", got.Status, got.PublishError)
	}

	again, _ := pub.Sweep(ctx)
	if len(again) != 0 || igCalls.Load() != 2 {
		t.Fatalf("post must not be sent again: results=%+v calls=%d", again, igCalls.Load())
	}
}
