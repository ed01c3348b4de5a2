package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/net/websocket"

	"github.com/testerbesterkali/marketer/internal/adapters"
	"github.com/testerbesterkali/marketer/internal/adapters/social"
	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/pipeline"
	"github.com/testerbesterkali/marketer/internal/progress"
	"github.com/testerbesterkali/marketer/internal/store"
	"github.com/testerbesterkali/marketer/internal/store/storetest"
)

type fakeStages struct {
	analyzeErr error
	report     *pipeline.BatchReport
	calls      int
}

func (f *fakeStages) AnalyzeBrand(ctx context.Context, workspaceID string) (*models.BrandProfile, error) {
	f.calls++
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return &models.BrandProfile{ID: "bp-1", WorkspaceID: workspaceID}, nil
}

func (f *fakeStages) GenerateTopics(ctx context.Context, workspaceID string) ([]models.Topic, error) {
	f.calls++
	return nil, &pipeline.PreconditionError{Stage: pipeline.StageTopics, Missing: "content plan"}
}

func (f *fakeStages) GenerateInitialPosts(ctx context.Context, workspaceID string) (*pipeline.BatchReport, error) {
	f.calls++
	return f.report, nil
}

func (f *fakeStages) RegeneratePost(ctx context.Context, postID string) (*models.Post, error) {
	f.calls++
	return nil, fmt.Errorf("load post: %w", store.ErrNotFound)
}

func newTestRouter(t *testing.T, d Deps) (*mux.Router, *storetest.Memory) {
	t.Helper()
	mem := storetest.NewMemory()
	if d.Store == nil {
		d.Store = mem
	}
	if d.Stages == nil {
		d.Stages = &fakeStages{}
	}
	r := mux.NewRouter()
	Register(New(d), r, nil)
	return r, mem
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	r.ServeHTTP(rr, req)
	return rr
}

func TestHealth_OK(t *testing.T) {
	r, _ := newTestRouter(t, Deps{})
	rr := do(r, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var out map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil || !out["ok"] {
		t.Fatalf("unexpected body %q err=%v", rr.Body.String(), err)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&pipeline.PreconditionError{Stage: "x", Missing: "y"}, http.StatusPreconditionFailed},
		{&pipeline.UpstreamError{Stage: "x", Op: "y", Err: errors.New("z")}, http.StatusBadGateway},
		{&pipeline.UpstreamError{Stage: "x", Op: "load workspace", Err: store.ErrNotFound}, http.StatusBadGateway},
		{&adapters.TimeoutError{Op: "llm", After: time.Second}, http.StatusBadGateway},
		{fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Fatalf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestCreateWorkspace_DerivesNameAndStep(t *testing.T) {
	r, _ := newTestRouter(t, Deps{})
	rr := do(r, http.MethodPost, "/api/workspaces", `{"owner_id":"u1","website_url":"https://www.acme.test/"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%q", rr.Code, rr.Body.String())
	}
	var ws models.Workspace
	_ = json.Unmarshal(rr.Body.Bytes(), &ws)
	if ws.Name != "acme.test" || ws.OnboardingStep != models.StepURLSubmitted {
		t.Fatalf("unexpected workspace %+v", ws)
	}

	rr = do(r, http.MethodPost, "/api/workspaces", `{"owner_id":"u1","website_url":"not a url"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestContentPlan_ValidatesAndAdvancesStep(t *testing.T) {
	r, mem := newTestRouter(t, Deps{})
	ws, _ := mem.CreateWorkspace(context.Background(), &models.Workspace{OwnerID: "u1", WebsiteURL: "https://acme.test"})

	rr := do(r, http.MethodPut, "/api/workspaces/"+ws.ID+"/content-plan", `{"platforms":{"instagram":{"enabled":false}},"content_pillars":["educational"],"post_frequency":3}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for no enabled platform, got %d", rr.Code)
	}
	rr = do(r, http.MethodPut, "/api/workspaces/"+ws.ID+"/content-plan", `{"platforms":{"instagram":{"enabled":true}},"content_pillars":[],"post_frequency":3}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for no pillars, got %d", rr.Code)
	}
	body := `{"platforms":{"instagram":{"enabled":true}},"content_pillars":["educational"],"post_frequency":3}`
	first := do(r, http.MethodPut, "/api/workspaces/"+ws.ID+"/content-plan", body)
	second := do(r, http.MethodPut, "/api/workspaces/"+ws.ID+"/content-plan", body)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200s, got %d %d", first.Code, second.Code)
	}
	var a, b models.ContentPlan
	_ = json.Unmarshal(first.Body.Bytes(), &a)
	_ = json.Unmarshal(second.Body.Bytes(), &b)
	if a.ID == "" || a.ID != b.ID {
		t.Fatalf("expected one plan row, got %q and %q", a.ID, b.ID)
	}
	got, _ := mem.GetWorkspace(context.Background(), ws.ID)
	if got.OnboardingStep != models.StepPlanSaved {
		t.Fatalf("expected step %d got %d", models.StepPlanSaved, got.OnboardingStep)
	}
}

func TestStylePreferences_LimitsStyles(t *testing.T) {
	r, mem := newTestRouter(t, Deps{})
	ws, _ := mem.CreateWorkspace(context.Background(), &models.Workspace{OwnerID: "u1", WebsiteURL: "https://acme.test"})
	rr := do(r, http.MethodPut, "/api/workspaces/"+ws.ID+"/style-preferences", `{"selected_styles":["a","b","c","d"]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	rr = do(r, http.MethodPut, "/api/workspaces/"+ws.ID+"/style-preferences", `{"selected_styles":["minimal"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestBrandProfile_NotFoundThenEdit(t *testing.T) {
	r, mem := newTestRouter(t, Deps{})
	ws, _ := mem.CreateWorkspace(context.Background(), &models.Workspace{OwnerID: "u1", WebsiteURL: "https://acme.test"})
	if rr := do(r, http.MethodGet, "/api/workspaces/"+ws.ID+"/brand-profile", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
	if rr := do(r, http.MethodPut, "/api/workspaces/"+ws.ID+"/brand-profile", `{"business_name":"Acme","brand_voice":"bold"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if ok, _ := mem.BrandProfileExists(context.Background(), ws.ID); !ok {
		t.Fatalf("expected profile")
	}
}

func TestTopicsExistAndApprove(t *testing.T) {
	r, mem := newTestRouter(t, Deps{})
	ctx := context.Background()
	rr := do(r, http.MethodGet, "/api/workspaces/ws-1/topics/exists", "")
	if !strings.Contains(rr.Body.String(), `"exists":false`) {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	topics, _ := mem.InsertTopics(ctx, []models.Topic{{WorkspaceID: "ws-1", Title: "a"}, {WorkspaceID: "ws-1", Title: "b"}})
	rr = do(r, http.MethodPost, "/api/workspaces/ws-1/topics/approve", fmt.Sprintf(`{"ids":[%q]}`, topics[0].ID))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"approved":1`) {
		t.Fatalf("unexpected approve response %d %q", rr.Code, rr.Body.String())
	}
	rr = do(r, http.MethodGet, "/api/workspaces/ws-1/topics?approved=false", "")
	var list []models.Topic
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list) != 1 || list[0].ID != topics[1].ID {
		t.Fatalf("unexpected unapproved topics %+v", list)
	}
}

func TestPostsApproveAndSchedule(t *testing.T) {
	r, mem := newTestRouter(t, Deps{})
	ctx := context.Background()
	p, _ := mem.InsertPost(ctx, &models.Post{WorkspaceID: "ws-1", Platform: "instagram", Status: models.PostDraft})

	if rr := do(r, http.MethodPost, "/api/posts/"+p.ID+"/schedule", `{"scheduled_at":"2026-06-01T10:00:00Z"}`); rr.Code != http.StatusConflict {
		t.Fatalf("drafts cannot be scheduled, got %d", rr.Code)
	}
	rr := do(r, http.MethodPost, "/api/workspaces/ws-1/posts/approve", fmt.Sprintf(`{"ids":[%q]}`, p.ID))
	if rr.Code != http.StatusOK {
		t.Fatalf("approve: %d %q", rr.Code, rr.Body.String())
	}
	if rr := do(r, http.MethodPost, "/api/posts/"+p.ID+"/schedule", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without time, got %d", rr.Code)
	}
	rr = do(r, http.MethodPost, "/api/posts/"+p.ID+"/schedule", `{"scheduled_at":"2026-06-01T10:00:00Z"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("schedule: %d %q", rr.Code, rr.Body.String())
	}
	var got models.Post
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got.Status != models.PostScheduled || got.ScheduledAt == nil {
		t.Fatalf("unexpected post %+v", got)
	}
	rr = do(r, http.MethodGet, "/api/workspaces/ws-1/posts?status=scheduled,bogus", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", rr.Code)
	}
}

func TestStageEndpoints(t *testing.T) {
	stages := &fakeStages{report: &pipeline.BatchReport{
		Outcomes: []pipeline.ItemOutcome{
			{TopicID: "t1", PostID: "p1"},
			{TopicID: "t2", Err: &pipeline.PerItemError{ItemID: "t2", Op: "image", Err: errors.New("down")}},
		},
		Succeeded: 1,
		Failed:    1,
	}}
	r, _ := newTestRouter(t, Deps{Stages: stages})

	rr := do(r, http.MethodPost, "/functions/analyze-brand", `{"workspace_id":"ws-1"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"success":true`) {
		t.Fatalf("analyze: %d %q", rr.Code, rr.Body.String())
	}
	rr = do(r, http.MethodPost, "/functions/generate-topics", `{"workspace_id":"ws-1"}`)
	if rr.Code != http.StatusPreconditionFailed || !strings.Contains(rr.Body.String(), `"error"`) {
		t.Fatalf("topics: %d %q", rr.Code, rr.Body.String())
	}
	rr = do(r, http.MethodPost, "/functions/generate-initial-posts", `{"workspace_id":"ws-1"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"failed":1`) {
		t.Fatalf("posts: %d %q", rr.Code, rr.Body.String())
	}
	rr = do(r, http.MethodPost, "/functions/generate-post", `{"post_id":"missing"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("regenerate: %d %q", rr.Code, rr.Body.String())
	}
	rr = do(r, http.MethodPost, "/functions/analyze-brand", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without workspace_id, got %d", rr.Code)
	}

	stages.analyzeErr = &pipeline.UpstreamError{Stage: pipeline.StageAnalyze, Op: "analyze", Err: errors.New("bad json")}
	rr = do(r, http.MethodPost, "/functions/analyze-brand", `{"workspace_id":"ws-1"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

type fakeMeta struct {
	exchangeErr error
	pages       []social.Page
}

func (f *fakeMeta) ExchangeAuthCode(ctx context.Context, code, redirectURI string) (string, error) {
	if f.exchangeErr != nil {
		return "", f.exchangeErr
	}
	if !strings.HasSuffix(redirectURI, "/functions/meta-oauth") {
		return "", errors.New("bad redirect " + redirectURI)
	}
	return "user-token", nil
}

func (f *fakeMeta) ListPages(ctx context.Context, userToken string) ([]social.Page, error) {
	return f.pages, nil
}

func (f *fakeMeta) InstagramBusinessID(ctx context.Context, pageID, pageToken string) (string, error) {
	return "ig-" + pageID, nil
}

func TestMetaOAuthCallback(t *testing.T) {
	meta := &fakeMeta{pages: []social.Page{{ID: "p1", Name: "Acme", AccessToken: "page-token"}}}
	r, mem := newTestRouter(t, Deps{Meta: meta, SiteURL: "https://app.test", PublicURL: "https://api.test"})
	state := base64.StdEncoding.EncodeToString([]byte(`{"workspace_id":"ws-1","platform":"instagram"}`))

	rr := do(r, http.MethodGet, "/functions/meta-oauth?code=abc&state="+state, "")
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "https://app.test/dashboard/integrations?success=true" {
		t.Fatalf("unexpected redirect %d %q", rr.Code, rr.Header().Get("Location"))
	}
	conn, err := mem.GetSocialConnection(context.Background(), "ws-1", "instagram")
	if err != nil {
		t.Fatalf("connection: %v", err)
	}
	if conn.AccessToken != "page-token" || conn.InstagramBusinessID == nil || *conn.InstagramBusinessID != "ig-p1" || !conn.Connected {
		t.Fatalf("unexpected connection %+v", conn)
	}

	rr = do(r, http.MethodGet, "/functions/meta-oauth?state="+state, "")
	if loc := rr.Header().Get("Location"); !strings.Contains(loc, "?error=missing+code+or+state") {
		t.Fatalf("unexpected error redirect %q", loc)
	}
	meta.pages = nil
	rr = do(r, http.MethodGet, "/functions/meta-oauth?code=abc&state="+state, "")
	if loc := rr.Header().Get("Location"); !strings.Contains(loc, "no+facebook+page") {
		t.Fatalf("unexpected error redirect %q", loc)
	}
}

func TestProgressWebSocket_StreamsEventsAfterHello(t *testing.T) {
	hub := progress.NewHub()
	r, _ := newTestRouter(t, Deps{Progress: hub})
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/progress/ws?workspace_id=ws-1&kind=analysis"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var hello Frame
	if err := websocket.JSON.Receive(conn, &hello); err != nil || hello.Type != FrameHello {
		t.Fatalf("expected hello, got %+v err=%v", hello, err)
	}
	channel := progress.ChannelName(progress.KindAnalysis, "ws-1")
	_ = hub.Publish(context.Background(), channel, progress.Event{Step: "scraping"})
	_ = hub.Publish(context.Background(), progress.ChannelName(progress.KindTopics, "ws-1"), progress.Event{Step: "strategy"})
	_ = hub.Publish(context.Background(), channel, progress.Event{Step: "analyzing"})

	for _, want := range []string{"scraping", "analyzing"} {
		var f Frame
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := websocket.JSON.Receive(conn, &f); err != nil {
			t.Fatalf("receive: %v", err)
		}
		if f.Type != FrameProgress || f.Step != want || f.Channel != channel {
			t.Fatalf("expected %s, got %+v", want, f)
		}
	}
}

func TestProgressWebSocket_RejectsBadRequests(t *testing.T) {
	r, _ := newTestRouter(t, Deps{Progress: progress.NewHub(), InternalWSSecret: "s3cret"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/progress/ws?workspace_id=ws-1&kind=analysis", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/progress/ws?workspace_id=ws-1&kind=bogus", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/progress/ping", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	req.Header.Set("X-Internal-WS-Secret", "s3cret")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected ping ok with secret, got %d", rr.Code)
	}
}
