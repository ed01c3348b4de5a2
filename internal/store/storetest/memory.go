// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/store"
)

var _ store.Store = (*Memory)(nil)

type Memory struct {
	mu sync.Mutex

	Now func() time.Time

	workspaces   map[string]models.Workspace
	users        map[string]models.UserProfile
	brands       map[string]models.BrandProfile // by workspace id
	plans        map[string]models.ContentPlan
	styles       map[string]models.StylePreferences
	topics       []models.Topic
	posts        []models.Post
	connections  map[string]models.SocialConnection // by workspace|platform
	postSequence int
}

func NewMemory() *Memory {
	return &Memory{
		Now:         time.Now,
		workspaces:  map[string]models.Workspace{},
		users:       map[string]models.UserProfile{},
		brands:      map[string]models.BrandProfile{},
		plans:       map[string]models.ContentPlan{},
		styles:      map[string]models.StylePreferences{},
		connections: map[string]models.SocialConnection{},
	}
}

func (m *Memory) now() time.Time { return m.Now().UTC() }

func copyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}

func connKey(workspaceID, platform string) string { return workspaceID + "|" + platform }

func (m *Memory) CreateWorkspace(_ context.Context, ws *models.Workspace) (*models.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *ws
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if _, ok := m.workspaces[out.ID]; ok {
		return nil, fmt.Errorf("insert workspace: %w", store.ErrDuplicate)
	}
	if out.OnboardingStep <= 0 {
		out.OnboardingStep = models.StepURLSubmitted
	}
	out.CreatedAt = m.now()
	out.UpdatedAt = out.CreatedAt
	m.workspaces[out.ID] = out
	return &out, nil
}

func (m *Memory) GetWorkspace(_ context.Context, id string) (*models.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ws, nil
}

func (m *Memory) ListWorkspacesByOwner(_ context.Context, ownerID string) ([]models.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Workspace, 0)
	for _, ws := range m.workspaces {
		if ws.OwnerID == ownerID {
			out = append(out, ws)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AdvanceOnboardingStep(_ context.Context, id string, step int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return store.ErrNotFound
	}
	if step > ws.OnboardingStep {
		ws.OnboardingStep = step
	}
	ws.UpdatedAt = m.now()
	m.workspaces[id] = ws
	return nil
}

func (m *Memory) MarkOnboardingCompleted(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = models.UserProfile{ID: userID, OnboardingCompleted: true, UpdatedAt: m.now()}
	return nil
}

func (m *Memory) GetUserProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &up, nil
}

func (m *Memory) Stats(ctx context.Context, workspaceID string) (*models.WorkspaceStats, error) {
	var st models.WorkspaceStats
	st.TotalPosts, _ = m.CountPosts(ctx, workspaceID, nil)
	approved := false
	st.UnapprovedTopics, _ = m.CountTopics(ctx, workspaceID, &approved)
	st.ScheduledPosts, _ = m.CountPosts(ctx, workspaceID, []models.PostStatus{models.PostScheduled})
	m.mu.Lock()
	for _, c := range m.connections {
		if c.WorkspaceID == workspaceID && c.Connected {
			st.ConnectedIntegrations++
		}
	}
	m.mu.Unlock()
	return &st, nil
}

func (m *Memory) GetBrandProfile(_ context.Context, workspaceID string) (*models.BrandProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bp, ok := m.brands[workspaceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &bp, nil
}

func (m *Memory) BrandProfileExists(_ context.Context, workspaceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.brands[workspaceID]
	return ok, nil
}

func (m *Memory) UpsertBrandProfile(_ context.Context, bp *models.BrandProfile) (*models.BrandProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *bp
	out.CoreValues = copyStrings(bp.CoreValues)
	out.UniqueSellingPoints = copyStrings(bp.UniqueSellingPoints)
	out.Competitors = copyStrings(bp.Competitors)
	now := m.now()
	if prev, ok := m.brands[bp.WorkspaceID]; ok {
		out.ID = prev.ID
		out.CreatedAt = prev.CreatedAt
	} else {
		out.ID = uuid.NewString()
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	m.brands[bp.WorkspaceID] = out
	return &out, nil
}

func (m *Memory) GetContentPlan(_ context.Context, workspaceID string) (*models.ContentPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.plans[workspaceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cp, nil
}

func (m *Memory) UpsertContentPlan(_ context.Context, cp *models.ContentPlan) (*models.ContentPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *cp
	out.ContentPillars = copyStrings(cp.ContentPillars)
	out.Platforms = make(map[string]models.PlatformSetting, len(cp.Platforms))
	for k, v := range cp.Platforms {
		out.Platforms[k] = v
	}
	now := m.now()
	if prev, ok := m.plans[cp.WorkspaceID]; ok {
		out.ID = prev.ID
		out.CreatedAt = prev.CreatedAt
	} else {
		out.ID = uuid.NewString()
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	m.plans[cp.WorkspaceID] = out
	return &out, nil
}

func (m *Memory) GetStylePreferences(_ context.Context, workspaceID string) (*models.StylePreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.styles[workspaceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sp, nil
}

func (m *Memory) UpsertStylePreferences(_ context.Context, sp *models.StylePreferences) (*models.StylePreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *sp
	out.SelectedStyles = copyStrings(sp.SelectedStyles)
	if prev, ok := m.styles[sp.WorkspaceID]; ok {
		out.ID = prev.ID
	} else {
		out.ID = uuid.NewString()
	}
	out.UpdatedAt = m.now()
	m.styles[sp.WorkspaceID] = out
	return &out, nil
}

func (m *Memory) InsertTopics(_ context.Context, topics []models.Topic) ([]models.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]models.Topic, len(topics))
	for i, t := range topics {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.SuggestedPlatforms = copyStrings(t.SuggestedPlatforms)
		t.CreatedAt = now
		out[i] = t
	}
	m.topics = append(m.topics, out...)
	return append([]models.Topic(nil), out...), nil
}

func (m *Memory) GetTopic(_ context.Context, id string) (*models.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.topics {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Memory) topicHasPost(id string) bool {
	for _, p := range m.posts {
		if p.TopicID != nil && *p.TopicID == id {
			return true
		}
	}
	return false
}

func (m *Memory) ListTopics(_ context.Context, f store.TopicFilter) ([]models.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Topic, 0)
	for _, t := range m.topics {
		if t.WorkspaceID != f.WorkspaceID {
			continue
		}
		if f.Approved != nil && t.Approved != *f.Approved {
			continue
		}
		if f.WithoutPost && m.topicHasPost(t.ID) {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) CountTopics(ctx context.Context, workspaceID string, approved *bool) (int, error) {
	ts, _ := m.ListTopics(ctx, store.TopicFilter{WorkspaceID: workspaceID, Approved: approved})
	return len(ts), nil
}

func (m *Memory) ApproveTopics(_ context.Context, workspaceID string, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	n := 0
	for i := range m.topics {
		if m.topics[i].WorkspaceID == workspaceID && want[m.topics[i].ID] {
			m.topics[i].Approved = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) postIndex(id string) int {
	for i := range m.posts {
		if m.posts[i].ID == id {
			return i
		}
	}
	return -1
}

func statusIn(s models.PostStatus, set []models.PostStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (m *Memory) InsertPost(_ context.Context, p *models.Post) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *p
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if m.postIndex(out.ID) >= 0 {
		return nil, fmt.Errorf("insert post: %w", store.ErrDuplicate)
	}
	// posts_topic_key
	if out.TopicID != nil && m.topicHasPost(*out.TopicID) {
		return nil, fmt.Errorf("insert post: %w", store.ErrDuplicate)
	}
	if out.Status == "" {
		out.Status = models.PostDraft
	}
	out.Hashtags = copyStrings(p.Hashtags)
	m.postSequence++
	out.CreatedAt = m.now().Add(time.Duration(m.postSequence) * time.Microsecond)
	out.UpdatedAt = out.CreatedAt
	m.posts = append(m.posts, out)
	return &out, nil
}

func (m *Memory) GetPost(_ context.Context, id string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.postIndex(id)
	if i < 0 {
		return nil, store.ErrNotFound
	}
	p := m.posts[i]
	return &p, nil
}

func (m *Memory) ListPosts(_ context.Context, f store.PostFilter) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Post, 0)
	for i := len(m.posts) - 1; i >= 0; i-- {
		p := m.posts[i]
		if p.WorkspaceID != f.WorkspaceID {
			continue
		}
		if len(f.Statuses) > 0 && !statusIn(p.Status, f.Statuses) {
			continue
		}
		out = append(out, p)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) CountPosts(ctx context.Context, workspaceID string, statuses []models.PostStatus) (int, error) {
	ps, _ := m.ListPosts(ctx, store.PostFilter{WorkspaceID: workspaceID, Statuses: statuses})
	return len(ps), nil
}

// update applies fn to the post when its status is in allowed (nil allows all).
func (m *Memory) update(id string, allowed []models.PostStatus, fn func(p *models.Post)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.postIndex(id)
	if i < 0 {
		return store.ErrNotFound
	}
	if allowed != nil && !statusIn(m.posts[i].Status, allowed) {
		return store.ErrConflict
	}
	fn(&m.posts[i])
	m.posts[i].UpdatedAt = m.now()
	return nil
}

func (m *Memory) EditPost(ctx context.Context, id string, e store.PostEdit) (*models.Post, error) {
	editable := []models.PostStatus{models.PostDraft, models.PostApproved, models.PostScheduled, models.PostFailed}
	err := m.update(id, editable, func(p *models.Post) {
		if e.Caption != nil {
			p.Caption = *e.Caption
		}
		if e.Hashtags != nil {
			p.Hashtags = copyStrings(e.Hashtags)
		}
		if e.ImageURL != nil {
			v := *e.ImageURL
			p.ImageURL = &v
		}
		if e.Platform != nil {
			p.Platform = *e.Platform
		}
	})
	if err != nil {
		return nil, err
	}
	return m.GetPost(ctx, id)
}

func (m *Memory) TransitionPost(_ context.Context, id string, from []models.PostStatus, to models.PostStatus, reason *string) error {
	return m.update(id, from, func(p *models.Post) {
		p.Status = to
		p.PublishError = reason
	})
}

func (m *Memory) ApprovePosts(_ context.Context, workspaceID string, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		p, err := m.GetPost(context.Background(), id)
		if err != nil || p.WorkspaceID != workspaceID {
			continue
		}
		if m.update(id, []models.PostStatus{models.PostDraft}, func(p *models.Post) { p.Status = models.PostApproved }) == nil {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SchedulePost(_ context.Context, id string, at time.Time) error {
	return m.update(id, []models.PostStatus{models.PostApproved, models.PostScheduled}, func(p *models.Post) {
		t := at.UTC()
		p.Status = models.PostScheduled
		p.ScheduledAt = &t
	})
}

func (m *Memory) WriteGeneratedContent(_ context.Context, id string, c store.PostContent) error {
	return m.update(id, []models.PostStatus{models.PostGenerating}, func(p *models.Post) {
		p.Caption = c.Caption
		p.Hashtags = copyStrings(c.Hashtags)
		u := c.ImageURL
		p.ImageURL = &u
		p.ImagePrompt = c.ImagePrompt
		p.CreditsUsed += c.CreditsUsed
		p.Status = models.PostDraft
		p.PublishError = nil
	})
}

func (m *Memory) ListDuePosts(_ context.Context, now time.Time, limit int) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Post, 0)
	for _, p := range m.posts {
		if !p.Status.Publishable() || p.ScheduledAt == nil || p.ScheduledAt.After(now) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkPostPublished(_ context.Context, id string, platformPostID string, at time.Time) error {
	return m.update(id, []models.PostStatus{models.PostApproved, models.PostScheduled}, func(p *models.Post) {
		t := at.UTC()
		p.Status = models.PostPublished
		p.PublishedAt = &t
		p.PublishError = nil
		if platformPostID != "" {
			v := platformPostID
			p.PlatformPostID = &v
		}
	})
}

func (m *Memory) MarkPostFailed(_ context.Context, id string, reason string) error {
	return m.update(id, []models.PostStatus{models.PostApproved, models.PostScheduled, models.PostGenerating}, func(p *models.Post) {
		r := reason
		p.Status = models.PostFailed
		p.PublishError = &r
	})
}

func (m *Memory) FailStaleGenerating(_ context.Context, olderThan time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.posts {
		p := &m.posts[i]
		if p.Status == models.PostGenerating && p.UpdatedAt.Before(olderThan) {
			r := reason
			p.Status = models.PostFailed
			p.PublishError = &r
			p.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetSocialConnection(_ context.Context, workspaceID, platform string) (*models.SocialConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[connKey(workspaceID, platform)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (m *Memory) ListSocialConnections(_ context.Context, workspaceID string) ([]models.SocialConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.SocialConnection, 0)
	for _, c := range m.connections {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (m *Memory) UpsertSocialConnection(_ context.Context, c *models.SocialConnection) (*models.SocialConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *c
	now := m.now()
	k := connKey(c.WorkspaceID, c.Platform)
	if prev, ok := m.connections[k]; ok {
		out.ID = prev.ID
		out.CreatedAt = prev.CreatedAt
	} else {
		out.ID = uuid.NewString()
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	m.connections[k] = out
	return &out, nil
}

// SetPostUpdatedAt backdates a post, for reaper tests.
func (m *Memory) SetPostUpdatedAt(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.postIndex(id); i >= 0 {
		m.posts[i].UpdatedAt = at
	}
}
