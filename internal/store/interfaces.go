package store

import (
	"context"
	"time"

	"github.com/testerbesterkali/marketer/internal/models"
)

// TopicFilter selects topics of one workspace. Zero values mean "no constraint".
type TopicFilter struct {
	WorkspaceID string
	Approved    *bool
	// WithoutPost keeps only topics no post references yet.
	WithoutPost bool
	Limit       int
}

// PostFilter selects posts of one workspace, newest first.
type PostFilter struct {
	WorkspaceID string
	Statuses    []models.PostStatus
	Limit       int
}

// PostContent is the generated part of a post, written by the generation stages.
type PostContent struct {
	Caption     string
	Hashtags    []string
	ImageURL    string
	ImagePrompt string
	CreditsUsed int
}

// PostEdit is a user edit from the post editor. Nil fields are left alone.
type PostEdit struct {
	Caption  *string
	Hashtags []string
	ImageURL *string
	Platform *string
}

type WorkspaceStore interface {
	CreateWorkspace(ctx context.Context, ws *models.Workspace) (*models.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	ListWorkspacesByOwner(ctx context.Context, ownerID string) ([]models.Workspace, error)
	AdvanceOnboardingStep(ctx context.Context, id string, step int) error
	MarkOnboardingCompleted(ctx context.Context, userID string) error
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	Stats(ctx context.Context, workspaceID string) (*models.WorkspaceStats, error)
}

type ProfileStore interface {
	GetBrandProfile(ctx context.Context, workspaceID string) (*models.BrandProfile, error)
	BrandProfileExists(ctx context.Context, workspaceID string) (bool, error)
	UpsertBrandProfile(ctx context.Context, bp *models.BrandProfile) (*models.BrandProfile, error)
	GetContentPlan(ctx context.Context, workspaceID string) (*models.ContentPlan, error)
	UpsertContentPlan(ctx context.Context, cp *models.ContentPlan) (*models.ContentPlan, error)
	GetStylePreferences(ctx context.Context, workspaceID string) (*models.StylePreferences, error)
	UpsertStylePreferences(ctx context.Context, sp *models.StylePreferences) (*models.StylePreferences, error)
}

type TopicStore interface {
	InsertTopics(ctx context.Context, topics []models.Topic) ([]models.Topic, error)
	GetTopic(ctx context.Context, id string) (*models.Topic, error)
	ListTopics(ctx context.Context, f TopicFilter) ([]models.Topic, error)
	CountTopics(ctx context.Context, workspaceID string, approved *bool) (int, error)
	ApproveTopics(ctx context.Context, workspaceID string, ids []string) (int, error)
}

type PostStore interface {
	InsertPost(ctx context.Context, p *models.Post) (*models.Post, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	ListPosts(ctx context.Context, f PostFilter) ([]models.Post, error)
	CountPosts(ctx context.Context, workspaceID string, statuses []models.PostStatus) (int, error)
	EditPost(ctx context.Context, id string, e PostEdit) (*models.Post, error)
	// TransitionPost moves a post to "to" only if its current status is one of "from".
	// It returns ErrConflict when the post exists but is in another status.
	TransitionPost(ctx context.Context, id string, from []models.PostStatus, to models.PostStatus, reason *string) error
	ApprovePosts(ctx context.Context, workspaceID string, ids []string) (int, error)
	SchedulePost(ctx context.Context, id string, at time.Time) error
	WriteGeneratedContent(ctx context.Context, id string, c PostContent) error
	ListDuePosts(ctx context.Context, now time.Time, limit int) ([]models.Post, error)
	MarkPostPublished(ctx context.Context, id string, platformPostID string, at time.Time) error
	MarkPostFailed(ctx context.Context, id string, reason string) error
	FailStaleGenerating(ctx context.Context, olderThan time.Time, reason string) (int64, error)
}

type ConnectionStore interface {
	GetSocialConnection(ctx context.Context, workspaceID, platform string) (*models.SocialConnection, error)
	ListSocialConnections(ctx context.Context, workspaceID string) ([]models.SocialConnection, error)
	UpsertSocialConnection(ctx context.Context, c *models.SocialConnection) (*models.SocialConnection, error)
}

// Store is the full entity store.
type Store interface {
	WorkspaceStore
	ProfileStore
	TopicStore
	PostStore
	ConnectionStore
}

var (
	_ Store = (*Postgres)(nil)
)
