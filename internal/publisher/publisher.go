// Package publisher promotes due posts to the social platforms. Each sweep is stateless and
// processes posts one at a time; a failing post never stops the sweep.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/testerbesterkali/marketer/internal/logger"
	"github.com/testerbesterkali/marketer/internal/metrics"
	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/progress"
	"github.com/testerbesterkali/marketer/internal/store"
	"github.com/testerbesterkali/marketer/internal/workers"
)

const ReasonNoConnection = "no connected account"

var errMissingImage = errors.New("post has no image")

type NotImplementedError struct {
	Platform string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("publishing to %s is not implemented", e.Platform)
}

type Store interface {
	ListDuePosts(ctx context.Context, now time.Time, limit int) ([]models.Post, error)
	GetSocialConnection(ctx context.Context, workspaceID, platform string) (*models.SocialConnection, error)
	MarkPostPublished(ctx context.Context, id string, platformPostID string, at time.Time) error
	MarkPostFailed(ctx context.Context, id string, reason string) error
}

// Platforms is the Meta Graph surface the sweep drives.
type Platforms interface {
	CreateMediaContainer(ctx context.Context, businessID, imageURL, caption, token string) (string, error)
	PublishContainer(ctx context.Context, businessID, creationID, token string) (string, error)
	PostPhoto(ctx context.Context, pageID, imageURL, caption, token string) (string, error)
}

type Result struct {
	PostID   string `json:"post_id"`
	Platform string `json:"platform"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

type Options struct {
	// BatchLimit is the page size of the due query. Zero or less reads all due posts at once.
	BatchLimit     int
	PublishTimeout time.Duration
	Log            *logger.Logger
	Metrics        *metrics.Metrics
	Notifier       progress.Publisher
	Now            func() time.Time
}

type Publisher struct {
	store     Store
	platforms Platforms
	limit     int
	timeout   time.Duration
	log       *logger.Logger
	metrics   *metrics.Metrics
	notifier  progress.Publisher
	now       func() time.Time
}

func New(st Store, platforms Platforms, opts Options) *Publisher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{
		store:     st,
		platforms: platforms,
		limit:     opts.BatchLimit,
		timeout:   opts.PublishTimeout,
		log:       logger.OrNop(opts.Log).With("component", "ScheduledPublisher"),
		metrics:   metrics.OrNoop(opts.Metrics),
		notifier:  opts.Notifier,
		now:       opts.Now,
	}
}

// Sweep publishes every due post once and returns one result per post. Due posts are read
// page by page until none are left; a post is attempted at most once per sweep even when its
// row could not be updated.
func (p *Publisher) Sweep(ctx context.Context) ([]Result, error) {
	now := p.now().UTC()
	attempted := map[string]bool{}
	results := []Result{}
	for {
		// Rows already attempted may still be due, so the page grows past them.
		fetch := 0
		if p.limit > 0 {
			fetch = p.limit + len(attempted)
		}
		due, err := p.store.ListDuePosts(ctx, now, fetch)
		if err != nil {
			if len(results) > 0 {
				p.log.Error("sweep_page_failed", "processed", len(results), "error", err)
				return results, nil
			}
			return nil, fmt.Errorf("list due posts: %w", err)
		}
		fresh := 0
		for _, post := range due {
			if attempted[post.ID] {
				continue
			}
			if ctx.Err() != nil {
				p.log.Warn("sweep_interrupted", "processed", len(results), "error", ctx.Err())
				return results, nil
			}
			attempted[post.ID] = true
			fresh++
			results = append(results, p.publishOne(ctx, post))
		}
		if fresh == 0 || fetch == 0 || len(due) < fetch {
			break
		}
	}
	if len(results) > 0 {
		ok := 0
		for _, r := range results {
			if r.Success {
				ok++
			}
		}
		p.log.Info("sweep_done", "due", len(results), "published", ok, "failed", len(results)-ok)
	}
	return results, nil
}

func (p *Publisher) publishOne(ctx context.Context, post models.Post) Result {
	res := Result{PostID: post.ID, Platform: post.Platform}
	log := p.log.With("post_id", post.ID, "workspace_id", post.WorkspaceID, "platform", post.Platform)

	platformPostID, err := p.dispatch(ctx, post)
	if err != nil {
		res.Error = err.Error()
		if merr := p.store.MarkPostFailed(context.WithoutCancel(ctx), post.ID, res.Error); merr != nil {
			log.Error("mark_failed_failed", "error", merr)
		}
		p.metrics.Publish.WithLabelValues(post.Platform, "failed").Inc()
		log.Warn("publish_failed", "error", err)
		p.notify(ctx, post, models.PostFailed)
		return res
	}
	if err := p.store.MarkPostPublished(context.WithoutCancel(ctx), post.ID, platformPostID, p.now().UTC()); err != nil {
		// The platform already has the post. Failing the row keeps the next sweep from posting it again.
		res.Error = fmt.Sprintf("published as %s but could not record it: %v", platformPostID, err)
		log.Error("mark_published_failed", "platform_post_id", platformPostID, "error", err)
		if merr := p.store.MarkPostFailed(context.WithoutCancel(ctx), post.ID, res.Error); merr != nil {
			log.Error("mark_failed_failed", "error", merr)
		}
		p.metrics.Publish.WithLabelValues(post.Platform, "unrecorded").Inc()
		p.notify(ctx, post, models.PostFailed)
		return res
	}
	res.Success = true
	p.metrics.Publish.WithLabelValues(post.Platform, "ok").Inc()
	log.Info("publish_ok", "platform_post_id", platformPostID)
	p.notify(ctx, post, models.PostPublished)
	return res
}

func (p *Publisher) dispatch(ctx context.Context, post models.Post) (string, error) {
	conn, err := p.store.GetSocialConnection(ctx, post.WorkspaceID, post.Platform)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", errors.New(ReasonNoConnection)
		}
		return "", fmt.Errorf("load connection: %w", err)
	}
	if !conn.Connected || strings.TrimSpace(conn.AccessToken) == "" {
		return "", errors.New(ReasonNoConnection)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	caption := captionWithHashtags(post)
	image := ""
	if post.ImageURL != nil {
		image = strings.TrimSpace(*post.ImageURL)
	}

	switch post.Platform {
	case "instagram":
		if conn.InstagramBusinessID == nil || *conn.InstagramBusinessID == "" {
			return "", fmt.Errorf("%s: instagram business account missing", ReasonNoConnection)
		}
		if image == "" {
			return "", errMissingImage
		}
		creationID, err := p.platforms.CreateMediaContainer(ctx, *conn.InstagramBusinessID, image, caption, conn.AccessToken)
		if err != nil {
			return "", err
		}
		return p.platforms.PublishContainer(ctx, *conn.InstagramBusinessID, creationID, conn.AccessToken)
	case "facebook":
		if conn.MetaPageID == nil || *conn.MetaPageID == "" {
			return "", fmt.Errorf("%s: facebook page missing", ReasonNoConnection)
		}
		if image == "" {
			return "", errMissingImage
		}
		return p.platforms.PostPhoto(ctx, *conn.MetaPageID, image, caption, conn.AccessToken)
	default:
		return "", &NotImplementedError{Platform: post.Platform}
	}
}

func captionWithHashtags(post models.Post) string {
	caption := strings.TrimSpace(post.Caption)
	if len(post.Hashtags) == 0 {
		return caption
	}
	tags := strings.Join(post.Hashtags, " ")
	if caption == "" {
		return tags
	}
	return caption + "\n\n" + tags
}

func (p *Publisher) notify(ctx context.Context, post models.Post, status models.PostStatus) {
	if p.notifier == nil {
		return
	}
	ev := progress.Event{Step: progress.StepPostUpdated, PostID: post.ID, Status: string(status)}
	if err := p.notifier.Publish(ctx, progress.PostsChannel(post.WorkspaceID), ev); err != nil {
		p.log.Warn("post_notice_failed", "post_id", post.ID, "error", err)
	}
}

// Worker runs Sweep on a cron schedule.
type Worker struct {
	Publisher *Publisher
	Schedule  string
	Timeout   time.Duration
	Log       *logger.Logger
}

func (w *Worker) Start(ctx context.Context) error {
	spec := w.Schedule
	if spec == "" {
		spec = "@every 1m"
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return workers.RunScheduled(ctx, w.Log, "ScheduledPublisher", spec, timeout, func(ctx context.Context) {
		if _, err := w.Publisher.Sweep(ctx); err != nil {
			w.Publisher.log.Error("sweep_failed", "error", err)
		}
	})
}
