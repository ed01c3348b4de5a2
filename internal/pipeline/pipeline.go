// Package pipeline implements the onboarding stage functions. Each stage is a short-lived,
// stateless invocation keyed by a single id: it reads its inputs from the store, calls adapters,
// writes its result with an upsert or insert and reports steps on the progress channel.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/testerbesterkali/marketer/internal/adapters"
	"github.com/testerbesterkali/marketer/internal/logger"
	"github.com/testerbesterkali/marketer/internal/metrics"
	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/progress"
	"github.com/testerbesterkali/marketer/internal/store"
)

const (
	StageAnalyze      = "analyze-brand"
	StageTopics       = "generate-topics"
	StageInitialPosts = "generate-initial-posts"
	StageRegenerate   = "generate-post"
)

const (
	maxScrapeChars     = 15000
	maxRawScrapedChars = 5000
	topicsPerRun       = 14
	topicsPerWeek      = 7
	initialPostsBatch  = 6
	creditsPerPost     = 10
)

// Store is the slice of the entity store the stages use.
type Store interface {
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	AdvanceOnboardingStep(ctx context.Context, id string, step int) error
	MarkOnboardingCompleted(ctx context.Context, userID string) error
	GetBrandProfile(ctx context.Context, workspaceID string) (*models.BrandProfile, error)
	UpsertBrandProfile(ctx context.Context, bp *models.BrandProfile) (*models.BrandProfile, error)
	GetContentPlan(ctx context.Context, workspaceID string) (*models.ContentPlan, error)
	GetStylePreferences(ctx context.Context, workspaceID string) (*models.StylePreferences, error)
	InsertTopics(ctx context.Context, topics []models.Topic) ([]models.Topic, error)
	GetTopic(ctx context.Context, id string) (*models.Topic, error)
	ListTopics(ctx context.Context, f store.TopicFilter) ([]models.Topic, error)
	InsertPost(ctx context.Context, p *models.Post) (*models.Post, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	TransitionPost(ctx context.Context, id string, from []models.PostStatus, to models.PostStatus, reason *string) error
	WriteGeneratedContent(ctx context.Context, id string, c store.PostContent) error
	MarkPostFailed(ctx context.Context, id string, reason string) error
}

type Scraper interface {
	Scrape(ctx context.Context, url string) (string, error)
}

type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Timeouts bound each adapter call. Zero means no deadline beyond the caller's context.
type Timeouts struct {
	Scrape time.Duration
	LLM    time.Duration
	Image  time.Duration
	Write  time.Duration
}

type Deps struct {
	Store    Store
	Scraper  Scraper
	LLM      Completer
	Images   ImageGenerator
	Progress progress.Publisher
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	Timeouts Timeouts
	Now      func() time.Time
}

type Service struct {
	store    Store
	scraper  Scraper
	llm      Completer
	images   ImageGenerator
	progress progress.Publisher
	log      *logger.Logger
	metrics  *metrics.Metrics
	timeouts Timeouts
	now      func() time.Time
}

func New(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    d.Store,
		scraper:  d.Scraper,
		llm:      d.LLM,
		images:   d.Images,
		progress: d.Progress,
		log:      logger.OrNop(d.Log).With("component", "Pipeline"),
		metrics:  metrics.OrNoop(d.Metrics),
		timeouts: d.Timeouts,
		now:      now,
	}
}

func (s *Service) reporter(kind progress.Kind, workspaceID string) *progress.Reporter {
	return progress.NewReporter(s.progress, kind, workspaceID, s.log, s.metrics)
}

func (s *Service) finish(stage string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsPrecondition(err):
		outcome = "precondition"
	case IsUpstream(err):
		outcome = "upstream"
	default:
		outcome = "error"
	}
	s.metrics.StageRuns.WithLabelValues(stage, outcome).Inc()
}

func (s *Service) observe(adapter string, start time.Time) {
	s.metrics.AdapterDuration.WithLabelValues(adapter).Observe(time.Since(start).Seconds())
}

func (s *Service) scrape(ctx context.Context, target string) (string, error) {
	defer s.observe("scrape", time.Now())
	return adapters.WithDeadline(ctx, "scrape", s.timeouts.Scrape, func(ctx context.Context) (string, error) {
		return s.scraper.Scrape(ctx, target)
	})
}

func (s *Service) complete(ctx context.Context, system, user string) (string, error) {
	defer s.observe("llm", time.Now())
	return adapters.WithDeadline(ctx, "llm", s.timeouts.LLM, func(ctx context.Context) (string, error) {
		return s.llm.CompleteJSON(ctx, system, user)
	})
}

func (s *Service) generateImage(ctx context.Context, prompt string) (string, error) {
	defer s.observe("image", time.Now())
	return adapters.WithDeadline(ctx, "image", s.timeouts.Image, func(ctx context.Context) (string, error) {
		return s.images.Generate(ctx, prompt)
	})
}

// writeCtx bounds a store write; it is detached from the request so a client disconnect
// after the adapters finished does not drop the result.
func (s *Service) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if s.timeouts.Write <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, s.timeouts.Write)
}

// decodeObject parses an LLM JSON reply, tolerating a fenced code block around it.
func decodeObject(raw string, v interface{}) error {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unparseable model output: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// WorkspaceNameFromURL derives a display name from a website url: the hostname without "www.".
func WorkspaceNameFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return strings.TrimSpace(raw)
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
