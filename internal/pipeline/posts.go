package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/progress"
	"github.com/testerbesterkali/marketer/internal/store"
)

const defaultPlatform = "instagram"

// ItemOutcome is the result for one topic of a batch. Err is nil on success.
type ItemOutcome struct {
	TopicID string
	PostID  string
	Err     error
}

type BatchReport struct {
	Outcomes  []ItemOutcome
	Succeeded int
	Failed    int
}

type generatedPost struct {
	Caption     string   `json:"caption"`
	Hashtags    []string `json:"hashtags"`
	ImagePrompt string   `json:"image_prompt"`
}

type generated struct {
	Caption     string
	Hashtags    []string
	ImagePrompt string
	ImageURL    string
}

// GenerateInitialPosts creates one draft post for each of up to six unapproved topics that
// have no post yet. Topic failures are recorded in the report and never fail the batch.
func (s *Service) GenerateInitialPosts(ctx context.Context, workspaceID string) (report *BatchReport, err error) {
	defer func() { s.finish(StageInitialPosts, err) }()
	log := s.log.With("stage", StageInitialPosts, "workspace_id", workspaceID)

	bp, err := s.store.GetBrandProfile(ctx, workspaceID)
	if err != nil {
		if isNotFound(err) {
			return nil, &PreconditionError{Stage: StageInitialPosts, Missing: "brand profile"}
		}
		return nil, fmt.Errorf("load brand profile: %w", err)
	}
	unapproved := false
	topics, err := s.store.ListTopics(ctx, store.TopicFilter{
		WorkspaceID: workspaceID,
		Approved:    &unapproved,
		WithoutPost: true,
		Limit:       initialPostsBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	if len(topics) == 0 {
		return nil, &PreconditionError{Stage: StageInitialPosts, Missing: "topics"}
	}
	styles := s.styles(ctx, workspaceID)
	log.Info("stage_started", "topics", len(topics))

	report = &BatchReport{Outcomes: make([]ItemOutcome, 0, len(topics))}
	for _, t := range topics {
		o := s.generateForTopic(ctx, bp, styles, t)
		if o.Err != nil {
			report.Failed++
			s.metrics.BatchItems.WithLabelValues(StageInitialPosts, "failed").Inc()
			log.Warn("item_failed", "topic_id", t.ID, "error", o.Err)
		} else {
			report.Succeeded++
			s.metrics.BatchItems.WithLabelValues(StageInitialPosts, "ok").Inc()
		}
		report.Outcomes = append(report.Outcomes, o)
	}

	if report.Succeeded > 0 {
		wctx, cancel := s.writeCtx(ctx)
		if err := s.store.AdvanceOnboardingStep(wctx, workspaceID, models.StepPostsGenerated); err != nil {
			log.Warn("advance_step_failed", "error", err)
		}
		cancel()
	}
	log.Info("stage_completed", "succeeded", report.Succeeded, "failed", report.Failed)
	return report, nil
}

func (s *Service) generateForTopic(ctx context.Context, bp *models.BrandProfile, styles []string, t models.Topic) ItemOutcome {
	out := ItemOutcome{TopicID: t.ID}
	platform := defaultPlatform
	if len(t.SuggestedPlatforms) > 0 {
		platform = t.SuggestedPlatforms[0]
	}
	g, op, err := s.generate(ctx, t.Title, t.Description, bp, styles, platform, "")
	if err != nil {
		out.Err = &PerItemError{ItemID: t.ID, Op: op, Err: err}
		return out
	}
	topicID := t.ID
	imageURL := g.ImageURL
	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	p, err := s.store.InsertPost(wctx, &models.Post{
		WorkspaceID: t.WorkspaceID,
		TopicID:     &topicID,
		Platform:    platform,
		Status:      models.PostDraft,
		Caption:     g.Caption,
		Hashtags:    g.Hashtags,
		ImageURL:    &imageURL,
		ImagePrompt: g.ImagePrompt,
		CreditsUsed: creditsPerPost,
	})
	if err != nil {
		op := "insert post"
		if errors.Is(err, store.ErrDuplicate) {
			// An overlapping batch wrote this topic's post first.
			op = "topic already has a post"
		}
		out.Err = &PerItemError{ItemID: t.ID, Op: op, Err: err}
		return out
	}
	out.PostID = p.ID
	return out
}

// generate produces caption, hashtags and image for one post. op names the failing step.
func (s *Service) generate(ctx context.Context, title, description string, bp *models.BrandProfile, styles []string, platform, previous string) (*generated, string, error) {
	raw, err := s.complete(ctx, postSystemPrompt, postUserPrompt(title, description, bp, styles, platform, previous))
	if err != nil {
		return nil, "caption", err
	}
	var gp generatedPost
	if err := decodeObject(raw, &gp); err != nil {
		return nil, "caption", err
	}
	gp.Caption = strings.TrimSpace(gp.Caption)
	if gp.Caption == "" {
		return nil, "caption", errors.New("model returned an empty caption")
	}
	prompt := strings.TrimSpace(gp.ImagePrompt)
	if prompt == "" {
		prompt = title
	}
	imageURL, err := s.generateImage(ctx, prompt)
	if err != nil {
		return nil, "image", err
	}
	return &generated{
		Caption:     gp.Caption,
		Hashtags:    normalizeHashtags(gp.Hashtags),
		ImagePrompt: prompt,
		ImageURL:    imageURL,
	}, "", nil
}

func (s *Service) styles(ctx context.Context, workspaceID string) []string {
	sp, err := s.store.GetStylePreferences(ctx, workspaceID)
	if err != nil {
		if !isNotFound(err) {
			s.log.Warn("style_preferences_unavailable", "workspace_id", workspaceID, "error", err)
		}
		return nil
	}
	return sp.SelectedStyles
}

// RegeneratePost reruns caption and image generation for one draft or failed post and puts it
// back into draft. A generation failure leaves the post failed.
func (s *Service) RegeneratePost(ctx context.Context, postID string) (post *models.Post, err error) {
	defer func() { s.finish(StageRegenerate, err) }()
	log := s.log.With("stage", StageRegenerate, "post_id", postID)

	p, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("load post: %w", err)
	}
	if !p.Status.Regenerable() {
		return nil, fmt.Errorf("post is %s: %w", p.Status, store.ErrConflict)
	}
	bp, err := s.store.GetBrandProfile(ctx, p.WorkspaceID)
	if err != nil {
		if isNotFound(err) {
			return nil, &PreconditionError{Stage: StageRegenerate, Missing: "brand profile"}
		}
		return nil, fmt.Errorf("load brand profile: %w", err)
	}

	title, description := p.Caption, ""
	if p.TopicID != nil {
		t, err := s.store.GetTopic(ctx, *p.TopicID)
		switch {
		case err == nil:
			title, description = t.Title, t.Description
		case isNotFound(err):
		default:
			return nil, fmt.Errorf("load topic: %w", err)
		}
	}
	if strings.TrimSpace(title) == "" {
		title = bp.BusinessName
	}

	if err := s.store.TransitionPost(ctx, postID, []models.PostStatus{models.PostDraft, models.PostFailed}, models.PostGenerating, nil); err != nil {
		return nil, fmt.Errorf("claim post: %w", err)
	}
	s.notifyPost(ctx, p.WorkspaceID, postID, models.PostGenerating)
	log.Info("stage_started", "workspace_id", p.WorkspaceID, "platform", p.Platform)

	g, op, genErr := s.generate(ctx, title, description, bp, s.styles(ctx, p.WorkspaceID), p.Platform, p.Caption)

	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if genErr != nil {
		log.Warn("generation_failed", "op", op, "error", genErr)
		if err := s.store.MarkPostFailed(wctx, postID, genErr.Error()); err != nil {
			log.Error("mark_failed_failed", "error", err)
		}
		s.notifyPost(ctx, p.WorkspaceID, postID, models.PostFailed)
		return nil, &UpstreamError{Stage: StageRegenerate, Op: op, Err: genErr}
	}
	if err := s.store.WriteGeneratedContent(wctx, postID, store.PostContent{
		Caption:     g.Caption,
		Hashtags:    g.Hashtags,
		ImageURL:    g.ImageURL,
		ImagePrompt: g.ImagePrompt,
		CreditsUsed: creditsPerPost,
	}); err != nil {
		return nil, fmt.Errorf("write post: %w", err)
	}
	s.notifyPost(ctx, p.WorkspaceID, postID, models.PostDraft)

	post, err = s.store.GetPost(wctx, postID)
	if err != nil {
		return nil, fmt.Errorf("reload post: %w", err)
	}
	log.Info("stage_completed")
	return post, nil
}

func (s *Service) notifyPost(ctx context.Context, workspaceID, postID string, status models.PostStatus) {
	if s.progress == nil {
		return
	}
	ev := progress.Event{Step: progress.StepPostUpdated, PostID: postID, Status: string(status)}
	if err := s.progress.Publish(ctx, progress.PostsChannel(workspaceID), ev); err != nil {
		s.log.Warn("post_notice_failed", "post_id", postID, "error", err)
	}
}

func normalizeHashtags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		h = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(h), "#"))
		if h == "" {
			continue
		}
		out = append(out, "#"+h)
	}
	return out
}
