package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/progress"
)

type topicDraft struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	ContentPillar      string   `json:"content_pillar"`
	SuggestedPlatforms []string `json:"suggested_platforms"`
}

// GenerateTopics asks the model for two weeks of topics and inserts them unapproved.
// week_of is now plus one week per seven topics.
func (s *Service) GenerateTopics(ctx context.Context, workspaceID string) (topics []models.Topic, err error) {
	defer func() { s.finish(StageTopics, err) }()
	log := s.log.With("stage", StageTopics, "workspace_id", workspaceID)

	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		if isNotFound(err) {
			return nil, &PreconditionError{Stage: StageTopics, Missing: "workspace"}
		}
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	bp, err := s.store.GetBrandProfile(ctx, workspaceID)
	if err != nil {
		if isNotFound(err) {
			return nil, &PreconditionError{Stage: StageTopics, Missing: "brand profile"}
		}
		return nil, fmt.Errorf("load brand profile: %w", err)
	}
	plan, err := s.store.GetContentPlan(ctx, workspaceID)
	if err != nil {
		if isNotFound(err) {
			return nil, &PreconditionError{Stage: StageTopics, Missing: "content plan"}
		}
		return nil, fmt.Errorf("load content plan: %w", err)
	}
	if !plan.Ready() {
		return nil, &PreconditionError{Stage: StageTopics, Missing: "content plan platforms and pillars"}
	}
	log.Info("stage_started", "platforms", plan.EnabledPlatforms())

	rep := s.reporter(progress.KindTopics, workspaceID)
	_ = rep.Step(ctx, "strategy")
	prompt := topicsUserPrompt(bp, plan)

	_ = rep.Step(ctx, "topics")
	raw, err := s.complete(ctx, topicsSystemPrompt, prompt)
	if err != nil {
		log.Warn("llm_failed", "error", err)
		return nil, &UpstreamError{Stage: StageTopics, Op: "generate topics", Err: err}
	}
	var out struct {
		Topics []topicDraft `json:"topics"`
	}
	if err := decodeObject(raw, &out); err != nil {
		log.Warn("llm_unparseable", "error", err)
		return nil, &UpstreamError{Stage: StageTopics, Op: "generate topics", Err: err}
	}

	now := s.now().UTC()
	enabled := plan.EnabledPlatforms()
	rows := make([]models.Topic, 0, topicsPerRun)
	for _, d := range out.Topics {
		if len(rows) == topicsPerRun {
			break
		}
		title := strings.TrimSpace(d.Title)
		if title == "" {
			continue
		}
		rows = append(rows, models.Topic{
			WorkspaceID:        workspaceID,
			Title:              title,
			Description:        strings.TrimSpace(d.Description),
			ContentPillar:      pillarOrDefault(d.ContentPillar, plan.ContentPillars),
			SuggestedPlatforms: restrictPlatforms(d.SuggestedPlatforms, enabled),
			WeekOf:             weekOf(now, len(rows)),
		})
	}
	if len(rows) == 0 {
		return nil, &UpstreamError{Stage: StageTopics, Op: "generate topics", Err: errors.New("model returned no usable topics")}
	}

	_ = rep.Step(ctx, "scheduling")
	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	topics, err = s.store.InsertTopics(wctx, rows)
	if err != nil {
		return nil, fmt.Errorf("insert topics: %w", err)
	}
	if err := s.store.AdvanceOnboardingStep(wctx, workspaceID, models.StepTopicsReady); err != nil {
		log.Warn("advance_step_failed", "error", err)
	}

	_ = rep.Step(ctx, "finishing")
	if err := s.store.MarkOnboardingCompleted(wctx, ws.OwnerID); err != nil {
		log.Warn("onboarding_complete_failed", "owner_id", ws.OwnerID, "error", err)
	}
	_ = rep.Complete(ctx)
	log.Info("stage_completed", "topics", len(topics))
	return topics, nil
}

func weekOf(now time.Time, index int) time.Time {
	return now.AddDate(0, 0, (index/topicsPerWeek)*7)
}

// restrictPlatforms keeps suggestions that are enabled in the plan, falling back to the first enabled one.
func restrictPlatforms(suggested, enabled []string) []string {
	allowed := make(map[string]bool, len(enabled))
	for _, p := range enabled {
		allowed[p] = true
	}
	out := make([]string, 0, len(suggested))
	seen := map[string]bool{}
	for _, p := range suggested {
		p = strings.ToLower(strings.TrimSpace(p))
		if allowed[p] && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if len(out) == 0 && len(enabled) > 0 {
		out = append(out, enabled[0])
	}
	return out
}

func pillarOrDefault(pillar string, pillars []string) string {
	if p := strings.TrimSpace(pillar); p != "" {
		return p
	}
	if len(pillars) > 0 {
		return pillars[0]
	}
	return ""
}
