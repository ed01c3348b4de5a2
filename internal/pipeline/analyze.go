package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/progress"
)

func rawOrNil(m json.RawMessage) json.RawMessage {
	if t := strings.TrimSpace(string(m)); t == "" || t == "null" {
		return nil
	}
	return m
}

type brandAnalysis struct {
	BusinessName        string              `json:"business_name"`
	Tagline             string              `json:"tagline"`
	Industry            string              `json:"industry"`
	TargetAudience      string              `json:"target_audience"`
	BrandVoice          string              `json:"brand_voice"`
	CoreValues          []string            `json:"core_values"`
	UniqueSellingPoints []string            `json:"unique_selling_points"`
	Competitors         []string            `json:"competitors"`
	BrandStory          string              `json:"brand_story"`
	MissionStatement    string              `json:"mission_statement"`
	Archetype           string              `json:"archetype"`
	EmotionalBenefits   json.RawMessage     `json:"emotional_benefits"`
	ColorPalette        models.ColorPalette `json:"color_palette"`
	Typography          models.Typography   `json:"typography"`
	AIConfidenceScore   models.Score        `json:"ai_confidence_score"`
}

// AnalyzeBrand scrapes the workspace's website, extracts a brand profile and upserts it.
// Running it twice leaves one profile for the workspace.
func (s *Service) AnalyzeBrand(ctx context.Context, workspaceID string) (bp *models.BrandProfile, err error) {
	defer func() { s.finish(StageAnalyze, err) }()
	log := s.log.With("stage", StageAnalyze, "workspace_id", workspaceID)

	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		if isNotFound(err) {
			return nil, &UpstreamError{Stage: StageAnalyze, Op: "load workspace", Err: err}
		}
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	log.Info("stage_started", "website_url", ws.WebsiteURL)

	rep := s.reporter(progress.KindAnalysis, workspaceID)
	_ = rep.Step(ctx, "scraping")
	markdown, err := s.scrape(ctx, ws.WebsiteURL)
	if err != nil {
		log.Warn("scrape_failed", "error", err)
		return nil, &UpstreamError{Stage: StageAnalyze, Op: "scrape", Err: err}
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, &UpstreamError{Stage: StageAnalyze, Op: "scrape", Err: errors.New("empty page content")}
	}

	_ = rep.Step(ctx, "analyzing")
	raw, err := s.complete(ctx, analyzeSystemPrompt, analyzeUserPrompt(ws.WebsiteURL, markdown))
	if err != nil {
		log.Warn("llm_failed", "error", err)
		return nil, &UpstreamError{Stage: StageAnalyze, Op: "analyze", Err: err}
	}
	var a brandAnalysis
	if err := decodeObject(raw, &a); err != nil {
		log.Warn("llm_unparseable", "error", err)
		return nil, &UpstreamError{Stage: StageAnalyze, Op: "analyze", Err: err}
	}
	if strings.TrimSpace(a.BusinessName) == "" {
		a.BusinessName = ws.Name
	}

	// Reserved for competitor lookup; only the step is broadcast.
	_ = rep.Step(ctx, "competitors")

	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	bp, err = s.store.UpsertBrandProfile(wctx, &models.BrandProfile{
		WorkspaceID:         workspaceID,
		BusinessName:        strings.TrimSpace(a.BusinessName),
		Tagline:             a.Tagline,
		Industry:            a.Industry,
		TargetAudience:      a.TargetAudience,
		BrandVoice:          a.BrandVoice,
		CoreValues:          cleanList(a.CoreValues),
		UniqueSellingPoints: cleanList(a.UniqueSellingPoints),
		Competitors:         cleanList(a.Competitors),
		BrandStory:          a.BrandStory,
		MissionStatement:    a.MissionStatement,
		Archetype:           a.Archetype,
		EmotionalBenefits:   rawOrNil(a.EmotionalBenefits),
		ColorPalette:        a.ColorPalette,
		Typography:          a.Typography,
		AIConfidenceScore:   a.AIConfidenceScore,
		RawScrapedData:      truncate(markdown, maxRawScrapedChars),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert brand profile: %w", err)
	}
	if err := s.store.AdvanceOnboardingStep(wctx, workspaceID, models.StepBrandAnalyzed); err != nil {
		log.Warn("advance_step_failed", "error", err)
	}

	_ = rep.Step(ctx, "finishing")
	_ = rep.Complete(ctx)
	log.Info("stage_completed", "brand_profile_id", bp.ID, "business_name", bp.BusinessName)
	return bp, nil
}
