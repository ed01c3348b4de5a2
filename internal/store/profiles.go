package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/testerbesterkali/marketer/internal/models"
)

var brandProfileColumns = []string{
	"id", "workspace_id", "business_name", "tagline", "industry", "target_audience", "brand_voice",
	"core_values", "unique_selling_points", "competitors", "brand_story", "mission_statement", "archetype",
	"emotional_benefits", "color_palette", "typography", "ai_confidence_score", "raw_scraped_data",
	"created_at", "updated_at",
}

func scanBrandProfile(row sq.RowScanner) (*models.BrandProfile, error) {
	var bp models.BrandProfile
	var emotional, palette, typography []byte
	var score float64
	err := row.Scan(
		&bp.ID, &bp.WorkspaceID, &bp.BusinessName, &bp.Tagline, &bp.Industry, &bp.TargetAudience, &bp.BrandVoice,
		pq.Array(&bp.CoreValues), pq.Array(&bp.UniqueSellingPoints), pq.Array(&bp.Competitors),
		&bp.BrandStory, &bp.MissionStatement, &bp.Archetype,
		&emotional, &palette, &typography, &score, &bp.RawScrapedData,
		&bp.CreatedAt, &bp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(emotional) > 0 {
		bp.EmotionalBenefits = json.RawMessage(emotional)
	}
	if len(palette) > 0 {
		if err := json.Unmarshal(palette, &bp.ColorPalette); err != nil {
			return nil, fmt.Errorf("decode color_palette: %w", err)
		}
	}
	if len(typography) > 0 {
		if err := json.Unmarshal(typography, &bp.Typography); err != nil {
			return nil, fmt.Errorf("decode typography: %w", err)
		}
	}
	bp.AIConfidenceScore = models.Score(score)
	return &bp, nil
}

func (p *Postgres) GetBrandProfile(ctx context.Context, workspaceID string) (*models.BrandProfile, error) {
	bp, err := scanBrandProfile(p.sb.Select(brandProfileColumns...).
		From("brand_profiles").
		Where(sq.Eq{"workspace_id": workspaceID}).
		QueryRowContext(ctx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get brand profile: %w", err)
	}
	return bp, nil
}

func (p *Postgres) BrandProfileExists(ctx context.Context, workspaceID string) (bool, error) {
	n, err := p.count(ctx, "brand_profiles", sq.Eq{"workspace_id": workspaceID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertBrandProfile writes the profile keyed by workspace_id. A second call for the same
// workspace updates the existing row in place and keeps its id.
func (p *Postgres) UpsertBrandProfile(ctx context.Context, bp *models.BrandProfile) (*models.BrandProfile, error) {
	palette, err := json.Marshal(bp.ColorPalette)
	if err != nil {
		return nil, err
	}
	typography, err := json.Marshal(bp.Typography)
	if err != nil {
		return nil, err
	}
	var emotional interface{}
	if len(bp.EmotionalBenefits) > 0 && json.Valid(bp.EmotionalBenefits) {
		emotional = string(bp.EmotionalBenefits)
	}

	updates := make([]string, 0, len(brandProfileColumns))
	for _, c := range brandProfileColumns {
		switch c {
		case "id", "workspace_id", "created_at", "updated_at":
			continue
		}
		updates = append(updates, c+" = EXCLUDED."+c)
	}
	updates = append(updates, "updated_at = NOW()")

	out, err := scanBrandProfile(p.sb.Insert("brand_profiles").
		Columns(brandProfileColumns[:18]...).
		Values(
			p.newID(), bp.WorkspaceID, bp.BusinessName, bp.Tagline, bp.Industry, bp.TargetAudience, bp.BrandVoice,
			pq.Array(nonNil(bp.CoreValues)), pq.Array(nonNil(bp.UniqueSellingPoints)), pq.Array(nonNil(bp.Competitors)),
			bp.BrandStory, bp.MissionStatement, bp.Archetype,
			emotional, string(palette), string(typography), float64(bp.AIConfidenceScore), bp.RawScrapedData,
		).
		Suffix("ON CONFLICT (workspace_id) DO UPDATE SET " + strings.Join(updates, ", ") +
			" RETURNING " + strings.Join(brandProfileColumns, ", ")).
		QueryRowContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert brand profile: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetContentPlan(ctx context.Context, workspaceID string) (*models.ContentPlan, error) {
	cp, err := scanContentPlan(p.sb.Select("id", "workspace_id", "platforms", "content_pillars", "post_frequency", "created_at", "updated_at").
		From("content_plans").
		Where(sq.Eq{"workspace_id": workspaceID}).
		QueryRowContext(ctx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get content plan: %w", err)
	}
	return cp, nil
}

func scanContentPlan(row sq.RowScanner) (*models.ContentPlan, error) {
	var cp models.ContentPlan
	var platforms []byte
	if err := row.Scan(&cp.ID, &cp.WorkspaceID, &platforms, pq.Array(&cp.ContentPillars), &cp.PostFrequency, &cp.CreatedAt, &cp.UpdatedAt); err != nil {
		return nil, err
	}
	cp.Platforms = map[string]models.PlatformSetting{}
	if len(platforms) > 0 {
		if err := json.Unmarshal(platforms, &cp.Platforms); err != nil {
			return nil, fmt.Errorf("decode platforms: %w", err)
		}
	}
	return &cp, nil
}

func (p *Postgres) UpsertContentPlan(ctx context.Context, cp *models.ContentPlan) (*models.ContentPlan, error) {
	platforms, err := json.Marshal(cp.Platforms)
	if err != nil {
		return nil, err
	}
	out, err := scanContentPlan(p.sb.Insert("content_plans").
		Columns("id", "workspace_id", "platforms", "content_pillars", "post_frequency").
		Values(p.newID(), cp.WorkspaceID, string(platforms), pq.Array(nonNil(cp.ContentPillars)), cp.PostFrequency).
		Suffix(`ON CONFLICT (workspace_id) DO UPDATE SET
			platforms = EXCLUDED.platforms,
			content_pillars = EXCLUDED.content_pillars,
			post_frequency = EXCLUDED.post_frequency,
			updated_at = NOW()
			RETURNING id, workspace_id, platforms, content_pillars, post_frequency, created_at, updated_at`).
		QueryRowContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert content plan: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetStylePreferences(ctx context.Context, workspaceID string) (*models.StylePreferences, error) {
	var sp models.StylePreferences
	err := p.sb.Select("id", "workspace_id", "selected_styles", "updated_at").
		From("style_preferences").
		Where(sq.Eq{"workspace_id": workspaceID}).
		QueryRowContext(ctx).
		Scan(&sp.ID, &sp.WorkspaceID, pq.Array(&sp.SelectedStyles), &sp.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get style preferences: %w", err)
	}
	return &sp, nil
}

func (p *Postgres) UpsertStylePreferences(ctx context.Context, sp *models.StylePreferences) (*models.StylePreferences, error) {
	var out models.StylePreferences
	err := p.sb.Insert("style_preferences").
		Columns("id", "workspace_id", "selected_styles").
		Values(p.newID(), sp.WorkspaceID, pq.Array(nonNil(sp.SelectedStyles))).
		Suffix(`ON CONFLICT (workspace_id) DO UPDATE SET
			selected_styles = EXCLUDED.selected_styles,
			updated_at = NOW()
			RETURNING id, workspace_id, selected_styles, updated_at`).
		QueryRowContext(ctx).
		Scan(&out.ID, &out.WorkspaceID, pq.Array(&out.SelectedStyles), &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert style preferences: %w", err)
	}
	return &out, nil
}
