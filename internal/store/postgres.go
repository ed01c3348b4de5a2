package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/testerbesterkali/marketer/internal/models"
)

// Postgres is the Entity Store backed by database/sql and lib/pq.
type Postgres struct {
	db    *sql.DB
	sb    sq.StatementBuilderType
	now   func() time.Time
	newID func() string
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db:    db,
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(db),
		now:   time.Now,
		newID: newID,
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var workspaceColumns = []string{"id", "owner_id", "name", "website_url", "onboarding_step", "created_at", "updated_at"}

func scanWorkspace(row sq.RowScanner) (*models.Workspace, error) {
	var ws models.Workspace
	if err := row.Scan(&ws.ID, &ws.OwnerID, &ws.Name, &ws.WebsiteURL, &ws.OnboardingStep, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		return nil, err
	}
	return &ws, nil
}

func (p *Postgres) CreateWorkspace(ctx context.Context, ws *models.Workspace) (*models.Workspace, error) {
	out := *ws
	if out.ID == "" {
		out.ID = p.newID()
	}
	if out.OnboardingStep <= 0 {
		out.OnboardingStep = models.StepURLSubmitted
	}
	err := p.sb.Insert("workspaces").
		Columns("id", "owner_id", "name", "website_url", "onboarding_step").
		Values(out.ID, out.OwnerID, out.Name, out.WebsiteURL, out.OnboardingStep).
		Suffix("RETURNING created_at, updated_at").
		QueryRowContext(ctx).
		Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, wrapDuplicate(err, "insert workspace")
	}
	return &out, nil
}

func (p *Postgres) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	ws, err := scanWorkspace(p.sb.Select(workspaceColumns...).
		From("workspaces").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return ws, nil
}

func (p *Postgres) ListWorkspacesByOwner(ctx context.Context, ownerID string) ([]models.Workspace, error) {
	rows, err := p.sb.Select(workspaceColumns...).
		From("workspaces").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	out := make([]models.Workspace, 0)
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		out = append(out, *ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workspace rows: %w", err)
	}
	return out, nil
}

// AdvanceOnboardingStep raises the step to at least step; it never lowers it.
func (p *Postgres) AdvanceOnboardingStep(ctx context.Context, id string, step int) error {
	n, err := affected(p.sb.Update("workspaces").
		Set("onboarding_step", sq.Expr("GREATEST(onboarding_step, ?)", step)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to advance onboarding step: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) MarkOnboardingCompleted(ctx context.Context, userID string) error {
	_, err := p.sb.Insert("users_profile").
		Columns("id", "onboarding_completed").
		Values(userID, true).
		Suffix("ON CONFLICT (id) DO UPDATE SET onboarding_completed = TRUE, updated_at = NOW()").
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark onboarding completed: %w", err)
	}
	return nil
}

func (p *Postgres) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var up models.UserProfile
	err := p.sb.Select("id", "onboarding_completed", "updated_at").
		From("users_profile").
		Where(sq.Eq{"id": userID}).
		QueryRowContext(ctx).
		Scan(&up.ID, &up.OnboardingCompleted, &up.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	return &up, nil
}

func (p *Postgres) count(ctx context.Context, table string, where sq.Sqlizer) (int, error) {
	var n int
	if err := p.sb.Select("COUNT(*)").From(table).Where(where).QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func (p *Postgres) Stats(ctx context.Context, workspaceID string) (*models.WorkspaceStats, error) {
	var st models.WorkspaceStats
	var err error
	if st.TotalPosts, err = p.CountPosts(ctx, workspaceID, nil); err != nil {
		return nil, err
	}
	approved := false
	if st.UnapprovedTopics, err = p.CountTopics(ctx, workspaceID, &approved); err != nil {
		return nil, err
	}
	if st.ScheduledPosts, err = p.CountPosts(ctx, workspaceID, []models.PostStatus{models.PostScheduled}); err != nil {
		return nil, err
	}
	if st.ConnectedIntegrations, err = p.count(ctx, "social_connections", sq.Eq{"workspace_id": workspaceID, "connected": true}); err != nil {
		return nil, err
	}
	return &st, nil
}
