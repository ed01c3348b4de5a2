package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/testerbesterkali/marketer/internal/models"
)

var connectionColumns = []string{
	"id", "workspace_id", "platform", "access_token", "meta_page_id", "instagram_business_id", "account_name",
	"connected", "created_at", "updated_at",
}

func scanConnection(row sq.RowScanner) (*models.SocialConnection, error) {
	var c models.SocialConnection
	var pageID, igID, name sql.NullString
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.Platform, &c.AccessToken, &pageID, &igID, &name, &c.Connected, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.MetaPageID = nullString(pageID)
	c.InstagramBusinessID = nullString(igID)
	c.AccountName = nullString(name)
	return &c, nil
}

func (p *Postgres) GetSocialConnection(ctx context.Context, workspaceID, platform string) (*models.SocialConnection, error) {
	c, err := scanConnection(p.sb.Select(connectionColumns...).
		From("social_connections").
		Where(sq.Eq{"workspace_id": workspaceID, "platform": platform}).
		QueryRowContext(ctx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get social connection: %w", err)
	}
	return c, nil
}

func (p *Postgres) ListSocialConnections(ctx context.Context, workspaceID string) ([]models.SocialConnection, error) {
	rows, err := p.sb.Select(connectionColumns...).
		From("social_connections").
		Where(sq.Eq{"workspace_id": workspaceID}).
		OrderBy("created_at ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list social connections: %w", err)
	}
	defer rows.Close()

	out := make([]models.SocialConnection, 0)
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan social connection: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating social connection rows: %w", err)
	}
	return out, nil
}

// UpsertSocialConnection keeps one row per (workspace_id, platform); a reconnect refreshes the token in place.
func (p *Postgres) UpsertSocialConnection(ctx context.Context, c *models.SocialConnection) (*models.SocialConnection, error) {
	out, err := scanConnection(p.sb.Insert("social_connections").
		Columns(connectionColumns[:8]...).
		Values(p.newID(), c.WorkspaceID, c.Platform, c.AccessToken, c.MetaPageID, c.InstagramBusinessID, c.AccountName, c.Connected).
		Suffix(`ON CONFLICT (workspace_id, platform) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			meta_page_id = EXCLUDED.meta_page_id,
			instagram_business_id = EXCLUDED.instagram_business_id,
			account_name = EXCLUDED.account_name,
			connected = EXCLUDED.connected,
			updated_at = NOW()
			RETURNING ` + strings.Join(connectionColumns, ", ")).
		QueryRowContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert social connection: %w", err)
	}
	return out, nil
}
