package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/testerbesterkali/marketer/internal/models"
)

var topicColumns = []string{"id", "workspace_id", "title", "description", "content_pillar", "suggested_platforms", "approved", "week_of", "created_at"}

func scanTopic(row sq.RowScanner) (*models.Topic, error) {
	var t models.Topic
	if err := row.Scan(&t.ID, &t.WorkspaceID, &t.Title, &t.Description, &t.ContentPillar, pq.Array(&t.SuggestedPlatforms), &t.Approved, &t.WeekOf, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTopics bulk-inserts topics in one statement and returns them with ids assigned.
func (p *Postgres) InsertTopics(ctx context.Context, topics []models.Topic) ([]models.Topic, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	now := p.now().UTC()
	out := make([]models.Topic, len(topics))
	ins := p.sb.Insert("topics").Columns(topicColumns...)
	for i, t := range topics {
		if t.ID == "" {
			t.ID = p.newID()
		}
		t.CreatedAt = now
		out[i] = t
		ins = ins.Values(t.ID, t.WorkspaceID, t.Title, t.Description, t.ContentPillar, pq.Array(nonNil(t.SuggestedPlatforms)), t.Approved, t.WeekOf, t.CreatedAt)
	}
	if _, err := ins.ExecContext(ctx); err != nil {
		return nil, wrapDuplicate(err, "insert topics")
	}
	return out, nil
}

func (p *Postgres) GetTopic(ctx context.Context, id string) (*models.Topic, error) {
	t, err := scanTopic(p.sb.Select(topicColumns...).
		From("topics").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return t, nil
}

func topicWhere(f TopicFilter) sq.And {
	where := sq.And{sq.Eq{"workspace_id": f.WorkspaceID}}
	if f.Approved != nil {
		where = append(where, sq.Eq{"approved": *f.Approved})
	}
	if f.WithoutPost {
		where = append(where, sq.Expr("NOT EXISTS (SELECT 1 FROM posts WHERE posts.topic_id = topics.id)"))
	}
	return where
}

func (p *Postgres) ListTopics(ctx context.Context, f TopicFilter) ([]models.Topic, error) {
	q := p.sb.Select(topicColumns...).
		From("topics").
		Where(topicWhere(f)).
		OrderBy("created_at ASC", "id ASC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	out := make([]models.Topic, 0)
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topic rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) CountTopics(ctx context.Context, workspaceID string, approved *bool) (int, error) {
	return p.count(ctx, "topics", topicWhere(TopicFilter{WorkspaceID: workspaceID, Approved: approved}))
}

func (p *Postgres) ApproveTopics(ctx context.Context, workspaceID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := affected(p.sb.Update("topics").
		Set("approved", true).
		Where(sq.Eq{"workspace_id": workspaceID, "id": ids}).
		ExecContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to approve topics: %w", err)
	}
	return int(n), nil
}
