package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/testerbesterkali/marketer/internal/models"
)

var postColumns = []string{
	"id", "workspace_id", "topic_id", "platform", "status", "caption", "hashtags", "image_url", "image_prompt",
	"credits_used", "scheduled_at", "published_at", "publish_error", "platform_post_id", "created_at", "updated_at",
}

func scanPost(row sq.RowScanner) (*models.Post, error) {
	var p models.Post
	var topicID, imageURL, publishError, platformPostID sql.NullString
	var scheduledAt, publishedAt sql.NullTime
	var status string
	err := row.Scan(
		&p.ID, &p.WorkspaceID, &topicID, &p.Platform, &status, &p.Caption, pq.Array(&p.Hashtags), &imageURL, &p.ImagePrompt,
		&p.CreditsUsed, &scheduledAt, &publishedAt, &publishError, &platformPostID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = models.PostStatus(status)
	p.TopicID = nullString(topicID)
	p.ImageURL = nullString(imageURL)
	p.PublishError = nullString(publishError)
	p.PlatformPostID = nullString(platformPostID)
	p.ScheduledAt = nullTime(scheduledAt)
	p.PublishedAt = nullTime(publishedAt)
	return &p, nil
}

func statusStrings(statuses []models.PostStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (p *Postgres) InsertPost(ctx context.Context, post *models.Post) (*models.Post, error) {
	out := *post
	if out.ID == "" {
		out.ID = p.newID()
	}
	if out.Status == "" {
		out.Status = models.PostDraft
	}
	out.Hashtags = nonNil(out.Hashtags)
	err := p.sb.Insert("posts").
		Columns("id", "workspace_id", "topic_id", "platform", "status", "caption", "hashtags", "image_url", "image_prompt", "credits_used", "scheduled_at").
		Values(out.ID, out.WorkspaceID, out.TopicID, out.Platform, string(out.Status), out.Caption, pq.Array(out.Hashtags), out.ImageURL, out.ImagePrompt, out.CreditsUsed, out.ScheduledAt).
		Suffix("RETURNING created_at, updated_at").
		QueryRowContext(ctx).
		Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, wrapDuplicate(err, "insert post")
	}
	return &out, nil
}

func (p *Postgres) GetPost(ctx context.Context, id string) (*models.Post, error) {
	post, err := scanPost(p.sb.Select(postColumns...).
		From("posts").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

func (p *Postgres) queryPosts(ctx context.Context, q sq.SelectBuilder) ([]models.Post, error) {
	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	out := make([]models.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		out = append(out, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}
	return out, nil
}

func postWhere(workspaceID string, statuses []models.PostStatus) sq.Eq {
	where := sq.Eq{"workspace_id": workspaceID}
	if len(statuses) > 0 {
		where["status"] = statusStrings(statuses)
	}
	return where
}

func (p *Postgres) ListPosts(ctx context.Context, f PostFilter) ([]models.Post, error) {
	q := p.sb.Select(postColumns...).
		From("posts").
		Where(postWhere(f.WorkspaceID, f.Statuses)).
		OrderBy("created_at DESC", "id DESC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return p.queryPosts(ctx, q)
}

func (p *Postgres) CountPosts(ctx context.Context, workspaceID string, statuses []models.PostStatus) (int, error) {
	return p.count(ctx, "posts", postWhere(workspaceID, statuses))
}

// resolveMiss tells apart a missing post from one whose status guarded the update.
func (p *Postgres) resolveMiss(ctx context.Context, id string) error {
	if _, err := p.GetPost(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

func (p *Postgres) EditPost(ctx context.Context, id string, e PostEdit) (*models.Post, error) {
	upd := p.sb.Update("posts").Set("updated_at", sq.Expr("NOW()"))
	if e.Caption != nil {
		upd = upd.Set("caption", *e.Caption)
	}
	if e.Hashtags != nil {
		upd = upd.Set("hashtags", pq.Array(e.Hashtags))
	}
	if e.ImageURL != nil {
		upd = upd.Set("image_url", *e.ImageURL)
	}
	if e.Platform != nil {
		upd = upd.Set("platform", *e.Platform)
	}
	post, err := scanPost(upd.
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": statusStrings([]models.PostStatus{models.PostGenerating, models.PostPublished})}).
		Suffix("RETURNING " + strings.Join(postColumns, ", ")).
		QueryRowContext(ctx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, p.resolveMiss(ctx, id)
		}
		return nil, fmt.Errorf("failed to edit post: %w", err)
	}
	return post, nil
}

func (p *Postgres) TransitionPost(ctx context.Context, id string, from []models.PostStatus, to models.PostStatus, reason *string) error {
	n, err := affected(p.sb.Update("posts").
		Set("status", string(to)).
		Set("publish_error", reason).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "status": statusStrings(from)}).
		ExecContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to transition post: %w", err)
	}
	if n == 0 {
		return p.resolveMiss(ctx, id)
	}
	return nil
}

func (p *Postgres) ApprovePosts(ctx context.Context, workspaceID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := affected(p.sb.Update("posts").
		Set("status", string(models.PostApproved)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"workspace_id": workspaceID, "id": ids, "status": string(models.PostDraft)}).
		ExecContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to approve posts: %w", err)
	}
	return int(n), nil
}

func (p *Postgres) SchedulePost(ctx context.Context, id string, at time.Time) error {
	n, err := affected(p.sb.Update("posts").
		Set("status", string(models.PostScheduled)).
		Set("scheduled_at", at.UTC()).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "status": statusStrings([]models.PostStatus{models.PostApproved, models.PostScheduled})}).
		ExecContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to schedule post: %w", err)
	}
	if n == 0 {
		return p.resolveMiss(ctx, id)
	}
	return nil
}

// WriteGeneratedContent stores regenerated content and returns the post to draft.
// The post must still be in generating; a reaped post is left failed.
func (p *Postgres) WriteGeneratedContent(ctx context.Context, id string, c PostContent) error {
	n, err := affected(p.sb.Update("posts").
		Set("caption", c.Caption).
		Set("hashtags", pq.Array(nonNil(c.Hashtags))).
		Set("image_url", c.ImageURL).
		Set("image_prompt", c.ImagePrompt).
		Set("credits_used", sq.Expr("credits_used + ?", c.CreditsUsed)).
		Set("status", string(models.PostDraft)).
		Set("publish_error", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "status": string(models.PostGenerating)}).
		ExecContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to write generated content: %w", err)
	}
	if n == 0 {
		return p.resolveMiss(ctx, id)
	}
	return nil
}

// ListDuePosts returns approved or scheduled posts whose scheduled time has passed, oldest first.
func (p *Postgres) ListDuePosts(ctx context.Context, now time.Time, limit int) ([]models.Post, error) {
	q := p.sb.Select(postColumns...).
		From("posts").
		Where(sq.Eq{"status": statusStrings([]models.PostStatus{models.PostApproved, models.PostScheduled})}).
		Where(sq.NotEq{"scheduled_at": nil}).
		Where(sq.LtOrEq{"scheduled_at": now.UTC()}).
		OrderBy("scheduled_at ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return p.queryPosts(ctx, q)
}

func (p *Postgres) MarkPostPublished(ctx context.Context, id string, platformPostID string, at time.Time) error {
	var ppid interface{}
	if platformPostID != "" {
		ppid = platformPostID
	}
	n, err := affected(p.sb.Update("posts").
		Set("status", string(models.PostPublished)).
		Set("published_at", at.UTC()).
		Set("platform_post_id", ppid).
		Set("publish_error", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "status": statusStrings([]models.PostStatus{models.PostApproved, models.PostScheduled})}).
		ExecContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to mark post published: %w", err)
	}
	if n == 0 {
		return p.resolveMiss(ctx, id)
	}
	return nil
}

func (p *Postgres) MarkPostFailed(ctx context.Context, id string, reason string) error {
	n, err := affected(p.sb.Update("posts").
		Set("status", string(models.PostFailed)).
		Set("publish_error", reason).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "status": statusStrings([]models.PostStatus{models.PostApproved, models.PostScheduled, models.PostGenerating})}).
		ExecContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to mark post failed: %w", err)
	}
	if n == 0 {
		return p.resolveMiss(ctx, id)
	}
	return nil
}

func (p *Postgres) FailStaleGenerating(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	n, err := affected(p.sb.Update("posts").
		Set("status", string(models.PostFailed)).
		Set("publish_error", reason).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"status": string(models.PostGenerating)}).
		Where(sq.Lt{"updated_at": olderThan.UTC()}).
		ExecContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale posts: %w", err)
	}
	return n, nil
}
