package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/testerbesterkali/marketer/internal/models"
)

type stageRequest struct {
	WorkspaceID string `json:"workspace_id"`
	PostID      string `json:"post_id"`
}

// stageContext detaches a stage run from the request so a caller that fires and forgets
// does not cancel adapter calls halfway.
func (h *Handler) stageContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), h.stageTimeout)
}

func (h *Handler) stageFailed(w http.ResponseWriter, r *http.Request, stage string, err error) {
	status := statusFor(err)
	h.log.Warn("stage_failed", "stage", stage, "status", status, "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) readStageRequest(w http.ResponseWriter, r *http.Request, needPost bool) (stageRequest, bool) {
	var req stageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return req, false
	}
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.PostID = strings.TrimSpace(req.PostID)
	if needPost && req.PostID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "post_id is required"})
		return req, false
	}
	if !needPost && req.WorkspaceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "workspace_id is required"})
		return req, false
	}
	return req, true
}

// AnalyzeBrand URL: POST /functions/analyze-brand {workspace_id}
func (h *Handler) AnalyzeBrand(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readStageRequest(w, r, false)
	if !ok {
		return
	}
	ctx, cancel := h.stageContext(r)
	defer cancel()
	bp, err := h.stages.AnalyzeBrand(ctx, req.WorkspaceID)
	if err != nil {
		h.stageFailed(w, r, "analyze-brand", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "brand_profile_id": bp.ID})
}

// GenerateTopics URL: POST /functions/generate-topics {workspace_id}
func (h *Handler) GenerateTopics(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readStageRequest(w, r, false)
	if !ok {
		return
	}
	ctx, cancel := h.stageContext(r)
	defer cancel()
	topics, err := h.stages.GenerateTopics(ctx, req.WorkspaceID)
	if err != nil {
		h.stageFailed(w, r, "generate-topics", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "topics": len(topics)})
}

// GenerateInitialPosts URL: POST /functions/generate-initial-posts {workspace_id}
func (h *Handler) GenerateInitialPosts(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readStageRequest(w, r, false)
	if !ok {
		return
	}
	ctx, cancel := h.stageContext(r)
	defer cancel()
	report, err := h.stages.GenerateInitialPosts(ctx, req.WorkspaceID)
	if err != nil {
		h.stageFailed(w, r, "generate-initial-posts", err)
		return
	}
	failures := make([]map[string]string, 0, report.Failed)
	for _, o := range report.Outcomes {
		if o.Err != nil {
			failures = append(failures, map[string]string{"topic_id": o.TopicID, "error": o.Err.Error()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"generated": report.Succeeded,
		"failed":    report.Failed,
		"failures":  failures,
	})
}

// RegeneratePost URL: POST /functions/generate-post {post_id}
func (h *Handler) RegeneratePost(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readStageRequest(w, r, true)
	if !ok {
		return
	}
	ctx, cancel := h.stageContext(r)
	defer cancel()
	post, err := h.stages.RegeneratePost(ctx, req.PostID)
	if err != nil {
		h.stageFailed(w, r, "generate-post", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "post": post})
}

// PublishScheduled runs one publisher sweep on demand.
// URL: POST /functions/scheduled-publisher
func (h *Handler) PublishScheduled(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "publisher disabled"})
		return
	}
	ctx, cancel := h.stageContext(r)
	defer cancel()
	results, err := h.sweeper.Sweep(ctx)
	if err != nil {
		h.stageFailed(w, r, "scheduled-publisher", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

type oauthState struct {
	WorkspaceID string `json:"workspace_id"`
	Platform    string `json:"platform"`
}

func decodeOAuthState(raw string) (oauthState, error) {
	var st oauthState
	raw = strings.TrimSpace(raw)
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
		if err != nil {
			return st, fmt.Errorf("invalid state: %w", err)
		}
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("invalid state: %w", err)
	}
	st.Platform = strings.ToLower(strings.TrimSpace(st.Platform))
	if st.WorkspaceID == "" || st.Platform == "" {
		return st, errors.New("invalid state: workspace_id and platform are required")
	}
	return st, nil
}

// MetaOAuthCallback finishes the Meta login and stores the first page's connection.
// URL: GET /functions/meta-oauth?code=...&state=base64({workspace_id, platform})
func (h *Handler) MetaOAuthCallback(w http.ResponseWriter, r *http.Request) {
	integrations := strings.TrimRight(h.siteURL, "/") + "/dashboard/integrations"
	if err := h.connectMeta(r); err != nil {
		h.log.Warn("meta_oauth_failed", "error", err)
		http.Redirect(w, r, integrations+"?error="+url.QueryEscape(err.Error()), http.StatusFound)
		return
	}
	http.Redirect(w, r, integrations+"?success=true", http.StatusFound)
}

func (h *Handler) connectMeta(r *http.Request) error {
	q := r.URL.Query()
	code := strings.TrimSpace(q.Get("code"))
	if code == "" || strings.TrimSpace(q.Get("state")) == "" {
		return errors.New("missing code or state")
	}
	st, err := decodeOAuthState(q.Get("state"))
	if err != nil {
		return err
	}
	if h.meta == nil {
		return errors.New("meta integration is not configured")
	}
	ctx := r.Context()
	redirectURI := strings.TrimRight(h.publicURL, "/") + "/functions/meta-oauth"
	userToken, err := h.meta.ExchangeAuthCode(ctx, code, redirectURI)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}
	pages, err := h.meta.ListPages(ctx, userToken)
	if err != nil {
		return fmt.Errorf("page lookup failed: %w", err)
	}
	if len(pages) == 0 {
		return errors.New("no facebook page linked to account")
	}
	page := pages[0]
	igID, err := h.meta.InstagramBusinessID(ctx, page.ID, page.AccessToken)
	if err != nil {
		h.log.Warn("instagram_lookup_failed", "page_id", page.ID, "error", err)
	}

	conn := &models.SocialConnection{
		WorkspaceID: st.WorkspaceID,
		Platform:    st.Platform,
		AccessToken: page.AccessToken,
		MetaPageID:  &page.ID,
		Connected:   true,
	}
	if page.Name != "" {
		conn.AccountName = &page.Name
	}
	if igID != "" {
		conn.InstagramBusinessID = &igID
	}
	saved, err := h.store.UpsertSocialConnection(ctx, conn)
	if err != nil {
		return fmt.Errorf("connection upsert failed: %w", err)
	}
	h.log.Info("meta_connected", "workspace_id", st.WorkspaceID, "platform", st.Platform, "connection_id", saved.ID)
	return nil
}
