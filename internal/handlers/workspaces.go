package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/pipeline"
	"github.com/testerbesterkali/marketer/internal/store"
)

type createWorkspaceRequest struct {
	OwnerID    string `json:"owner_id" validate:"required"`
	WebsiteURL string `json:"website_url" validate:"required,url"`
	Name       string `json:"name"`
}

func (h *Handler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.WebsiteURL = strings.TrimSpace(req.WebsiteURL)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = pipeline.WorkspaceNameFromURL(req.WebsiteURL)
	}
	ws, err := h.store.CreateWorkspace(r.Context(), &models.Workspace{
		OwnerID:        req.OwnerID,
		Name:           name,
		WebsiteURL:     req.WebsiteURL,
		OnboardingStep: models.StepURLSubmitted,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info("workspace_created", "workspace_id", ws.ID, "owner_id", ws.OwnerID)
	writeJSON(w, http.StatusCreated, ws)
}

func (h *Handler) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.store.GetWorkspace(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *Handler) ListOwnerWorkspaces(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.ListWorkspacesByOwner(r.Context(), pathVar(r, "ownerId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) AdvanceOnboardingStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step int `json:"step" validate:"gte=1,lte=5"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := pathVar(r, "id")
	if err := h.store.AdvanceOnboardingStep(r.Context(), id, req.Step); err != nil {
		h.fail(w, r, err)
		return
	}
	h.GetWorkspace(w, r)
}

func (h *Handler) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	up, err := h.store.GetUserProfile(r.Context(), pathVar(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, models.UserProfile{ID: pathVar(r, "id")})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Stats(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) GetBrandProfile(w http.ResponseWriter, r *http.Request) {
	bp, err := h.store.GetBrandProfile(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

// PutBrandProfile stores user edits from the brand kit. It upserts like the analyze stage.
func (h *Handler) PutBrandProfile(w http.ResponseWriter, r *http.Request) {
	var bp models.BrandProfile
	if err := decodeJSON(r, &bp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bp.WorkspaceID = pathVar(r, "id")
	if strings.TrimSpace(bp.BusinessName) == "" {
		writeError(w, http.StatusBadRequest, "business_name is required")
		return
	}
	if _, err := h.store.GetWorkspace(r.Context(), bp.WorkspaceID); err != nil {
		h.fail(w, r, err)
		return
	}
	if bp.RawScrapedData == "" {
		if prev, err := h.store.GetBrandProfile(r.Context(), bp.WorkspaceID); err == nil {
			bp.RawScrapedData = prev.RawScrapedData
		}
	}
	out, err := h.store.UpsertBrandProfile(r.Context(), &bp)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetContentPlan(w http.ResponseWriter, r *http.Request) {
	cp, err := h.store.GetContentPlan(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// PutContentPlan saves the plan (latest wins) and moves onboarding to the preferences step.
func (h *Handler) PutContentPlan(w http.ResponseWriter, r *http.Request) {
	var cp models.ContentPlan
	if err := decodeJSON(r, &cp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cp.WorkspaceID = pathVar(r, "id")
	if err := h.validate.Struct(cp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(cp.EnabledPlatforms()) == 0 {
		writeError(w, http.StatusBadRequest, "at least one platform must be enabled")
		return
	}
	if _, err := h.store.GetWorkspace(r.Context(), cp.WorkspaceID); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.store.UpsertContentPlan(r.Context(), &cp)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.AdvanceOnboardingStep(r.Context(), cp.WorkspaceID, models.StepPlanSaved); err != nil {
		h.log.Warn("advance_step_failed", "workspace_id", cp.WorkspaceID, "error", err)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetStylePreferences(w http.ResponseWriter, r *http.Request) {
	sp, err := h.store.GetStylePreferences(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (h *Handler) PutStylePreferences(w http.ResponseWriter, r *http.Request) {
	var sp models.StylePreferences
	if err := decodeJSON(r, &sp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sp.WorkspaceID = pathVar(r, "id")
	if err := h.validate.Struct(sp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.store.GetWorkspace(r.Context(), sp.WorkspaceID); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.store.UpsertStylePreferences(r.Context(), &sp)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type connectionRequest struct {
	Platform            string  `json:"platform" validate:"required,oneof=instagram facebook linkedin tiktok x"`
	AccessToken         string  `json:"access_token" validate:"required"`
	MetaPageID          *string `json:"meta_page_id"`
	InstagramBusinessID *string `json:"instagram_business_id"`
	AccountName         *string `json:"account_name"`
}

func (h *Handler) ListSocialConnections(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.ListSocialConnections(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// UpsertSocialConnection stores a connection made outside the OAuth callback.
func (h *Handler) UpsertSocialConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Platform = strings.ToLower(strings.TrimSpace(req.Platform))
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	workspaceID := pathVar(r, "id")
	if _, err := h.store.GetWorkspace(r.Context(), workspaceID); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.store.UpsertSocialConnection(r.Context(), &models.SocialConnection{
		WorkspaceID:         workspaceID,
		Platform:            req.Platform,
		AccessToken:         req.AccessToken,
		MetaPageID:          req.MetaPageID,
		InstagramBusinessID: req.InstagramBusinessID,
		AccountName:         req.AccountName,
		Connected:           true,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
