package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/store"
)

type idsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// ListTopics supports ?approved=true|false and ?limit=n.
func (h *Handler) ListTopics(w http.ResponseWriter, r *http.Request) {
	f := store.TopicFilter{WorkspaceID: pathVar(r, "id"), Limit: queryInt(r, "limit", 0)}
	if v := strings.TrimSpace(r.URL.Query().Get("approved")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid approved")
			return
		}
		f.Approved = &b
	}
	out, err := h.store.ListTopics(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// TopicsExist is the resumability probe for topic generation.
func (h *Handler) TopicsExist(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.CountTopics(r.Context(), pathVar(r, "id"), nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exists": n > 0, "count": n})
}

func (h *Handler) ApproveTopics(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.store.ApproveTopics(r.Context(), pathVar(r, "id"), req.IDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"approved": n})
}

// ListPosts supports ?status=draft,approved and ?limit=n.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	f := store.PostFilter{WorkspaceID: pathVar(r, "id"), Limit: queryInt(r, "limit", 0)}
	for _, s := range strings.Split(r.URL.Query().Get("status"), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		st := models.PostStatus(s)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status "+strconv.Quote(s))
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	out, err := h.store.ListPosts(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPost(r.Context(), pathVar(r, "postId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type editPostRequest struct {
	Caption  *string  `json:"caption"`
	Hashtags []string `json:"hashtags"`
	ImageURL *string  `json:"image_url" validate:"omitempty,url"`
	Platform *string  `json:"platform" validate:"omitempty,oneof=instagram facebook linkedin tiktok x"`
}

func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	var req editPostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.store.EditPost(r.Context(), pathVar(r, "postId"), store.PostEdit{
		Caption:  req.Caption,
		Hashtags: req.Hashtags,
		ImageURL: req.ImageURL,
		Platform: req.Platform,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ApprovePosts moves drafts to approved; posts in other states are skipped.
func (h *Handler) ApprovePosts(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.store.ApprovePosts(r.Context(), pathVar(r, "id"), req.IDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"approved": n})
}

func (h *Handler) SchedulePost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ScheduledAt.IsZero() {
		writeError(w, http.StatusBadRequest, "scheduled_at is required")
		return
	}
	id := pathVar(r, "postId")
	if err := h.store.SchedulePost(r.Context(), id, req.ScheduledAt); err != nil {
		h.fail(w, r, err)
		return
	}
	h.GetPost(w, r)
}
