package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Register wires every route. metricsHandler may be nil.
func Register(h *Handler, r *mux.Router, metricsHandler http.Handler) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods("GET")
	}

	// Stage functions
	r.HandleFunc("/functions/analyze-brand", h.AnalyzeBrand).Methods("POST")
	r.HandleFunc("/functions/generate-topics", h.GenerateTopics).Methods("POST")
	r.HandleFunc("/functions/generate-initial-posts", h.GenerateInitialPosts).Methods("POST")
	r.HandleFunc("/functions/generate-post", h.RegeneratePost).Methods("POST")
	r.HandleFunc("/functions/scheduled-publisher", h.PublishScheduled).Methods("POST")
	r.HandleFunc("/functions/meta-oauth", h.MetaOAuthCallback).Methods("GET")

	// Progress channel
	r.HandleFunc("/api/progress/ws", h.ProgressWebSocket).Methods("GET")
	r.HandleFunc("/api/progress/ping", h.ProgressPing).Methods("GET")

	// Workspaces
	r.HandleFunc("/api/workspaces", h.CreateWorkspace).Methods("POST")
	r.HandleFunc("/api/workspaces/{id}", h.GetWorkspace).Methods("GET")
	r.HandleFunc("/api/workspaces/owner/{ownerId}", h.ListOwnerWorkspaces).Methods("GET")
	r.HandleFunc("/api/workspaces/{id}/onboarding-step", h.AdvanceOnboardingStep).Methods("POST")
	r.HandleFunc("/api/workspaces/{id}/stats", h.GetStats).Methods("GET")
	r.HandleFunc("/api/users/{id}/profile", h.GetUserProfile).Methods("GET")

	// Brand kit and preferences
	r.HandleFunc("/api/workspaces/{id}/brand-profile", h.GetBrandProfile).Methods("GET")
	r.HandleFunc("/api/workspaces/{id}/brand-profile", h.PutBrandProfile).Methods("PUT")
	r.HandleFunc("/api/workspaces/{id}/content-plan", h.GetContentPlan).Methods("GET")
	r.HandleFunc("/api/workspaces/{id}/content-plan", h.PutContentPlan).Methods("PUT")
	r.HandleFunc("/api/workspaces/{id}/style-preferences", h.GetStylePreferences).Methods("GET")
	r.HandleFunc("/api/workspaces/{id}/style-preferences", h.PutStylePreferences).Methods("PUT")

	// Topics
	r.HandleFunc("/api/workspaces/{id}/topics", h.ListTopics).Methods("GET")
	r.HandleFunc("/api/workspaces/{id}/topics/exists", h.TopicsExist).Methods("GET")
	r.HandleFunc("/api/workspaces/{id}/topics/approve", h.ApproveTopics).Methods("POST")

	// Posts
	r.HandleFunc("/api/workspaces/{id}/posts", h.ListPosts).Methods("GET")
	r.HandleFunc("/api/workspaces/{id}/posts/approve", h.ApprovePosts).Methods("POST")
	r.HandleFunc("/api/posts/{postId}", h.GetPost).Methods("GET")
	r.HandleFunc("/api/posts/{postId}", h.UpdatePost).Methods("PUT")
	r.HandleFunc("/api/posts/{postId}/schedule", h.SchedulePost).Methods("POST")

	// Social connections
	r.HandleFunc("/api/workspaces/{id}/social-connections", h.ListSocialConnections).Methods("GET")
	r.HandleFunc("/api/workspaces/{id}/social-connections", h.UpsertSocialConnection).Methods("POST")
}
