package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]any{"ok": true})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
	if body := rr.Body.String(); body == "" || body[0] != '{' {
		t.Fatalf("expected json body, got %q", body)
	}
}

func TestDecodeJSON_Invalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`not-json`))
	var out map[string]any
	if err := decodeJSON(req, &out); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPathVar(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/workspaces/123", nil)
	req = mux.SetURLVars(req, map[string]string{"id": " 123 "})
	if got := pathVar(req, "id"); got != "123" {
		t.Fatalf("expected 123, got %q", got)
	}
	if got := pathVar(req, "missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=5&bad=-1&word=abc", nil)
	if got := queryInt(req, "limit", 10); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := queryInt(req, "bad", 10); got != 10 {
		t.Fatalf("expected default for negative, got %d", got)
	}
	if got := queryInt(req, "word", 10); got != 10 {
		t.Fatalf("expected default for non-number, got %d", got)
	}
}

func TestDecodeOAuthState(t *testing.T) {
	if _, err := decodeOAuthState("%%%"); err == nil {
		t.Fatalf("expected error for garbage")
	}
	// eyJ3b3Jrc3BhY2VfaWQiOiJ3cyIsInBsYXRmb3JtIjoiRmFjZWJvb2sifQ== is {"workspace_id":"ws","platform":"Facebook"}
	st, err := decodeOAuthState("eyJ3b3Jrc3BhY2VfaWQiOiJ3cyIsInBsYXRmb3JtIjoiRmFjZWJvb2sifQ==")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.WorkspaceID != "ws" || st.Platform != "facebook" {
		t.Fatalf("unexpected state %+v", st)
	}
}
