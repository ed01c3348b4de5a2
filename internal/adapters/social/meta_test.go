package social

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func newGraph(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("code") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid verification code format."}}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"user-token"}`))
	})
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"page-1","name":"Acme","access_token":"page-token"}]}`))
	})
	mux.HandleFunc("/page-1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fields") != "instagram_business_account" {
			t.Errorf("unexpected fields %q", r.URL.Query().Get("fields"))
		}
		_, _ = w.Write([]byte(`{"instagram_business_account":{"id":"ig-1"},"id":"page-1"}`))
	})
	mux.HandleFunc("/ig-1/media", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("image_url") == "" || r.PostForm.Get("access_token") != "page-token" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"missing image"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"creation-1"}`))
	})
	mux.HandleFunc("/ig-1/media_publish", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("creation_id") != "creation-1" {
			t.Errorf("unexpected creation id %q", r.PostForm.Get("creation_id"))
		}
		_, _ = w.Write([]byte(`{"id":"media-1"}`))
	})
	mux.HandleFunc("/page-1/photos", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"(#200) Permissions error","code":200}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL, "app", "secret").WithLimiters(NewLimiters(func(string) string { return "100" })), srv
}

func TestOAuthFlow(t *testing.T) {
	c, _ := newGraph(t)
	ctx := context.Background()

	tok, err := c.ExchangeAuthCode(ctx, "good", "https://api.example/functions/meta-oauth")
	if err != nil || tok != "user-token" {
		t.Fatalf("ExchangeAuthCode: %q %v", tok, err)
	}
	pages, err := c.ListPages(ctx, tok)
	if err != nil || len(pages) != 1 || pages[0].AccessToken != "page-token" {
		t.Fatalf("ListPages: %+v %v", pages, err)
	}
	ig, err := c.InstagramBusinessID(ctx, pages[0].ID, pages[0].AccessToken)
	if err != nil || ig != "ig-1" {
		t.Fatalf("InstagramBusinessID: %q %v", ig, err)
	}
}

func TestExchangeAuthCode_ErrorIsVerbatim(t *testing.T) {
	c, _ := newGraph(t)
	_, err := c.ExchangeAuthCode(context.Background(), "bad", "x")
	var pe *PublishError
	if !errors.As(err, &pe) || pe.Message != "Invalid verification code format." {
		t.Fatalf("expected verbatim PublishError, got %v", err)
	}
}

func TestInstagramTwoStepPublish(t *testing.T) {
	c, _ := newGraph(t)
	ctx := context.Background()
	creation, err := c.CreateMediaContainer(ctx, "ig-1", "https://img/1.jpg", "hello", "page-token")
	if err != nil || creation != "creation-1" {
		t.Fatalf("CreateMediaContainer: %q %v", creation, err)
	}
	media, err := c.PublishContainer(ctx, "ig-1", creation, "page-token")
	if err != nil || media != "media-1" {
		t.Fatalf("PublishContainer: %q %v", media, err)
	}
}

func TestPostPhoto_PlatformError(t *testing.T) {
	c, _ := newGraph(t)
	_, err := c.PostPhoto(context.Background(), "page-1", "https://img/1.jpg", "hello", "page-token")
	var pe *PublishError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PublishError, got %v", err)
	}
	if pe.Status != http.StatusForbidden || pe.Message != "(#200) Permissions error" || pe.Platform != "facebook" {
		t.Fatalf("unexpected error: %+v", pe)
	}
}

func TestRateLimitFromEnv(t *testing.T) {
	env := map[string]string{"SOCIAL_INSTAGRAM_RPS": "0.5", "SOCIAL_INSTAGRAM_BURST": "4", "SOCIAL_FACEBOOK_RPS": "nope"}
	getenv := func(k string) string { return env[k] }

	ig := RateLimitFromEnv(getenv, "instagram", DefaultRateLimits()["instagram"])
	if ig.RequestsPerSecond != 0.5 || ig.Burst != 4 {
		t.Fatalf("unexpected instagram config %+v", ig)
	}
	fb := RateLimitFromEnv(getenv, "facebook", DefaultRateLimits()["facebook"])
	if fb != DefaultRateLimits()["facebook"] {
		t.Fatalf("invalid env should keep defaults, got %+v", fb)
	}

	l := NewLimiters(getenv)
	if l.For("instagram") != l.For("instagram") {
		t.Fatalf("expected cached limiter")
	}
	if l.For("tiktok") == nil {
		t.Fatalf("unknown platforms still get a limiter")
	}
}

func TestGraphErrorMessage_CutsOnRunes(t *testing.T) {
	long := strings.Repeat("é", 450)
	body, _ := json.Marshal(map[string]interface{}{"error": map[string]string{"message": long}})
	msg := extractGraphErrorMessage(body, "fallback")
	if !utf8.ValidString(msg) {
		t.Fatalf("truncated message is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(msg); n != 400 {
		t.Fatalf("expected 400 runes, got %d", n)
	}
	if got := truncate("ok", 400); got != "ok" {
		t.Fatalf("short message changed: %q", got)
	}
}
