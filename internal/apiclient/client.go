// Package apiclient is the observer's view of the API: entity reads, stage triggers and the
// progress websocket.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/testerbesterkali/marketer/internal/handlers"
	"github.com/testerbesterkali/marketer/internal/logger"
	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/progress"
	"github.com/testerbesterkali/marketer/internal/store"
)

type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Body)
}

// Unwrap lets callers match a 404 with store.ErrNotFound.
func (e *HTTPError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return store.ErrNotFound
	}
	return nil
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	wsSecret   string
	log        *logger.Logger
}

func New(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        logger.OrNop(log).With("component", "APIClient"),
	}
}

func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithWSSecret sets the X-Internal-WS-Secret header for non-loopback servers.
func (c *Client) WithWSSecret(secret string) *Client {
	c.wsSecret = secret
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(b))
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &HTTPError{Status: res.StatusCode, Body: msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

func (c *Client) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := c.do(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(id), nil, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

func (c *Client) GetBrandProfile(ctx context.Context, workspaceID string) (*models.BrandProfile, error) {
	var bp models.BrandProfile
	if err := c.do(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(workspaceID)+"/brand-profile", nil, &bp); err != nil {
		return nil, err
	}
	return &bp, nil
}

// ArtifactExists reports whether the stage's terminal artifact is stored: the brand profile
// for analysis, any topic for topic generation.
func (c *Client) ArtifactExists(ctx context.Context, kind progress.Kind, workspaceID string) (bool, error) {
	switch kind {
	case progress.KindAnalysis:
		_, err := c.GetBrandProfile(ctx, workspaceID)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	case progress.KindTopics:
		var out struct {
			Exists bool `json:"exists"`
		}
		if err := c.do(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(workspaceID)+"/topics/exists", nil, &out); err != nil {
			return false, err
		}
		return out.Exists, nil
	}
	return false, fmt.Errorf("unknown progress kind %q", kind)
}

func stagePath(kind progress.Kind) (string, error) {
	switch kind {
	case progress.KindAnalysis:
		return "/functions/analyze-brand", nil
	case progress.KindTopics:
		return "/functions/generate-topics", nil
	}
	return "", fmt.Errorf("unknown progress kind %q", kind)
}

// Trigger invokes the stage function and waits for its response.
func (c *Client) Trigger(ctx context.Context, kind progress.Kind, workspaceID string) error {
	path, err := stagePath(kind)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, map[string]string{"workspace_id": workspaceID}, nil)
}

func (c *Client) wsURL(kind, workspaceID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/progress/ws"
	q := url.Values{}
	q.Set("workspace_id", workspaceID)
	q.Set("kind", kind)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsSubscription struct {
	conn *websocket.Conn
	ch   chan progress.Event
	once sync.Once
}

func (s *wsSubscription) Events() <-chan progress.Event { return s.ch }

func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.conn.Close() })
	return err
}

// SubscribeProgress opens the progress websocket and returns once the server confirmed the
// subscription with its hello frame.
func (c *Client) SubscribeProgress(ctx context.Context, kind progress.Kind, workspaceID string) (progress.Subscription, error) {
	return c.subscribe(ctx, string(kind), workspaceID)
}

// SubscribePosts streams post.updated notices for a workspace.
func (c *Client) SubscribePosts(ctx context.Context, workspaceID string) (progress.Subscription, error) {
	return c.subscribe(ctx, "posts", workspaceID)
}

func (c *Client) subscribe(ctx context.Context, kind, workspaceID string) (progress.Subscription, error) {
	target, err := c.wsURL(kind, workspaceID)
	if err != nil {
		return nil, err
	}
	cfg, err := websocket.NewConfig(target, c.baseURL)
	if err != nil {
		return nil, err
	}
	if c.wsSecret != "" {
		cfg.Header.Set("X-Internal-WS-Secret", c.wsSecret)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("progress websocket: %w", err)
	}
	var hello handlers.Frame
	if err := websocket.JSON.Receive(conn, &hello); err != nil || hello.Type != handlers.FrameHello {
		_ = conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected first frame %q", hello.Type)
		}
		return nil, fmt.Errorf("progress websocket: %w", err)
	}

	sub := &wsSubscription{conn: conn, ch: make(chan progress.Event, 16)}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(sub.ch)
		defer close(done)
		for {
			var f handlers.Frame
			if err := websocket.JSON.Receive(conn, &f); err != nil {
				return
			}
			if f.Type == handlers.FrameHello {
				continue
			}
			ev := progress.Event{Step: f.Step, PostID: f.PostID, Status: f.Status}
			select {
			case sub.ch <- ev:
			default:
				c.log.Warn("event_dropped", "channel", f.Channel, "step", f.Step)
			}
		}
	}()
	return sub, nil
}
