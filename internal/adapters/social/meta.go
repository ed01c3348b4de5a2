// Package social talks to the Meta Graph API: OAuth code exchange, page discovery,
// Instagram container publishing and Facebook page photos.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PublishError carries the platform's error message verbatim.
type PublishError struct {
	Platform string
	Op       string
	Status   int
	Message  string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Platform, e.Op, e.Message)
}

type Page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

type Client struct {
	graphURL   string
	appID      string
	appSecret  string
	httpClient *http.Client
	limiters   *Limiters
}

func New(graphURL, appID, appSecret string) *Client {
	return &Client{
		graphURL:   strings.TrimRight(strings.TrimSpace(graphURL), "/"),
		appID:      strings.TrimSpace(appID),
		appSecret:  strings.TrimSpace(appSecret),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) WithLimiters(l *Limiters) *Client {
	c.limiters = l
	return c
}

func extractGraphErrorMessage(body []byte, fallback string) string {
	msg := fallback
	var fb map[string]interface{}
	if json.Unmarshal(body, &fb) == nil {
		if eObj, ok := fb["error"].(map[string]interface{}); ok {
			if m, ok := eObj["message"].(string); ok && m != "" {
				msg = m
			}
		}
	}
	return truncate(msg, 400)
}

// truncate keeps at most max runes so a cut message stays valid UTF-8.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// call runs one Graph request and decodes the JSON object answer into out.
func (c *Client) call(ctx context.Context, platform, op, method, endpoint string, form url.Values, out interface{}) error {
	if lim := c.limiters.For(platform); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+form.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return &PublishError{Platform: platform, Op: op, Message: err.Error()}
	}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	_ = res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &PublishError{Platform: platform, Op: op, Status: res.StatusCode, Message: extractGraphErrorMessage(b, string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return &PublishError{Platform: platform, Op: op, Status: res.StatusCode, Message: "invalid json response: " + truncate(string(b), 200)}
	}
	return nil
}

// ExchangeAuthCode trades an OAuth code for a user access token.
func (c *Client) ExchangeAuthCode(ctx context.Context, code, redirectURI string) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.appID)
	form.Set("client_secret", c.appSecret)
	form.Set("redirect_uri", redirectURI)
	form.Set("code", code)
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.call(ctx, "facebook", "oauth_exchange", http.MethodGet, c.graphURL+"/oauth/access_token", form, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &PublishError{Platform: "facebook", Op: "oauth_exchange", Message: "missing access_token"}
	}
	return out.AccessToken, nil
}

// ListPages returns the pages the user manages, each with its own page token.
func (c *Client) ListPages(ctx context.Context, userToken string) ([]Page, error) {
	form := url.Values{}
	form.Set("access_token", userToken)
	var out struct {
		Data []Page `json:"data"`
	}
	if err := c.call(ctx, "facebook", "list_pages", http.MethodGet, c.graphURL+"/me/accounts", form, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// InstagramBusinessID returns the Instagram business account linked to a page, or "" if none.
func (c *Client) InstagramBusinessID(ctx context.Context, pageID, pageToken string) (string, error) {
	form := url.Values{}
	form.Set("fields", "instagram_business_account")
	form.Set("access_token", pageToken)
	var out struct {
		InstagramBusinessAccount *struct {
			ID string `json:"id"`
		} `json:"instagram_business_account"`
	}
	if err := c.call(ctx, "facebook", "page_lookup", http.MethodGet, c.graphURL+"/"+url.PathEscape(pageID), form, &out); err != nil {
		return "", err
	}
	if out.InstagramBusinessAccount == nil {
		return "", nil
	}
	return out.InstagramBusinessAccount.ID, nil
}

// CreateMediaContainer is the first Instagram publish call; it returns the creation id.
func (c *Client) CreateMediaContainer(ctx context.Context, businessID, imageURL, caption, token string) (string, error) {
	form := url.Values{}
	form.Set("image_url", imageURL)
	form.Set("caption", caption)
	form.Set("access_token", token)
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "instagram", "create_container", http.MethodPost, c.graphURL+"/"+url.PathEscape(businessID)+"/media", form, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &PublishError{Platform: "instagram", Op: "create_container", Message: "missing creation id"}
	}
	return out.ID, nil
}

// PublishContainer publishes a created container and returns the media id.
func (c *Client) PublishContainer(ctx context.Context, businessID, creationID, token string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", creationID)
	form.Set("access_token", token)
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "instagram", "publish_container", http.MethodPost, c.graphURL+"/"+url.PathEscape(businessID)+"/media_publish", form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// PostPhoto publishes a photo with caption to a Facebook page and returns the post id.
func (c *Client) PostPhoto(ctx context.Context, pageID, imageURL, caption, token string) (string, error) {
	form := url.Values{}
	form.Set("url", imageURL)
	form.Set("caption", caption)
	form.Set("access_token", token)
	var out struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := c.call(ctx, "facebook", "post_photo", http.MethodPost, c.graphURL+"/"+url.PathEscape(pageID)+"/photos", form, &out); err != nil {
		return "", err
	}
	if out.PostID != "" {
		return out.PostID, nil
	}
	return out.ID, nil
}
