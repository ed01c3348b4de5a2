// Package imagegen turns an image prompt into a hosted image URL.
package imagegen

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultSize = 1024

// Client builds prompt URLs for a Pollinations-style renderer, where the image is produced on the
// first GET of {base}/prompt/{prompt}. With Probe set, Generate fetches the URL once so a broken
// prompt fails here instead of at publish time.
type Client struct {
	baseURL    string
	Probe      bool
	Width      int
	Height     int
	httpClient *http.Client
	seed       func() int
}

func New(baseURL string, probe bool) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Probe:      probe,
		Width:      defaultSize,
		Height:     defaultSize,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		seed:       func() int { return rand.Intn(1_000_000) },
	}
}

func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithSeed fixes the seed source, for tests.
func (c *Client) WithSeed(fn func() int) *Client {
	c.seed = fn
	return c
}

// URL returns the image URL for prompt with the given seed.
func (c *Client) URL(prompt string, seed int) string {
	q := url.Values{}
	q.Set("width", fmt.Sprint(c.Width))
	q.Set("height", fmt.Sprint(c.Height))
	q.Set("nologo", "true")
	q.Set("seed", fmt.Sprint(seed))
	q.Set("enhance", "true")
	return c.baseURL + "/prompt/" + url.PathEscape(strings.TrimSpace(prompt)) + "?" + q.Encode()
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("image prompt is empty")
	}
	u := c.URL(prompt, c.seed())
	if !c.Probe {
		return u, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("image probe: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("image generation failed: status=%d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("image generation returned %s", ct)
	}
	return u, nil
}
