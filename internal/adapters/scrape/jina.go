// Package scrape fetches a website as readable text through a reader proxy (r.jina.ai style:
// GET {base}/{target-url} returns the page as markdown).
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const maxBodyBytes = 4 << 20

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithHTTPClient swaps the transport, for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Scrape returns the page content of target as text. Reader proxies answer with markdown;
// when the response is HTML instead, the visible text is extracted.
func (c *Client) Scrape(ctx context.Context, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("scrape: empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain, text/markdown, text/html")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("scrape request: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("scrape read: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("scrape failed: status=%d body=%s", res.StatusCode, truncate(string(body), 300))
	}

	text := string(body)
	if strings.Contains(strings.ToLower(res.Header.Get("Content-Type")), "text/html") {
		doc, err := html.Parse(bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("scrape parse html: %w", err)
		}
		text = extractText(doc)
	}
	text = normalizeText(text)
	if text == "" {
		return "", fmt.Errorf("scrape returned no content for %s", target)
	}
	return text, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			switch node.Data {
			case "script", "style", "noscript", "svg":
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode {
			switch node.Data {
			case "p", "br", "div", "li", "h1", "h2", "h3", "h4", "section", "header", "footer":
				buf.WriteString("\n")
			}
		}
	}
	walk(n)
	return buf.String()
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}
