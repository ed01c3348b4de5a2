// Package adaptertest provides scripted scrape, LLM and image adapters that count their calls.
package adaptertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

var ErrScripted = errors.New("scripted adapter failure")

type Scraper struct {
	Content string
	Err     error
	calls   atomic.Int64
}

func (s *Scraper) Scrape(ctx context.Context, url string) (string, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	if s.Content == "" {
		return "# " + url + "\n\nWe make tools for people who build things.", nil
	}
	return s.Content, nil
}

func (s *Scraper) Calls() int { return int(s.calls.Load()) }

// LLM answers by prompt family: brand analysis, topic lists and post captions.
// FailWhen, when set, fails any call whose user prompt it matches.
type LLM struct {
	BusinessName string
	Topics       int
	FailWhen     func(userPrompt string) bool
	Reply        func(systemPrompt, userPrompt string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (l *LLM) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	l.mu.Lock()
	l.calls = append(l.calls, systemPrompt)
	l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.FailWhen != nil && l.FailWhen(userPrompt) {
		return "", ErrScripted
	}
	if l.Reply != nil {
		return l.Reply(systemPrompt, userPrompt)
	}
	switch {
	case strings.Contains(systemPrompt, "brand strategist"):
		name := l.BusinessName
		if name == "" {
			name = "Acme"
		}
		return fmt.Sprintf(`{"business_name":%q,"tagline":"Build better","industry":"Tools","brand_voice":"friendly","core_values":["craft"],"color_palette":{"primary":"#111111"},"ai_confidence_score":"87%%"}`, name), nil
	case strings.Contains(systemPrompt, "content topics"):
		n := l.Topics
		if n == 0 {
			n = 14
		}
		topics := make([]map[string]interface{}, 0, n)
		for i := 0; i < n; i++ {
			topics = append(topics, map[string]interface{}{
				"title":               fmt.Sprintf("Topic %d", i+1),
				"description":         fmt.Sprintf("Description %d", i+1),
				"content_pillar":      "educational",
				"suggested_platforms": []string{"instagram"},
			})
		}
		b, _ := json.Marshal(map[string]interface{}{"topics": topics})
		return string(b), nil
	default:
		return `{"caption":"Fresh caption","hashtags":["acme","#build"],"image_prompt":"a workshop at dawn"}`, nil
	}
}

func (l *LLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

type Images struct {
	FailWhen func(prompt string) bool
	calls    atomic.Int64
}

func (i *Images) Generate(ctx context.Context, prompt string) (string, error) {
	n := i.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if i.FailWhen != nil && i.FailWhen(prompt) {
		return "", ErrScripted
	}
	return fmt.Sprintf("https://images.test/%d.png", n), nil
}

func (i *Images) Calls() int { return int(i.calls.Load()) }
