// Package progress is the ephemeral step-event channel between stage functions and observers.
// Delivery is at most once with no backlog: a subscriber only sees events published while it is attached.
package progress

import (
	"context"
	"fmt"
	"strings"
)

type Kind string

const (
	KindAnalysis Kind = "analysis"
	KindTopics   Kind = "topics"
)

// StepCompleted terminates every vocabulary.
const StepCompleted = "completed"

// StepPostUpdated is sent on the posts channel when a post changes status outside the client.
const StepPostUpdated = "post.updated"

var vocabularies = map[Kind][]string{
	KindAnalysis: {"scraping", "analyzing", "competitors", "finishing", StepCompleted},
	KindTopics:   {"strategy", "topics", "scheduling", "finishing", StepCompleted},
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := vocabularies[k]; !ok {
		return "", fmt.Errorf("unknown progress kind %q", s)
	}
	return k, nil
}

// Steps returns a copy of the ordered vocabulary for k.
func (k Kind) Steps() []string {
	return append([]string(nil), vocabularies[k]...)
}

// Index returns the ordinal of step in k's vocabulary, or -1.
func (k Kind) Index(step string) int {
	for i, s := range vocabularies[k] {
		if s == step {
			return i
		}
	}
	return -1
}

// ChannelName is the per-workspace channel for one pipeline kind; kinds never share a channel.
func ChannelName(k Kind, workspaceID string) string {
	switch k {
	case KindTopics:
		return "workspace_topics:" + workspaceID
	default:
		return "workspace:" + workspaceID
	}
}

// PostsChannel carries post.updated notices for a workspace.
func PostsChannel(workspaceID string) string {
	return "workspace_posts:" + workspaceID
}

type Event struct {
	Step   string `json:"step"`
	PostID string `json:"post_id,omitempty"`
	Status string `json:"status,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, channel string, ev Event) error
}

type Subscription interface {
	Events() <-chan Event
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

type Bus interface {
	Publisher
	Subscriber
	Close() error
}
