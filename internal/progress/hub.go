package progress

import (
	"context"
	"strings"
	"sync"
)

const subscriptionBuffer = 16

// Hub is an in-process Bus. Slow subscribers drop events rather than block publishers.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*hubSubscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSubscription]struct{})}
}

type hubSubscription struct {
	hub     *Hub
	channel string
	ch      chan Event
	once    sync.Once
}

func (s *hubSubscription) Events() <-chan Event { return s.ch }

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.ch)
	})
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	s := &hubSubscription{hub: h, channel: channel, ch: make(chan Event, subscriptionBuffer)}
	h.mu.Lock()
	m := h.subs[channel]
	if m == nil {
		m = make(map[*hubSubscription]struct{})
		h.subs[channel] = m
	}
	m[s] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s, nil
}

func (h *Hub) remove(s *hubSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.subs[s.channel]
	if m == nil {
		return
	}
	delete(m, s)
	if len(m) == 0 {
		delete(h.subs, s.channel)
	}
}

func (h *Hub) Publish(_ context.Context, channel string, ev Event) error {
	if strings.TrimSpace(channel) == "" {
		return nil
	}
	// Send under the lock so Close cannot close a channel mid-send.
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[channel] {
		select {
		case s.ch <- ev:
		default:
		}
	}
	return nil
}

// Count returns the number of live subscriptions on channel.
func (h *Hub) Count(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[channel])
}

func (h *Hub) Close() error {
	h.mu.Lock()
	subs := make([]*hubSubscription, 0)
	for _, m := range h.subs {
		for s := range m {
			subs = append(subs, s)
		}
	}
	h.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}
