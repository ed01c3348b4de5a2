package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/testerbesterkali/marketer/internal/logger"
)

// RedisBus carries progress events over Redis pub/sub, so stage invocations in one process
// reach observers attached to another.
type RedisBus struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewRedisBus connects to redisURL (redis://...) and pings it.
func NewRedisBus(log *logger.Logger, redisURL string) (*RedisBus, error) {
	redisURL = strings.TrimSpace(redisURL)
	if redisURL == "" {
		return nil, fmt.Errorf("missing REDIS_URL")
	}
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisBusFromClient(log, rdb), nil
}

func NewRedisBusFromClient(log *logger.Logger, rdb *goredis.Client) *RedisBus {
	return &RedisBus{log: logger.OrNop(log).With("component", "RedisProgressBus"), rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, ev Event) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis progress bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel, raw).Err()
}

type redisSubscription struct {
	ps   *goredis.PubSub
	ch   chan Event
	stop chan struct{}
	once sync.Once
}

func (s *redisSubscription) Events() <-chan Event { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.ps.Close()
	})
	return err
}

// Subscribe returns once Redis has confirmed the subscription, so events published after
// the call returns are not lost to a subscribe race.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if b == nil || b.rdb == nil {
		return nil, fmt.Errorf("redis progress bus not initialized")
	}
	ps := b.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	s := &redisSubscription{ps: ps, ch: make(chan Event, subscriptionBuffer), stop: make(chan struct{})}
	go func() {
		defer close(s.ch)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = s.Close()
				return
			case <-s.stop:
				return
			case m, ok := <-in:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad progress payload", "channel", channel, "error", err)
					continue
				}
				select {
				case s.ch <- ev:
				default:
					b.log.Warn("progress subscriber slow, event dropped", "channel", channel, "step", ev.Step)
				}
			}
		}
	}()
	return s, nil
}

func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
