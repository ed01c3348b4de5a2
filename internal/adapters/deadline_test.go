package adapters

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithDeadline_ReturnsValue(t *testing.T) {
	v, err := WithDeadline(context.Background(), "op", time.Second, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestWithDeadline_TimeoutIsDistinguishable(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	_, err := WithDeadline(context.Background(), "llm", 20*time.Millisecond, func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Op != "llm" {
		t.Fatalf("expected *TimeoutError for llm, got %#v", err)
	}
}

func TestWithDeadline_ContextAwareCallTimesOut(t *testing.T) {
	_, err := WithDeadline(context.Background(), "scrape", 20*time.Millisecond, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWithDeadline_ParentCancelIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithDeadline(ctx, "op", time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("parent cancellation must not look like a timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithDeadline_PlainErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	_, err := WithDeadline(context.Background(), "op", time.Second, func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
