package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/testerbesterkali/marketer/internal/logger"
	"github.com/testerbesterkali/marketer/internal/metrics"
)

var ErrOutOfOrder = errors.New("progress step out of order")

// Reporter publishes one run's steps. It enforces vocabulary order and a single terminal
// "completed". Broadcast failures are logged and counted, never returned: the channel is best effort.
type Reporter struct {
	pub     Publisher
	kind    Kind
	channel string
	log     *logger.Logger
	metrics *metrics.Metrics
	next    int
}

func NewReporter(pub Publisher, kind Kind, workspaceID string, log *logger.Logger, m *metrics.Metrics) *Reporter {
	channel := ChannelName(kind, workspaceID)
	return &Reporter{
		pub:     pub,
		kind:    kind,
		channel: channel,
		log:     logger.OrNop(log).With("channel", channel),
		metrics: metrics.OrNoop(m),
	}
}

func (r *Reporter) Channel() string { return r.channel }

// Step publishes step, which must be the next step of the vocabulary.
func (r *Reporter) Step(ctx context.Context, step string) error {
	steps := vocabularies[r.kind]
	if r.next >= len(steps) || steps[r.next] != step {
		return fmt.Errorf("%w: kind=%s got=%q position=%d", ErrOutOfOrder, r.kind, step, r.next)
	}
	r.next++
	if r.pub == nil {
		return nil
	}
	if err := r.pub.Publish(ctx, r.channel, Event{Step: step}); err != nil {
		r.metrics.ProgressFailures.WithLabelValues(string(r.kind)).Inc()
		r.log.Warn("progress_publish_failed", "step", step, "error", err)
	}
	return nil
}

// Complete publishes the terminal step.
func (r *Reporter) Complete(ctx context.Context) error {
	return r.Step(ctx, StepCompleted)
}

// Done reports whether completed has been published.
func (r *Reporter) Done() bool {
	return r.next >= len(vocabularies[r.kind])
}
