// Package guard is the observer side of a stage run: it skips stages whose result is already
// stored, triggers the rest, follows the progress channel and falls back to a local timer
// when events do not arrive.
package guard

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/testerbesterkali/marketer/internal/adapters"
	"github.com/testerbesterkali/marketer/internal/logger"
	"github.com/testerbesterkali/marketer/internal/progress"
)

type Artifacts interface {
	ArtifactExists(ctx context.Context, kind progress.Kind, workspaceID string) (bool, error)
}

type Trigger interface {
	Trigger(ctx context.Context, kind progress.Kind, workspaceID string) error
}

type Subscriber interface {
	SubscribeProgress(ctx context.Context, kind progress.Kind, workspaceID string) (progress.Subscription, error)
}

// BusSubscriber adapts an in-process progress bus.
type BusSubscriber struct {
	Bus progress.Subscriber
}

func (b BusSubscriber) SubscribeProgress(ctx context.Context, kind progress.Kind, workspaceID string) (progress.Subscription, error) {
	return b.Bus.Subscribe(ctx, progress.ChannelName(kind, workspaceID))
}

// Stage describes how one pipeline kind is observed.
type Stage struct {
	Kind         progress.Kind
	TickInterval time.Duration
	// NextPath is where the observer goes once the stage is done.
	NextPath func(workspaceID string) string
}

func AnalysisStage() Stage {
	return Stage{
		Kind:         progress.KindAnalysis,
		TickInterval: 8 * time.Second,
		NextPath: func(workspaceID string) string {
			return "/onboarding/review?id=" + url.QueryEscape(workspaceID)
		},
	}
}

func TopicsStage() Stage {
	return Stage{
		Kind:         progress.KindTopics,
		TickInterval: 6 * time.Second,
		NextPath:     func(string) string { return "/dashboard" },
	}
}

func StageFor(kind progress.Kind) (Stage, error) {
	switch kind {
	case progress.KindAnalysis:
		return AnalysisStage(), nil
	case progress.KindTopics:
		return TopicsStage(), nil
	}
	return Stage{}, fmt.Errorf("unknown progress kind %q", kind)
}

// Update is one cursor move, from a real event or from the timer.
type Update struct {
	Step      string
	Index     int
	Simulated bool
}

type Outcome struct {
	// Skipped means the artifact already existed and nothing was triggered.
	Skipped   bool
	Completed bool
	NextPath  string
	LastStep  string
}

type Options struct {
	Artifacts  Artifacts
	Trigger    Trigger
	Subscriber Subscriber
	Log        *logger.Logger
	// CheckTimeout bounds the artifact check. Default 15s.
	CheckTimeout time.Duration
	// TriggerTimeout bounds the detached stage call. Default 5m.
	TriggerTimeout time.Duration
	OnUpdate       func(Update)
}

type Guard struct {
	artifacts      Artifacts
	trigger        Trigger
	subscriber     Subscriber
	log            *logger.Logger
	checkTimeout   time.Duration
	triggerTimeout time.Duration
	onUpdate       func(Update)
}

func New(opts Options) *Guard {
	g := &Guard{
		artifacts:      opts.Artifacts,
		trigger:        opts.Trigger,
		subscriber:     opts.Subscriber,
		log:            logger.OrNop(opts.Log).With("component", "ResumabilityGuard"),
		checkTimeout:   opts.CheckTimeout,
		triggerTimeout: opts.TriggerTimeout,
		onUpdate:       opts.OnUpdate,
	}
	if g.checkTimeout <= 0 {
		g.checkTimeout = 15 * time.Second
	}
	if g.triggerTimeout <= 0 {
		g.triggerTimeout = 5 * time.Minute
	}
	if g.onUpdate == nil {
		g.onUpdate = func(Update) {}
	}
	return g
}

// Run observes one stage for a workspace until it completes, the trigger fails or ctx ends.
// Cancelling ctx stops the timer and the subscription; the stage itself keeps running.
func (g *Guard) Run(ctx context.Context, stage Stage, workspaceID string) (Outcome, error) {
	log := g.log.With("workspace_id", workspaceID, "kind", string(stage.Kind))
	next := stage.NextPath(workspaceID)

	exists, err := adapters.WithDeadline(ctx, "artifact check", g.checkTimeout, func(ctx context.Context) (bool, error) {
		return g.artifacts.ArtifactExists(ctx, stage.Kind, workspaceID)
	})
	switch {
	case err == nil && exists:
		log.Info("stage_skipped", "next", next)
		return Outcome{Skipped: true, Completed: true, NextPath: next, LastStep: progress.StepCompleted}, nil
	case ctx.Err() != nil:
		return Outcome{}, ctx.Err()
	case err != nil:
		// Proceed as if absent; a duplicate run is safe.
		log.Warn("artifact_check_failed", "error", err)
	}

	var events <-chan progress.Event
	sub, err := g.subscriber.SubscribeProgress(ctx, stage.Kind, workspaceID)
	if err != nil {
		log.Warn("subscribe_failed", "error", err)
	} else {
		defer sub.Close()
		events = sub.Events()
	}

	triggerErr := make(chan error, 1)
	go func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.triggerTimeout)
		defer cancel()
		triggerErr <- g.trigger.Trigger(tctx, stage.Kind, workspaceID)
	}()
	log.Info("stage_triggered")

	cursor := NewCursor(stage.Kind)
	g.onUpdate(Update{Step: cursor.Step(), Index: cursor.Index(), Simulated: true})
	interval := stage.TickInterval
	if interval <= 0 {
		interval = 6 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Outcome{LastStep: cursor.Step()}, ctx.Err()
		case err := <-triggerErr:
			triggerErr = nil
			if err != nil {
				log.Warn("stage_failed", "error", err)
				return Outcome{LastStep: cursor.Step()}, fmt.Errorf("%s stage failed: %w", stage.Kind, err)
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				log.Warn("progress_channel_closed", "step", cursor.Step())
				continue
			}
			moved, done := cursor.Observe(ev.Step)
			if moved {
				g.onUpdate(Update{Step: cursor.Step(), Index: cursor.Index()})
			}
			if done {
				log.Info("stage_completed", "next", next)
				return Outcome{Completed: true, NextPath: next, LastStep: progress.StepCompleted}, nil
			}
		case <-ticker.C:
			if cursor.Tick() {
				g.onUpdate(Update{Step: cursor.Step(), Index: cursor.Index(), Simulated: true})
			}
		}
	}
}
