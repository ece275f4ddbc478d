// Package analysis drives the mock gift analysis progress sequence.
package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/events"
)

// DefaultInterval is the delay between progress steps.
const DefaultInterval = 1500 * time.Millisecond

// ErrRunning is returned when Start is called while a run is in progress.
var ErrRunning = errors.New("analysis: already running")

// Step is one progress stage.
type Step struct {
	Percent int
	Text    string
}

// DefaultSteps is the fixed analysis sequence.
func DefaultSteps() []Step {
	return []Step{
		{Percent: 20, Text: "Analyzing recipient profile..."},
		{Percent: 40, Text: "Searching across retailers..."},
		{Percent: 60, Text: "Filtering by preferences..."},
		{Percent: 80, Text: "Ranking gift matches..."},
		{Percent: 100, Text: "Finalizing recommendations..."},
	}
}

// Config carries the caller's analysis parameters. They are echoed on the start notification.
type Config struct {
	Params map[string]string
}

// Progress is the latest observable state of a run.
type Progress struct {
	Running bool
	Done    bool
	Percent int
	Step    string
}

// Publisher is the part of the event bus the runner needs.
type Publisher interface {
	Publish(ctx context.Context, n events.Notification)
}

// Runner publishes one progress notification per tick. It never touches wishlist state.
type Runner struct {
	publisher Publisher
	logger    *zap.Logger
	interval  time.Duration
	steps     []Step

	mu       sync.Mutex
	progress Progress
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option customises a Runner.
type Option func(*Runner)

// WithInterval overrides the tick interval.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithSteps overrides the step sequence.
func WithSteps(steps []Step) Option {
	return func(r *Runner) {
		if len(steps) > 0 {
			r.steps = append([]Step(nil), steps...)
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner builds an idle runner. publisher may be nil.
func NewRunner(publisher Publisher, opts ...Option) *Runner {
	r := &Runner{
		publisher: publisher,
		logger:    zap.NewNop(),
		interval:  DefaultInterval,
		steps:     DefaultSteps(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start publishes AnalysisStarted and schedules the steps. The run outlives ctx's
// cancellation but keeps its values; use Stop to end it early.
func (r *Runner) Start(ctx context.Context, cfg Config) error {
	r.mu.Lock()
	if r.progress.Running {
		r.mu.Unlock()
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.progress = Progress{Running: true}
	r.mu.Unlock()

	r.publish(ctx, events.AnalysisStarted{Config: copyParams(cfg.Params)})
	r.logger.Info("analysis started", zap.Int("steps", len(r.steps)), zap.Duration("interval", r.interval))

	go r.run(runCtx, done)
	return nil
}

func (r *Runner) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.progress.Running = false
			r.mu.Unlock()
			r.logger.Info("analysis stopped", zap.Int("completed_steps", next))
			return
		case <-ticker.C:
		}

		if next >= len(r.steps) {
			r.mu.Lock()
			r.progress.Running = false
			r.progress.Done = true
			r.mu.Unlock()
			r.publish(ctx, events.AnalysisCompleted{})
			r.logger.Info("analysis completed")
			return
		}

		step := r.steps[next]
		next++
		r.mu.Lock()
		r.progress.Percent = step.Percent
		r.progress.Step = step.Text
		r.mu.Unlock()
		r.publish(ctx, events.AnalysisProgress{Percent: step.Percent, Step: step.Text})
	}
}

// Stop cancels a run in progress and waits for its goroutine to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current run finishes or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns the latest state.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

func (r *Runner) publish(ctx context.Context, n events.Notification) {
	if r.publisher != nil {
		r.publisher.Publish(ctx, n)
	}
}

func copyParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
