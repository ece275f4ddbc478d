package ui

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/analysis"
	"finitefield.org/giftlens/internal/giftlens/events"
)

const runnerIdleTTL = time.Hour

// relay forwards runner notifications to whichever request bus is attached.
// Ticks that fire between requests have no audience and are dropped.
type relay struct {
	mu     sync.Mutex
	target *events.Bus
}

func (r *relay) Publish(ctx context.Context, n events.Notification) {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()
	if target != nil {
		target.Publish(ctx, n)
	}
}

func (r *relay) attach(bus *events.Bus) func() {
	r.mu.Lock()
	r.target = bus
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		if r.target == bus {
			r.target = nil
		}
		r.mu.Unlock()
	}
}

type runnerEntry struct {
	runner   *analysis.Runner
	relay    *relay
	lastUsed time.Time
}

// runnerRegistry keeps one analysis runner per session so a run survives between polls.
type runnerRegistry struct {
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*runnerEntry
}

func newRunnerRegistry(interval time.Duration, logger *zap.Logger) *runnerRegistry {
	return &runnerRegistry{
		interval: interval,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]*runnerEntry),
	}
}

// acquire returns the session's runner with its notifications routed to bus until release is called.
func (g *runnerRegistry) acquire(sessionID string, bus *events.Bus) (*analysis.Runner, func()) {
	g.mu.Lock()
	now := g.now()
	g.pruneLocked(now)
	entry, ok := g.entries[sessionID]
	if !ok {
		rl := &relay{}
		opts := []analysis.Option{analysis.WithLogger(g.logger.With(zap.String("session", shortID(sessionID))))}
		if g.interval > 0 {
			opts = append(opts, analysis.WithInterval(g.interval))
		}
		entry = &runnerEntry{runner: analysis.NewRunner(rl, opts...), relay: rl}
		g.entries[sessionID] = entry
	}
	entry.lastUsed = now
	g.mu.Unlock()

	return entry.runner, entry.relay.attach(bus)
}

func (g *runnerRegistry) pruneLocked(now time.Time) {
	for id, entry := range g.entries {
		if now.Sub(entry.lastUsed) > runnerIdleTTL && !entry.runner.Progress().Running {
			delete(g.entries, id)
		}
	}
}

// drop stops and forgets the runner of sessionID.
func (g *runnerRegistry) drop(sessionID string) {
	g.mu.Lock()
	entry, ok := g.entries[sessionID]
	delete(g.entries, sessionID)
	g.mu.Unlock()
	if ok {
		entry.runner.Stop()
	}
}

// Shutdown stops every run in progress.
func (g *runnerRegistry) Shutdown() {
	g.mu.Lock()
	runners := make([]*analysis.Runner, 0, len(g.entries))
	for _, entry := range g.entries {
		runners = append(runners, entry.runner)
	}
	g.entries = make(map[string]*runnerEntry)
	g.mu.Unlock()

	for _, r := range runners {
		r.Stop()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
