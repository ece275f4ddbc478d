package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Envelope wraps a delivered notification with its delivery metadata.
type Envelope struct {
	ID           string
	Kind         Kind
	At           time.Time
	Notification Notification
}

// Handler consumes a delivered notification.
type Handler func(ctx context.Context, env Envelope)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process, synchronous notification registry.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]subscription
	all      []subscription
	nextID   uint64
	logger   *zap.Logger
	now      func() time.Time
}

// Option customises the bus.
type Option func(*Bus)

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBus creates an empty bus. A nil logger disables logging.
func NewBus(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		handlers: make(map[Kind][]subscription),
		logger:   logger.Named("events"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for kind and returns a function that removes it.
func (b *Bus) Subscribe(kind Kind, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[kind] = append(b.handlers[kind], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.handlers[kind] = without(b.handlers[kind], id)
			if len(b.handlers[kind]) == 0 {
				delete(b.handlers, kind)
			}
		})
	}
}

// SubscribeAll registers handler for every kind.
func (b *Bus) SubscribeAll(handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.all = without(b.all, id)
		})
	}
}

// Publish delivers n to every matching handler in registration order before returning.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, n Notification) {
	if n == nil {
		return
	}
	env := Envelope{
		ID:           ulid.Make().String(),
		Kind:         n.Kind(),
		At:           b.now().UTC(),
		Notification: n,
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[env.Kind])+len(b.all))
	for _, sub := range b.handlers[env.Kind] {
		targets = append(targets, sub.handler)
	}
	for _, sub := range b.all {
		targets = append(targets, sub.handler)
	}
	b.mu.RUnlock()

	for _, handler := range targets {
		b.deliver(ctx, handler, env)
	}
}

// HandlerCount returns the number of handlers registered for kind, excluding SubscribeAll handlers.
func (b *Bus) HandlerCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

func (b *Bus) deliver(ctx context.Context, handler Handler, env Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(env.Kind)),
				zap.String("event_id", env.ID),
				zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	handler(ctx, env)
}

func without(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, sub := range subs {
		if sub.id != id {
			out = append(out, sub)
		}
	}
	return out
}

// Recorder collects every envelope published on a bus.
type Recorder struct {
	mu        sync.Mutex
	envelopes []Envelope
	stop      func()
}

// Record subscribes a new recorder to all kinds on bus.
func Record(bus *Bus) *Recorder {
	r := &Recorder{}
	r.stop = bus.SubscribeAll(func(_ context.Context, env Envelope) {
		r.mu.Lock()
		r.envelopes = append(r.envelopes, env)
		r.mu.Unlock()
	})
	return r
}

// Envelopes returns a copy of the recorded envelopes.
func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}

// Kinds returns the recorded kinds in delivery order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.envelopes))
	for i, env := range r.envelopes {
		out[i] = env.Kind
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.envelopes = nil
	r.mu.Unlock()
}

// Stop unsubscribes the recorder.
func (r *Recorder) Stop() {
	if r.stop != nil {
		r.stop()
	}
}
