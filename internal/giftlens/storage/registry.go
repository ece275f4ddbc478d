package storage

import (
	"sync"
	"time"
)

const (
	// DefaultQuota bounds the bytes one session may keep in its slots.
	DefaultQuota = 64 << 10
	// DefaultIdleTTL matches the default session idle timeout.
	DefaultIdleTTL = 30 * time.Minute
)

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithIdleTTL sets how long an unused session's slots are kept.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithQuota sets the per-session byte quota. Zero disables the limit.
func WithQuota(n int) RegistryOption {
	return func(r *Registry) {
		if n >= 0 {
			r.quota = n
		}
	}
}

// WithClock overrides the clock used for idle expiry.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

type registryEntry struct {
	slots *Memory
	// lock is held by the request that acquired the entry.
	lock     sync.Mutex
	refs     int
	lastUsed time.Time
}

// Registry keeps the slots of every live browsing session on the server, keyed by session id.
// Only the id travels in the cookie. Acquire serialises requests of one session.
type Registry struct {
	ttl   time.Duration
	quota int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry builds an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		ttl:     DefaultIdleTTL,
		quota:   DefaultQuota,
		now:     time.Now,
		entries: make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the slots of sessionID and holds them exclusively until release is called.
// Other callers for the same session block in Acquire meanwhile.
func (r *Registry) Acquire(sessionID string) (*Memory, func()) {
	r.mu.Lock()
	now := r.now()
	r.pruneLocked(now)
	entry, ok := r.entries[sessionID]
	if !ok {
		slots := NewMemory()
		slots.Quota = r.quota
		entry = &registryEntry{slots: slots}
		r.entries[sessionID] = entry
	}
	entry.refs++
	entry.lastUsed = now
	r.mu.Unlock()

	entry.lock.Lock()

	var once sync.Once
	return entry.slots, func() {
		once.Do(func() {
			entry.lock.Unlock()
			r.mu.Lock()
			entry.refs--
			entry.lastUsed = r.now()
			r.mu.Unlock()
		})
	}
}

// Drop forgets sessionID. Holders of its slots keep their copy until release.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
}

// Len reports the number of sessions with slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) pruneLocked(now time.Time) {
	for id, entry := range r.entries {
		if entry.refs == 0 && now.Sub(entry.lastUsed) > r.ttl {
			delete(r.entries, id)
		}
	}
}
