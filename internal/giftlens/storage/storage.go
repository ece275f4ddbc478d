// Package storage provides the session-scoped key/value slots that back the wishlist record.
package storage

import (
	"errors"
	"sync"
)

// ErrQuotaExceeded indicates the backing store refused a write because it would exceed its capacity.
var ErrQuotaExceeded = errors.New("storage: quota exceeded")

// Slots is a string key/value store whose lifetime is bounded by one browsing session.
type Slots interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Clear() error
}

// Memory is an in-process Slots implementation. The Registry hands one out per session.
type Memory struct {
	mu     sync.Mutex
	values map[string]string
	// Quota bounds the total byte length of all stored values. Zero means unlimited.
	Quota int
}

// NewMemory constructs an empty memory-backed slot store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get implements Slots.
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok, nil
}

// Set implements Slots.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if m.Quota > 0 {
		used := len(value)
		for k, v := range m.values {
			if k != key {
				used += len(v)
			}
		}
		if used > m.Quota {
			return ErrQuotaExceeded
		}
	}
	m.values[key] = value
	return nil
}

// Remove implements Slots.
func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Clear implements Slots.
func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
