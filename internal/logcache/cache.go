// internal/logcache/cache.go
package logcache

import (
	"errors"
	"sync"

	"github.com/tamzrod/classic-monitor/internal/device"
)

// ErrMiss is returned when no entry is stored under a key.
var ErrMiss = errors.New("logcache: miss")

// Cache stores log entries by key. Each key has a single writer (the owning
// poller) but may be read concurrently. Implementations never move an
// entry's date backwards.
type Cache interface {
	Get(key string) (*device.LogEntry, error)
	Put(key string, e *device.LogEntry) error
	Delete(key string) error
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*device.LogEntry
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*device.LogEntry)}
}

func (m *Memory) Get(key string) (*device.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	return e.Clone(), nil
}

func (m *Memory) Put(key string, e *device.LogEntry) error {
	if e == nil {
		return errors.New("logcache: nil entry")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.entries[key]; ok && prev.Date.After(e.Date) {
		return nil
	}
	m.entries[key] = e.Clone()
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
