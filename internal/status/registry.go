// internal/status/registry.go
package status

import (
	"errors"
	"sync"
	"time"

	"github.com/tamzrod/classic-monitor/internal/device"
)

// Registry is the shared reachability table. Pollers write their own entry;
// anyone may read.
type Registry struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries map[device.Endpoint]Snapshot
}

// NewRegistry returns an empty registry using the wall clock.
func NewRegistry() *Registry {
	return &Registry{now: time.Now, entries: make(map[device.Endpoint]Snapshot)}
}

// WithClock replaces the registry clock; used by tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// MarkReachable records a completed cycle. It reports whether the health changed.
func (r *Registry) MarkReachable(ep device.Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.entries[ep]
	if ok && prev.Health == HealthOK {
		return false
	}
	r.entries[ep] = Snapshot{Health: HealthOK, Since: r.now()}
	return true
}

// MarkUnreachable records a failed cycle. It reports whether the health changed.
func (r *Registry) MarkUnreachable(ep device.Endpoint, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.entries[ep]
	next := Snapshot{
		Health:        HealthError,
		LastErrorCode: ErrorCode(err),
		Since:         r.now(),
	}
	if err != nil {
		next.LastError = err.Error()
	}
	if ok && prev.Health == HealthError {
		next.Since = prev.Since
		r.entries[ep] = next
		return false
	}
	r.entries[ep] = next
	return true
}

// Disable marks a controller that is no longer polled.
func (r *Registry) Disable(ep device.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[ep] = Snapshot{Health: HealthDisabled, Since: r.now()}
}

// Get returns the snapshot of ep with SecondsInError computed now.
func (r *Registry) Get(ep device.Endpoint) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[ep]
	if !ok {
		return Snapshot{Health: HealthUnknown}, false
	}
	return r.withSeconds(s), true
}

func (r *Registry) withSeconds(s Snapshot) Snapshot {
	if s.Health != HealthError {
		return s
	}
	secs := r.now().Sub(s.Since) / time.Second
	// seconds_in_error must not wrap
	if secs > 65535 {
		secs = 65535
	}
	if secs < 0 {
		secs = 0
	}
	s.SecondsInError = uint16(secs)
	return s
}

// ErrorCode extracts a best-effort uint16 code from an error without assuming concrete types.
// If the error does not expose a code, returns 1 (generic error).
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	type coderA interface{ Code() uint16 }
	type coderB interface{ ErrorCode() uint16 }
	type coderC interface{ ExceptionCode() uint16 }

	var a coderA
	if errors.As(err, &a) {
		return a.Code()
	}
	var b coderB
	if errors.As(err, &b) {
		return b.ErrorCode()
	}
	var c coderC
	if errors.As(err, &c) {
		return c.ExceptionCode()
	}

	return 1
}
