// internal/events/recorder.go
package events

import (
	"sync"
	"time"

	"github.com/tamzrod/classic-monitor/internal/device"
)

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t Type) int { return len(r.OfType(t)) }

// WaitFor polls until at least n events of type t were recorded or the
// timeout expires.
func (r *Recorder) WaitFor(t Type, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.Count(t) >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *Recorder) OnReadings(ep device.Endpoint, rd *device.Readings) {
	r.add(Event{Type: TypeReadings, Endpoint: ep, Readings: rd})
}

func (r *Recorder) OnLogs(ep device.Endpoint, kind device.LogKind, e *device.LogEntry) {
	r.add(Event{Type: TypeLogs, Endpoint: ep, Log: kind, Entry: e})
}

func (r *Recorder) OnToast(key string) {
	r.add(Event{Type: TypeToast, Key: key})
}

func (r *Recorder) OnControllerFound(ep device.Endpoint, name string) {
	r.add(Event{Type: TypeControllerFound, Endpoint: ep, Name: name})
}

func (r *Recorder) OnReachable(ep device.Endpoint, ok bool) {
	r.add(Event{Type: TypeReachable, Endpoint: ep, Reachable: ok})
}
