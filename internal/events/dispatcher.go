// internal/events/dispatcher.go
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tamzrod/classic-monitor/internal/device"
)

// DefaultQueueSize bounds the Dispatcher queue.
const DefaultQueueSize = 1024

// Dispatcher decouples producers from a slow downstream Sink. Calls enqueue
// and return immediately; one goroutine delivers in arrival order. When the
// queue is full the event is dropped and counted.
type Dispatcher struct {
	next   Sink
	queue  chan Event
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped atomic.Uint64
}

// NewDispatcher starts delivering to next.
func NewDispatcher(next Sink, size int, logger *slog.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		next:   next,
		queue:  make(chan Event, size),
		logger: logger.With("component", "events"),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event sink panicked", "type", ev.Type, "panic", r)
		}
	}()
	ev.Deliver(d.next)
}

func (d *Dispatcher) enqueue(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("event queue full, dropping event", "type", ev.Type, "dropped", n)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Close stops accepting events and waits until the queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) OnReadings(ep device.Endpoint, r *device.Readings) {
	d.enqueue(Event{Type: TypeReadings, Endpoint: ep, Readings: r})
}

func (d *Dispatcher) OnLogs(ep device.Endpoint, kind device.LogKind, e *device.LogEntry) {
	d.enqueue(Event{Type: TypeLogs, Endpoint: ep, Log: kind, Entry: e})
}

func (d *Dispatcher) OnToast(key string) {
	d.enqueue(Event{Type: TypeToast, Key: key})
}

func (d *Dispatcher) OnControllerFound(ep device.Endpoint, name string) {
	d.enqueue(Event{Type: TypeControllerFound, Endpoint: ep, Name: name})
}

func (d *Dispatcher) OnReachable(ep device.Endpoint, ok bool) {
	d.enqueue(Event{Type: TypeReachable, Endpoint: ep, Reachable: ok})
}
