// internal/events/sink.go
package events

import (
	"github.com/tamzrod/classic-monitor/internal/device"
)

// Toast message keys.
const (
	ToastDayLogsUpdated    = "day_logs_updated"
	ToastMinuteLogsUpdated = "minute_logs_updated"
	ToastLogReadFailed     = "log_read_failed"
)

// Sink receives everything the monitor produces. Implementations must not
// block the caller for long; wrap slow sinks in a Dispatcher.
type Sink interface {
	OnReadings(ep device.Endpoint, r *device.Readings)
	OnLogs(ep device.Endpoint, kind device.LogKind, e *device.LogEntry)
	OnToast(key string)
	OnControllerFound(ep device.Endpoint, name string)
	OnReachable(ep device.Endpoint, ok bool)
}

// Type names an event.
type Type string

const (
	TypeReadings        Type = "readings"
	TypeLogs            Type = "logs"
	TypeToast           Type = "toast"
	TypeControllerFound Type = "controller_found"
	TypeReachable       Type = "reachable"
)

// Event is one Sink call captured as a value.
type Event struct {
	Type      Type
	Endpoint  device.Endpoint
	Readings  *device.Readings
	Log       device.LogKind
	Entry     *device.LogEntry
	Key       string
	Name      string
	Reachable bool
}

// Deliver replays the event onto s.
func (ev Event) Deliver(s Sink) {
	switch ev.Type {
	case TypeReadings:
		s.OnReadings(ev.Endpoint, ev.Readings)
	case TypeLogs:
		s.OnLogs(ev.Endpoint, ev.Log, ev.Entry)
	case TypeToast:
		s.OnToast(ev.Key)
	case TypeControllerFound:
		s.OnControllerFound(ev.Endpoint, ev.Name)
	case TypeReachable:
		s.OnReachable(ev.Endpoint, ev.Reachable)
	}
}

// Multi fans every call out to each sink in order.
type Multi []Sink

func (m Multi) OnReadings(ep device.Endpoint, r *device.Readings) {
	for _, s := range m {
		s.OnReadings(ep, r)
	}
}

func (m Multi) OnLogs(ep device.Endpoint, kind device.LogKind, e *device.LogEntry) {
	for _, s := range m {
		s.OnLogs(ep, kind, e)
	}
}

func (m Multi) OnToast(key string) {
	for _, s := range m {
		s.OnToast(key)
	}
}

func (m Multi) OnControllerFound(ep device.Endpoint, name string) {
	for _, s := range m {
		s.OnControllerFound(ep, name)
	}
}

func (m Multi) OnReachable(ep device.Endpoint, ok bool) {
	for _, s := range m {
		s.OnReachable(ep, ok)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) OnReadings(device.Endpoint, *device.Readings) {}
func (Discard) OnLogs(device.Endpoint, device.LogKind, *device.LogEntry) {}
func (Discard) OnToast(string) {}
func (Discard) OnControllerFound(device.Endpoint, string) {}
func (Discard) OnReachable(device.Endpoint, bool) {}
