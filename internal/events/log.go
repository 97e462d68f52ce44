// internal/events/log.go
package events

import (
	"log/slog"

	"github.com/tamzrod/classic-monitor/internal/device"
)

// LogSink writes the user-facing events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) OnReadings(ep device.Endpoint, r *device.Readings) {
	s.logger.Debug("readings",
		"controller", ep,
		"battery_v", r.Float(device.BatVoltage),
		"pv_v", r.Float(device.PVVoltage),
		"power_w", r.Float(device.Power),
	)
}

func (s *LogSink) OnLogs(ep device.Endpoint, kind device.LogKind, e *device.LogEntry) {
	n := 0
	if cats := kind.Categories(); len(cats) > 0 {
		n = len(e.Get(cats[0]))
	}
	s.logger.Info("logs refreshed", "controller", ep, "log", kind, "samples", n, "date", e.Date)
}

func (s *LogSink) OnToast(key string) {
	s.logger.Info("toast", "key", key)
}

func (s *LogSink) OnControllerFound(ep device.Endpoint, name string) {
	s.logger.Info("controller found", "controller", ep, "name", name)
}

func (s *LogSink) OnReachable(ep device.Endpoint, ok bool) {
	if ok {
		s.logger.Info("controller reachable", "controller", ep)
		return
	}
	s.logger.Warn("controller unreachable", "controller", ep)
}
