// internal/writer/builder.go
package writer

import (
	"errors"
	"log/slog"

	cfg "github.com/tamzrod/classic-monitor/internal/config"
	"github.com/tamzrod/classic-monitor/internal/status"
	wmodbus "github.com/tamzrod/classic-monitor/internal/writer/modbus"
)

// BuildTargets collects the controllers that carry a mirror slot.
// Assumes config has already passed validation.
func BuildTargets(m cfg.MonitorConfig) ([]Target, error) {
	var targets []Target
	for _, c := range m.Controllers {
		if c.MirrorSlot == nil {
			continue
		}
		ep, err := c.Endpoint()
		if err != nil {
			return nil, err
		}
		targets = append(targets, Target{Endpoint: ep, Slot: *c.MirrorSlot, Name: c.Name})
	}
	return targets, nil
}

// Build creates the mirror sink and its connection. The returned func closes
// the connection.
func Build(m cfg.MonitorConfig, registry *status.Registry, logger *slog.Logger) (*Mirror, func() error, error) {
	if !m.Mirror.Enabled {
		return nil, nil, errors.New("writer: mirror disabled")
	}
	targets, err := BuildTargets(m)
	if err != nil {
		return nil, nil, err
	}

	c, err := wmodbus.NewEndpointClient(wmodbus.Config{
		Endpoint: m.Mirror.Endpoint,
		Timeout:  m.Mirror.Timeout(),
	})
	if err != nil {
		return nil, nil, err
	}

	return NewMirror(c, m.Mirror.UnitID, registry, targets, logger), c.Close, nil
}
