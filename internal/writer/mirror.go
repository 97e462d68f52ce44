// internal/writer/mirror.go
//
// Package writer mirrors controller state into a downstream Modbus/TCP memory
// server. Each configured controller owns a status block at
// slot*SlotsPerDevice and a readings block at ReadingsBase +
// slot*ReadingsSlotsPerDevice, all on one unit id.
package writer

import (
	"log/slog"
	"sync"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/status"
)

// Target maps one controller to a mirror slot.
type Target struct {
	Endpoint device.Endpoint
	Slot     uint16
	// Name is written into the status block. Empty falls back to the
	// controller's unit name once it is classified.
	Name string
}

// InfoFunc returns what is known about a controller.
type InfoFunc func(device.Endpoint) (device.ControllerInfo, bool)

type mirrorDevice struct {
	target Target
	status *statusWriter
}

// Mirror is an events.Sink writing readings and status of mapped controllers.
// Controllers without a slot are ignored.
type Mirror struct {
	cli      endpointClient
	unitID   uint8
	registry *status.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	info    InfoFunc
	devices map[device.Endpoint]*mirrorDevice
}

// NewMirror builds the sink. Status snapshots are read from registry.
func NewMirror(cli endpointClient, unitID uint8, registry *status.Registry, targets []Target, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{
		cli:      cli,
		unitID:   unitID,
		registry: registry,
		logger:   logger.With("component", "mirror"),
		devices:  make(map[device.Endpoint]*mirrorDevice, len(targets)),
	}
	for _, t := range targets {
		m.devices[t.Endpoint] = &mirrorDevice{
			target: t,
			status: newStatusWriter(cli, unitID, t.Slot, t.Name),
		}
	}
	return m
}

// SetInfoSource sets where device type and unit name come from.
func (m *Mirror) SetInfoSource(fn InfoFunc) {
	m.mu.Lock()
	m.info = fn
	m.mu.Unlock()
}

func (m *Mirror) OnReadings(ep device.Endpoint, r *device.Readings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[ep]
	if !ok {
		return
	}
	if err := m.cli.WriteRegisters(m.unitID, readingsAddr(d.target.Slot), encodeReadings(r)); err != nil {
		m.logger.Warn("readings write failed", "controller", ep, "slot", d.target.Slot, "err", err)
	}
	m.writeStatus(ep, d)
}

func (m *Mirror) OnReachable(ep device.Endpoint, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[ep]; ok {
		m.writeStatus(ep, d)
	}
}

func (m *Mirror) OnLogs(device.Endpoint, device.LogKind, *device.LogEntry) {}

func (m *Mirror) OnToast(string) {}

func (m *Mirror) OnControllerFound(device.Endpoint, string) {}

// writeStatus must be called with m.mu held.
func (m *Mirror) writeStatus(ep device.Endpoint, d *mirrorDevice) {
	snap, _ := m.registry.Get(ep)

	var deviceType uint16
	name := d.target.Name
	if m.info != nil {
		if info, ok := m.info(ep); ok {
			deviceType = uint16(info.Type)
			if name == "" {
				name = info.UnitName
			}
		}
	}
	d.status.setName(name)

	if err := d.status.WriteStatus(snap, deviceType); err != nil {
		m.logger.Warn("status write failed", "controller", ep, "slot", d.target.Slot, "err", err)
	}
}
