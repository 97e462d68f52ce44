// internal/config/validate.go
package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/tamzrod/classic-monitor/internal/status"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	m := cfg.Monitor

	// ------------------------------------------------------------
	// SCALARS
	// ------------------------------------------------------------

	if m.Poll.IntervalMs < 0 {
		return fmt.Errorf("poll.interval_ms must not be negative")
	}
	if m.Modbus.TimeoutMs < 0 || m.Modbus.Retries < 0 {
		return fmt.Errorf("modbus.timeout_ms and modbus.retries must not be negative")
	}
	if m.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if m.Discovery.Port < 0 || m.Discovery.Port > 65535 {
		return fmt.Errorf("discovery.port %d out of range", m.Discovery.Port)
	}

	switch strings.ToLower(m.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: want debug, info, warn or error", m.Log.Level)
	}
	switch strings.ToLower(m.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", m.Log.Format)
	}

	// ------------------------------------------------------------
	// CONTROLLERS
	// ------------------------------------------------------------

	endpointOwner := make(map[string]string)
	slotOwner := make(map[uint16]string)

	for i, c := range m.Controllers {
		label := c.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}

		// name sanity (ASCII only)
		for j := 0; j < len(c.Name); j++ {
			if c.Name[j] > 0x7F {
				return fmt.Errorf("controller %q: name must contain ASCII characters only", label)
			}
		}

		ep, err := c.Endpoint()
		if err != nil {
			return err
		}

		key := ep.String()
		if prev, exists := endpointOwner[key]; exists {
			return fmt.Errorf("controller endpoint %s used by %q and %q", key, prev, label)
		}
		endpointOwner[key] = label

		// mirror is opt-in
		if c.MirrorSlot == nil {
			continue
		}
		if !m.Mirror.Enabled {
			return fmt.Errorf("controller %q: mirror_slot is set but mirror is disabled", label)
		}
		slot := *c.MirrorSlot
		if slot >= status.MaxDevices {
			return fmt.Errorf("controller %q: mirror_slot %d out of range (max %d)", label, slot, status.MaxDevices-1)
		}
		if prev, exists := slotOwner[slot]; exists {
			return fmt.Errorf("mirror_slot collision: slot=%d used by %q and %q", slot, prev, label)
		}
		slotOwner[slot] = label
	}

	// ------------------------------------------------------------
	// MIRROR
	// ------------------------------------------------------------

	if m.Mirror.Enabled {
		if m.Mirror.Endpoint == "" {
			return fmt.Errorf("mirror: endpoint is required when enabled")
		}
		if _, _, err := net.SplitHostPort(m.Mirror.Endpoint); err != nil {
			return fmt.Errorf("mirror: endpoint %q: %w", m.Mirror.Endpoint, err)
		}
		if m.Mirror.TimeoutMs < 0 {
			return fmt.Errorf("mirror.timeout_ms must not be negative")
		}
	}

	// ------------------------------------------------------------
	// MQTT
	// ------------------------------------------------------------

	if m.MQTT.Enabled {
		if m.MQTT.Broker == "" {
			return fmt.Errorf("mqtt: broker is required when enabled")
		}
		if m.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt: qos %d out of range", m.MQTT.QoS)
		}
	}

	return nil
}
