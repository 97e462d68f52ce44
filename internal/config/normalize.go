// internal/config/normalize.go
package config

import (
	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/discovery"
	"github.com/tamzrod/classic-monitor/internal/modbus"
	"github.com/tamzrod/classic-monitor/internal/status"
	"github.com/tamzrod/classic-monitor/internal/supervisor"
)

const (
	DefaultPollIntervalMs  = 1000
	DefaultMQTTTopicPrefix = "classic"
	DefaultMirrorTimeoutMs = 1000
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Normalize applies defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	m := &cfg.Monitor

	if m.Poll.IntervalMs == 0 {
		m.Poll.IntervalMs = DefaultPollIntervalMs
	}
	if m.Modbus.TimeoutMs == 0 {
		m.Modbus.TimeoutMs = int(modbus.DefaultTimeout.Milliseconds())
	}
	if m.Modbus.Retries == 0 {
		m.Modbus.Retries = modbus.DefaultRetries
	}
	if m.Workers == 0 {
		m.Workers = supervisor.DefaultWorkers
	}
	if m.Discovery.Port == 0 {
		m.Discovery.Port = discovery.DefaultPort
	}
	if m.Log.Level == "" {
		m.Log.Level = DefaultLogLevel
	}
	if m.Log.Format == "" {
		m.Log.Format = DefaultLogFormat
	}
	if m.MQTT.TopicPrefix == "" {
		m.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
	if m.Mirror.UnitID == 0 {
		m.Mirror.UnitID = 1
	}
	if m.Mirror.TimeoutMs == 0 {
		m.Mirror.TimeoutMs = DefaultMirrorTimeoutMs
	}

	for i := range m.Controllers {
		c := &m.Controllers[i]
		if c.UnitID == 0 {
			c.UnitID = device.DefaultUnitID
		}
		// ASCII already validated; the mirror name block holds 16 characters
		if len(c.Name) > status.DeviceNameMaxChars {
			c.Name = c.Name[:status.DeviceNameMaxChars]
		}
	}
}
