// internal/config/config.go
package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/tamzrod/classic-monitor/internal/device"
)

type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
}

type MonitorConfig struct {
	Poll        PollConfig         `yaml:"poll"`
	Modbus      ModbusConfig       `yaml:"modbus"`
	Workers     int                `yaml:"workers"`
	Controllers []ControllerConfig `yaml:"controllers"`
	Discovery   DiscoveryConfig    `yaml:"discovery"`
	Cache       CacheConfig        `yaml:"cache"`
	Log         LogConfig          `yaml:"log"`
	HTTP        HTTPConfig         `yaml:"http"`
	MQTT        MQTTConfig         `yaml:"mqtt"`
	Mirror      MirrorConfig       `yaml:"mirror"`
}

// ---- POLL ----

type PollConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

// ---- MODBUS ----

type ModbusConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
	Retries   int `yaml:"retries"`
}

// ---- CONTROLLER ----

type ControllerConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    uint16 `yaml:"port"`
	UnitID  uint8  `yaml:"unit_id"`

	// Mirror status/readings block (optional, opt-in)
	MirrorSlot *uint16 `yaml:"mirror_slot"`
}

// Endpoint parses the controller address.
func (c ControllerConfig) Endpoint() (device.Endpoint, error) {
	addr, err := netip.ParseAddr(c.Address)
	if err != nil {
		return device.Endpoint{}, fmt.Errorf("controller %q: address: %w", c.Name, err)
	}
	ep := device.Endpoint{Addr: addr, Port: c.Port, UnitID: c.UnitID}
	if ep.UnitID == 0 {
		ep.UnitID = device.DefaultUnitID
	}
	if err := ep.Validate(); err != nil {
		return device.Endpoint{}, fmt.Errorf("controller %q: %w", c.Name, err)
	}
	return ep, nil
}

// ---- DISCOVERY ----

type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
	AutoAdd bool `yaml:"auto_add"`
}

// ---- CACHE ----

type CacheConfig struct {
	// Path of the bbolt file; empty keeps logs in memory.
	Path string `yaml:"path"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---- HTTP ----

type HTTPConfig struct {
	// Listen address; empty disables the HTTP surface.
	Listen string `yaml:"listen"`
}

// ---- MQTT ----

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         byte   `yaml:"qos"`
}

// ---- MIRROR ----

type MirrorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- DURATIONS ----

func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.Poll.IntervalMs) * time.Millisecond
}

func (m MonitorConfig) ModbusTimeout() time.Duration {
	return time.Duration(m.Modbus.TimeoutMs) * time.Millisecond
}

func (m MirrorConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}
