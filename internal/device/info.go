// internal/device/info.go
package device

import (
	"net"
	"time"
)

// DeviceType is the controller family, discovered once per connection.
type DeviceType int

const (
	Unknown DeviceType = iota
	Classic
	TriStar
)

func (t DeviceType) String() string {
	switch t {
	case Classic:
		return "Classic"
	case TriStar:
		return "TriStar"
	default:
		return "Unknown"
	}
}

func (t DeviceType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// TriStarUnitName is reported for TriStar units, which carry no name register.
const TriStarUnitName = "TriStar"

// ControllerInfo describes a classified controller.
// It is filled in while classifying and read-only afterwards.
type ControllerInfo struct {
	Endpoint            Endpoint         `json:"endpoint"`
	Type                DeviceType       `json:"type"`
	UnitName            string           `json:"unit_name"`
	Model               string           `json:"model,omitempty"`
	BuildDate           time.Time        `json:"build_date,omitempty"`
	MACAddress          net.HardwareAddr `json:"mac_address,omitempty"`
	AppVersion          string           `json:"app_version,omitempty"`
	NetVersion          string           `json:"net_version,omitempty"`
	SerialNumber        uint32           `json:"serial_number,omitempty"`
	NominalBatteryVolts float64          `json:"nominal_battery_volts,omitempty"`
	LastVOC             float64          `json:"last_voc,omitempty"`
	HasWhizBangJr       bool             `json:"has_whizbangjr"`
}

// ForTriStar resets every Classic-only field.
func (ci *ControllerInfo) ForTriStar() {
	*ci = ControllerInfo{
		Endpoint: ci.Endpoint,
		Type:     TriStar,
		UnitName: TriStarUnitName,
	}
}

// ---- charge states ----

var classicChargeStates = map[int]string{
	0:  "Resting",
	3:  "Absorb",
	4:  "BulkMPPT",
	5:  "Float",
	6:  "FloatMPPT",
	7:  "Equalize",
	10: "HyperVOC",
	18: "EqMPPT",
}

var tristarChargeStates = []string{
	"Start", "NightCheck", "Disconnect", "Night", "Fault",
	"MPPT", "Absorption", "Float", "Equalize", "Slave",
}

// ChargeStateName describes a raw charge state for the given family.
func ChargeStateName(t DeviceType, state int) string {
	switch t {
	case Classic:
		if s, ok := classicChargeStates[state]; ok {
			return s
		}
	case TriStar:
		if state >= 0 && state < len(tristarChargeStates) {
			return tristarChargeStates[state]
		}
	}
	if state < 0 {
		return "Off"
	}
	return "Unknown"
}
