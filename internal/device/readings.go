// internal/device/readings.go
package device

import (
	"encoding/json"
	"sort"
	"time"
)

// RegisterName enumerates the live values a controller reports.
type RegisterName string

const (
	Power              RegisterName = "Power"
	BatVoltage         RegisterName = "BatVoltage"
	BatCurrent         RegisterName = "BatCurrent"
	PVVoltage          RegisterName = "PVVoltage"
	PVCurrent          RegisterName = "PVCurrent"
	EnergyToday        RegisterName = "EnergyToday"
	TotalEnergy        RegisterName = "TotalEnergy"
	ChargeState        RegisterName = "ChargeState"
	ConnectionState    RegisterName = "ConnectionState"
	SOC                RegisterName = "SOC"
	Aux1               RegisterName = "Aux1"
	Aux2               RegisterName = "Aux2"
	BatTemperature     RegisterName = "BatTemperature"
	FETTemperature     RegisterName = "FETTemperature"
	PCBTemperature     RegisterName = "PCBTemperature"
	InfoFlagsBits      RegisterName = "InfoFlagsBits"
	PositiveAmpHours   RegisterName = "PositiveAmpHours"
	NegativeAmpHours   RegisterName = "NegativeAmpHours"
	NetAmpHours        RegisterName = "NetAmpHours"
	ShuntTemperature   RegisterName = "ShuntTemperature"
	WhizbangBatCurrent RegisterName = "WhizbangBatCurrent"
	RemainingAmpHours  RegisterName = "RemainingAmpHours"
	TotalAmpHours      RegisterName = "TotalAmpHours"
	BiDirectional      RegisterName = "BiDirectional"
)

// Unit is the canonical unit of a reading.
type Unit string

const (
	Volts         Unit = "V"
	Amps          Unit = "A"
	Watts         Unit = "W"
	KilowattHours Unit = "kWh"
	Celsius       Unit = "°C"
	AmpHours      Unit = "Ah"
	Percent       Unit = "%"
	Dimensionless Unit = ""
)

var units = map[RegisterName]Unit{
	Power:              Watts,
	BatVoltage:         Volts,
	BatCurrent:         Amps,
	PVVoltage:          Volts,
	PVCurrent:          Amps,
	EnergyToday:        KilowattHours,
	TotalEnergy:        KilowattHours,
	SOC:                Percent,
	BatTemperature:     Celsius,
	FETTemperature:     Celsius,
	PCBTemperature:     Celsius,
	PositiveAmpHours:   AmpHours,
	NegativeAmpHours:   AmpHours,
	NetAmpHours:        AmpHours,
	ShuntTemperature:   Celsius,
	WhizbangBatCurrent: Amps,
	RemainingAmpHours:  AmpHours,
	TotalAmpHours:      AmpHours,
}

// Unit returns the canonical unit of the reading.
func (n RegisterName) Unit() Unit { return units[n] }

// ---- values ----

// Kind tells which field of a Value is meaningful.
type Kind uint8

const (
	KindFloat Kind = iota
	KindInt
	KindBool
)

// Value is a typed scalar.
type Value struct {
	kind Kind
	f    float64
	i    int64
	b    bool
}

func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }
func IntValue(v int64) Value { return Value{kind: KindInt, i: v} }
func BoolValue(v bool) Value { return Value{kind: KindBool, b: v} }

func (v Value) Kind() Kind { return v.kind }

// Float returns the value as a float64; booleans map to 0/1.
func (v Value) Float() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.i)
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return v.f
	}
}

// Int returns the value as an int64, truncating floats.
func (v Value) Int() int64 {
	switch v.kind {
	case KindFloat:
		return int64(v.f)
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return v.i
	}
}

// Bool reports whether the value is non-zero.
func (v Value) Bool() bool {
	if v.kind == KindBool {
		return v.b
	}
	return v.Float() != 0
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.i)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return json.Marshal(v.f)
	}
}

// ---- readings ----

// Readings is one complete snapshot of live values. A poll cycle builds a new
// instance and never touches it after publishing.
type Readings struct {
	At     time.Time
	values map[RegisterName]Value
	// chargeState describes the ChargeState value for display.
	chargeState string
}

// NewReadings returns an empty snapshot stamped at.
func NewReadings(at time.Time) *Readings {
	return &Readings{At: at, values: make(map[RegisterName]Value, 24)}
}

// ClearedReadings is the snapshot published when a controller drops off.
func ClearedReadings(at time.Time) *Readings {
	r := NewReadings(at)
	for _, n := range []RegisterName{Power, BatVoltage, BatCurrent, PVVoltage, PVCurrent, EnergyToday, TotalEnergy} {
		r.SetFloat(n, 0)
	}
	r.SetInt(ChargeState, -1)
	r.DescribeChargeState(Unknown)
	r.SetInt(ConnectionState, 0)
	r.SetInt(SOC, 0)
	r.SetBool(Aux1, false)
	r.SetBool(Aux2, false)
	return r
}

func (r *Readings) Set(n RegisterName, v Value) { r.values[n] = v }
func (r *Readings) SetFloat(n RegisterName, v float64) { r.values[n] = FloatValue(v) }
func (r *Readings) SetInt(n RegisterName, v int64) { r.values[n] = IntValue(v) }
func (r *Readings) SetBool(n RegisterName, v bool) { r.values[n] = BoolValue(v) }

// Get returns the value for n.
func (r *Readings) Get(n RegisterName) (Value, bool) {
	v, ok := r.values[n]
	return v, ok
}

// Float returns the value for n as float64, 0 when absent.
func (r *Readings) Float(n RegisterName) float64 {
	return r.values[n].Float()
}

// DescribeChargeState names the ChargeState value using the labels of the
// given family. Without a ChargeState value it does nothing.
func (r *Readings) DescribeChargeState(t DeviceType) {
	v, ok := r.values[ChargeState]
	if !ok {
		return
	}
	r.chargeState = ChargeStateName(t, int(v.Int()))
}

// ChargeStateDescription returns the label set by DescribeChargeState.
func (r *Readings) ChargeStateDescription() string { return r.chargeState }

// Len returns the number of values set.
func (r *Readings) Len() int { return len(r.values) }

// Names returns the set names in sorted order.
func (r *Readings) Names() []RegisterName {
	out := make([]RegisterName, 0, len(r.values))
	for n := range r.values {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Readings) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		At          time.Time              `json:"at"`
		Values      map[RegisterName]Value `json:"values"`
		ChargeState string                 `json:"charge_state,omitempty"`
	}{r.At, r.values, r.chargeState})
}
