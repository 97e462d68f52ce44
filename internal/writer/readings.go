// internal/writer/readings.go
package writer

import (
	"math"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/status"
)

// Readings block layout, relative to ReadingsBase + slot*ReadingsSlotsPerDevice.
// Floats are stored ×10, integers and flags as is. Narrow fields are one
// signed register; wide fields are a signed 32-bit pair, high word first.
// Values outside the field range saturate.
type field struct {
	name   device.RegisterName
	offset uint16
	wide   bool
}

var readingsLayout = []field{
	{device.Power, 0, true},
	{device.BatVoltage, 2, false},
	{device.BatCurrent, 3, false},
	{device.PVVoltage, 4, false},
	{device.PVCurrent, 5, false},
	{device.EnergyToday, 6, false},
	{device.TotalEnergy, 7, true},
	{device.ChargeState, 9, false},
	{device.ConnectionState, 10, false},
	{device.SOC, 11, false},
	{device.Aux1, 12, false},
	{device.Aux2, 13, false},
	{device.BatTemperature, 14, false},
	{device.FETTemperature, 15, false},
	{device.PCBTemperature, 16, false},
	{device.InfoFlagsBits, 17, true},
	{device.PositiveAmpHours, 19, true},
	{device.NegativeAmpHours, 21, true},
	{device.NetAmpHours, 23, true},
	{device.ShuntTemperature, 25, false},
	{device.WhizbangBatCurrent, 26, false},
	{device.RemainingAmpHours, 27, false},
	{device.TotalAmpHours, 28, false},
	{device.BiDirectional, 29, false},
}

// readingsAddr is the first register of a slot's readings block.
func readingsAddr(slot uint16) uint16 {
	return status.ReadingsBase + slot*status.ReadingsSlotsPerDevice
}

// encodeReadings renders r as a full readings block. Absent values are zero.
func encodeReadings(r *device.Readings) []uint16 {
	regs := make([]uint16, status.ReadingsSlotsPerDevice)
	if r == nil {
		return regs
	}
	for _, f := range readingsLayout {
		v, ok := r.Get(f.name)
		if !ok {
			continue
		}
		x := scaled(v)
		if f.wide {
			w := uint32(int32(clamp(x, math.MinInt32, math.MaxInt32)))
			regs[f.offset] = uint16(w >> 16)
			regs[f.offset+1] = uint16(w)
			continue
		}
		regs[f.offset] = uint16(int16(clamp(x, math.MinInt16, math.MaxInt16)))
	}
	return regs
}

func scaled(v device.Value) int64 {
	switch v.Kind() {
	case device.KindFloat:
		return int64(math.Round(v.Float() * 10))
	case device.KindBool:
		if v.Bool() {
			return 1
		}
		return 0
	default:
		return v.Int()
	}
}

func clamp(x, lo, hi int64) int64 {
	return max(lo, min(x, hi))
}
