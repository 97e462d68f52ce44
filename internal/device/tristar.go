// internal/device/tristar.go
package device

import (
	"github.com/tamzrod/classic-monitor/internal/modbus"
)

// ---- TriStar register map (reference 0) ----

const (
	TriStarReference     = 0
	TriStarScalingLength = 4
	TriStarBlockLength   = 80

	tsBatVoltage  = 24
	tsPVVoltage   = 27
	tsBatCurrent  = 28
	tsPVCurrent   = 29
	tsChargeState = 50
	tsTotalEnergy = 57
	tsPower       = 58
	tsEnergyToday = 68
)

// PerUnit holds the TriStar voltage and current scaling constants.
type PerUnit struct {
	V float64
	I float64
}

// DecodePerUnit reads v_pu and i_pu from registers 0..3 (Q16.16).
func DecodePerUnit(regs modbus.Registers) (PerUnit, error) {
	if err := needLength("tristar scaling", regs, TriStarScalingLength); err != nil {
		return PerUnit{}, err
	}
	q16 := func(whole, frac modbus.Register) float64 {
		return float64(whole.Unsigned()) + float64(frac.Unsigned())/65536
	}
	return PerUnit{V: q16(regs[0], regs[1]), I: q16(regs[2], regs[3])}, nil
}

func (p PerUnit) VScale(x float64) float64 { return x * p.V / 32768 }
func (p PerUnit) IScale(x float64) float64 { return x * p.I / 32768 }
func (p PerUnit) PScale(x float64) float64 { return x * p.V * p.I / 131072 }

// WHr converts watt-hours to kWh.
func WHr(x float64) float64 { return x / 1000 }

// DecodeTriStarReadings fills r from the block read at TriStarReference.
func DecodeTriStarReadings(r *Readings, regs modbus.Registers, pu PerUnit) error {
	if err := needLength("tristar", regs, TriStarBlockLength); err != nil {
		return err
	}
	u := func(i int) float64 { return float64(regs[i].Unsigned()) }

	r.SetFloat(BatVoltage, pu.VScale(u(tsBatVoltage)))
	r.SetFloat(PVVoltage, pu.VScale(u(tsPVVoltage)))
	r.SetFloat(BatCurrent, pu.IScale(float64(regs[tsBatCurrent].Signed())))
	r.SetFloat(PVCurrent, pu.IScale(u(tsPVCurrent)))
	r.SetFloat(TotalEnergy, u(tsTotalEnergy))
	r.SetFloat(Power, pu.PScale(u(tsPower)))
	r.SetFloat(EnergyToday, WHr(u(tsEnergyToday)))
	r.SetInt(ChargeState, int64(regs[tsChargeState].Unsigned()))
	return nil
}
