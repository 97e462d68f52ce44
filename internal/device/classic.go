// internal/device/classic.go
package device

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tamzrod/classic-monitor/internal/modbus"
)

// ---- Classic register map ----
//
// Identity registers are read at their wire address. Live values use the
// firmware's 1-based numbering, mapped onto the block with OffsetFor.

const (
	ClassicReference = 4100

	ClassicIdentityLength = 4    // model, year, month/day, reserved
	ClassicMACAddress     = 4105 // three words, reverse order
	ClassicSerialAddress  = 4110
	ClassicLastVOCAddress = 4121
	ClassicUnitName       = 4209 // four words, byte-swapped ASCII
	ClassicNominalBattery = 4244
	ClassicFirmware       = 16386 // app lo/hi, net lo/hi

	ClassicBlockLength = 36

	WhizBangJrAddress     = 4360
	WhizBangJrProbeLength = 12
	WhizBangJrBlockLength = 22
)

// Live value registers (1-based).
const (
	regBatVoltage     = 4115
	regPVVoltage      = 4116
	regBatCurrent     = 4117
	regEnergyToday    = 4118
	regPower          = 4119
	regChargeState    = 4120
	regPVCurrent      = 4121
	regTotalEnergyLo  = 4126
	regTotalEnergyHi  = 4127
	regInfoFlagsLo    = 4129
	regInfoFlagsHi    = 4130
	regBatTemperature = 4132
	regFETTemperature = 4133
	regPCBTemperature = 4134

	aux1Mask = 0x4000
	aux2Mask = 0x8000
)

// WhizBangJr block indices relative to WhizBangJrAddress.
const (
	wbjPositiveAHLo = 4
	wbjNegativeAHLo = 6
	wbjNetAHLo      = 8
	wbjBatCurrent   = 10
	wbjTemperature  = 11
	wbjSOC          = 12
	wbjRemainingAH  = 16
	wbjTotalAH      = 20
)

// OffsetFor maps a 1-based register number onto a block read at reference.
func OffsetFor(addr, reference int) int { return addr - reference - 1 }

func classicIndex(addr int) int { return OffsetFor(addr, ClassicReference) }

func needLength(what string, regs modbus.Registers, n int) error {
	if len(regs) < n {
		return fmt.Errorf("%w: %s block has %d registers, need %d",
			modbus.ErrMalformedResponse, what, len(regs), n)
	}
	return nil
}

func tenths(r modbus.Register) float64 { return float64(r.Unsigned()) / 10 }
func signedTenths(r modbus.Register) float64 { return float64(r.Signed()) / 10 }

// pair32 assembles two consecutive registers, low word first.
func pair32(regs modbus.Registers, lo int) uint32 {
	return uint32(regs[lo+1].Unsigned())<<16 | uint32(regs[lo].Unsigned())
}

// DecodeClassicReadings fills r from the live block read at ClassicReference.
func DecodeClassicReadings(r *Readings, regs modbus.Registers) error {
	if err := needLength("classic", regs, ClassicBlockLength); err != nil {
		return err
	}
	at := func(addr int) modbus.Register { return regs[classicIndex(addr)] }

	r.SetFloat(BatVoltage, tenths(at(regBatVoltage)))
	r.SetFloat(PVVoltage, tenths(at(regPVVoltage)))
	r.SetFloat(BatCurrent, signedTenths(at(regBatCurrent)))
	r.SetFloat(EnergyToday, tenths(at(regEnergyToday)))
	r.SetFloat(Power, float64(at(regPower).Unsigned()))
	r.SetInt(ChargeState, int64(at(regChargeState).Unsigned()>>8))
	r.SetFloat(PVCurrent, tenths(at(regPVCurrent)))

	total := pair32(regs, classicIndex(regTotalEnergyLo))
	r.SetFloat(TotalEnergy, float64(total)/10)

	flags := at(regInfoFlagsLo).Unsigned()
	r.SetInt(InfoFlagsBits, int64(pair32(regs, classicIndex(regInfoFlagsLo))))
	r.SetBool(Aux1, flags&aux1Mask != 0)
	r.SetBool(Aux2, flags&aux2Mask != 0)

	r.SetFloat(BatTemperature, signedTenths(at(regBatTemperature)))
	r.SetFloat(FETTemperature, signedTenths(at(regFETTemperature)))
	r.SetFloat(PCBTemperature, signedTenths(at(regPCBTemperature)))
	return nil
}

// HasWhizBangJr inspects the short probe block read at WhizBangJrAddress.
func HasWhizBangJr(regs modbus.Registers) bool {
	v, err := regs.At(wbjBatCurrent)
	return err == nil && v.Unsigned() != 0
}

// DecodeWhizBangJr fills the shunt values from the block read at
// WhizBangJrAddress. The shunt current replaces the controller's own
// battery current.
func DecodeWhizBangJr(r *Readings, regs modbus.Registers) error {
	if err := needLength("whizbangjr", regs, WhizBangJrBlockLength); err != nil {
		return err
	}

	r.SetInt(PositiveAmpHours, int64(int32(pair32(regs, wbjPositiveAHLo))))
	r.SetInt(NegativeAmpHours, int64(int32(pair32(regs, wbjNegativeAHLo))))
	r.SetInt(NetAmpHours, int64(int32(pair32(regs, wbjNetAHLo))))

	current := signedTenths(regs[wbjBatCurrent])
	r.SetFloat(WhizbangBatCurrent, current)
	r.SetFloat(BatCurrent, current)

	r.SetFloat(ShuntTemperature, float64(int(regs[wbjTemperature].Signed())&0xff-50))
	r.SetInt(SOC, int64(regs[wbjSOC].Signed()))
	r.SetInt(RemainingAmpHours, int64(regs[wbjRemainingAH].Unsigned()))
	r.SetInt(TotalAmpHours, int64(regs[wbjTotalAH].Unsigned()))
	return nil
}

// ---- identity ----

// DecodeModel renders the model/revision register, e.g. 0x0105 as "Classic 5 (rev 1)".
func DecodeModel(r modbus.Register) string {
	b := r.Bytes()
	return fmt.Sprintf("Classic %d (rev %d)", b[1], b[0])
}

// DecodeBuildDate combines the build year and the packed month/day register.
func DecodeBuildDate(year, monthDay modbus.Register) time.Time {
	md := monthDay.Bytes()
	return time.Date(int(year.Unsigned()), time.Month(md[0]), int(md[1]), 0, 0, 0, 0, time.UTC)
}

// DecodeMAC reads three words stored in reverse order.
func DecodeMAC(regs modbus.Registers) (net.HardwareAddr, error) {
	if err := needLength("mac", regs, 3); err != nil {
		return nil, err
	}
	mac := make(net.HardwareAddr, 0, 6)
	for i := 2; i >= 0; i-- {
		b := regs[i].Bytes()
		mac = append(mac, b[0], b[1])
	}
	return mac, nil
}

// DecodeUnitName turns the four name registers into text. Each register
// holds two characters, low byte first.
func DecodeUnitName(regs modbus.Registers) string {
	buf := make([]byte, 0, 2*len(regs))
	for _, r := range regs {
		b := r.Bytes()
		buf = append(buf, b[1], b[0])
	}
	return strings.TrimSpace(strings.Trim(string(buf), "\x00"))
}

// DecodeFirmware returns the application and network versions.
func DecodeFirmware(regs modbus.Registers) (app, netVersion string, err error) {
	if err := needLength("firmware", regs, 4); err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%d", pair32(regs, 0)), fmt.Sprintf("%d", pair32(regs, 2)), nil
}

// DecodeSerial returns the unit serial number (low word first).
func DecodeSerial(regs modbus.Registers) (uint32, error) {
	if err := needLength("serial", regs, 2); err != nil {
		return 0, err
	}
	return pair32(regs, 0), nil
}

// DecodeLastVOC returns the last measured open-circuit voltage.
func DecodeLastVOC(r modbus.Register) float64 { return tenths(r) }
