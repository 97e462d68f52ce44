// internal/writer/status_writer.go
package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/classic-monitor/internal/status"
)

// endpointClient is the exact contract the mirror uses.
type endpointClient interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// statusWriter owns one controller's status block in mirror memory.
// The first write, and the first write after any failure or identity change,
// re-asserts the full block; later writes touch only the slots that changed.
type statusWriter struct {
	cli    endpointClient
	unitID uint8
	slot   uint16

	needFull bool
	last     status.Snapshot
	lastType uint16
	name     string
	nameRegs []uint16
}

func newStatusWriter(cli endpointClient, unitID uint8, slot uint16, name string) *statusWriter {
	return &statusWriter{
		cli:      cli,
		unitID:   unitID,
		slot:     slot,
		needFull: true,
		name:     name,
		nameRegs: encodeDeviceNameRegs(name),
	}
}

// setName changes the unit name; the next write re-asserts the block.
func (sw *statusWriter) setName(name string) {
	if name == sw.name {
		return
	}
	sw.name = name
	sw.nameRegs = encodeDeviceNameRegs(name)
	sw.needFull = true
}

// WriteStatus delivers a controller status snapshot into status memory.
func (sw *statusWriter) WriteStatus(s status.Snapshot, deviceType uint16) error {
	if sw.cli == nil {
		return errors.New("status writer: missing client")
	}

	baseAddr := sw.baseAddr()

	if sw.needFull || sw.lastType != deviceType {
		if err := sw.cli.WriteRegisters(sw.unitID, baseAddr, sw.fullBlockRegs(s, deviceType)); err != nil {
			sw.needFull = true
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}
		sw.needFull = false
		sw.last = s
		sw.lastType = deviceType
		return nil
	}

	var errs []string

	if sw.last.Health != s.Health {
		if err := sw.cli.WriteRegisters(sw.unitID, baseAddr+status.SlotHealthCode, []uint16{s.Health}); err != nil {
			errs = append(errs, fmt.Sprintf("slot0 health write failed: %v", err))
		} else {
			sw.last.Health = s.Health
		}
	}

	if sw.last.LastErrorCode != s.LastErrorCode {
		if err := sw.cli.WriteRegisters(sw.unitID, baseAddr+status.SlotLastErrorCode, []uint16{s.LastErrorCode}); err != nil {
			errs = append(errs, fmt.Sprintf("slot1 last_error write failed: %v", err))
		} else {
			sw.last.LastErrorCode = s.LastErrorCode
		}
	}

	if sw.last.SecondsInError != s.SecondsInError {
		if err := sw.cli.WriteRegisters(sw.unitID, baseAddr+status.SlotSecondsInError, []uint16{s.SecondsInError}); err != nil {
			errs = append(errs, fmt.Sprintf("slot2 seconds write failed: %v", err))
		} else {
			sw.last.SecondsInError = s.SecondsInError
		}
	}

	if len(errs) > 0 {
		sw.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}
	return nil
}

func (sw *statusWriter) baseAddr() uint16 {
	return sw.slot * status.SlotsPerDevice
}

func (sw *statusWriter) fullBlockRegs(s status.Snapshot, deviceType uint16) []uint16 {
	regs := make([]uint16, status.SlotsPerDevice)
	copy(regs, status.Encode(s, deviceType))

	// Reserved slots stay zero; the name sits at the end of the block.
	for i := 0; i < status.SlotDeviceNameSlots && i < len(sw.nameRegs); i++ {
		regs[status.SlotDeviceNameStart+i] = sw.nameRegs[i]
	}
	return regs
}

// encodeDeviceNameRegs packs up to 16 ASCII characters into 8 registers,
// two bytes per register, big-endian.
func encodeDeviceNameRegs(name string) []uint16 {
	out := make([]uint16, status.SlotDeviceNameSlots)

	b := []byte(name)
	if len(b) > status.DeviceNameMaxChars {
		b = b[:status.DeviceNameMaxChars]
	}
	for i := range b {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	for i := 0; i < status.DeviceNameMaxChars; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}
	return out
}
