package writer

import (
	"errors"
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/events"
	"github.com/tamzrod/classic-monitor/internal/status"
)

var (
	mirrored   = device.NewEndpoint(netip.MustParseAddr("192.168.1.50"), 502)
	unmirrored = device.NewEndpoint(netip.MustParseAddr("192.168.1.51"), 502)
)

var _ events.Sink = (*Mirror)(nil)

func TestEncodeReadings(t *testing.T) {
	r := device.NewReadings(time.Now())
	r.SetFloat(device.Power, 3500)
	r.SetFloat(device.BatVoltage, 27.3)
	r.SetFloat(device.BatCurrent, -12.5)
	r.SetFloat(device.TotalEnergy, 12345.6)
	r.SetInt(device.ChargeState, -1)
	r.SetBool(device.Aux2, true)
	r.SetInt(device.InfoFlagsBits, 0x12345678)
	r.SetFloat(device.PVVoltage, 5000) // saturates

	regs := encodeReadings(r)
	if len(regs) != status.ReadingsSlotsPerDevice {
		t.Fatalf("len=%d", len(regs))
	}

	pair := func(off int) int32 { return int32(uint32(regs[off])<<16 | uint32(regs[off+1])) }

	if got := pair(0); got != 35000 {
		t.Fatalf("power=%d", got)
	}
	if regs[2] != 273 {
		t.Fatalf("bat voltage=%d", regs[2])
	}
	if int16(regs[3]) != -125 {
		t.Fatalf("bat current=%d", int16(regs[3]))
	}
	if got := pair(7); got != 123456 {
		t.Fatalf("total energy=%d", got)
	}
	if int16(regs[9]) != -1 {
		t.Fatalf("charge state=%d", int16(regs[9]))
	}
	if regs[12] != 0 || regs[13] != 1 {
		t.Fatalf("aux=%d,%d", regs[12], regs[13])
	}
	if got := pair(17); got != 0x12345678 {
		t.Fatalf("info flags=%#x", got)
	}
	if int16(regs[4]) != math.MaxInt16 {
		t.Fatalf("pv voltage not saturated: %d", int16(regs[4]))
	}
	// absent values are zero
	if regs[14] != 0 || regs[29] != 0 {
		t.Fatalf("absent values not zero")
	}
}

func TestLayoutFitsBlock(t *testing.T) {
	seen := make(map[uint16]device.RegisterName)
	for _, f := range readingsLayout {
		width := uint16(1)
		if f.wide {
			width = 2
		}
		for i := uint16(0); i < width; i++ {
			if prev, ok := seen[f.offset+i]; ok {
				t.Fatalf("%s overlaps %s at %d", f.name, prev, f.offset+i)
			}
			seen[f.offset+i] = f.name
		}
		if f.offset+width > status.ReadingsSlotsPerDevice {
			t.Fatalf("%s past end of block", f.name)
		}
	}
}

func newTestMirror() (*Mirror, *fakeEndpointClient, *status.Registry) {
	cli := &fakeEndpointClient{}
	reg := status.NewRegistry()
	m := NewMirror(cli, 9, reg, []Target{{Endpoint: mirrored, Slot: 3}}, quietLogger())
	return m, cli, reg
}

func TestMirror_ReadingsAndStatus(t *testing.T) {
	m, cli, reg := newTestMirror()
	m.SetInfoSource(func(ep device.Endpoint) (device.ControllerInfo, bool) {
		return device.ControllerInfo{Endpoint: ep, Type: device.Classic, UnitName: "HOME"}, true
	})
	reg.MarkReachable(mirrored)

	r := device.NewReadings(time.Now())
	r.SetFloat(device.BatVoltage, 24)
	m.OnReadings(mirrored, r)

	rd := cli.writesAt(status.ReadingsBase + 3*status.ReadingsSlotsPerDevice)
	if len(rd) != 1 || rd[0].unitID != 9 || rd[0].regs[2] != 240 {
		t.Fatalf("readings writes=%+v", rd)
	}

	st := cli.writesAt(3 * status.SlotsPerDevice)
	if len(st) != 1 {
		t.Fatalf("status writes=%d", len(st))
	}
	block := st[0].regs
	if block[status.SlotHealthCode] != status.HealthOK || block[status.SlotDeviceType] != uint16(device.Classic) {
		t.Fatalf("status block=%v", block)
	}
	if block[status.SlotDeviceNameStart] != uint16('H')<<8|uint16('O') {
		t.Fatalf("name not taken from unit name: %#04x", block[status.SlotDeviceNameStart])
	}
}

func TestMirror_ReachableUpdatesHealth(t *testing.T) {
	m, cli, reg := newTestMirror()

	reg.MarkReachable(mirrored)
	m.OnReachable(mirrored, true)

	reg.MarkUnreachable(mirrored, errors.New("timeout"))
	m.OnReachable(mirrored, false)

	addr := uint16(3*status.SlotsPerDevice + status.SlotHealthCode)
	if cli.lastRegsAddr != uint16(3*status.SlotsPerDevice+status.SlotLastErrorCode) {
		t.Fatalf("last write addr=%d", cli.lastRegsAddr)
	}
	hw := cli.writesAt(addr)
	// full block then single health slot
	if len(hw) != 2 || hw[1].regs[0] != status.HealthError {
		t.Fatalf("health writes=%+v", hw)
	}
}

func TestMirror_IgnoresUnmapped(t *testing.T) {
	m, cli, _ := newTestMirror()

	m.OnReadings(unmirrored, device.NewReadings(time.Now()))
	m.OnReachable(unmirrored, false)
	m.OnLogs(mirrored, device.DayLog, device.NewLogEntry())
	m.OnToast(events.ToastDayLogsUpdated)
	m.OnControllerFound(unmirrored, "X")

	if len(cli.writes) != 0 {
		t.Fatalf("unexpected writes: %+v", cli.writes)
	}
}

func TestMirror_ConfiguredNameWins(t *testing.T) {
	cli := &fakeEndpointClient{}
	m := NewMirror(cli, 1, status.NewRegistry(), []Target{{Endpoint: mirrored, Slot: 0, Name: "garage"}}, quietLogger())
	m.SetInfoSource(func(device.Endpoint) (device.ControllerInfo, bool) {
		return device.ControllerInfo{Type: device.Classic, UnitName: "HOME"}, true
	})

	m.OnReachable(mirrored, false)
	if cli.lastRegs[status.SlotDeviceNameStart] != uint16('g')<<8|uint16('a') {
		t.Fatalf("name=%#04x", cli.lastRegs[status.SlotDeviceNameStart])
	}
}
