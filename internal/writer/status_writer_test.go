package writer

import (
	"testing"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/status"
)

func TestDeviceNameWrittenOnFullAssertOnly(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw := newStatusWriter(cli, 1, 0, "DEV-01")

	// ---- first write: FULL ASSERT ----
	first := status.Snapshot{Health: status.HealthOK}
	if err := sw.WriteStatus(first, uint16(device.Classic)); err != nil {
		t.Fatalf("initial full assert failed: %v", err)
	}

	if len(cli.lastRegs) != status.SlotsPerDevice {
		t.Fatalf("expected full block write (%d regs), got %d", status.SlotsPerDevice, len(cli.lastRegs))
	}
	if cli.lastRegs[status.SlotDeviceType] != uint16(device.Classic) {
		t.Fatalf("device type slot=%d", cli.lastRegs[status.SlotDeviceType])
	}

	expectedNameRegs := encodeDeviceNameRegs("DEV-01")
	for i := 0; i < status.SlotDeviceNameSlots; i++ {
		slot := status.SlotDeviceNameStart + i
		if cli.lastRegs[slot] != expectedNameRegs[i] {
			t.Fatalf("device name slot %d mismatch: got=%d want=%d", slot, cli.lastRegs[slot], expectedNameRegs[i])
		}
	}

	// ---- second write: INCREMENTAL ONLY ----
	second := status.Snapshot{Health: status.HealthError, LastErrorCode: 7, SecondsInError: 1}
	if err := sw.WriteStatus(second, uint16(device.Classic)); err != nil {
		t.Fatalf("incremental write failed: %v", err)
	}
	if len(cli.lastRegs) == status.SlotsPerDevice {
		t.Fatalf("device name should not be rewritten on incremental update")
	}
	if len(cli.writes) != 4 {
		t.Fatalf("expected 1 full + 3 slot writes, got %d", len(cli.writes))
	}
}

func TestSecondsInErrorResetOnRecovery(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw := newStatusWriter(cli, 1, 2, "DEV-01")

	errSnap := status.Snapshot{Health: status.HealthError, LastErrorCode: 42, SecondsInError: 3}
	if err := sw.WriteStatus(errSnap, 0); err != nil {
		t.Fatalf("error snapshot write failed: %v", err)
	}

	okSnap := status.Snapshot{Health: status.HealthOK}
	if err := sw.WriteStatus(okSnap, 0); err != nil {
		t.Fatalf("recovery snapshot write failed: %v", err)
	}

	expectedAddr := uint16(2*status.SlotsPerDevice + status.SlotSecondsInError)
	if cli.lastRegsAddr != expectedAddr {
		t.Fatalf("unexpected write addr: got=%d want=%d", cli.lastRegsAddr, expectedAddr)
	}
	if len(cli.lastRegs) != 1 || cli.lastRegs[0] != 0 {
		t.Fatalf("seconds_in_error not reset: %v", cli.lastRegs)
	}
}

func TestFullAssertAfterFailure(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw := newStatusWriter(cli, 1, 0, "A")

	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthOK}, 0); err != nil {
		t.Fatalf("first write: %v", err)
	}

	cli.fail = 1
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError, LastErrorCode: 1}, 0); err == nil {
		t.Fatalf("expected error from refused write")
	}

	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError, LastErrorCode: 1}, 0); err != nil {
		t.Fatalf("recovery write: %v", err)
	}
	if len(cli.lastRegs) != status.SlotsPerDevice {
		t.Fatalf("expected full re-assert after failure, got %d regs", len(cli.lastRegs))
	}
}

func TestTypeOrNameChangeReasserts(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw := newStatusWriter(cli, 1, 0, "")

	snap := status.Snapshot{Health: status.HealthOK}
	if err := sw.WriteStatus(snap, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sw.WriteStatus(snap, uint16(device.TriStar)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(cli.writes) != 2 || len(cli.lastRegs) != status.SlotsPerDevice {
		t.Fatalf("type change should re-assert: writes=%d", len(cli.writes))
	}

	sw.setName("TriStar")
	if err := sw.WriteStatus(snap, uint16(device.TriStar)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(cli.writes) != 3 || cli.lastRegs[status.SlotDeviceNameStart] != uint16('T')<<8|uint16('r') {
		t.Fatalf("name change should re-assert: %v", cli.lastRegs)
	}

	// unchanged snapshot writes nothing
	if err := sw.WriteStatus(snap, uint16(device.TriStar)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(cli.writes) != 3 {
		t.Fatalf("idle write touched memory: %d", len(cli.writes))
	}
}

func TestEncodeDeviceNameRegs(t *testing.T) {
	regs := encodeDeviceNameRegs("ABCDEFGHIJKLMNOPQRS\x01")
	if len(regs) != status.SlotDeviceNameSlots {
		t.Fatalf("len=%d", len(regs))
	}
	if regs[0] != uint16('A')<<8|uint16('B') || regs[7] != uint16('O')<<8|uint16('P') {
		t.Fatalf("regs=%v", regs)
	}

	regs = encodeDeviceNameRegs("a\x7f")
	if regs[0] != uint16('a')<<8|uint16('?') {
		t.Fatalf("non-printable not sanitized: %#04x", regs[0])
	}
}
