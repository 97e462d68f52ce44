package status

import "testing"

func TestEncode(t *testing.T) {
	regs := Encode(Snapshot{Health: HealthError, LastErrorCode: 11, SecondsInError: 4}, 1)

	if len(regs) != SlotDeviceType+1 {
		t.Fatalf("len=%d", len(regs))
	}
	if regs[SlotHealthCode] != HealthError || regs[SlotLastErrorCode] != 11 ||
		regs[SlotSecondsInError] != 4 || regs[SlotDeviceType] != 1 {
		t.Fatalf("regs=%v", regs)
	}
}
