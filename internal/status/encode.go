// internal/status/encode.go
package status

// Encode converts a Snapshot into the live slots of a status block.
// No IO. No side effects.
func Encode(s Snapshot, deviceType uint16) []uint16 {
	regs := make([]uint16, SlotDeviceType+1)

	regs[SlotHealthCode] = s.Health
	regs[SlotLastErrorCode] = s.LastErrorCode
	regs[SlotSecondsInError] = s.SecondsInError
	regs[SlotDeviceType] = deviceType

	return regs
}
