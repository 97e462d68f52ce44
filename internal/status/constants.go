// internal/status/constants.go
package status

// Mirror status block layout. Each controller owns SlotsPerDevice registers
// in the downstream memory; the layout is fixed and not configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of registers per controller.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

// SlotHealthCode holds the controller health state.
const SlotHealthCode = 0

// SlotLastErrorCode holds the code of the last failure.
const SlotLastErrorCode = 1

// SlotSecondsInError holds how long the controller has been unreachable.
const SlotSecondsInError = 2

// SlotDeviceType holds the classified family (0 unknown, 1 Classic, 2 TriStar).
const SlotDeviceType = 3

// Slots 4–10 are reserved.
const SlotReservedStart = 4
const SlotReservedEnd = 10

// ---- UNIT NAME ----

// SlotDeviceNameStart is the first slot of the unit name.
// The name always sits at the end of the block.
const SlotDeviceNameStart = 11

// SlotDeviceNameSlots is the number of slots reserved for the name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameEnd is the last name slot (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// ---- LIMITS ----

// DeviceNameMaxChars is the maximum number of ASCII characters stored for the name.
const DeviceNameMaxChars = 16

// ---- HEALTH CODES ----

// HealthUnknown is the state before the first poll.
const HealthUnknown uint16 = 0

// HealthOK means the last cycle completed.
const HealthOK uint16 = 1

// HealthError means the controller is unreachable.
const HealthError uint16 = 2

// HealthStale means readings are older than expected.
const HealthStale uint16 = 3

// HealthDisabled means the controller was removed.
const HealthDisabled uint16 = 4

// HealthName renders a health code for logs and JSON.
func HealthName(h uint16) string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthStale:
		return "stale"
	case HealthDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ---- READINGS BLOCK ----

// ReadingsBase is the first register of the readings area. Status blocks
// live below it.
const ReadingsBase = 1000

// ReadingsSlotsPerDevice is the fixed readings block size per controller.
const ReadingsSlotsPerDevice = 32

// MaxDevices bounds the mirror slot so status blocks stay below ReadingsBase.
const MaxDevices = ReadingsBase / SlotsPerDevice
