// internal/status/snapshot.go
package status

import "time"

// Snapshot is the reachability state of one controller.
type Snapshot struct {
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16

	// Since is when the controller entered its current health state.
	Since time.Time
	// LastError is the message of the last failure.
	LastError string
}
