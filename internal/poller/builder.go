// internal/poller/builder.go
package poller

import (
	"context"
	"time"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/events"
	"github.com/tamzrod/classic-monitor/internal/modbus"
)

// DialOptions are the transport settings shared by every controller.
type DialOptions struct {
	Timeout time.Duration
	Retries int
}

// NewDialer returns a Dialer that opens a Modbus TCP client to ep.
// ONE dial per call; the transport retries establishment internally.
func NewDialer(ep device.Endpoint, o DialOptions) Dialer {
	return func(ctx context.Context) (Client, error) {
		c, err := modbus.DialClient(ctx, modbus.Config{
			Address: ep.Address(),
			UnitID:  ep.UnitID,
			Timeout: o.Timeout,
			Retries: o.Retries,
		})
		if err != nil {
			// never hand back a typed nil
			return nil, err
		}
		return c, nil
	}
}

// Build constructs a Poller for ep that talks Modbus TCP.
// The connection is opened lazily on the first cycle and reused while
// healthy; on transport death the next cycle dials again.
func Build(ep device.Endpoint, interval time.Duration, o DialOptions, sink events.Sink, opts ...Option) (*Poller, error) {
	return New(
		Config{Endpoint: ep, Interval: interval},
		NewDialer(ep, o),
		sink,
		opts...,
	)
}
