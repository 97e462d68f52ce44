// internal/poller/readings.go
package poller

import (
	"context"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/events"
)

// readReadings reads the live block for the classified type and publishes it.
func (p *Poller) readReadings(ctx context.Context) error {
	c, err := p.currentClient()
	if err != nil {
		return err
	}
	r := device.NewReadings(p.now())

	switch p.classified.Type {
	case device.TriStar:
		regs, err := c.ReadMultipleRegisters(device.TriStarReference, device.TriStarBlockLength)
		if err != nil {
			return err
		}
		if err := device.DecodeTriStarReadings(r, regs, p.perUnit); err != nil {
			return err
		}

	case device.Classic:
		regs, err := c.ReadMultipleRegisters(device.ClassicReference, device.ClassicBlockLength)
		if err != nil {
			return err
		}
		if err := device.DecodeClassicReadings(r, regs); err != nil {
			return err
		}
		if p.classified.HasWhizBangJr {
			regs, err := c.ReadMultipleRegisters(device.WhizBangJrAddress, device.WhizBangJrBlockLength)
			if err != nil {
				return err
			}
			if err := device.DecodeWhizBangJr(r, regs); err != nil {
				return err
			}
		}
	}

	r.DescribeChargeState(p.classified.Type)
	r.SetInt(device.ConnectionState, 1)
	r.SetBool(device.BiDirectional, p.classified.HasWhizBangJr)

	p.publish(ctx, events.Event{Type: events.TypeReadings, Readings: r})
	if p.registry.MarkReachable(p.cfg.Endpoint) {
		p.publish(ctx, events.Event{Type: events.TypeReachable, Reachable: true})
	}
	return nil
}
