// internal/poller/runner.go
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/events"
)

// Run drives the poller until ctx is cancelled. One goroutine per
// controller. No overlap between cycles.
func (p *Poller) Run(ctx context.Context) {
	// cancellation must unblock a read that is waiting on the socket
	stop := context.AfterFunc(ctx, p.disconnect)
	defer func() {
		stop()
		p.disconnect()
		p.setState(Stopped)
	}()

	p.loadCachedLogs(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		_ = p.PollOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce runs one cycle. On failure the transport is dropped, the
// controller is marked unreachable and the error is returned.
func (p *Poller) PollOnce(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p.State() == Stopped {
		return errStopped
	}

	if p.slots != nil {
		select {
		case p.slots <- struct{}{}:
			defer func() { <-p.slots }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := p.cycle(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		// shutdown raced the cycle; stay silent
		return ctx.Err()
	}
	p.fail(ctx, err)
	return err
}

var errStopped = errors.New("poller: stopped")

func (p *Poller) cycle(ctx context.Context) error {
	if p.State() == Disconnected {
		if err := p.connect(ctx); err != nil {
			return err
		}
	}

	if p.State() == Classifying {
		c, err := p.currentClient()
		if err != nil {
			return err
		}
		info, pu, err := classify(c, p.cfg.Endpoint)
		if err != nil {
			return err
		}
		p.classified = info
		p.perUnit = pu
		p.publishInfo(info)
		p.setState(Polling)
		p.logger.Info("controller classified",
			"type", info.Type,
			"model", info.Model,
			"unit_name", info.UnitName,
		)
	}

	if err := p.readReadings(ctx); err != nil {
		return err
	}

	if p.classified.Type == device.Classic {
		return p.refreshLogs(ctx)
	}
	return nil
}

func (p *Poller) connect(ctx context.Context) error {
	c, err := p.dial(ctx)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		_ = c.Close()
		return ctx.Err()
	}
	if ra, ok := c.(interface{ RemoteAddr() string }); ok {
		p.logger.Debug("connected", "remote", ra.RemoteAddr())
	}
	p.setClient(c)
	p.setState(Classifying)
	return nil
}

// reconnect replaces the transport without leaving Polling. Used after a
// log read that ended with the peer closing the connection.
func (p *Poller) reconnect(ctx context.Context) error {
	p.disconnect()
	c, err := p.dial(ctx)
	if err != nil {
		return err
	}
	p.setClient(c)
	return nil
}

func (p *Poller) fail(ctx context.Context, err error) {
	p.logger.Warn("poll cycle failed", "state", p.State(), "err", err)

	p.disconnect()
	p.setState(Disconnected)
	p.registry.MarkUnreachable(p.cfg.Endpoint, err)

	p.publish(ctx, events.Event{
		Type:     events.TypeReadings,
		Readings: device.ClearedReadings(p.now()),
	})
	p.publish(ctx, events.Event{Type: events.TypeReachable, Reachable: false})
}

// publish delivers ev unless the poller is shutting down.
func (p *Poller) publish(ctx context.Context, ev events.Event) {
	if ctx.Err() != nil {
		return
	}
	ev.Endpoint = p.cfg.Endpoint
	ev.Deliver(p.sink)
}
