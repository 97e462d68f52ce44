// internal/discovery/discovery.go
//
// Package discovery listens for the UDP beacons controllers broadcast and
// reports each new endpoint once it answered a probe.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/events"
	"github.com/tamzrod/classic-monitor/internal/poller"
)

const (
	DefaultPort        = 4626
	DefaultReadTimeout = 2 * time.Second
	DefaultIdleSleep   = time.Second

	beaconLength = 6
	maxBufSize   = 1500
)

// Prober learns the unit name of a freshly announced controller.
type Prober func(ctx context.Context, ep device.Endpoint) (string, error)

// ModbusProber classifies the controller over Modbus TCP.
func ModbusProber(o poller.DialOptions) Prober {
	return func(ctx context.Context, ep device.Endpoint) (string, error) {
		info, err := poller.Probe(ctx, poller.NewDialer(ep, o), ep)
		if err != nil {
			return "", err
		}
		return info.UnitName, nil
	}
}

// Config is the listener configuration.
type Config struct {
	// Address to bind, e.g. ":4626".
	Address     string
	ReadTimeout time.Duration
	IdleSleep   time.Duration
}

// Listener receives beacons. The found set lives as long as the listener.
type Listener struct {
	conn   *net.UDPConn
	probe  Prober
	sink   events.Sink
	logger *slog.Logger

	readTimeout time.Duration
	idleSleep   time.Duration

	mu    sync.Mutex
	found map[device.Endpoint]struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// ParseBeacon decodes a 6-byte beacon: IPv4 address, then the Modbus port
// little-endian.
func ParseBeacon(b []byte) (device.Endpoint, error) {
	if len(b) != beaconLength {
		return device.Endpoint{}, fmt.Errorf("discovery: beacon length %d, want %d", len(b), beaconLength)
	}
	addr := netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
	port := uint16(b[4]) | uint16(b[5])<<8
	ep := device.NewEndpoint(addr, port)
	if err := ep.Validate(); err != nil {
		return device.Endpoint{}, fmt.Errorf("discovery: %w", err)
	}
	return ep, nil
}

// Listen binds the UDP socket. Nothing is read until Serve.
func Listen(cfg Config, probe Prober, sink events.Sink, logger *slog.Logger) (*Listener, error) {
	if probe == nil {
		return nil, errors.New("discovery: prober required")
	}
	if cfg.Address == "" {
		cfg.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	if sink == nil {
		sink = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	laddr, err := net.ResolveUDPAddr("udp4", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve %s: %w", cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("discovery: listen %s: %w", cfg.Address, err)
	}

	return &Listener{
		conn:        conn,
		probe:       probe,
		sink:        sink,
		logger:      logger.With("component", "discovery"),
		readTimeout: cfg.ReadTimeout,
		idleSleep:   cfg.IdleSleep,
		found:       make(map[device.Endpoint]struct{}),
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() *net.UDPAddr { return l.conn.LocalAddr().(*net.UDPAddr) }

// Serve reads beacons until ctx is cancelled or the listener is closed.
// Probes still running are waited for before returning.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer l.wg.Wait()

	l.logger.Info("listening for beacons", "addr", l.Addr().String())

	buf := make([]byte, maxBufSize)
	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("discovery: set read deadline: %w", err)
		}

		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			switch {
			case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
				return nil
			case errors.As(err, &ne) && ne.Timeout():
				// quiet network; back off before the next wait
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(l.idleSleep):
				}
				continue
			default:
				return fmt.Errorf("discovery: read: %w", err)
			}
		}

		ep, err := ParseBeacon(buf[:n])
		if err != nil {
			l.logger.Debug("ignoring datagram", "from", from.String(), "err", err)
			continue
		}
		l.handle(ctx, ep)
	}
}

func (l *Listener) handle(ctx context.Context, ep device.Endpoint) {
	l.mu.Lock()
	if _, seen := l.found[ep]; seen {
		l.mu.Unlock()
		return
	}
	l.found[ep] = struct{}{}
	l.mu.Unlock()

	l.logger.Info("beacon", "controller", ep.String())

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		name, err := l.probe(ctx, ep)
		if err != nil {
			l.logger.Warn("probe failed", "controller", ep.String(), "err", err)
			// let the next beacon retry
			l.Forget(ep)
			return
		}
		if ctx.Err() != nil {
			return
		}
		l.sink.OnControllerFound(ep, name)
	}()
}

// Forget removes ep from the found set so its next beacon is reported again.
func (l *Listener) Forget(ep device.Endpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.found, ep)
}

// Found returns the endpoints seen so far.
func (l *Listener) Found() []device.Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]device.Endpoint, 0, len(l.found))
	for ep := range l.found {
		out = append(out, ep)
	}
	return out
}

// Close closes the socket. Safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}
