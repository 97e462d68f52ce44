// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/events"
	"github.com/tamzrod/classic-monitor/internal/logcache"
	"github.com/tamzrod/classic-monitor/internal/modbus"
	"github.com/tamzrod/classic-monitor/internal/status"
)

const (
	DefaultInterval = time.Second

	// logRetryDelay defers the next attempt after a failed or empty log read.
	logRetryDelay = 5 * time.Minute

	// minuteLogMaxAge is how long a minute log stays fresh.
	minuteLogMaxAge = time.Hour
)

// Client abstracts the Modbus operations needed by the poller.
type Client interface {
	ReadMultipleRegisters(offset, count uint16) (modbus.Registers, error)
	ReadFileTransfer(offset, category, file uint16) (*modbus.FileTransferResponse, error)
	Close() error
}

// Dialer opens a fresh connection. ONE attempt per call; establishment
// retries belong to the transport.
type Dialer func(ctx context.Context) (Client, error)

// State is the connection state of a Poller.
type State int32

const (
	Disconnected State = iota
	Classifying
	Polling
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Classifying:
		return "classifying"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config is the runtime config of one poller.
type Config struct {
	Endpoint device.Endpoint
	Interval time.Duration
}

// Poller drives one controller: connect, classify, read, refresh logs.
type Poller struct {
	cfg      Config
	dial     Dialer
	sink     events.Sink
	cache    logcache.Cache
	registry *status.Registry
	slots    chan struct{}
	logger   *slog.Logger
	now      func() time.Time

	state atomic.Int32

	mu     sync.Mutex // guards client against Close from the canceller
	client Client

	infoMu sync.RWMutex
	info   device.ControllerInfo
	ready  bool

	// owned by the polling goroutine
	perUnit       device.PerUnit
	classified    device.ControllerInfo
	dayLog        *device.LogEntry
	minuteLog     *device.LogEntry
	dayRetryAt    time.Time
	minuteRetryAt time.Time
}

// Option customizes a Poller.
type Option func(*Poller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Poller) { p.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

// WithCache sets the log cache.
func WithCache(c logcache.Cache) Option { return func(p *Poller) { p.cache = c } }

// WithRegistry sets the shared reachability registry.
func WithRegistry(r *status.Registry) Option { return func(p *Poller) { p.registry = r } }

// WithSlots limits concurrent cycles across pollers sharing the channel.
func WithSlots(slots chan struct{}) Option { return func(p *Poller) { p.slots = slots } }

// New creates a poller. Nothing runs until Run.
func New(cfg Config, dial Dialer, sink events.Sink, opts ...Option) (*Poller, error) {
	if err := cfg.Endpoint.Validate(); err != nil {
		return nil, fmt.Errorf("poller: %w", err)
	}
	if dial == nil {
		return nil, errors.New("poller: dialer required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if sink == nil {
		sink = events.Discard{}
	}

	p := &Poller{
		cfg:  cfg,
		dial: dial,
		sink: sink,
		now:  time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.cache == nil {
		p.cache = logcache.NewMemory()
	}
	if p.registry == nil {
		p.registry = status.NewRegistry()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "poller", "controller", cfg.Endpoint.String())
	return p, nil
}

// Endpoint returns the controller endpoint.
func (p *Poller) Endpoint() device.Endpoint { return p.cfg.Endpoint }

// State returns the current state.
func (p *Poller) State() State { return State(p.state.Load()) }

func (p *Poller) setState(s State) {
	if prev := State(p.state.Swap(int32(s))); prev != s {
		p.logger.Info("state change", "from", prev, "to", s)
	}
}

// Info returns the controller description once classification finished.
func (p *Poller) Info() (device.ControllerInfo, bool) {
	p.infoMu.RLock()
	defer p.infoMu.RUnlock()
	return p.info, p.ready
}

func (p *Poller) publishInfo(ci device.ControllerInfo) {
	p.infoMu.Lock()
	defer p.infoMu.Unlock()
	p.info = ci
	p.ready = true
}

// errNoClient reports that the transport was dropped, typically by a
// cancellation that landed mid-cycle.
var errNoClient = &modbus.IOFailure{Kind: modbus.FailureClosed, Op: "poll", Err: errors.New("connection closed")}

func (p *Poller) currentClient() (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil, errNoClient
	}
	return p.client, nil
}

func (p *Poller) setClient(c Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = c
}

// disconnect closes the transport. Safe to call repeatedly and from any goroutine.
func (p *Poller) disconnect() {
	p.mu.Lock()
	c := p.client
	p.client = nil
	p.mu.Unlock()

	if c != nil {
		if err := c.Close(); err != nil {
			p.logger.Debug("close failed", "err", err)
		}
	}
}
