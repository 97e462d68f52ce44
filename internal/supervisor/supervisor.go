// internal/supervisor/supervisor.go
//
// Package supervisor owns the set of running pollers. Controllers come from
// configuration or from discovery; each runs in its own goroutine and all of
// them share a fixed number of worker slots.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/events"
	"github.com/tamzrod/classic-monitor/internal/logcache"
	"github.com/tamzrod/classic-monitor/internal/poller"
	"github.com/tamzrod/classic-monitor/internal/status"
)

const DefaultWorkers = 8

var (
	ErrExists   = errors.New("supervisor: controller already supervised")
	ErrNotFound = errors.New("supervisor: controller not supervised")
	ErrClosed   = errors.New("supervisor: shut down")
)

// Options configures a Supervisor.
type Options struct {
	Interval time.Duration
	Dial     poller.DialOptions
	Workers  int
	// AutoAdd starts a poller for every controller discovery reports.
	AutoAdd bool

	Cache    logcache.Cache
	Registry *status.Registry
	Logger   *slog.Logger

	// Dialer overrides the Modbus TCP dialer; used by tests.
	Dialer func(ep device.Endpoint) poller.Dialer
}

// Target is one controller the supervisor should run.
type Target struct {
	Endpoint device.Endpoint
	Name     string
}

// Controller is the public view of a supervised controller.
type Controller struct {
	Endpoint device.Endpoint       `json:"endpoint"`
	Name     string                `json:"name"`
	State    string                `json:"state"`
	Info     device.ControllerInfo `json:"info"`
	Ready    bool                  `json:"ready"`
	Health   status.Snapshot       `json:"health"`
	Static   bool                  `json:"static"`
}

type entry struct {
	p      *poller.Poller
	name   string
	static bool
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor runs pollers. It is also an events.Sink: discovery reports flow
// through it so found controllers can be added before being forwarded.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	sink   events.Sink
	opts   Options
	slots  chan struct{}
	logger *slog.Logger

	mu      sync.Mutex
	entries map[device.Endpoint]*entry
	closed  bool
}

// New creates a supervisor whose pollers live until ctx ends or Shutdown.
// sink receives every poller event.
func New(ctx context.Context, sink events.Sink, opts Options) *Supervisor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Interval <= 0 {
		opts.Interval = poller.DefaultInterval
	}
	if opts.Cache == nil {
		opts.Cache = logcache.NewMemory()
	}
	if opts.Registry == nil {
		opts.Registry = status.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		dial := opts.Dial
		opts.Dialer = func(ep device.Endpoint) poller.Dialer { return poller.NewDialer(ep, dial) }
	}
	if sink == nil {
		sink = events.Discard{}
	}

	cctx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		ctx:     cctx,
		cancel:  cancel,
		sink:    sink,
		opts:    opts,
		slots:   make(chan struct{}, opts.Workers),
		logger:  opts.Logger.With("component", "supervisor"),
		entries: make(map[device.Endpoint]*entry),
	}
}

// Registry returns the shared reachability registry.
func (s *Supervisor) Registry() *status.Registry { return s.opts.Registry }

// Add starts polling ep.
func (s *Supervisor) Add(t Target) error {
	return s.add(t, true)
}

func (s *Supervisor) add(t Target, static bool) error {
	if err := t.Endpoint.Validate(); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if e, ok := s.entries[t.Endpoint]; ok {
		if static && !e.static {
			// configuration adopts a discovered controller
			e.static = true
			if t.Name != "" {
				e.name = t.Name
			}
		}
		return ErrExists
	}

	p, err := poller.New(
		poller.Config{Endpoint: t.Endpoint, Interval: s.opts.Interval},
		s.opts.Dialer(t.Endpoint),
		s.sink,
		poller.WithCache(s.opts.Cache),
		poller.WithRegistry(s.opts.Registry),
		poller.WithSlots(s.slots),
		poller.WithLogger(s.opts.Logger),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{p: p, name: t.Name, static: static, cancel: cancel, done: make(chan struct{})}
	s.entries[t.Endpoint] = e

	go func() {
		defer close(e.done)
		p.Run(ctx)
	}()

	s.logger.Info("controller added", "controller", t.Endpoint.String(), "name", t.Name, "static", static)
	return nil
}

// Remove stops polling ep and waits for its poller to finish.
func (s *Supervisor) Remove(ep device.Endpoint) error {
	s.mu.Lock()
	e, ok := s.entries[ep]
	if ok {
		delete(s.entries, ep)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	e.cancel()
	<-e.done
	s.opts.Registry.Disable(ep)

	s.logger.Info("controller removed", "controller", ep.String())
	return nil
}

// Apply makes the configured set equal to targets. Discovered controllers
// are left alone.
func (s *Supervisor) Apply(targets []Target) error {
	want := make(map[device.Endpoint]Target, len(targets))
	for _, t := range targets {
		want[t.Endpoint] = t
	}

	s.mu.Lock()
	var stale []device.Endpoint
	for ep, e := range s.entries {
		if _, keep := want[ep]; !keep && e.static {
			stale = append(stale, ep)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, ep := range stale {
		if err := s.Remove(ep); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	for _, t := range targets {
		if err := s.Add(t); err != nil && !errors.Is(err, ErrExists) {
			errs = append(errs, fmt.Errorf("%s: %w", t.Endpoint, err))
		}
	}
	return errors.Join(errs...)
}

// Info returns what the poller of ep learned while classifying.
func (s *Supervisor) Info(ep device.Endpoint) (device.ControllerInfo, bool) {
	s.mu.Lock()
	e, ok := s.entries[ep]
	s.mu.Unlock()
	if !ok {
		return device.ControllerInfo{}, false
	}
	return e.p.Info()
}

// Controllers returns a snapshot of every supervised controller, ordered by
// endpoint.
func (s *Supervisor) Controllers() []Controller {
	s.mu.Lock()
	out := make([]Controller, 0, len(s.entries))
	for ep, e := range s.entries {
		c := Controller{
			Endpoint: ep,
			Name:     e.name,
			State:    e.p.State().String(),
			Static:   e.static,
		}
		c.Info, c.Ready = e.p.Info()
		if c.Name == "" {
			c.Name = c.Info.UnitName
		}
		if snap, ok := s.opts.Registry.Get(ep); ok {
			c.Health = snap
		}
		out = append(out, c)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Endpoint.String() < out[j].Endpoint.String()
	})
	return out
}

// Shutdown stops every poller and waits for them, or until ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	s.cancel()

	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			s.logger.Warn("timeout waiting for pollers to stop")
			return ctx.Err()
		}
	}
	return nil
}

// ---- events.Sink ----

func (s *Supervisor) OnReadings(ep device.Endpoint, r *device.Readings) { s.sink.OnReadings(ep, r) }

func (s *Supervisor) OnLogs(ep device.Endpoint, kind device.LogKind, e *device.LogEntry) {
	s.sink.OnLogs(ep, kind, e)
}

func (s *Supervisor) OnToast(key string) { s.sink.OnToast(key) }

func (s *Supervisor) OnReachable(ep device.Endpoint, ok bool) { s.sink.OnReachable(ep, ok) }

// OnControllerFound starts polling a discovered controller when AutoAdd is
// set, then forwards the event.
func (s *Supervisor) OnControllerFound(ep device.Endpoint, name string) {
	if s.opts.AutoAdd {
		err := s.add(Target{Endpoint: ep, Name: name}, false)
		if err != nil && !errors.Is(err, ErrExists) && !errors.Is(err, ErrClosed) {
			s.logger.Warn("auto-add failed", "controller", ep.String(), "err", err)
		}
	}
	s.sink.OnControllerFound(ep, name)
}
