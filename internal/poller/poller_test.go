package poller

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/events"
	"github.com/tamzrod/classic-monitor/internal/logcache"
	"github.com/tamzrod/classic-monitor/internal/modbus"
	"github.com/tamzrod/classic-monitor/internal/status"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func newTestPoller(t *testing.T, d *fakeDevice, opts ...Option) (*Poller, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	p, err := New(Config{Endpoint: testEP, Interval: 10 * time.Millisecond}, d.dialer(), rec, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, rec
}

func lastReadings(t *testing.T, rec *events.Recorder) *device.Readings {
	t.Helper()
	evs := rec.OfType(events.TypeReadings)
	if len(evs) == 0 {
		t.Fatalf("no readings published")
	}
	return evs[len(evs)-1].Readings
}

func TestNew_Validation(t *testing.T) {
	d := newFakeDevice()
	if _, err := New(Config{}, d.dialer(), nil); err == nil {
		t.Fatalf("expected error for invalid endpoint")
	}
	if _, err := New(Config{Endpoint: testEP}, nil, nil); err == nil {
		t.Fatalf("expected error for missing dialer")
	}
	p, err := New(Config{Endpoint: testEP}, d.dialer(), nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if p.cfg.Interval != DefaultInterval {
		t.Fatalf("interval=%v want %v", p.cfg.Interval, DefaultInterval)
	}
	if p.State() != Disconnected {
		t.Fatalf("state=%v want disconnected", p.State())
	}
}

func TestPollOnce_ClassifiesClassic(t *testing.T) {
	d := classicDevice()
	p, rec := newTestPoller(t, d)

	if _, ok := p.Info(); ok {
		t.Fatalf("info visible before classification")
	}
	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if p.State() != Polling {
		t.Fatalf("state=%v want polling", p.State())
	}

	info, ok := p.Info()
	if !ok {
		t.Fatalf("info not published")
	}
	if info.Type != device.Classic {
		t.Fatalf("type=%v want Classic", info.Type)
	}
	if info.Model != "Classic 5 (rev 1)" {
		t.Fatalf("model=%q", info.Model)
	}
	if want := time.Date(2014, 12, 15, 0, 0, 0, 0, time.UTC); !info.BuildDate.Equal(want) {
		t.Fatalf("build date=%v want %v", info.BuildDate, want)
	}

	r := lastReadings(t, rec)
	want := map[device.RegisterName]float64{
		device.BatVoltage:      24.1,
		device.PVVoltage:       54.2,
		device.BatCurrent:      15.2,
		device.EnergyToday:     3.7,
		device.Power:           450,
		device.ChargeState:     4,
		device.ConnectionState: 1,
	}
	for n, w := range want {
		if got := r.Float(n); !approx(got, w) {
			t.Fatalf("%s=%v want %v", n, got, w)
		}
	}

	reach := rec.OfType(events.TypeReachable)
	if len(reach) != 1 || !reach[0].Reachable || reach[0].Endpoint != testEP {
		t.Fatalf("reachable events=%+v", reach)
	}
}

func TestPollOnce_ClassicIdentity(t *testing.T) {
	d := classicDevice()
	d.set(device.ClassicUnitName, 0x4F48, 0x454D, 0, 0) // "HOME"
	d.set(device.ClassicNominalBattery, 48)
	d.set(device.ClassicFirmware, 1871, 0, 1412, 0)
	d.set(device.WhizBangJrAddress, make([]uint16, device.WhizBangJrBlockLength)...)
	d.set(device.WhizBangJrAddress+10, 0xFFF6) // -1.0 A through the shunt
	p, rec := newTestPoller(t, d)

	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	info, _ := p.Info()
	if info.UnitName != "HOME" {
		t.Fatalf("unit name=%q", info.UnitName)
	}
	if info.NominalBatteryVolts != 48 {
		t.Fatalf("nominal battery=%v", info.NominalBatteryVolts)
	}
	if info.AppVersion != "1871" || info.NetVersion != "1412" {
		t.Fatalf("firmware=%s/%s", info.AppVersion, info.NetVersion)
	}
	if !info.HasWhizBangJr {
		t.Fatalf("expected WhizBangJr")
	}

	r := lastReadings(t, rec)
	if got := r.Float(device.BatCurrent); !approx(got, -1.0) {
		t.Fatalf("BatCurrent=%v want shunt current -1.0", got)
	}
	if v, ok := r.Get(device.BiDirectional); !ok || !v.Bool() {
		t.Fatalf("BiDirectional not set")
	}
}

func TestPollOnce_ClassifiesTriStar(t *testing.T) {
	d := tristarDevice()
	p, rec := newTestPoller(t, d)

	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	info, _ := p.Info()
	if info.Type != device.TriStar || info.UnitName != device.TriStarUnitName {
		t.Fatalf("info=%+v", info)
	}
	if info.Model != "" || info.HasWhizBangJr {
		t.Fatalf("classic fields leaked into TriStar info: %+v", info)
	}

	r := lastReadings(t, rec)
	if got := r.Float(device.BatVoltage); !approx(got, 24.0) {
		t.Fatalf("BatVoltage=%v want 24.0", got)
	}
	if got := r.Float(device.ChargeState); got != 5 {
		t.Fatalf("ChargeState=%v want 5", got)
	}
	if got := r.ChargeStateDescription(); got != "MPPT" {
		t.Fatalf("charge state description=%q want MPPT", got)
	}
	if len(d.reads(device.DailyLogFile, device.KWHourDaily)) != 0 {
		t.Fatalf("TriStar must not read logs")
	}
}

func TestPollOnce_UnknownDeviceDisconnects(t *testing.T) {
	d := newFakeDevice()
	reg := status.NewRegistry()
	p, rec := newTestPoller(t, d, WithRegistry(reg))

	err := p.PollOnce(context.Background())
	if err == nil {
		t.Fatalf("expected classification error")
	}
	if p.State() != Disconnected {
		t.Fatalf("state=%v want disconnected", p.State())
	}
	if d.closes != 1 {
		t.Fatalf("closes=%d want 1", d.closes)
	}

	r := lastReadings(t, rec)
	if r.Float(device.ConnectionState) != 0 || r.Float(device.ChargeState) != -1 {
		t.Fatalf("cleared readings not published")
	}
	reach := rec.OfType(events.TypeReachable)
	if len(reach) != 1 || reach[0].Reachable {
		t.Fatalf("reachable events=%+v", reach)
	}
	if s, ok := reg.Get(testEP); !ok || s.Health != status.HealthError {
		t.Fatalf("registry=%+v ok=%v", s, ok)
	}
}

func TestPollOnce_TransportFailureReconnects(t *testing.T) {
	d := tristarDevice()
	p, rec := newTestPoller(t, d)
	ctx := context.Background()

	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("first poll: %v", err)
	}

	timeout := &modbus.IOFailure{Kind: modbus.FailureTimeout, Op: "read", Err: errors.New("i/o timeout")}
	d.breakWith(timeout)
	err := p.PollOnce(ctx)
	if !modbus.IsTimeout(err) {
		t.Fatalf("err=%v want timeout", err)
	}
	if p.State() != Disconnected {
		t.Fatalf("state=%v want disconnected", p.State())
	}

	d.breakWith(nil)
	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("recovery poll: %v", err)
	}
	if p.State() != Polling {
		t.Fatalf("state=%v want polling", p.State())
	}
	if d.dialCount() != 2 {
		t.Fatalf("dials=%d want 2", d.dialCount())
	}

	var seq []bool
	for _, ev := range rec.OfType(events.TypeReachable) {
		seq = append(seq, ev.Reachable)
	}
	if len(seq) != 3 || !seq[0] || seq[1] || !seq[2] {
		t.Fatalf("reachable sequence=%v want [true false true]", seq)
	}
}

func TestPollOnce_DialFailure(t *testing.T) {
	d := newFakeDevice()
	d.dialErr = &modbus.IOFailure{Kind: modbus.FailureOther, Op: "dial", Err: errors.New("refused")}
	p, rec := newTestPoller(t, d)

	if err := p.PollOnce(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	if p.State() != Disconnected {
		t.Fatalf("state=%v", p.State())
	}
	if rec.Count(events.TypeReachable) != 1 {
		t.Fatalf("expected one unreachable event")
	}
}

func TestPollOnce_SlotsLimitConcurrency(t *testing.T) {
	d := tristarDevice()
	slots := make(chan struct{}, 1)
	slots <- struct{}{} // occupied by someone else
	p, _ := newTestPoller(t, d, WithSlots(slots))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.PollOnce(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
	if d.dialCount() != 0 {
		t.Fatalf("poller ran without a slot")
	}

	<-slots
	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("slot not released")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	d := tristarDevice()
	p, rec := newTestPoller(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	if !rec.WaitFor(events.TypeReadings, 3, 2*time.Second) {
		t.Fatalf("poller produced no readings")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	if p.State() != Stopped {
		t.Fatalf("state=%v want stopped", p.State())
	}

	n := len(rec.Events())
	time.Sleep(30 * time.Millisecond)
	if len(rec.Events()) != n {
		t.Fatalf("events after stop")
	}
	if err := p.PollOnce(context.Background()); err == nil {
		t.Fatalf("PollOnce after stop must fail")
	}
}

func TestRun_PublishesCachedLogs(t *testing.T) {
	d := tristarDevice()
	cache := logcache.NewMemory()
	e := device.NewLogEntry()
	e.Date = time.Now()
	e.Set(device.KWHourDaily, []float64{1, 2, 3})
	if err := cache.Put(device.DayLog.CacheKey(testEP), e); err != nil {
		t.Fatalf("Put: %v", err)
	}
	p, rec := newTestPoller(t, d, WithCache(cache))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	if !rec.WaitFor(events.TypeLogs, 1, 2*time.Second) {
		t.Fatalf("cached log not published")
	}
	cancel()
	<-done

	logs := rec.OfType(events.TypeLogs)
	if logs[0].Log != device.DayLog || len(logs[0].Entry.Get(device.KWHourDaily)) != 3 {
		t.Fatalf("log event=%+v", logs[0])
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		Disconnected: "disconnected",
		Classifying:  "classifying",
		Polling:      "polling",
		Stopped:      "stopped",
		State(9):     "unknown",
	} {
		if s.String() != want {
			t.Fatalf("%d: %q want %q", s, s.String(), want)
		}
	}
}

// droppingClient drops the poller's transport after every file read, the
// way a cancellation landing between two reads does.
type droppingClient struct {
	Client
	drop func()
}

func (c *droppingClient) ReadFileTransfer(offset, category, file uint16) (*modbus.FileTransferResponse, error) {
	resp, err := c.Client.ReadFileTransfer(offset, category, file)
	c.drop()
	return resp, err
}

func TestPollOnce_TransportDroppedBetweenLogReads(t *testing.T) {
	d := classicDevice()
	setDayLogs(d, 300)
	rec := &events.Recorder{}
	var p *Poller
	dial := func(ctx context.Context) (Client, error) {
		c, err := d.dialer()(ctx)
		if err != nil {
			return nil, err
		}
		return &droppingClient{Client: c, drop: func() { p.disconnect() }}, nil
	}
	p, err := New(Config{Endpoint: testEP, Interval: 10 * time.Millisecond}, dial, rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = p.PollOnce(context.Background())
	if !modbus.IsClosed(err) {
		t.Fatalf("err=%v want closed", err)
	}
	if p.State() != Disconnected {
		t.Fatalf("state=%v want disconnected", p.State())
	}
	if got := len(d.reads(device.DailyLogFile, device.KWHourDaily)); got != 1 {
		t.Fatalf("reads=%d want 1", got)
	}
}

func TestPollOnce_ClassifyWithoutTransport(t *testing.T) {
	d := classicDevice()
	p, _ := newTestPoller(t, d)
	p.setState(Classifying)

	if err := p.PollOnce(context.Background()); !modbus.IsClosed(err) {
		t.Fatalf("err=%v want closed", err)
	}
	if p.State() != Disconnected {
		t.Fatalf("state=%v want disconnected", p.State())
	}
	if _, ready := p.Info(); ready {
		t.Fatalf("classified without a transport")
	}
}

func TestRun_CancelInsideDial(t *testing.T) {
	d := classicDevice()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dial := func(ctx context.Context) (Client, error) {
		c, err := d.dialer()(ctx)
		cancel()
		return c, err
	}
	rec := &events.Recorder{}
	p, err := New(Config{Endpoint: testEP, Interval: 10 * time.Millisecond}, dial, rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	if p.State() != Stopped {
		t.Fatalf("state=%v want stopped", p.State())
	}
	if n := len(rec.OfType(events.TypeReadings)); n != 0 {
		t.Fatalf("readings published after cancel: %d", n)
	}
	d.mu.Lock()
	closes := d.closes
	d.mu.Unlock()
	if closes != 1 {
		t.Fatalf("closes=%d want 1", closes)
	}
}

func TestPollOnce_LogsRemoteAddress(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p, _ := newTestPoller(t, tristarDevice(), WithLogger(logger))

	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if !strings.Contains(buf.String(), "remote=fake:502") {
		t.Fatalf("connect not logged with the remote address:\n%s", buf.String())
	}
}
