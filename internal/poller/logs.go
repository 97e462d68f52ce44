// internal/poller/logs.go
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/events"
	"github.com/tamzrod/classic-monitor/internal/logcache"
	"github.com/tamzrod/classic-monitor/internal/modbus"
)

// ---- staleness ----

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dayLogStale: empty, or read before today's local midnight.
func dayLogStale(e *device.LogEntry, now time.Time) bool {
	return e.IsEmpty() || e.Date.Before(startOfDay(now))
}

// minuteLogStale: empty, or older than an hour.
func minuteLogStale(e *device.LogEntry, now time.Time) bool {
	return e.IsEmpty() || e.Date.Before(now.Add(-minuteLogMaxAge))
}

// ---- cache ----

// loadCachedLogs seeds both logs from the cache and republishes them.
func (p *Poller) loadCachedLogs(ctx context.Context) {
	for _, kind := range []device.LogKind{device.DayLog, device.MinuteLog} {
		e, err := p.cache.Get(kind.CacheKey(p.cfg.Endpoint))
		if err != nil {
			if !errors.Is(err, logcache.ErrMiss) {
				p.logger.Warn("log cache read failed", "log", kind, "err", err)
			}
			continue
		}
		p.setLog(kind, e)
		p.publish(ctx, events.Event{Type: events.TypeLogs, Log: kind, Entry: e.Clone()})
	}
}

func (p *Poller) logFor(kind device.LogKind) *device.LogEntry {
	if kind == device.MinuteLog {
		return p.minuteLog
	}
	return p.dayLog
}

func (p *Poller) setLog(kind device.LogKind, e *device.LogEntry) {
	if kind == device.MinuteLog {
		p.minuteLog = e
	} else {
		p.dayLog = e
	}
}

func (p *Poller) retryAt(kind device.LogKind) *time.Time {
	if kind == device.MinuteLog {
		return &p.minuteRetryAt
	}
	return &p.dayRetryAt
}

// ---- refresh ----

// refreshLogs re-reads whichever log is stale and not deferred.
// Device exceptions defer the log; transport failures fail the cycle.
func (p *Poller) refreshLogs(ctx context.Context) error {
	now := p.now()

	if dayLogStale(p.dayLog, now) && !now.Before(p.dayRetryAt) {
		if err := p.refresh(ctx, device.DayLog, p.readDayLog); err != nil {
			return err
		}
	}

	now = p.now()
	if minuteLogStale(p.minuteLog, now) && !now.Before(p.minuteRetryAt) {
		if err := p.refresh(ctx, device.MinuteLog, p.readMinuteLog); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) refresh(ctx context.Context, kind device.LogKind, read func(context.Context) (*device.LogEntry, error)) error {
	key := kind.CacheKey(p.cfg.Endpoint)

	e, err := read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("log read failed", "log", kind, "err", err)
		p.setLog(kind, nil)
		if derr := p.cache.Delete(key); derr != nil {
			p.logger.Warn("log cache delete failed", "log", kind, "err", derr)
		}
		*p.retryAt(kind) = p.now().Add(logRetryDelay)
		p.publish(ctx, events.Event{Type: events.TypeToast, Key: events.ToastLogReadFailed})

		if isException(err) {
			return nil
		}
		return err
	}

	e.Date = p.now()
	if e.IsEmpty() {
		// nothing logged yet; do not hammer the controller
		*p.retryAt(kind) = e.Date.Add(logRetryDelay)
	}
	p.setLog(kind, e)
	if err := p.cache.Put(key, e); err != nil {
		p.logger.Warn("log cache write failed", "log", kind, "err", err)
	}

	p.logger.Info("log updated", "log", kind, "entries", len(e.Get(kind.Categories()[0])))
	p.publish(ctx, events.Event{Type: events.TypeLogs, Log: kind, Entry: e.Clone()})

	toast := events.ToastDayLogsUpdated
	if kind == device.MinuteLog {
		toast = events.ToastMinuteLogsUpdated
	}
	p.publish(ctx, events.Event{Type: events.TypeToast, Key: toast})
	return nil
}

// ---- block reads ----

// readBlocks reads one category block by block, most recent first, until
// limit words arrived, the controller sends an empty block or it closes the
// connection. A close ends the log and the transport is replaced before
// returning.
func (p *Poller) readBlocks(ctx context.Context, cat device.Category, file uint16, limit int) ([][]int16, error) {
	var blocks [][]int16
	index := 0
	for index < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c, err := p.currentClient()
		if err != nil {
			return nil, err
		}
		resp, err := c.ReadFileTransfer(uint16(index), uint16(cat), file)
		if modbus.IsEOF(err) {
			if err := p.reconnect(ctx); err != nil {
				return nil, err
			}
			break
		}
		if err != nil {
			return nil, err
		}

		n := resp.WordCount()
		if n == 0 {
			break
		}
		block := make([]int16, n)
		for i := range block {
			v, err := resp.Value(i)
			if err != nil {
				return nil, err
			}
			block[i] = v
		}
		blocks = append(blocks, block)
		index += n
	}
	return blocks, nil
}

// ingest places each block into the sample array, reversing within the
// block. The result holds at most limit samples; a block straddling limit
// keeps its leading (most recent) words before it is reversed.
func ingest(blocks [][]int16, limit int, scale func(int16) float64) []float64 {
	total := 0
	for _, b := range blocks {
		total += len(b)
	}
	if total > limit {
		total = limit
	}

	out := make([]float64, total)
	index := 0
	for _, b := range blocks {
		if index >= total {
			break
		}
		b = b[:min(len(b), total-index)]
		count := len(b)
		for i, v := range b {
			out[(count-1-i)+index] = scale(v)
		}
		index += count
	}
	return out
}

func (p *Poller) readCategory(ctx context.Context, cat device.Category, file uint16, limit int) ([]float64, error) {
	blocks, err := p.readBlocks(ctx, cat, file, limit)
	if err != nil {
		return nil, err
	}
	return ingest(blocks, limit, cat.Scale), nil
}

// ---- day log ----

func (p *Poller) readDayLog(ctx context.Context) (*device.LogEntry, error) {
	e := device.NewLogEntry()
	for _, cat := range device.DayLog.Categories() {
		samples, err := p.readCategory(ctx, cat, device.DayLog.File(), device.DayLogCapacity)
		if err != nil {
			return nil, err
		}
		e.Set(cat, samples)
	}
	return e, nil
}

// ---- minute log ----

// minuteOfDay unpacks hour and minute from a TIMESTAMP_HIGH word.
func minuteOfDay(raw int16) int {
	u := uint16(raw)
	minute := int(u & 0x3F)
	hour := int((u >> 6) & 0x1F)
	return hour*60 + minute
}

// requiredEntries walks the timestamps (most recent first) and returns how
// many entries span at most one day.
func requiredEntries(stamps []int16) int {
	sum := 0
	for k := 1; k < len(stamps); k++ {
		prev := minuteOfDay(stamps[k-1])
		next := minuteOfDay(stamps[k])
		gap := ((prev-next)%device.MinuteLogCapacity + device.MinuteLogCapacity) % device.MinuteLogCapacity
		sum += gap
		if sum > device.MinuteLogCapacity {
			return k
		}
	}
	return len(stamps)
}

func (p *Poller) readMinuteLog(ctx context.Context) (*device.LogEntry, error) {
	blocks, err := p.readBlocks(ctx, device.TimestampHighMinute, device.MinuteLog.File(), device.MinuteLogCapacity)
	if err != nil {
		return nil, err
	}
	var stamps []int16
	for _, b := range blocks {
		stamps = append(stamps, b...)
	}
	required := requiredEntries(stamps)

	e := device.NewLogEntry()
	if required == 0 {
		return e, nil
	}
	e.Set(device.TimestampHighMinute, ingest(blocks, required, func(v int16) float64 {
		return float64(minuteOfDay(v))
	}))

	for _, cat := range device.MinuteLog.Categories() {
		samples, err := p.readCategory(ctx, cat, device.MinuteLog.File(), required)
		if err != nil {
			return nil, err
		}
		e.Set(cat, samples)
	}

	// every series must cover the same minutes
	n := required
	for _, s := range e.Samples {
		n = min(n, len(s))
	}
	for c, s := range e.Samples {
		e.Samples[c] = s[:n]
	}
	return e, nil
}
