package poller

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"sync"
	"time"

	mb "github.com/goburrow/modbus"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/modbus"
)

var testEP = device.NewEndpoint(netip.MustParseAddr("192.168.1.50"), 502)

type fileKey struct{ file, category uint16 }

// fakeDevice is an in-memory controller shared by every client it dials.
type fakeDevice struct {
	mu      sync.Mutex
	regs    map[uint16]uint16
	files   map[fileKey][]int16
	block   int
	broken  error // returned by every read while set
	dialErr error

	dials     int
	closes    int
	fileReads map[fileKey][]uint16 // offsets requested
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		regs:      make(map[uint16]uint16),
		files:     make(map[fileKey][]int16),
		block:     100,
		fileReads: make(map[fileKey][]uint16),
	}
}

func (d *fakeDevice) set(addr uint16, values ...uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range values {
		d.regs[addr+uint16(i)] = v
	}
}

func (d *fakeDevice) setFile(file uint16, cat device.Category, samples []int16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[fileKey{file, uint16(cat)}] = samples
}

func (d *fakeDevice) breakWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broken = err
}

func (d *fakeDevice) reads(file uint16, cat device.Category) []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint16(nil), d.fileReads[fileKey{file, uint16(cat)}]...)
}

func (d *fakeDevice) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDevice) dialer() Dialer {
	return func(ctx context.Context) (Client, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.dialErr != nil {
			return nil, d.dialErr
		}
		d.dials++
		return &fakeClient{dev: d}, nil
	}
}

type fakeClient struct {
	dev    *fakeDevice
	closed bool
}

var errClientClosed = &modbus.IOFailure{Kind: modbus.FailureClosed, Op: "read", Err: errors.New("closed")}

func (c *fakeClient) ReadMultipleRegisters(offset, count uint16) (modbus.Registers, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.closed {
		return nil, errClientClosed
	}
	if d.broken != nil {
		return nil, d.broken
	}
	out := make(modbus.Registers, count)
	for i := range out {
		v, ok := d.regs[offset+uint16(i)]
		if !ok {
			return nil, &modbus.ProtocolException{
				Function: mb.FuncCodeReadHoldingRegisters,
				Code:     mb.ExceptionCodeIllegalDataAddress,
				Err:      &mb.ModbusError{FunctionCode: mb.FuncCodeReadHoldingRegisters, ExceptionCode: mb.ExceptionCodeIllegalDataAddress},
			}
		}
		out[i] = modbus.Register(v)
	}
	return out, nil
}

func (c *fakeClient) ReadFileTransfer(offset, category, file uint16) (*modbus.FileTransferResponse, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.closed {
		return nil, errClientClosed
	}
	if d.broken != nil {
		return nil, d.broken
	}
	key := fileKey{file, category}
	d.fileReads[key] = append(d.fileReads[key], offset)

	samples, ok := d.files[key]
	if !ok {
		return nil, &modbus.ProtocolException{
			Function: modbus.FuncCodeReadFileRecord,
			Code:     mb.ExceptionCodeIllegalDataAddress,
			Err:      &mb.ModbusError{FunctionCode: modbus.FuncCodeReadFileRecord, ExceptionCode: mb.ExceptionCodeIllegalDataAddress},
		}
	}
	if int(offset) >= len(samples) {
		// the controller hangs up at the end of a log
		c.closed = true
		return nil, &modbus.IOFailure{Kind: modbus.FailureEOF, Op: "read", Err: io.EOF}
	}
	end := min(int(offset)+d.block, len(samples))
	words := make([]modbus.Register, 0, end-int(offset))
	for _, v := range samples[offset:end] {
		u := uint16(v)
		words = append(words, modbus.Register(u<<8|u>>8))
	}
	return modbus.NewFileTransferResponse(words), nil
}

func (c *fakeClient) RemoteAddr() string { return "fake:502" }

func (c *fakeClient) Close() error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !c.closed {
		c.closed = true
		d.closes++
	}
	return nil
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// classicDevice answers like a Classic with a live block and no logs.
func classicDevice() *fakeDevice {
	d := newFakeDevice()
	block := make([]uint16, device.ClassicBlockLength)
	block[0] = 0x0105
	block[1] = 2014
	block[2] = 0x0C0F
	block[14] = 241
	block[15] = 542
	block[16] = 152
	block[17] = 37
	block[18] = 450
	block[19] = 0x0400
	d.set(device.ClassicReference, block...)
	return d
}

// tristarDevice answers like a TriStar with v_pu=96 and i_pu=79.
func tristarDevice() *fakeDevice {
	d := newFakeDevice()
	block := make([]uint16, device.TriStarBlockLength)
	block[0], block[1], block[2], block[3] = 96, 0, 79, 0
	block[24] = 8192
	block[50] = 5
	d.set(device.TriStarReference, block...)
	return d
}
