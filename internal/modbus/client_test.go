package modbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tamzrod/classic-monitor/internal/modbus/modbustest"
)

func startServer(t *testing.T) *modbustest.Server {
	t.Helper()
	srv := modbustest.NewServer()
	if err := srv.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func dialServer(t *testing.T, srv *modbustest.Server) *Client {
	t.Helper()
	c, err := DialClient(context.Background(), Config{
		Address: srv.Addr(),
		UnitID:  1,
		Timeout: time.Second,
		Retries: 1,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestReadMultipleRegisters(t *testing.T) {
	srv := startServer(t)
	srv.SetRegisters(4100, 0x0105, 2014, 0x0C0F, 0)
	c := dialServer(t, srv)

	regs, err := c.ReadMultipleRegisters(4100, 4)
	if err != nil {
		t.Fatalf("read err=%v", err)
	}
	want := []uint16{0x0105, 2014, 0x0C0F, 0}
	for i, w := range want {
		if regs[i].Unsigned() != w {
			t.Fatalf("reg[%d]=%d want %d", i, regs[i], w)
		}
	}
	if _, err := regs.At(4); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("At(4) err=%v, want malformed", err)
	}
}

func TestReadMultipleRegisters_CountRange(t *testing.T) {
	c := &Client{}
	if _, err := c.ReadMultipleRegisters(0, 0); err == nil {
		t.Fatalf("expected error for zero count")
	}
	if _, err := c.ReadMultipleRegisters(0, 126); err == nil {
		t.Fatalf("expected error for count above 125")
	}
}

func TestReadMultipleRegisters_Exception(t *testing.T) {
	srv := startServer(t)
	c := dialServer(t, srv)

	_, err := c.ReadMultipleRegisters(4100, 4)
	var pe *ProtocolException
	if !errors.As(err, &pe) || pe.Malformed {
		t.Fatalf("err=%v, want device exception", err)
	}

	// an exception leaves the connection usable
	srv.SetRegisters(0, 96, 0, 79, 0)
	if _, err := c.ReadMultipleRegisters(0, 4); err != nil {
		t.Fatalf("read after exception err=%v", err)
	}
}

func TestReadFileTransfer_BlocksThenEOF(t *testing.T) {
	srv := startServer(t)
	words := make([]uint16, 150)
	for i := range words {
		words[i] = modbustest.LogWord(int16(i + 1))
	}
	srv.SetFile(1, 0, words)
	c := dialServer(t, srv)

	first, err := c.ReadFileTransfer(0, 0, 1)
	if err != nil {
		t.Fatalf("first block err=%v", err)
	}
	if first.WordCount() != 100 {
		t.Fatalf("first block words=%d want 100", first.WordCount())
	}
	v, err := first.Value(0)
	if err != nil || v != 1 {
		t.Fatalf("value(0)=%d err=%v", v, err)
	}

	second, err := c.ReadFileTransfer(100, 0, 1)
	if err != nil {
		t.Fatalf("second block err=%v", err)
	}
	if second.WordCount() != 50 {
		t.Fatalf("second block words=%d want 50", second.WordCount())
	}
	if v, _ := second.Value(49); v != 150 {
		t.Fatalf("value(49)=%d want 150", v)
	}
	if _, err := second.Value(50); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("value(50) err=%v, want malformed", err)
	}

	_, err = c.ReadFileTransfer(150, 0, 1)
	if !IsEOF(err) {
		t.Fatalf("past end err=%v, want EOF", err)
	}
}

func TestFileTransferResponse_DecodeRejectsBadReference(t *testing.T) {
	var resp FileTransferResponse
	err := resp.decode(NewReader([]byte{3, 2, 5, 0, 0}))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err=%v, want malformed", err)
	}
}

func TestReadRegistersResponse_DecodeRejectsCountMismatch(t *testing.T) {
	var resp ReadRegistersResponse
	err := resp.decode(NewReader([]byte{4, 0, 1}))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err=%v, want malformed", err)
	}
}
