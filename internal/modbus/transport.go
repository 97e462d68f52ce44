// internal/modbus/transport.go
package modbus

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	DefaultTimeout = 3 * time.Second
	DefaultRetries = 3
	DefaultUnitID  = 1

	retryBackoff = time.Second
)

// Config is the transport configuration for one controller.
type Config struct {
	Address string // host:port
	UnitID  byte
	Timeout time.Duration // per-read socket timeout
	Retries int           // connection establishment attempts

	// DialContext overrides net.Dialer; used by tests.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)
}

// Transport owns one TCP connection to one controller.
// Exactly one goroutine may drive it; Close may be called from any goroutine.
type Transport struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool

	unitID  byte
	timeout time.Duration

	tid     uint16
	lastTID uint16

	wbuf [MaxMessageLength]byte
	rbuf [MaxMessageLength]byte
	w    Writer
	r    Reader
}

// Dial connects to cfg.Address, retrying establishment up to cfg.Retries times.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.Address == "" {
		return nil, errors.New("modbus transport: address required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	dial := cfg.DialContext
	if dial == nil {
		d := &net.Dialer{Timeout: cfg.Timeout}
		dial = d.DialContext
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Retries; attempt++ {
		conn, err := dial(ctx, "tcp", cfg.Address)
		if err == nil {
			return NewTransport(conn, cfg.UnitID, cfg.Timeout), nil
		}
		lastErr = err

		if attempt == cfg.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return nil, fmt.Errorf("modbus transport: connect %s after %d attempts: %w",
		cfg.Address, cfg.Retries, classify("connect", lastErr))
}

// NewTransport wraps an established connection.
func NewTransport(conn net.Conn, unitID byte, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &Transport{
		conn:    conn,
		unitID:  unitID,
		timeout: timeout,
	}
	t.w.buf = t.wbuf[:]

	// Randomize starting TID (best effort).
	var b [2]byte
	if _, err := rand.Read(b[:]); err == nil {
		t.tid = binary.BigEndian.Uint16(b[:])
	}
	return t
}

func (t *Transport) connection() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.conn == nil {
		return nil, &IOFailure{Kind: FailureClosed, Op: "io"}
	}
	return t.conn, nil
}

func (t *Transport) nextTID() uint16 {
	t.tid++
	return t.tid
}

// WriteMessage frames req as one ADU and writes it in a single call.
//
// MBAP:
//
//	TID(2) PID(2=0) LEN(2) UID(1)
//
// PDU:
//
//	FC(1) body
func (t *Transport) WriteMessage(req Request) (uint16, error) {
	conn, err := t.connection()
	if err != nil {
		return 0, err
	}

	t.w.Reset()
	t.w.grab(HeaderLength) // header is patched once the body length is known
	t.w.WriteUint8(t.unitID)
	t.w.WriteUint8(req.FunctionCode())
	req.encode(&t.w)
	if err := t.w.Err(); err != nil {
		return 0, fmt.Errorf("modbus transport: encode request: %w", err)
	}

	tid := t.nextTID()
	Header{
		TransactionID: tid,
		ProtocolID:    0,
		Length:        uint16(t.w.Len() - HeaderLength),
	}.Encode(t.wbuf[:HeaderLength])

	if err := conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, classify("write", err)
	}
	if _, err := conn.Write(t.w.Bytes()); err != nil {
		return 0, classify("write", err)
	}
	t.lastTID = tid
	return tid, nil
}

// ReadResponse reads one ADU and decodes it into the response type selected
// by its function code. A transaction id that does not match the last request
// closes the transport.
func (t *Transport) ReadResponse() (Response, error) {
	conn, err := t.connection()
	if err != nil {
		return nil, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, classify("read", err)
	}

	if _, err := io.ReadFull(conn, t.rbuf[:HeaderLength]); err != nil {
		return nil, classify("read header", err)
	}
	h, _ := DecodeHeader(t.rbuf[:HeaderLength])

	if h.Length == 0 {
		return nil, malformed("mbap length is zero")
	}
	if h.Length < 2 || int(h.Length) > maxBodyLength {
		return nil, malformed("mbap length %d out of range", h.Length)
	}

	body := t.rbuf[HeaderLength : HeaderLength+int(h.Length)]
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, classify("read body", err)
	}

	if h.TransactionID != t.lastTID {
		_ = t.Close()
		return nil, &IOFailure{
			Kind: FailureOther,
			Op:   "read",
			Err:  fmt.Errorf("transaction id mismatch: got=%d want=%d", h.TransactionID, t.lastTID),
		}
	}
	if h.ProtocolID != 0 {
		return nil, malformed("protocol id %d", h.ProtocolID)
	}

	t.r.Reset(body)
	unit := t.r.ReadUint8()
	function := t.r.ReadUint8()
	if unit != t.unitID {
		return nil, malformed("unit id mismatch: got=%d want=%d", unit, t.unitID)
	}

	if function&0x80 != 0 {
		code := t.r.ReadUint8()
		if t.r.Err() != nil {
			return nil, malformed("exception response without code")
		}
		return nil, newException(function&0x7F, code)
	}

	resp, err := newResponse(function)
	if err != nil {
		return nil, err
	}
	if err := resp.decode(&t.r); err != nil {
		return nil, err
	}
	return resp, nil
}

// Execute writes req and reads its response.
func (t *Transport) Execute(req Request) (Response, error) {
	if _, err := t.WriteMessage(req); err != nil {
		return nil, err
	}
	resp, err := t.ReadResponse()
	if err != nil {
		return nil, err
	}
	if resp.FunctionCode() != req.FunctionCode() {
		return nil, malformed("function mismatch: got=0x%02x want=0x%02x", resp.FunctionCode(), req.FunctionCode())
	}
	return resp, nil
}

// RemoteAddr returns the peer address, or "" once closed.
func (t *Transport) RemoteAddr() string {
	conn, err := t.connection()
	if err != nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

// Close closes the connection. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
