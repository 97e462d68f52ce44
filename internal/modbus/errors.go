// internal/modbus/errors.go
package modbus

import (
	"errors"
	"fmt"
	"io"
	"net"

	mb "github.com/goburrow/modbus"
)

// FailureKind classifies transport failures.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureTimeout
	FailureEOF
	FailureClosed
)

func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureEOF:
		return "eof"
	case FailureClosed:
		return "closed"
	default:
		return "other"
	}
}

// ErrMalformedResponse matches any ProtocolException raised for a response
// that could not be decoded.
var ErrMalformedResponse = errors.New("modbus: malformed response")

// IOFailure is a transport-level failure. The connection is not usable for
// the current exchange; the caller decides whether to reconnect.
type IOFailure struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *IOFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("modbus %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("modbus %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *IOFailure) Unwrap() error { return e.Err }

// Code maps the failure kind to a gateway-style exception code for status reporting.
func (e *IOFailure) Code() uint16 {
	switch e.Kind {
	case FailureTimeout:
		return mb.ExceptionCodeGatewayTargetDeviceFailedToRespond
	default:
		return mb.ExceptionCodeGatewayPathUnavailable
	}
}

// ProtocolException is a well-formed frame carrying an error: either the
// device answered with an exception PDU, or the PDU could not be decoded.
type ProtocolException struct {
	Function  byte
	Code      byte
	Malformed bool
	Err       error
}

func newException(function, code byte) *ProtocolException {
	return &ProtocolException{
		Function: function,
		Code:     code,
		Err:      &mb.ModbusError{FunctionCode: function, ExceptionCode: code},
	}
}

func malformed(format string, args ...any) *ProtocolException {
	return &ProtocolException{Malformed: true, Err: fmt.Errorf(format, args...)}
}

func (e *ProtocolException) Error() string {
	if e.Malformed {
		return fmt.Sprintf("%v: %v", ErrMalformedResponse, e.Err)
	}
	return e.Err.Error()
}

func (e *ProtocolException) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMalformedResponse) match malformed exceptions.
func (e *ProtocolException) Is(target error) bool {
	return target == ErrMalformedResponse && e.Malformed
}

// ExceptionCode exposes the device exception code (0 for malformed frames).
func (e *ProtocolException) ExceptionCode() uint16 {
	if e.Malformed {
		return 0xFF
	}
	return uint16(e.Code)
}

func errIndexOutOfRange(i, n int) error {
	return fmt.Errorf("register index %d out of range [0,%d)", i, n)
}

// IsTimeout reports whether err is an IOFailure of kind Timeout.
func IsTimeout(err error) bool { return failureKind(err) == FailureTimeout }

// IsEOF reports whether err is an IOFailure of kind EOF.
func IsEOF(err error) bool { return failureKind(err) == FailureEOF }

// IsClosed reports whether err is an IOFailure of kind Closed.
func IsClosed(err error) bool { return failureKind(err) == FailureClosed }

func failureKind(err error) FailureKind {
	var f *IOFailure
	if errors.As(err, &f) {
		return f.Kind
	}
	return -1
}

// classify maps a raw socket error to an IOFailure.
func classify(op string, err error) *IOFailure {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &IOFailure{Kind: FailureEOF, Op: op, Err: err}
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return &IOFailure{Kind: FailureClosed, Op: op, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &IOFailure{Kind: FailureTimeout, Op: op, Err: err}
	}
	return &IOFailure{Kind: FailureOther, Op: op, Err: err}
}
