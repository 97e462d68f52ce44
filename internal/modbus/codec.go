// internal/modbus/codec.go
package modbus

import (
	"encoding/binary"
	"errors"
)

// ---- frame geometry ----

// HeaderLength is the size of the MBAP header (txn, proto, length).
const HeaderLength = 6

// MaxMessageLength bounds one ADU: MBAP(6) + unit(1) + function(1) + PDU(252).
const MaxMessageLength = 260

// maxBodyLength is the largest legal value of the MBAP length field.
const maxBodyLength = MaxMessageLength - HeaderLength

var (
	errBufferOverflow  = errors.New("modbus codec: buffer overflow")
	errBufferUnderflow = errors.New("modbus codec: buffer underflow")
)

// Header is the Modbus Application Protocol header.
type Header struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
}

// Encode writes the header into dst, which must hold HeaderLength bytes.
func (h Header) Encode(dst []byte) {
	binary.BigEndian.PutUint16(dst[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(dst[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(dst[4:6], h.Length)
}

// DecodeHeader parses the first HeaderLength bytes of src.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderLength {
		return Header{}, errBufferUnderflow
	}
	return Header{
		TransactionID: binary.BigEndian.Uint16(src[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(src[2:4]),
		Length:        binary.BigEndian.Uint16(src[4:6]),
	}, nil
}

// ---- registers ----

// Register is one 16-bit holding register as it travels on the wire.
type Register uint16

// RegisterFromBytes builds a register from its wire bytes.
func RegisterFromBytes(hi, lo byte) Register {
	return Register(uint16(hi)<<8 | uint16(lo))
}

// Unsigned returns the register as 0..65535.
func (r Register) Unsigned() uint16 { return uint16(r) }

// Signed returns the register reinterpreted as two's complement.
func (r Register) Signed() int16 { return int16(r) }

// Bytes returns the register bytes in wire order.
func (r Register) Bytes() [2]byte { return [2]byte{byte(r >> 8), byte(r)} }

// Swapped returns the register with its two bytes exchanged.
// Classic file-transfer words are stored low byte first.
func (r Register) Swapped() Register { return Register(uint16(r)<<8 | uint16(r)>>8) }

// Registers is a decoded register block.
type Registers []Register

// At returns register i or a malformed-response error when i is out of range.
func (rs Registers) At(i int) (Register, error) {
	if i < 0 || i >= len(rs) {
		return 0, &ProtocolException{Malformed: true, Err: errIndexOutOfRange(i, len(rs))}
	}
	return rs[i], nil
}

// ---- writer ----

// Writer appends big-endian values into a fixed buffer. The zero value is unusable; use NewWriter.
type Writer struct {
	buf []byte
	n   int
	err error
}

// NewWriter wraps buf. The writer never grows it.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Reset rewinds the writer over the same buffer.
func (w *Writer) Reset() {
	w.n = 0
	w.err = nil
}

func (w *Writer) grab(n int) []byte {
	if w.err != nil {
		return nil
	}
	if w.n+n > len(w.buf) {
		w.err = errBufferOverflow
		return nil
	}
	b := w.buf[w.n : w.n+n]
	w.n += n
	return b
}

func (w *Writer) WriteUint8(v uint8) {
	if b := w.grab(1); b != nil {
		b[0] = v
	}
}

func (w *Writer) WriteInt8(v int8) { w.WriteUint8(uint8(v)) }

func (w *Writer) WriteUint16(v uint16) {
	if b := w.grab(2); b != nil {
		binary.BigEndian.PutUint16(b, v)
	}
}

func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint32(v uint32) {
	if b := w.grab(4); b != nil {
		binary.BigEndian.PutUint32(b, v)
	}
}

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteBytes(p []byte) {
	if b := w.grab(len(p)); b != nil {
		copy(b, p)
	}
}

// Len reports the number of bytes written so far.
func (w *Writer) Len() int { return w.n }

// Bytes returns the written prefix of the buffer.
func (w *Writer) Bytes() []byte { return w.buf[:w.n] }

// Err returns the first overflow, if any.
func (w *Writer) Err() error { return w.err }

// ---- reader ----

// Reader consumes big-endian values from a byte slice without copying.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader wraps buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Reset points the reader at a new buffer.
func (r *Reader) Reset(buf []byte) {
	r.buf = buf
	r.off = 0
	r.err = nil
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = errBufferUnderflow
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) ReadUint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) ReadInt8() int8 { return int8(r.ReadUint8()) }

func (r *Reader) ReadUint16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) ReadInt16() int16 { return int16(r.ReadUint16()) }

func (r *Reader) ReadUint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *Reader) ReadInt32() int32 { return int32(r.ReadUint32()) }

func (r *Reader) ReadRegister() Register { return Register(r.ReadUint16()) }

// ReadBytes returns a view of the next n bytes.
func (r *Reader) ReadBytes(n int) []byte { return r.take(n) }

// Remaining reports unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Err returns the first underflow, if any.
func (r *Reader) Err() error { return r.err }
