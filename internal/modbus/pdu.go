// internal/modbus/pdu.go
package modbus

import (
	mb "github.com/goburrow/modbus"
)

// FuncCodeReadFileRecord is Modbus function 0x14. The Classic serves its
// historical logs through it.
const FuncCodeReadFileRecord = 0x14

// fileRecordReferenceType is the only reference type defined for 0x14.
const fileRecordReferenceType = 6

// maxRegistersPerRead is the protocol limit for function 0x03.
const maxRegistersPerRead = 125

// Request is a PDU body that knows its function code.
type Request interface {
	FunctionCode() byte
	encode(w *Writer)
}

// Response is a PDU body constructed by function code and decoded in place.
type Response interface {
	FunctionCode() byte
	decode(r *Reader) error
}

// newResponse dispatches on the function code of an incoming frame.
func newResponse(function byte) (Response, error) {
	switch function {
	case mb.FuncCodeReadHoldingRegisters:
		return &ReadRegistersResponse{}, nil
	case FuncCodeReadFileRecord:
		return &FileTransferResponse{}, nil
	default:
		return nil, malformed("unsupported function code 0x%02x", function)
	}
}

// ---- 0x03 read holding registers ----

type ReadRegistersRequest struct {
	Offset uint16
	Count  uint16
}

func (ReadRegistersRequest) FunctionCode() byte { return mb.FuncCodeReadHoldingRegisters }

func (q ReadRegistersRequest) encode(w *Writer) {
	w.WriteUint16(q.Offset)
	w.WriteUint16(q.Count)
}

type ReadRegistersResponse struct {
	Registers Registers
}

func (*ReadRegistersResponse) FunctionCode() byte { return mb.FuncCodeReadHoldingRegisters }

func (p *ReadRegistersResponse) decode(r *Reader) error {
	byteCount := int(r.ReadUint8())
	if r.Err() != nil {
		return malformed("read registers: missing byte count")
	}
	if byteCount%2 != 0 {
		return malformed("read registers: odd byte count %d", byteCount)
	}
	if byteCount != r.Remaining() {
		return malformed("read registers: byte count %d, payload %d", byteCount, r.Remaining())
	}
	p.Registers = make(Registers, byteCount/2)
	for i := range p.Registers {
		p.Registers[i] = r.ReadRegister()
	}
	return nil
}

// ---- 0x14 read file record ----

// ReadFileRecordRequest asks for one sub-record. The Classic interprets the
// record length slot as the log category to stream.
type ReadFileRecordRequest struct {
	File     uint16
	Record   uint16
	Category uint16
}

func (ReadFileRecordRequest) FunctionCode() byte { return FuncCodeReadFileRecord }

func (q ReadFileRecordRequest) encode(w *Writer) {
	w.WriteUint8(7) // one sub-request: ref(1) + file(2) + record(2) + length(2)
	w.WriteUint8(fileRecordReferenceType)
	w.WriteUint16(q.File)
	w.WriteUint16(q.Record)
	w.WriteUint16(q.Category)
}

// FileTransferResponse carries the words of one file-record block.
type FileTransferResponse struct {
	words Registers
}

// NewFileTransferResponse wraps already-decoded words.
func NewFileTransferResponse(words []Register) *FileTransferResponse {
	return &FileTransferResponse{words: words}
}

func (*FileTransferResponse) FunctionCode() byte { return FuncCodeReadFileRecord }

func (p *FileTransferResponse) decode(r *Reader) error {
	dataLen := int(r.ReadUint8())
	subLen := int(r.ReadUint8())
	refType := r.ReadUint8()
	if r.Err() != nil {
		return malformed("file record: truncated header")
	}
	if refType != fileRecordReferenceType {
		return malformed("file record: reference type %d", refType)
	}
	if subLen < 1 || dataLen != subLen+1 {
		return malformed("file record: data length %d, sub-response length %d", dataLen, subLen)
	}
	n := (subLen - 1) / 2
	if r.Remaining() < n*2 {
		return malformed("file record: %d words announced, %d bytes present", n, r.Remaining())
	}
	p.words = make(Registers, n)
	for i := range p.words {
		p.words[i] = r.ReadRegister()
	}
	return nil
}

// WordCount returns the number of words in the block.
func (p *FileTransferResponse) WordCount() int { return len(p.words) }

// Register returns word i as received.
func (p *FileTransferResponse) Register(i int) (Register, error) { return p.words.At(i) }

// Value returns word i decoded the way the Classic stores log samples:
// low byte first, signed.
func (p *FileTransferResponse) Value(i int) (int16, error) {
	w, err := p.words.At(i)
	if err != nil {
		return 0, err
	}
	return w.Swapped().Signed(), nil
}
