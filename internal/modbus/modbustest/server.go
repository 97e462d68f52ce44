// internal/modbus/modbustest/server.go
//
// Package modbustest provides a minimal Modbus TCP server that plays a charge
// controller in tests: sparse holding registers, file-record logs that end
// with a connection close, and injectable faults. It also accepts multiple
// register writes, so it doubles as a mirror memory server.
package modbustest

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	mb "github.com/goburrow/modbus"
)

const funcReadFileRecord = 0x14

type fileKey struct {
	file     uint16
	category uint16
}

// Server is a Modbus TCP server for tests.
type Server struct {
	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	holding   map[uint16]uint16
	files     map[fileKey][]uint16
	blockSize int
	requests  map[byte]int
	conns     []net.Conn

	// StallAfterHeader makes the next N responses send their MBAP header and
	// then nothing until the connection is closed.
	StallAfterHeader atomic.Int32

	// BadTransactionID makes the next N responses carry a wrong transaction id.
	BadTransactionID atomic.Int32

	accepted atomic.Int32
}

// NewServer constructs an empty server. Unset registers answer with
// exception 2 (illegal data address).
func NewServer() *Server {
	return &Server{
		holding:   make(map[uint16]uint16),
		files:     make(map[fileKey][]uint16),
		blockSize: 100,
		requests:  make(map[byte]int),
		quit:      make(chan struct{}),
	}
}

// Start listens on an ephemeral loopback port.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Port returns the listening TCP port.
func (s *Server) Port() uint16 { return uint16(s.listener.Addr().(*net.TCPAddr).Port) }

// SetRegisters stores values starting at addr.
func (s *Server) SetRegisters(addr uint16, values ...uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range values {
		s.holding[addr+uint16(i)] = v
	}
}

// Register returns the holding register at addr.
func (s *Server) Register(addr uint16) (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.holding[addr]
	return v, ok
}

// SetFile stores the raw words of one log category, most recent first.
func (s *Server) SetFile(file, category uint16, words []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileKey{file, category}] = append([]uint16(nil), words...)
}

// SetBlockSize sets how many words one file-record response carries.
func (s *Server) SetBlockSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockSize = n
}

// Requests returns how many requests with function fc were served.
func (s *Server) Requests(fc byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[fc]
}

// Accepted returns how many connections were accepted.
func (s *Server) Accepted() int { return int(s.accepted.Load()) }

// Close stops the listener and drops every connection.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.mu.Lock()
		for _, c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// LogWord encodes a signed log sample the way the controller stores it:
// low byte first.
func LogWord(v int16) uint16 {
	u := uint16(v)
	return u<<8 | u>>8
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			continue
		}
		s.accepted.Add(1)

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		length := binary.BigEndian.Uint16(header[4:6])
		if length < 2 {
			return
		}
		unitID := header[6]
		body := make([]byte, int(length)-1)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		req := mb.ProtocolDataUnit{FunctionCode: body[0], Data: body[1:]}
		resp, ok := s.handlePDU(req)
		if !ok {
			// end of log: the controller drops the connection
			return
		}

		tid := binary.BigEndian.Uint16(header[0:2])
		if s.BadTransactionID.Load() > 0 {
			s.BadTransactionID.Add(-1)
			tid++
		}

		out := make([]byte, 8+len(resp.Data))
		binary.BigEndian.PutUint16(out[0:2], tid)
		binary.BigEndian.PutUint16(out[2:4], 0)
		binary.BigEndian.PutUint16(out[4:6], uint16(2+len(resp.Data)))
		out[6] = unitID
		out[7] = resp.FunctionCode
		copy(out[8:], resp.Data)

		if s.StallAfterHeader.Load() > 0 {
			s.StallAfterHeader.Add(-1)
			_, _ = conn.Write(out[:6])
			// hold the connection open until the client gives up
			_, _ = io.Copy(io.Discard, conn)
			return
		}

		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (s *Server) handlePDU(req mb.ProtocolDataUnit) (mb.ProtocolDataUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.FunctionCode]++

	switch req.FunctionCode {
	case mb.FuncCodeReadHoldingRegisters:
		return s.readRegisters(req), true
	case mb.FuncCodeWriteMultipleRegisters:
		return s.writeRegisters(req), true
	case funcReadFileRecord:
		return s.readFileRecord(req)
	default:
		return exception(req.FunctionCode, mb.ExceptionCodeIllegalFunction), true
	}
}

func (s *Server) readRegisters(req mb.ProtocolDataUnit) mb.ProtocolDataUnit {
	if len(req.Data) < 4 {
		return exception(req.FunctionCode, mb.ExceptionCodeIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(req.Data[0:2])
	qty := binary.BigEndian.Uint16(req.Data[2:4])
	if qty == 0 || qty > 125 {
		return exception(req.FunctionCode, mb.ExceptionCodeIllegalDataValue)
	}

	data := make([]byte, 1+2*int(qty))
	data[0] = byte(2 * qty)
	for i := 0; i < int(qty); i++ {
		v, ok := s.holding[start+uint16(i)]
		if !ok {
			return exception(req.FunctionCode, mb.ExceptionCodeIllegalDataAddress)
		}
		binary.BigEndian.PutUint16(data[1+2*i:], v)
	}
	return mb.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: data}
}

func (s *Server) writeRegisters(req mb.ProtocolDataUnit) mb.ProtocolDataUnit {
	if len(req.Data) < 5 {
		return exception(req.FunctionCode, mb.ExceptionCodeIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(req.Data[0:2])
	qty := binary.BigEndian.Uint16(req.Data[2:4])
	n := int(req.Data[4])
	if qty == 0 || qty > 123 || n != 2*int(qty) || len(req.Data) < 5+n {
		return exception(req.FunctionCode, mb.ExceptionCodeIllegalDataValue)
	}
	for i := 0; i < int(qty); i++ {
		s.holding[start+uint16(i)] = binary.BigEndian.Uint16(req.Data[5+2*i:])
	}
	return mb.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: append([]byte(nil), req.Data[0:4]...)}
}

func (s *Server) readFileRecord(req mb.ProtocolDataUnit) (mb.ProtocolDataUnit, bool) {
	if len(req.Data) < 8 || req.Data[1] != 6 {
		return exception(req.FunctionCode, mb.ExceptionCodeIllegalDataValue), true
	}
	file := binary.BigEndian.Uint16(req.Data[2:4])
	record := int(binary.BigEndian.Uint16(req.Data[4:6]))
	category := binary.BigEndian.Uint16(req.Data[6:8])

	words, ok := s.files[fileKey{file, category}]
	if !ok {
		return exception(req.FunctionCode, mb.ExceptionCodeIllegalDataAddress), true
	}
	if record >= len(words) {
		return mb.ProtocolDataUnit{}, false
	}
	end := record + s.blockSize
	if end > len(words) {
		end = len(words)
	}
	block := words[record:end]

	subLen := 1 + 2*len(block)
	data := make([]byte, 3+2*len(block))
	data[0] = byte(subLen + 1)
	data[1] = byte(subLen)
	data[2] = 6
	for i, w := range block {
		binary.BigEndian.PutUint16(data[3+2*i:], w)
	}
	return mb.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: data}, true
}

func exception(fc byte, code byte) mb.ProtocolDataUnit {
	return mb.ProtocolDataUnit{FunctionCode: fc | 0x80, Data: []byte{code}}
}
