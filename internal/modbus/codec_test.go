package modbus

import (
	"errors"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{TransactionID: 0, ProtocolID: 0, Length: 0},
		{TransactionID: 1, ProtocolID: 0, Length: 6},
		{TransactionID: 0xFFFF, ProtocolID: 0x1234, Length: 254},
		{TransactionID: 0x8000, ProtocolID: 0xFFFF, Length: 0xFFFF},
	}

	for _, want := range cases {
		var buf [HeaderLength]byte
		want.Encode(buf[:])

		got, err := DecodeHeader(buf[:])
		if err != nil {
			t.Fatalf("DecodeHeader(%+v) err=%v", want, err)
		}
		if got != want {
			t.Fatalf("round trip: got=%+v want=%+v", got, want)
		}
	}
}

func TestDecodeHeader_Short(t *testing.T) {
	if _, err := DecodeHeader([]byte{0, 1, 0}); err == nil {
		t.Fatalf("expected error for short header")
	}
}

func TestRegisterProjections(t *testing.T) {
	for hi := 0; hi < 256; hi += 17 {
		for lo := 0; lo < 256; lo += 13 {
			r := RegisterFromBytes(byte(hi), byte(lo))

			want := hi<<8 | lo
			if int(r.Unsigned()) != want {
				t.Fatalf("unsigned(%d,%d)=%d want %d", hi, lo, r.Unsigned(), want)
			}

			signed := want
			if signed >= 0x8000 {
				signed -= 0x10000
			}
			if int(r.Signed()) != signed {
				t.Fatalf("signed(%d,%d)=%d want %d", hi, lo, r.Signed(), signed)
			}

			b := r.Bytes()
			if b[0] != byte(hi) || b[1] != byte(lo) {
				t.Fatalf("bytes(%d,%d)=%v", hi, lo, b)
			}
		}
	}
}

func TestRegisterSwapped(t *testing.T) {
	if got := Register(0x1234).Swapped(); got != 0x3412 {
		t.Fatalf("swapped=0x%04x want 0x3412", uint16(got))
	}
	// 0xFFFE swaps to 0xFEFF
	if got := Register(0xFFFE).Swapped().Signed(); got != -257 {
		t.Fatalf("swapped signed=%d want -257", got)
	}
}

func TestRegistersAt(t *testing.T) {
	rs := Registers{10, 20, 30}

	for i := range rs {
		v, err := rs.At(i)
		if err != nil {
			t.Fatalf("At(%d) err=%v", i, err)
		}
		if v != rs[i] {
			t.Fatalf("At(%d)=%d want %d", i, v, rs[i])
		}
	}

	for _, i := range []int{-1, 3, 100} {
		_, err := rs.At(i)
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("At(%d) err=%v, want malformed", i, err)
		}
	}
}

func TestWriterReader(t *testing.T) {
	var buf [16]byte
	w := NewWriter(buf[:])
	w.WriteUint8(0xAB)
	w.WriteInt8(-2)
	w.WriteUint16(0xBEEF)
	w.WriteInt16(-300)
	w.WriteUint32(0xDEADBEEF)
	w.WriteInt32(-70000)
	if err := w.Err(); err != nil {
		t.Fatalf("writer err=%v", err)
	}
	if w.Len() != 14 {
		t.Fatalf("len=%d want 14", w.Len())
	}

	r := NewReader(w.Bytes())
	if v := r.ReadUint8(); v != 0xAB {
		t.Fatalf("u8=%x", v)
	}
	if v := r.ReadInt8(); v != -2 {
		t.Fatalf("i8=%d", v)
	}
	if v := r.ReadUint16(); v != 0xBEEF {
		t.Fatalf("u16=%x", v)
	}
	if v := r.ReadInt16(); v != -300 {
		t.Fatalf("i16=%d", v)
	}
	if v := r.ReadUint32(); v != 0xDEADBEEF {
		t.Fatalf("u32=%x", v)
	}
	if v := r.ReadInt32(); v != -70000 {
		t.Fatalf("i32=%d", v)
	}
	if r.Remaining() != 0 || r.Err() != nil {
		t.Fatalf("remaining=%d err=%v", r.Remaining(), r.Err())
	}

	_ = r.ReadUint16()
	if r.Err() == nil {
		t.Fatalf("expected underflow")
	}
}

func TestWriterOverflow(t *testing.T) {
	var buf [3]byte
	w := NewWriter(buf[:])
	w.WriteUint16(1)
	w.WriteUint16(2)
	if w.Err() == nil {
		t.Fatalf("expected overflow")
	}
	if w.Len() != 2 {
		t.Fatalf("len=%d want 2", w.Len())
	}

	w.Reset()
	w.WriteUint8(9)
	if w.Err() != nil || w.Len() != 1 {
		t.Fatalf("reset: len=%d err=%v", w.Len(), w.Err())
	}
}
