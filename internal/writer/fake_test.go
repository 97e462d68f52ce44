package writer

import "errors"

// ---- fake endpoint client ----

type writeCall struct {
	unitID uint8
	addr   uint16
	regs   []uint16
}

type fakeEndpointClient struct {
	writes []writeCall
	fail   int // fail the next N writes

	lastRegs     []uint16
	lastRegsAddr uint16
}

func (f *fakeEndpointClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	if f.fail > 0 {
		f.fail--
		return errors.New("write refused")
	}
	cp := append([]uint16(nil), regs...)
	f.writes = append(f.writes, writeCall{unitID: unitID, addr: addr, regs: cp})
	f.lastRegs = cp
	f.lastRegsAddr = addr
	return nil
}

func (f *fakeEndpointClient) writesAt(addr uint16) []writeCall {
	var out []writeCall
	for _, w := range f.writes {
		if w.addr == addr {
			out = append(out, w)
		}
	}
	return out
}
