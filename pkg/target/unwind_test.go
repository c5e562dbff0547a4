package target

import (
	"testing"

	"github.com/dwarfdbg/dwarfdbg/pkg/dwarf/frame"
	"github.com/dwarfdbg/dwarfdbg/pkg/dwarf/op"
)

// fakeUnwindMemory serves fixed bytes for the saved-register reads a CFI
// "offset" rule issues, standing in for a real tracee's stack memory.
type fakeUnwindMemory struct {
	mem map[uint64]uint64 // addr -> little-endian uint64
}

func (f fakeUnwindMemory) ReadMemory(out []byte, addr uint64) (int, error) {
	v := f.mem[addr]
	for i := 0; i < len(out) && i < 8; i++ {
		out[i] = byte(v >> (8 * uint(i)))
	}
	return len(out), nil
}

// fakePlaceLookup maps a fixed set of address ranges to canned places.
type fakePlaceLookup struct {
	entries []struct {
		lo, hi              uint64
		file                string
		line                int
		funcName            string
		funcStart           uint64
	}
}

func (f fakePlaceLookup) LookupPlace(pc uint64) (file string, line int, funcName string, funcStartPC uint64, ok bool) {
	for _, e := range f.entries {
		if pc >= e.lo && pc < e.hi {
			return e.file, e.line, e.funcName, e.funcStart, true
		}
	}
	return "", 0, "", 0, false
}

func TestUnwindTwoFrames(t *testing.T) {
	cie := newTestCIE()
	innerCIE := &cie
	innerFDE := &frame.FDE{
		CIE:   innerCIE,
		Begin: 0x1000,
		End:   0x1010,
		// DW_CFA_def_cfa(reg=7 [rsp], offset=8); DW_CFA_offset(reg=16 [ret], factor 1)
		Instructions: []byte{0x0c, 0x07, 0x08, 0x80 | 16, 0x01},
	}
	outerFDE := &frame.FDE{
		CIE:   innerCIE,
		Begin: 0x5000,
		End:   0x5010,
		// DW_CFA_def_cfa(reg=7, offset=8), no saved return address: the walk
		// ends here.
		Instructions: []byte{0x0c, 0x07, 0x08},
	}
	tbl := frame.NewTable([]*frame.FDE{innerFDE, outerFDE})

	mem := fakeUnwindMemory{mem: map[uint64]uint64{0x2000: 0x5003}}
	u := NewUnwinder(tbl, mem)

	regs := op.NewDwarfRegisters(0, DwarfRIP, DwarfRSP, DwarfRBP)
	regs.AddReg(DwarfRIP, op.DwarfRegisterFromUint64(0x1005))
	regs.AddReg(DwarfRSP, op.DwarfRegisterFromUint64(0x2000))

	lookup := fakePlaceLookup{entries: []struct {
		lo, hi              uint64
		file                string
		line                int
		funcName            string
		funcStart           uint64
	}{
		{0x1000, 0x1010, "inner.c", 10, "inner", 0x1000},
		{0x5000, 0x5010, "outer.c", 20, "outer", 0x5000},
	}}

	frames, err := u.Unwind(regs, lookup, 0)
	if err != nil {
		t.Fatalf("Unwind: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2: %+v", len(frames), frames)
	}
	if frames[0].IP != 0x1005 || frames[0].FuncName != "inner" {
		t.Fatalf("unexpected innermost frame: %+v", frames[0])
	}
	if frames[1].IP != 0x5003 || frames[1].FuncName != "outer" {
		t.Fatalf("unexpected caller frame: %+v", frames[1])
	}
}

func TestUnwindNoFDEAtPC(t *testing.T) {
	tbl := frame.NewTable(nil)
	u := NewUnwinder(tbl, fakeUnwindMemory{mem: map[uint64]uint64{}})
	regs := op.NewDwarfRegisters(0, DwarfRIP, DwarfRSP, DwarfRBP)
	regs.AddReg(DwarfRIP, op.DwarfRegisterFromUint64(0xdead))
	if _, err := u.Unwind(regs, nil, 0); err == nil {
		t.Fatal("expected an error unwinding frame 0 with no FDE coverage")
	}
}

func newTestCIE() frame.CIE {
	return frame.CIE{CodeAlignmentFactor: 1, DataAlignmentFactor: -8, ReturnAddressRegister: 16}
}
