package op

import "testing"

func TestExecuteStackProgramFbreg(t *testing.T) {
	regs := NewDwarfRegisters(0, 16, 7, 6)
	regs.FrameBase = 0x1000

	// DW_OP_fbreg -16 (sleb128 of -16 is 0x70)
	prog := []byte{byte(OpFbreg), 0x70}
	v, isStackValue, err := ExecuteStackProgram(regs, prog, 8, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isStackValue {
		t.Fatalf("fbreg should produce an address, not a stack value")
	}
	if v != 0x1000-16 {
		t.Fatalf("got %d, want %d", v, 0x1000-16)
	}
}

func TestExecuteStackProgramPlusUconst(t *testing.T) {
	regs := NewDwarfRegisters(0, 16, 7, 6)
	regs.AddReg(0, DwarfRegisterFromUint64(100))
	prog := []byte{byte(OpBreg0) + 0, 0x00, byte(OpPlusUconst), 0x05}
	v, _, err := ExecuteStackProgram(regs, prog, 8, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 105 {
		t.Fatalf("got %d, want 105", v)
	}
}

func TestExecuteStackProgramCallFrameCFA(t *testing.T) {
	regs := NewDwarfRegisters(0, 16, 7, 6)
	regs.CFA = 0x2000
	v, _, err := ExecuteStackProgram(regs, []byte{byte(OpCallFrameCFA)}, 8, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0x2000 {
		t.Fatalf("got %#x, want %#x", v, 0x2000)
	}
}

func TestUlebSleb(t *testing.T) {
	v, n := uleb128([]byte{0xe5, 0x8e, 0x26})
	if v != 624485 || n != 3 {
		t.Fatalf("uleb128 got (%d,%d) want (624485,3)", v, n)
	}
	sv, sn := sleb128([]byte{0x9b, 0xf1, 0x59})
	if sv != -624485 || sn != 3 {
		t.Fatalf("sleb128 got (%d,%d) want (-624485,3)", sv, sn)
	}
}
