package frame

import "testing"

func TestFDEForPCOutOfRange(t *testing.T) {
	tbl := NewTable([]*FDE{
		{CIE: &CIE{CodeAlignmentFactor: 1, DataAlignmentFactor: -8, ReturnAddressRegister: 16}, Begin: 0x1000, End: 0x1010},
	})
	if _, err := tbl.FDEForPC(0x2000); err == nil {
		t.Fatal("expected ErrNoFDEForPC")
	}
	fde, err := tbl.FDEForPC(0x1005)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fde.Begin != 0x1000 {
		t.Fatalf("got wrong FDE")
	}
}

func TestEstablishFrameOffsetRule(t *testing.T) {
	cie := &CIE{
		CodeAlignmentFactor: 1, DataAlignmentFactor: -8, ReturnAddressRegister: 16,
	}
	fde := &FDE{
		CIE:   cie,
		Begin: 0x1000,
		End:   0x1010,
		// DW_CFA_def_cfa(reg=7, offset=8); DW_CFA_offset(reg=16, offset=1)
		Instructions: []byte{0x0c, 0x07, 0x08, 0x80 | 16, 0x01},
	}
	fctx, err := fde.EstablishFrame(0x1000)
	if err != nil {
		t.Fatalf("EstablishFrame: %v", err)
	}
	if fctx.CFA.Rule != RuleCFA || fctx.CFA.Reg != 7 || fctx.CFA.Offset != 8 {
		t.Fatalf("unexpected CFA rule: %+v", fctx.CFA)
	}
	rule, ok := fctx.Regs[16]
	if !ok || rule.Rule != RuleOffset || rule.Offset != -8 {
		t.Fatalf("unexpected reg16 rule: %+v", rule)
	}
}
