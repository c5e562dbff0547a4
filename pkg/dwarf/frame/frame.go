// Package frame parses DWARF Call Frame Information (.debug_frame /
// .eh_frame): Common Information Entries and Frame Description Entries,
// and evaluates the register-rule program each one encodes into a table of
// DWRule per register for a given PC. Grounded on the teacher's
// pkg/dwarf/frame as used throughout pkg/proc/stack.go
// (frame.FDEForPC, fde.EstablishFrame, frame.DWRule, frame.RuleOffset,
// frame.RuleCFA, frame.RuleExpression, ...) — delve's own CFI parser has no
// third-party dependency either.
package frame

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/dwarfdbg/dwarfdbg/pkg/dwarf/op"
)

// Rule identifies how to recover a register's value in the caller's frame.
type Rule uint8

const (
	RuleUndefined Rule = iota
	RuleSameVal
	RuleOffset        // value is at CFA+offset
	RuleValOffset     // value is CFA+offset itself
	RuleRegister      // value is in another register
	RuleExpression    // address given by evaluating Expression
	RuleValExpression // value given by evaluating Expression
	RuleArchitectural
	RuleCFA           // used only for the pseudo CFA "register"
	RuleFramePointer  // value is in Reg unless Reg <= CFA, then at [Reg]
)

// DWRule is one entry of a Frame Description Entry's register rule table.
type DWRule struct {
	Rule       Rule
	Offset     int64
	Reg        uint64
	Expression []byte
}

// FrameContext is the decoded, PC-specific state of one FDE: the CFA rule
// plus a rule per DWARF register number, and which register holds the
// return address.
type FrameContext struct {
	CFA        DWRule
	Regs       map[uint64]DWRule
	RetAddrReg uint64
	begin, end uint64
}

// CIE is a Common Information Entry: the shared prologue every FDE in the
// same section replays before applying its own instructions.
type CIE struct {
	Version               uint8
	Augmentation          string
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister uint64
	InitialInstructions   []byte
}

// FDE is a Frame Description Entry: the address range it covers plus its
// own call-frame instruction program.
type FDE struct {
	CIE          *CIE
	Begin, End   uint64
	Instructions []byte
}

// ErrNoFDEForPC is returned when no FDE covers the requested PC (e.g. a
// function with no unwind info, or a PC outside any known object).
type ErrNoFDEForPC struct {
	PC uint64
}

func (e *ErrNoFDEForPC) Error() string {
	return fmt.Sprintf("no frame descriptor entry for PC %#x", e.PC)
}

// InRange reports whether pc falls within the FDE's covered range.
func (f *FDE) InRange(pc uint64) bool { return pc >= f.Begin && pc < f.End }

// EstablishFrame runs the CIE's initial instructions followed by the FDE's
// own instructions, stopping execution at pc, and returns the resulting
// FrameContext.
func (f *FDE) EstablishFrame(pc uint64) (*FrameContext, error) {
	fctx := &FrameContext{
		Regs:       map[uint64]DWRule{},
		RetAddrReg: f.CIE.ReturnAddressRegister,
		begin:      f.Begin,
		end:        f.End,
	}
	if err := runProgram(fctx, f.CIE.InitialInstructions, f.Begin, pc, f.CIE); err != nil {
		return nil, err
	}
	if err := runProgram(fctx, f.Instructions, f.Begin, pc, f.CIE); err != nil {
		return nil, err
	}
	return fctx, nil
}

type rowState struct {
	cfa  DWRule
	regs map[uint64]DWRule
}

func runProgram(fctx *FrameContext, instr []byte, fdeBegin, pc uint64, cie *CIE) error {
	loc := fdeBegin
	var stack []rowState
	i := 0
	for i < len(instr) && loc <= pc {
		b := instr[i]
		i++
		op := b & 0xc0
		operand := b & 0x3f
		switch {
		case op == 0x40: // DW_CFA_advance_loc
			loc += uint64(operand) * cie.CodeAlignmentFactor
		case op == 0x80: // DW_CFA_offset
			off, n := uleb(instr[i:])
			i += n
			fctx.Regs[uint64(operand)] = DWRule{Rule: RuleOffset, Offset: int64(off) * cie.DataAlignmentFactor}
		case op == 0xc0: // DW_CFA_restore
			delete(fctx.Regs, uint64(operand))
		case b == 0x00: // DW_CFA_nop
		case b == 0x01: // DW_CFA_set_loc
			loc = binary.LittleEndian.Uint64(instr[i : i+8])
			i += 8
		case b == 0x02: // DW_CFA_advance_loc1
			loc += uint64(instr[i]) * cie.CodeAlignmentFactor
			i++
		case b == 0x03: // DW_CFA_advance_loc2
			loc += uint64(binary.LittleEndian.Uint16(instr[i:i+2])) * cie.CodeAlignmentFactor
			i += 2
		case b == 0x04: // DW_CFA_advance_loc4
			loc += uint64(binary.LittleEndian.Uint32(instr[i:i+4])) * cie.CodeAlignmentFactor
			i += 4
		case b == 0x0c: // DW_CFA_def_cfa
			reg, n := uleb(instr[i:])
			i += n
			off, n2 := uleb(instr[i:])
			i += n2
			fctx.CFA = DWRule{Rule: RuleCFA, Reg: reg, Offset: int64(off)}
		case b == 0x0d: // DW_CFA_def_cfa_register
			reg, n := uleb(instr[i:])
			i += n
			fctx.CFA.Reg = reg
			fctx.CFA.Rule = RuleCFA
		case b == 0x0e: // DW_CFA_def_cfa_offset
			off, n := uleb(instr[i:])
			i += n
			fctx.CFA.Offset = int64(off)
			fctx.CFA.Rule = RuleCFA
		case b == 0x0f: // DW_CFA_def_cfa_expression
			ln, n := uleb(instr[i:])
			i += n
			fctx.CFA = DWRule{Rule: RuleExpression, Expression: instr[i : i+int(ln)]}
			i += int(ln)
		case b == 0x10: // DW_CFA_expression
			reg, n := uleb(instr[i:])
			i += n
			ln, n2 := uleb(instr[i:])
			i += n2
			fctx.Regs[reg] = DWRule{Rule: RuleExpression, Expression: instr[i : i+int(ln)]}
			i += int(ln)
		case b == 0x16: // DW_CFA_def_cfa_sf
			reg, n := uleb(instr[i:])
			i += n
			off, n2 := sleb(instr[i:])
			i += n2
			fctx.CFA = DWRule{Rule: RuleCFA, Reg: reg, Offset: off * cie.DataAlignmentFactor}
		case b == 0x11: // DW_CFA_offset_extended_sf
			reg, n := uleb(instr[i:])
			i += n
			off, n2 := sleb(instr[i:])
			i += n2
			fctx.Regs[reg] = DWRule{Rule: RuleOffset, Offset: off * cie.DataAlignmentFactor}
		case b == 0x09: // DW_CFA_register
			reg, n := uleb(instr[i:])
			i += n
			other, n2 := uleb(instr[i:])
			i += n2
			fctx.Regs[reg] = DWRule{Rule: RuleRegister, Reg: other}
		case b == 0x07: // DW_CFA_undefined
			reg, n := uleb(instr[i:])
			i += n
			fctx.Regs[reg] = DWRule{Rule: RuleUndefined}
		case b == 0x08: // DW_CFA_same_value
			reg, n := uleb(instr[i:])
			i += n
			fctx.Regs[reg] = DWRule{Rule: RuleSameVal}
		case b == 0x0a: // DW_CFA_remember_state
			regsCopy := map[uint64]DWRule{}
			for k, v := range fctx.Regs {
				regsCopy[k] = v
			}
			stack = append(stack, rowState{cfa: fctx.CFA, regs: regsCopy})
		case b == 0x0b: // DW_CFA_restore_state
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				fctx.CFA = top.cfa
				fctx.Regs = top.regs
			}
		default:
			return fmt.Errorf("frame: unsupported CFA opcode %#x", b)
		}
	}
	return nil
}

func uleb(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	var i int
	for {
		byt := b[i]
		i++
		result |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, i
}

func sleb(b []byte) (int64, int) {
	var result int64
	var shift uint
	var i int
	var byt byte
	for {
		byt = b[i]
		i++
		result |= int64(byt&0x7f) << shift
		shift += 7
		if byt&0x80 == 0 {
			break
		}
	}
	if shift < 64 && byt&0x40 != 0 {
		result |= -1 << shift
	}
	return result, i
}

// Table is the parsed set of FDEs for one object, sorted by begin address
// to support binary search.
type Table struct {
	fdes []*FDE
}

// NewTable builds a frame table from a list of FDEs, sorting them by
// covered address.
func NewTable(fdes []*FDE) *Table {
	sort.Slice(fdes, func(i, j int) bool { return fdes[i].Begin < fdes[j].Begin })
	return &Table{fdes: fdes}
}

// FDEForPC returns the FDE covering pc.
func (t *Table) FDEForPC(pc uint64) (*FDE, error) {
	i := sort.Search(len(t.fdes), func(i int) bool { return t.fdes[i].Begin > pc })
	if i == 0 {
		return nil, &ErrNoFDEForPC{PC: pc}
	}
	fde := t.fdes[i-1]
	if !fde.InRange(pc) {
		return nil, &ErrNoFDEForPC{PC: pc}
	}
	return fde, nil
}

// ExecuteCFIExpression evaluates a DW_OP_expression-style location used in
// a RuleExpression/RuleValExpression register rule.
func ExecuteCFIExpression(regs op.DwarfRegisters, expr []byte, ptrSize int, mem op.MemoryReadFunc) (int64, error) {
	v, _, err := op.ExecuteStackProgram(regs, expr, ptrSize, mem)
	return v, err
}
