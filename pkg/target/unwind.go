package target

import (
	"fmt"

	"github.com/dwarfdbg/dwarfdbg/pkg/dwarf/frame"
	"github.com/dwarfdbg/dwarfdbg/pkg/dwarf/op"
)

// FrameInfo is one entry of a backtrace, per spec.md §4.7 and the boundary
// type in §6 ("FrameInfo { ip: RelocatedAddress, place?, func_name?, id? }").
// Frame 0 is the innermost.
type FrameInfo struct {
	IP       uint64
	HasPlace bool
	File     string
	Line     int
	FuncName string
	HasID    bool
	ID       FrameID
	Regs     op.DwarfRegisters
}

// PlaceLookup resolves a PC to its containing source place and function,
// the facade's DWARF-loader-backed implementation of which feeds the
// unwinder's FrameInfo.place and FrameInfo.func_name fields.
type PlaceLookup interface {
	LookupPlace(pc uint64) (file string, line int, funcName string, funcStartPC uint64, ok bool)
}

// MemoryReader reads tracee memory, satisfied by PidMemory.ReadMemory.
type MemoryReader interface {
	ReadMemory(out []byte, addr uint64) (int, error)
}

// Unwinder produces a backtrace by walking DWARF call-frame information one
// frame at a time. Adapted from the teacher's pkg/proc stack iterator
// (stack.go's advanceRegs/newStackframe), stripped of every Go-runtime
// extension (goroutine stack switching, defer chains, range-over-func
// synthetic frames, signal trampoline handling) since this engine unwinds
// a single physical stack per tracee rather than a goroutine scheduler's.
type Unwinder struct {
	FDEs    *frame.Table
	Mem     MemoryReader
	PtrSize int
}

// NewUnwinder returns an unwinder over the given FDE table.
func NewUnwinder(fdes *frame.Table, mem MemoryReader) *Unwinder {
	return &Unwinder{FDEs: fdes, Mem: mem, PtrSize: 8}
}

// Unwind produces an ordered backtrace starting from regs (the innermost
// frame's live register file), stopping after maxDepth frames or when the
// return address can no longer be recovered, per spec.md §4.7.
func (u *Unwinder) Unwind(regs op.DwarfRegisters, lookup PlaceLookup, maxDepth int) ([]FrameInfo, error) {
	var frames []FrameInfo
	pc := regs.PC()
	top := true

	for i := 0; maxDepth <= 0 || i < maxDepth; i++ {
		fi := FrameInfo{IP: pc, Regs: regs}
		if lookup != nil {
			if file, line, fn, fnStart, ok := lookup.LookupPlace(pc); ok {
				fi.HasPlace, fi.File, fi.Line, fi.FuncName = true, file, line, fn
				fi.HasID = true
				fi.ID = FrameID{CFA: uint64(regs.CFA), FuncStartPC: fnStart}
			}
		}
		frames = append(frames, fi)

		fde, err := u.FDEs.FDEForPC(pc)
		if err != nil {
			if top {
				return frames, fmt.Errorf("target: unwinding frame 0: %w", err)
			}
			break
		}
		fctx, err := fde.EstablishFrame(pc)
		if err != nil {
			break
		}

		cfaVal, err := u.evaluateRule(fctx.CFA, regs, 0)
		if err != nil {
			break
		}
		regs.CFA = int64(cfaVal.Uint64Val)
		if fi.HasID {
			frames[len(frames)-1].ID.CFA = uint64(regs.CFA)
		}

		callerRegs := op.NewDwarfRegisters(regs.StaticBase, regs.PCRegNum, regs.SPRegNum, regs.BPRegNum)
		callerRegs.ByteOrder = regs.ByteOrder
		callerRegs.AddReg(regs.SPRegNum, op.DwarfRegisterFromUint64(uint64(regs.CFA)))

		var ret uint64
		haveRet := false
		for regnum, rule := range fctx.Regs {
			val, err := u.evaluateRule(rule, regs, regs.CFA)
			if err != nil || val == nil {
				continue
			}
			callerRegs.AddReg(regnum, val)
			if regnum == fctx.RetAddrReg {
				ret = val.Uint64Val
				haveRet = true
			}
		}

		if !haveRet || ret == 0 {
			break
		}

		pc = ret
		regs = callerRegs
		top = false
	}
	return frames, nil
}

// evaluateRule computes a single register's caller-frame value from its
// DWRule, the direct generalization of the teacher's
// stackIterator.executeFrameRegRule stripped of its Go-runtime-specific
// RuleFramePointer special case (that rule is ARM64-only in the teacher
// and has no analogue here).
func (u *Unwinder) evaluateRule(rule frame.DWRule, regs op.DwarfRegisters, cfa int64) (*op.DwarfRegister, error) {
	switch rule.Rule {
	case frame.RuleUndefined:
		return nil, nil
	case frame.RuleSameVal:
		return op.DwarfRegisterFromUint64(regs.Uint64Val(rule.Reg)), nil
	case frame.RuleOffset:
		buf := make([]byte, u.PtrSize)
		addr := uint64(cfa + rule.Offset)
		if _, err := u.Mem.ReadMemory(buf, addr); err != nil {
			return nil, fmt.Errorf("target: reading saved register at %#x: %w", addr, err)
		}
		return op.DwarfRegisterFromBytes(buf), nil
	case frame.RuleValOffset:
		return op.DwarfRegisterFromUint64(uint64(cfa + rule.Offset)), nil
	case frame.RuleRegister:
		return op.DwarfRegisterFromUint64(regs.Uint64Val(rule.Reg)), nil
	case frame.RuleCFA:
		return op.DwarfRegisterFromUint64(uint64(int64(regs.Uint64Val(rule.Reg)) + rule.Offset)), nil
	case frame.RuleExpression:
		regsCopy := regs
		regsCopy.CFA = cfa
		v, isStackVal, err := op.ExecuteStackProgram(regsCopy, rule.Expression, u.PtrSize, u.Mem.ReadMemory)
		if err != nil {
			return nil, err
		}
		if isStackVal {
			return op.DwarfRegisterFromUint64(uint64(v)), nil
		}
		buf := make([]byte, u.PtrSize)
		if _, err := u.Mem.ReadMemory(buf, uint64(v)); err != nil {
			return nil, fmt.Errorf("target: reading expression-rule register at %#x: %w", v, err)
		}
		return op.DwarfRegisterFromBytes(buf), nil
	case frame.RuleValExpression:
		regsCopy := regs
		regsCopy.CFA = cfa
		v, _, err := op.ExecuteStackProgram(regsCopy, rule.Expression, u.PtrSize, u.Mem.ReadMemory)
		if err != nil {
			return nil, err
		}
		return op.DwarfRegisterFromUint64(uint64(v)), nil
	default:
		return nil, fmt.Errorf("target: unsupported CFI rule %v", rule.Rule)
	}
}
