//go:build linux && amd64

package target

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// StepResult is what a stepping algorithm returns, per spec.md §4.9 ("A
// step returns Done, SignalInterrupt{signal, quiet}, or
// WatchpointInterrupt{pid, addr, type, quiet}; non-quiet interrupts
// surface via the hook").
type StepResult struct {
	Kind StepResultKind

	Signal    int
	Quiet     bool
	WatchAddr uint64
	WatchKind WatchKind
}

type StepResultKind int

const (
	StepDone StepResultKind = iota
	StepSignalInterrupt
	StepWatchpointInterrupt
)

// Stepper runs the single-instruction, step-over, step-into and step-out
// algorithms of spec.md §4.9 for one tid, using temporary breakpoints and
// the unwinder for synchronization, the same approach the teacher's own
// next()/stepInstruction() take (see the adapted _teacherref notes on
// advanceRegs) but generalized to a DWARF place/line model rather than Go
// function metadata.
type Stepper struct {
	Tid         int
	Tracer      *Tracer
	Breakpoints *Registry
	Unwinder    *Unwinder
	Mem         *PidMemory
	Lookup      PlaceLookup

	// SameLineRange reports the [lowPC, highPC) address ranges of the
	// current function and of the current source line within it. No
	// stepping algorithm here reads it: StepOver works from the
	// next-statement address its caller passes in.
	SameLineRange func(pc uint64) (funcLow, funcHigh, lineLow, lineHigh uint64, ok bool)
}

// decodeIsCall reports whether the instruction at addr is a CALL, per
// spec.md §4.9's step-over/step-into distinction, decoded with
// golang.org/x/arch/x86/x86asm since this target has no Go-runtime ABI
// markers (autogenerated wrapper names, etc.) to lean on instead.
func (s *Stepper) decodeIsCall(addr uint64) (isCall bool, instrLen int, err error) {
	buf := make([]byte, 16)
	if _, err := s.Mem.ReadMemory(buf, addr); err != nil {
		return false, 0, fmt.Errorf("target: reading instruction at %#x: %w", addr, err)
	}
	inst, err := x86asm.Decode(buf, 64)
	if err != nil {
		return false, 0, fmt.Errorf("target: decoding instruction at %#x: %w", addr, err)
	}
	return inst.Op == x86asm.CALL || inst.Op == x86asm.CALLF, inst.Len, nil
}

// currentPC reads the live program counter for the stepper's tid.
func (s *Stepper) currentPC() (uint64, error) {
	regs, err := GetRegs(s.Tid)
	if err != nil {
		return 0, err
	}
	return regs.Rip, nil
}

// SingleInstruction steps one machine instruction, routing through
// step-over if the PC sits on an installed breakpoint, per spec.md §4.9.
func (s *Stepper) SingleInstruction() (StepResult, error) {
	pc, err := s.currentPC()
	if err != nil {
		return StepResult{}, err
	}
	if bp, ok := s.Breakpoints.ByAddr(pc); ok && bp.Enabled {
		var stepErr error
		err := s.Breakpoints.StepOverCompanion(bp, func() error {
			stepErr = SingleStep(s.Tid)
			return stepErr
		})
		if err != nil {
			return StepResult{}, err
		}
		return s.waitStepStop()
	}
	if err := SingleStep(s.Tid); err != nil {
		return StepResult{}, err
	}
	return s.waitStepStop()
}

func (s *Stepper) waitStepStop() (StepResult, error) {
	reason, err := s.Tracer.waitAndClassify(s.Tid)
	if err != nil {
		return StepResult{}, err
	}
	switch reason.Kind {
	case ReasonSignalStop:
		return StepResult{Kind: StepSignalInterrupt, Signal: reason.Signal}, nil
	case ReasonWatchpoint:
		return StepResult{Kind: StepWatchpointInterrupt, WatchAddr: reason.PC}, nil
	default:
		return StepResult{Kind: StepDone}, nil
	}
}

// StepOver implements spec.md §4.9's "Step over (same line, same frame)":
// plant a temporary breakpoint at nextStatementAddr (the caller's pick of
// the next statement in the same function outside the current line) and
// continue until the next stop; a CALL within the line runs to completion
// rather than being descended into. When leavesFunction is true it runs
// StepOut instead. The stop is not checked against the starting frame.
func (s *Stepper) StepOver(nextStatementAddr uint64, leavesFunction bool) (StepResult, error) {
	if leavesFunction {
		return s.StepOut()
	}
	bp, err := s.Breakpoints.Install(nextStatementAddr, KindTemporary)
	if err != nil {
		if _, dup := err.(ErrBreakpointAlreadyExists); !dup {
			return StepResult{}, err
		}
	}
	defer func() {
		if bp != nil {
			_ = s.Breakpoints.Remove(bp.Number)
		}
	}()

	result, err := s.Tracer.Step(s.Tid)
	if err != nil {
		return StepResult{}, err
	}
	return stepResultFromStopReason(result), nil
}

// StepInto implements spec.md §4.9's "Step into": like StepOver, but never
// excludes calls — when the current instruction is a CALL, a temporary
// breakpoint at the callee's entry takes the place of the next-statement
// breakpoint, so execution stops at the first instruction of the callee.
func (s *Stepper) StepInto(calleeEntry uint64, haveCallee bool, nextStatementAddr uint64) (StepResult, error) {
	target := nextStatementAddr
	if haveCallee {
		target = calleeEntry
	}
	bp, err := s.Breakpoints.Install(target, KindTemporary)
	if err != nil {
		if _, dup := err.(ErrBreakpointAlreadyExists); !dup {
			return StepResult{}, err
		}
	}
	defer func() {
		if bp != nil {
			_ = s.Breakpoints.Remove(bp.Number)
		}
	}()
	result, err := s.Tracer.Step(s.Tid)
	if err != nil {
		return StepResult{}, err
	}
	return stepResultFromStopReason(result), nil
}

// StepOut implements spec.md §4.9's "Step out": unwind one frame, install
// a temporary breakpoint at the caller's return address, continue, and
// remove the temporary once hit.
func (s *Stepper) StepOut() (StepResult, error) {
	regs, err := GetRegs(s.Tid)
	if err != nil {
		return StepResult{}, err
	}
	dwarfRegs := ToDwarfRegisters(regs, 0)
	frames, err := s.Unwinder.Unwind(dwarfRegs, s.Lookup, 2)
	if err != nil {
		return StepResult{}, err
	}
	if len(frames) < 2 {
		return StepResult{}, fmt.Errorf("target: step-out has no caller frame")
	}
	retAddr := frames[1].IP

	bp, err := s.Breakpoints.Install(retAddr, KindTemporary)
	if err != nil {
		if _, dup := err.(ErrBreakpointAlreadyExists); !dup {
			return StepResult{}, err
		}
	}
	defer func() {
		if bp != nil {
			_ = s.Breakpoints.Remove(bp.Number)
		}
	}()
	result, err := s.Tracer.Step(s.Tid)
	if err != nil {
		return StepResult{}, err
	}
	return stepResultFromStopReason(result), nil
}

func stepResultFromStopReason(r StopReason) StepResult {
	switch r.Kind {
	case ReasonSignalStop:
		return StepResult{Kind: StepSignalInterrupt, Signal: r.Signal}
	case ReasonWatchpoint:
		return StepResult{Kind: StepWatchpointInterrupt, WatchAddr: r.PC}
	default:
		return StepResult{Kind: StepDone}
	}
}
