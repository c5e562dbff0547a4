//go:build linux && amd64

package target

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// StopReason is the uniform classification of a tracer stop, per spec.md
// §4.4 and the boundary type list in §6 ("StopReason ::= DebugeeStart |
// DebugeeExit(i32) | Breakpoint(tid, pc) | Watchpoint(tid, pc,
// WatchpointHitType) | SignalStop(tid, signal) | NoSuchProcess(tid)").
type StopReason struct {
	Kind StopReasonKind

	Tid        int
	PC         uint64
	ExitCode   int
	Signal     int
	WatchSlot  int
	WatchEnd   []int // watchpoint numbers whose scope ended; classifyStop leaves it empty (a companion-breakpoint hit is reported as ReasonBreakpoint)
}

type StopReasonKind int

const (
	ReasonDebugeeStart StopReasonKind = iota
	ReasonDebugeeExit
	ReasonBreakpoint
	ReasonWatchpoint
	ReasonSignalStop
	ReasonNoSuchProcess
)

func (r StopReason) String() string {
	switch r.Kind {
	case ReasonDebugeeStart:
		return "debugee start"
	case ReasonDebugeeExit:
		return fmt.Sprintf("debugee exited with code %d", r.ExitCode)
	case ReasonBreakpoint:
		return fmt.Sprintf("breakpoint at %#x (tid %d)", r.PC, r.Tid)
	case ReasonWatchpoint:
		return fmt.Sprintf("watchpoint at %#x (tid %d, slot %d)", r.PC, r.Tid, r.WatchSlot)
	case ReasonSignalStop:
		return fmt.Sprintf("signal %d (tid %d)", r.Signal, r.Tid)
	case ReasonNoSuchProcess:
		return fmt.Sprintf("no such process (tid %d)", r.Tid)
	default:
		return "unknown stop reason"
	}
}

// PauseSignal is the signal the tracer sends every tracee to implement
// `pause`: a soft, synthetic stop rather than an externally observed
// signal, per spec.md §4.4 ("if the signal is the process-management
// signal used for soft-pausing, convert to Stopped").
const PauseSignal = unix.SIGSTOP

// Tracer drives the trace loop described in spec.md §4.4: it resumes
// tracees, waits for kernel status changes, and classifies each stop into
// a StopReason.
type Tracer struct {
	Tracees     *Table
	Breakpoints *Registry
	Watchpoints *WatchpointRegistry

	// pendingPause is set by RequestPause and consumed by the next trace step.
	pendingPause bool
}

// NewTracer returns a tracer composing the three registries a stop needs
// to be classified against.
func NewTracer(tracees *Table, bps *Registry, wps *WatchpointRegistry) *Tracer {
	return &Tracer{Tracees: tracees, Breakpoints: bps, Watchpoints: wps}
}

// Resume resumes tid, delivering its pending signal if any, per spec.md
// §4.4 step 2.
func (t *Tracer) Resume(tid int) error {
	tr, ok := t.Tracees.Get(tid)
	if !ok {
		return fmt.Errorf("target: resume: unknown tracee %d", tid)
	}
	sig := tr.PendingSignal
	tr.PendingSignal = 0
	tr.SetStatus(StatusRunning)
	return Cont(tid, sig)
}

// Step runs one full trace step: resume tid, wait for the next status
// change, and classify it, per spec.md §4.4.
func (t *Tracer) Step(tid int) (StopReason, error) {
	if err := t.Resume(tid); err != nil {
		return StopReason{}, err
	}
	return t.waitAndClassify(tid)
}

func (t *Tracer) waitAndClassify(tid int) (StopReason, error) {
	wpid, ws, err := Wait(tid)
	if err != nil {
		if err == unix.ECHILD || err == unix.ESRCH {
			return StopReason{Kind: ReasonNoSuchProcess, Tid: tid}, nil
		}
		return StopReason{}, fmt.Errorf("target: wait4(%d): %w", tid, err)
	}

	switch {
	case ws.Exited():
		if tr, ok := t.Tracees.Get(wpid); ok {
			tr.SetStatus(StatusExited)
		}
		t.Tracees.Remove(wpid)
		return StopReason{Kind: ReasonDebugeeExit, Tid: wpid, ExitCode: ws.ExitStatus()}, nil

	case ws.Signaled():
		t.Tracees.Remove(wpid)
		return StopReason{Kind: ReasonDebugeeExit, Tid: wpid, ExitCode: -int(ws.Signal())}, nil

	case ws.Stopped():
		return t.classifyStop(wpid, ws)

	default:
		return StopReason{Kind: ReasonSignalStop, Tid: wpid}, nil
	}
}

func (t *Tracer) classifyStop(tid int, ws unix.WaitStatus) (StopReason, error) {
	sig := ws.StopSignal()

	if ws.TrapCause() == unix.PTRACE_EVENT_CLONE {
		newTid, err := unix.PtraceGetEventMsg(tid)
		if err == nil {
			if _, addErr := t.Tracees.Add(int(newTid)); addErr != nil {
				if _, dup := addErr.(ErrTraceeAlreadyExists); !dup {
					return StopReason{}, addErr
				}
			}
		}
		return StopReason{Kind: ReasonDebugeeStart, Tid: tid}, nil
	}

	if sig == PauseSignal && t.pendingPause {
		t.pendingPause = false
		if tr, ok := t.Tracees.Get(tid); ok {
			tr.SetStatus(StatusStopped)
		}
		return StopReason{Kind: ReasonDebugeeStart, Tid: tid}, nil
	}

	if sig != unix.SIGTRAP {
		if tr, ok := t.Tracees.Get(tid); ok {
			tr.PendingSignal = int(sig)
			tr.SetStatus(StatusStopped)
		}
		return StopReason{Kind: ReasonSignalStop, Tid: tid, Signal: int(sig)}, nil
	}

	regs, err := GetRegs(tid)
	if err != nil {
		return StopReason{}, err
	}
	pc := regs.Rip

	if bp, ok := t.Breakpoints.ByAddr(pc - 1); ok && bp.Enabled {
		regs.Rip = pc - 1
		if err := SetRegs(tid, regs); err != nil {
			return StopReason{}, err
		}
		if tr, ok := t.Tracees.Get(tid); ok {
			tr.SetStatus(StatusStopped)
		}
		return StopReason{Kind: ReasonBreakpoint, Tid: tid, PC: pc - 1}, nil
	}

	dr6, err := PeekUserDebugReg(tid, 6)
	if err == nil && dr6&0xf != 0 {
		for n := 0; n < 4; n++ {
			if dr6&(1<<uint(n)) == 0 {
				continue
			}
			_ = PokeUserDebugReg(tid, 6, 0)
			if tr, ok := t.Tracees.Get(tid); ok {
				tr.SetStatus(StatusStopped)
			}
			return StopReason{Kind: ReasonWatchpoint, Tid: tid, PC: pc, WatchSlot: n}, nil
		}
	}

	if tr, ok := t.Tracees.Get(tid); ok {
		tr.SetStatus(StatusStopped)
	}
	return StopReason{Kind: ReasonBreakpoint, Tid: tid, PC: pc}, nil
}

// RequestPause arranges for the next status report on tid to be treated as
// a synthetic Stopped event rather than a SignalStop, per spec.md §4.4's
// "pause" operation, and immediately signals every tracee in tids.
func (t *Tracer) RequestPause(tids []int) error {
	t.pendingPause = true
	for _, tid := range tids {
		if err := unix.Kill(tid, PauseSignal); err != nil {
			return fmt.Errorf("target: pause signal to %d: %w", tid, err)
		}
	}
	return nil
}
