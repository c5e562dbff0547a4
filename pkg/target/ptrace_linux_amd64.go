//go:build linux && amd64

package target

import (
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureTraceChild arranges for cmd's child to call PTRACE_TRACEME and
// stop on exec, so the parent is guaranteed to observe the first
// instruction of the new image — the entry-point breakpoint (spec.md
// §4.5) depends on this.
func configureTraceChild(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Ptrace:     true,
		Setpgid:    true,
		Foreground: false,
	}
}

// attachPtrace attaches to an already-running process by pid.
func attachPtrace(pid int) error {
	if err := unix.PtraceAttach(pid); err != nil {
		return fmt.Errorf("target: PTRACE_ATTACH(%d): %w", pid, err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("target: waiting for attach stop on %d: %w", pid, err)
	}
	return setTraceOptions(pid)
}

// setTraceOptions enables clone/exit tracing so the tracer observes every
// new thread and every thread's exit, per spec.md §4.4.
func setTraceOptions(pid int) error {
	const (
		ptraceOTraceClone = unix.PTRACE_O_TRACECLONE
		ptraceOTraceExit  = unix.PTRACE_O_TRACEEXIT
		ptraceOExitKill   = unix.PTRACE_O_EXITKILL
	)
	return unix.PtraceSetOptions(pid, ptraceOTraceClone|ptraceOTraceExit|ptraceOExitKill)
}

// PeekText reads len(out) bytes of tracee memory at addr via
// PTRACE_PEEKTEXT, word at a time, matching spec.md §4.8's
// "read_memory_by_pid" primitive ("does word-wide platform reads and
// copies len bytes out").
func PeekText(pid int, addr uintptr, out []byte) (int, error) {
	n, err := unix.PtracePeekText(pid, addr, out)
	if err != nil {
		return n, fmt.Errorf("target: PTRACE_PEEKTEXT at %#x: %w", addr, err)
	}
	return n, nil
}

// PokeText writes data into tracee memory at addr via PTRACE_POKETEXT,
// used for software breakpoint byte-patching.
func PokeText(pid int, addr uintptr, data []byte) (int, error) {
	n, err := unix.PtracePokeText(pid, addr, data)
	if err != nil {
		return n, fmt.Errorf("target: PTRACE_POKETEXT at %#x: %w", addr, err)
	}
	return n, nil
}

// GetRegs reads the tracee's general purpose registers.
func GetRegs(pid int) (*unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return nil, fmt.Errorf("target: PTRACE_GETREGS(%d): %w", pid, err)
	}
	return &regs, nil
}

// SetRegs writes the tracee's general purpose registers.
func SetRegs(pid int, regs *unix.PtraceRegs) error {
	if err := unix.PtraceSetRegs(pid, regs); err != nil {
		return fmt.Errorf("target: PTRACE_SETREGS(%d): %w", pid, err)
	}
	return nil
}

// Cont resumes the tracee, optionally delivering a pending signal.
func Cont(pid int, signal int) error {
	if err := unix.PtraceCont(pid, signal); err != nil {
		return fmt.Errorf("target: PTRACE_CONT(%d, sig=%d): %w", pid, signal, err)
	}
	return nil
}

// SingleStep resumes the tracee for exactly one machine instruction.
func SingleStep(pid int) error {
	if err := unix.PtraceSingleStep(pid); err != nil {
		return fmt.Errorf("target: PTRACE_SINGLESTEP(%d): %w", pid, err)
	}
	return nil
}

// Detach detaches from the tracee, letting it continue running untraced.
func Detach(pid int) error {
	if err := unix.PtraceDetach(pid); err != nil {
		return fmt.Errorf("target: PTRACE_DETACH(%d): %w", pid, err)
	}
	return nil
}

// Kill sends SIGKILL to a spawned (non-external) tracee, per spec.md §5's
// on-drop policy.
func Kill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// Wait blocks for the next status change of pid, per
// spec.md §4.4 step 3.
func Wait(pid int) (wpid int, ws unix.WaitStatus, err error) {
	wpid, err = unix.Wait4(pid, &ws, 0, nil)
	return wpid, ws, err
}

// debugRegOffset is the byte offset of u_debugreg[0] within struct user on
// Linux/x86-64, the well-known constant ptrace-based debuggers (gdb,
// delve) poke hardware breakpoint state through via PTRACE_PEEKUSER /
// PTRACE_POKEUSER, since x/sys/unix does not wrap those two requests
// itself.
const debugRegOffset = 848

// PeekUserDebugReg reads debug register n (0-7: DR0-DR3, DR6, DR7 at
// indices 6 and 7) from the tracee via PTRACE_PEEKUSER.
func PeekUserDebugReg(pid int, n int) (uint64, error) {
	addr := uintptr(debugRegOffset + n*8)
	v, err := ptraceRaw(unix.PTRACE_PEEKUSER, pid, addr, 0)
	if err != nil {
		return 0, fmt.Errorf("target: PTRACE_PEEKUSER(dr%d): %w", n, err)
	}
	return uint64(v), nil
}

// PokeUserDebugReg writes debug register n via PTRACE_POKEUSER.
func PokeUserDebugReg(pid int, n int, value uint64) error {
	addr := uintptr(debugRegOffset + n*8)
	if _, err := ptraceRaw(unix.PTRACE_POKEUSER, pid, addr, uintptr(value)); err != nil {
		return fmt.Errorf("target: PTRACE_POKEUSER(dr%d): %w", n, err)
	}
	return nil
}

func ptraceRaw(request int, pid int, addr, data uintptr) (uintptr, error) {
	ret, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(pid), addr, data, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}
