//go:build linux && amd64

package debugger

import "golang.org/x/sys/unix"

// registerByName looks up one general-purpose register by its x86-64
// assembly name, the set get-register/set-register operate on per spec.md
// §4.10.
func registerByName(regs *unix.PtraceRegs, name string) (uint64, bool) {
	switch name {
	case "rax":
		return regs.Rax, true
	case "rbx":
		return regs.Rbx, true
	case "rcx":
		return regs.Rcx, true
	case "rdx":
		return regs.Rdx, true
	case "rsi":
		return regs.Rsi, true
	case "rdi":
		return regs.Rdi, true
	case "rbp":
		return regs.Rbp, true
	case "rsp":
		return regs.Rsp, true
	case "r8":
		return regs.R8, true
	case "r9":
		return regs.R9, true
	case "r10":
		return regs.R10, true
	case "r11":
		return regs.R11, true
	case "r12":
		return regs.R12, true
	case "r13":
		return regs.R13, true
	case "r14":
		return regs.R14, true
	case "r15":
		return regs.R15, true
	case "rip":
		return regs.Rip, true
	case "eflags":
		return regs.Eflags, true
	default:
		return 0, false
	}
}

func setRegisterByName(regs *unix.PtraceRegs, name string, v uint64) bool {
	switch name {
	case "rax":
		regs.Rax = v
	case "rbx":
		regs.Rbx = v
	case "rcx":
		regs.Rcx = v
	case "rdx":
		regs.Rdx = v
	case "rsi":
		regs.Rsi = v
	case "rdi":
		regs.Rdi = v
	case "rbp":
		regs.Rbp = v
	case "rsp":
		regs.Rsp = v
	case "r8":
		regs.R8 = v
	case "r9":
		regs.R9 = v
	case "r10":
		regs.R10 = v
	case "r11":
		regs.R11 = v
	case "r12":
		regs.R12 = v
	case "r13":
		regs.R13 = v
	case "r14":
		regs.R14 = v
	case "r15":
		regs.R15 = v
	case "rip":
		regs.Rip = v
	case "eflags":
		regs.Eflags = v
	default:
		return false
	}
	return true
}
