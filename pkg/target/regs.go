//go:build linux && amd64

package target

import (
	"golang.org/x/sys/unix"

	"github.com/dwarfdbg/dwarfdbg/pkg/dwarf/op"
)

// DWARF register numbers for x86-64, per the System V AMD64 ABI's DWARF
// supplement — the same numbering the teacher's pkg/proc/amd64_arch.go
// encodes in its RegistersToDwarfRegisters.
const (
	DwarfRAX = 0
	DwarfRDX = 1
	DwarfRCX = 2
	DwarfRBX = 3
	DwarfRSI = 4
	DwarfRDI = 5
	DwarfRBP = 6
	DwarfRSP = 7
	DwarfR8  = 8
	DwarfR9  = 9
	DwarfR10 = 10
	DwarfR11 = 11
	DwarfR12 = 12
	DwarfR13 = 13
	DwarfR14 = 14
	DwarfR15 = 15
	DwarfRIP = 16
)

// ToDwarfRegisters builds the DWARF register file the unwinder and location
// evaluator need from a raw ptrace register snapshot, per spec.md §4.7
// ("the unwinder reads the initial frame's registers from the tracee's
// general-purpose register set before switching to the CFI-derived rules
// for every frame above it").
func ToDwarfRegisters(regs *unix.PtraceRegs, staticBase uint64) op.DwarfRegisters {
	out := op.NewDwarfRegisters(staticBase, DwarfRIP, DwarfRSP, DwarfRBP)
	out.AddReg(DwarfRAX, op.DwarfRegisterFromUint64(regs.Rax))
	out.AddReg(DwarfRDX, op.DwarfRegisterFromUint64(regs.Rdx))
	out.AddReg(DwarfRCX, op.DwarfRegisterFromUint64(regs.Rcx))
	out.AddReg(DwarfRBX, op.DwarfRegisterFromUint64(regs.Rbx))
	out.AddReg(DwarfRSI, op.DwarfRegisterFromUint64(regs.Rsi))
	out.AddReg(DwarfRDI, op.DwarfRegisterFromUint64(regs.Rdi))
	out.AddReg(DwarfRBP, op.DwarfRegisterFromUint64(regs.Rbp))
	out.AddReg(DwarfRSP, op.DwarfRegisterFromUint64(regs.Rsp))
	out.AddReg(DwarfR8, op.DwarfRegisterFromUint64(regs.R8))
	out.AddReg(DwarfR9, op.DwarfRegisterFromUint64(regs.R9))
	out.AddReg(DwarfR10, op.DwarfRegisterFromUint64(regs.R10))
	out.AddReg(DwarfR11, op.DwarfRegisterFromUint64(regs.R11))
	out.AddReg(DwarfR12, op.DwarfRegisterFromUint64(regs.R12))
	out.AddReg(DwarfR13, op.DwarfRegisterFromUint64(regs.R13))
	out.AddReg(DwarfR14, op.DwarfRegisterFromUint64(regs.R14))
	out.AddReg(DwarfR15, op.DwarfRegisterFromUint64(regs.R15))
	out.AddReg(DwarfRIP, op.DwarfRegisterFromUint64(regs.Rip))
	out.CFA = int64(regs.Rsp)
	out.FrameBase = int64(regs.Rbp)
	return out
}

// ApplyDwarfRegister writes a single register's recovered value back into a
// raw ptrace register snapshot, used when the unwinder reconstructs a
// caller frame's register state for display or for a "return" pseudo-step.
func ApplyDwarfRegister(regs *unix.PtraceRegs, dwarfRegNum uint64, v uint64) {
	switch dwarfRegNum {
	case DwarfRAX:
		regs.Rax = v
	case DwarfRDX:
		regs.Rdx = v
	case DwarfRCX:
		regs.Rcx = v
	case DwarfRBX:
		regs.Rbx = v
	case DwarfRSI:
		regs.Rsi = v
	case DwarfRDI:
		regs.Rdi = v
	case DwarfRBP:
		regs.Rbp = v
	case DwarfRSP:
		regs.Rsp = v
	case DwarfR8:
		regs.R8 = v
	case DwarfR9:
		regs.R9 = v
	case DwarfR10:
		regs.R10 = v
	case DwarfR11:
		regs.R11 = v
	case DwarfR12:
		regs.R12 = v
	case DwarfR13:
		regs.R13 = v
	case DwarfR14:
		regs.R14 = v
	case DwarfR15:
		regs.R15 = v
	case DwarfRIP:
		regs.Rip = v
	}
}
