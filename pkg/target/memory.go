//go:build linux && amd64

package target

import "fmt"

// PidMemory implements MemoryPatcher and DebugRegisterWriter against a
// live tracee via ptrace, for a process whose every tracee shares one
// address space. It is the concrete type the breakpoint and watchpoint
// registries are constructed with.
type PidMemory struct {
	// Pid is any tid belonging to the traced process; code memory patches
	// apply process-wide regardless of which thread id is used for the
	// peek/poke.
	Pid int
}

// ReadByte reads a single byte of tracee memory at addr.
func (m *PidMemory) ReadByte(addr uint64) (byte, error) {
	buf := make([]byte, 1)
	if _, err := PeekText(m.Pid, uintptr(addr), buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteByte writes a single byte of tracee memory at addr.
func (m *PidMemory) WriteByte(addr uint64, b byte) error {
	_, err := PokeText(m.Pid, uintptr(addr), []byte{b})
	return err
}

// ReadMemory reads len(out) bytes starting at addr, the primitive spec.md
// §4.8 calls read_memory_by_pid.
func (m *PidMemory) ReadMemory(out []byte, addr uint64) (int, error) {
	return PeekText(m.Pid, uintptr(addr), out)
}

// WriteMemory writes data at addr.
func (m *PidMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	return PokeText(m.Pid, uintptr(addr), data)
}

// SyncDebugRegisters writes every used slot's address register and the
// combined DR7 control register to tid, per spec.md §4.6 ("After each
// enable/disable, the state is synchronized to every tracee because debug
// registers are per-thread on x86-64").
func (m *PidMemory) SyncDebugRegisters(tid int, s *HardwareDebugState) error {
	for n := 0; n < 4; n++ {
		if !s.Used[n] {
			continue
		}
		if err := PokeUserDebugReg(tid, n, s.Addr[n]); err != nil {
			return fmt.Errorf("target: writing dr%d on tid %d: %w", n, tid, err)
		}
	}
	if err := PokeUserDebugReg(tid, 7, s.DR7); err != nil {
		return fmt.Errorf("target: writing dr7 on tid %d: %w", tid, err)
	}
	return nil
}
