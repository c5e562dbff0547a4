package target

import "testing"

// fakeMemory is an in-memory MemoryPatcher fake backing the
// breakpoint registry tests, standing in for the ptrace peek/poke calls a
// real tracee would need.
type fakeMemory struct {
	bytes map[uint64]byte
}

func newFakeMemory() *fakeMemory { return &fakeMemory{bytes: map[uint64]byte{}} }

func (f *fakeMemory) ReadByte(addr uint64) (byte, error) { return f.bytes[addr], nil }
func (f *fakeMemory) WriteByte(addr uint64, b byte) error {
	f.bytes[addr] = b
	return nil
}

func TestInstallAndRemove(t *testing.T) {
	mem := newFakeMemory()
	mem.bytes[0x1000] = 0x55
	r := NewRegistry(mem)

	bp, err := r.Install(0x1000, KindUser)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if bp.Number != 1 {
		t.Fatalf("got number %d, want 1", bp.Number)
	}
	if mem.bytes[0x1000] != TrapByte {
		t.Fatalf("trap byte not patched in")
	}
	if bp.OriginalByte != 0x55 {
		t.Fatalf("got original byte %#x, want 0x55", bp.OriginalByte)
	}

	if _, ok := r.ByAddr(0x1000); !ok {
		t.Fatal("expected breakpoint registered by address")
	}

	if err := r.Remove(bp.Number); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if mem.bytes[0x1000] != 0x55 {
		t.Fatalf("original byte not restored, got %#x", mem.bytes[0x1000])
	}
	if _, ok := r.ByAddr(0x1000); ok {
		t.Fatal("expected breakpoint gone after Remove")
	}
}

func TestInstallDuplicateAddr(t *testing.T) {
	mem := newFakeMemory()
	r := NewRegistry(mem)
	if _, err := r.Install(0x2000, KindUser); err != nil {
		t.Fatalf("Install: %v", err)
	}
	_, err := r.Install(0x2000, KindUser)
	if _, ok := err.(ErrBreakpointAlreadyExists); !ok {
		t.Fatalf("expected ErrBreakpointAlreadyExists, got %v", err)
	}
}

func TestRemoveUnknown(t *testing.T) {
	r := NewRegistry(newFakeMemory())
	err := r.Remove(99)
	if _, ok := err.(ErrBreakpointNotFound); !ok {
		t.Fatalf("expected ErrBreakpointNotFound, got %v", err)
	}
}

// fakeResolver resolves every Spec with FuncName set to one fixed address,
// and fails to resolve everything else, modeling a not-yet-loaded shared
// library function.
type fakeResolver struct{ resolved map[string]uint64 }

func (f fakeResolver) Resolve(spec Spec) ([]ResolvedPlace, error) {
	addr, ok := f.resolved[spec.FuncName]
	if !ok {
		return nil, nil
	}
	return []ResolvedPlace{{Addr: addr, FuncName: spec.FuncName}}, nil
}

func TestEnableAllDeferred(t *testing.T) {
	mem := newFakeMemory()
	r := NewRegistry(mem)
	r.AddUninit(Spec{FuncName: "main.known"}, KindUser)
	r.AddUninit(Spec{FuncName: "lib.unresolved"}, KindUser)

	resolver := fakeResolver{resolved: map[string]uint64{"main.known": 0x3000}}
	installed, err := r.EnableAll(resolver)
	if err != nil {
		t.Fatalf("EnableAll: %v", err)
	}
	if len(installed) != 1 || installed[0].Addr != 0x3000 {
		t.Fatalf("got %+v, want one breakpoint at 0x3000", installed)
	}

	// The unresolved spec must remain deferred for a later RefreshDeferred.
	resolver.resolved["lib.unresolved"] = 0x4000
	installed, err = r.RefreshDeferred(resolver)
	if err != nil {
		t.Fatalf("RefreshDeferred: %v", err)
	}
	if len(installed) != 1 || installed[0].Addr != 0x4000 {
		t.Fatalf("got %+v, want one breakpoint at 0x4000", installed)
	}
}

func TestStepOverCompanion(t *testing.T) {
	mem := newFakeMemory()
	mem.bytes[0x5000] = 0x90
	r := NewRegistry(mem)
	bp, err := r.Install(0x5000, KindUser)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	var sawOriginalDuringStep bool
	err = r.StepOverCompanion(bp, func() error {
		sawOriginalDuringStep = mem.bytes[0x5000] == 0x90
		return nil
	})
	if err != nil {
		t.Fatalf("StepOverCompanion: %v", err)
	}
	if !sawOriginalDuringStep {
		t.Fatal("expected original byte restored during the single step")
	}
	if mem.bytes[0x5000] != TrapByte {
		t.Fatal("expected trap byte re-installed after the single step")
	}
}

func TestInstallEntryPointOnce(t *testing.T) {
	r := NewRegistry(newFakeMemory())
	if _, err := r.InstallEntryPoint(0x1000); err != nil {
		t.Fatalf("InstallEntryPoint: %v", err)
	}
	if _, err := r.InstallEntryPoint(0x2000); err == nil {
		t.Fatal("expected error installing a second entry-point breakpoint")
	}
}

func TestLinkerMapAddr(t *testing.T) {
	r := NewRegistry(newFakeMemory())
	bp, err := r.InstallLinkerMap(0x6000)
	if err != nil {
		t.Fatalf("InstallLinkerMap: %v", err)
	}
	if !r.IsLinkerMapAddr(bp.Addr) {
		t.Fatal("expected IsLinkerMapAddr true for the installed address")
	}
	if r.IsLinkerMapAddr(0x7000) {
		t.Fatal("expected IsLinkerMapAddr false for an unrelated address")
	}
}

func TestCompanionRefCounting(t *testing.T) {
	r := NewRegistry(newFakeMemory())
	bp, err := r.Install(0x8000, KindWatchpointCompanion)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	r.AddCompanionRef(bp.Number)
	r.AddCompanionRef(bp.Number)

	if err := r.RemoveCompanionRef(bp.Number); err != nil {
		t.Fatalf("RemoveCompanionRef: %v", err)
	}
	if _, ok := r.ByNumber(bp.Number); !ok {
		t.Fatal("expected breakpoint to survive one decrement of two refs")
	}
	if err := r.RemoveCompanionRef(bp.Number); err != nil {
		t.Fatalf("RemoveCompanionRef: %v", err)
	}
	if _, ok := r.ByNumber(bp.Number); ok {
		t.Fatal("expected breakpoint removed once refs reached zero")
	}
}
