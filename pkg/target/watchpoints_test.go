package target

import "testing"

// fakeDebugRegWriter records every sync call instead of touching real
// ptrace debug registers.
type fakeDebugRegWriter struct {
	synced map[int]HardwareDebugState
}

func newFakeDebugRegWriter() *fakeDebugRegWriter {
	return &fakeDebugRegWriter{synced: map[int]HardwareDebugState{}}
}

func (f *fakeDebugRegWriter) SyncDebugRegisters(tid int, s *HardwareDebugState) error {
	f.synced[tid] = *s
	return nil
}

func newWatchpointRegistry() (*WatchpointRegistry, *fakeDebugRegWriter) {
	writer := newFakeDebugRegWriter()
	bps := NewRegistry(newFakeMemory())
	return NewWatchpointRegistry(writer, bps), writer
}

func TestEnableAddressAllocatesSlot(t *testing.T) {
	r, writer := newWatchpointRegistry()
	wp, err := r.EnableAddress([]int{100}, 0x1000, 8, WatchWrite, "")
	if err != nil {
		t.Fatalf("EnableAddress: %v", err)
	}
	if wp.Number != 1 {
		t.Fatalf("got number %d, want 1", wp.Number)
	}
	state := writer.synced[100]
	if !state.Used[0] || state.Addr[0] != 0x1000 {
		t.Fatalf("expected slot 0 used at 0x1000, got %+v", state)
	}
}

func TestEnableAddressWrongSize(t *testing.T) {
	r, _ := newWatchpointRegistry()
	_, err := r.EnableAddress([]int{1}, 0x1000, 3, WatchWrite, "")
	if _, ok := err.(ErrWatchpointWrongSize); !ok {
		t.Fatalf("expected ErrWatchpointWrongSize, got %v", err)
	}
}

func TestEnableAddressOverlapRejected(t *testing.T) {
	r, _ := newWatchpointRegistry()
	if _, err := r.EnableAddress([]int{1}, 0x1000, 8, WatchWrite, ""); err != nil {
		t.Fatalf("EnableAddress: %v", err)
	}
	_, err := r.EnableAddress([]int{1}, 0x1004, 4, WatchWrite, "")
	if _, ok := err.(ErrAddressAlreadyObserved); !ok {
		t.Fatalf("expected ErrAddressAlreadyObserved, got %v", err)
	}
}

func TestEnableAddressLimitReached(t *testing.T) {
	r, _ := newWatchpointRegistry()
	for i := 0; i < 4; i++ {
		addr := uint64(0x1000 + i*0x100)
		if _, err := r.EnableAddress([]int{1}, addr, 8, WatchWrite, ""); err != nil {
			t.Fatalf("EnableAddress %d: %v", i, err)
		}
	}
	_, err := r.EnableAddress([]int{1}, 0x9000, 8, WatchWrite, "")
	if _, ok := err.(ErrWatchpointLimitReached); !ok {
		t.Fatalf("expected ErrWatchpointLimitReached, got %v", err)
	}
}

func TestDisableFreesSlot(t *testing.T) {
	r, writer := newWatchpointRegistry()
	wp, err := r.EnableAddress([]int{1}, 0x1000, 8, WatchWrite, "")
	if err != nil {
		t.Fatalf("EnableAddress: %v", err)
	}
	if err := r.Disable(wp.Number); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if writer.synced[1].Used[0] {
		t.Fatal("expected slot freed after Disable")
	}
	if _, ok := r.ByNumber(wp.Number); ok {
		t.Fatal("expected watchpoint gone after Disable")
	}
}

// fixedScopeResolver always resolves the scope end to a fixed address.
type fixedScopeResolver struct{ addr uint64 }

func (f fixedScopeResolver) ResolveScopeEnd(uint64) (uint64, bool) { return f.addr, true }

func TestEnableExpressionScopedInstallsCompanion(t *testing.T) {
	r, _ := newWatchpointRegistry()
	wp, err := r.EnableExpression([]int{1}, 0x2000, 8, WatchWrite, "", "x", true, 0x3000, fixedScopeResolver{addr: 0x3000}, 1, FrameID{})
	if err != nil {
		t.Fatalf("EnableExpression: %v", err)
	}
	if !wp.Scoped || wp.CompanionBP == 0 {
		t.Fatalf("expected a scoped watchpoint with a companion breakpoint, got %+v", wp)
	}
	if _, ok := r.bps.ByNumber(wp.CompanionBP); !ok {
		t.Fatal("expected companion breakpoint installed")
	}

	if err := r.Disable(wp.Number); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if _, ok := r.bps.ByNumber(wp.CompanionBP); ok {
		t.Fatal("expected companion breakpoint removed once its only watchpoint is disabled")
	}
}

// unresolvableScopeResolver never resolves, modeling a function with no
// recoverable end-of-scope statement.
type unresolvableScopeResolver struct{}

func (unresolvableScopeResolver) ResolveScopeEnd(uint64) (uint64, bool) { return 0, false }

func TestEnableExpressionUnknownScope(t *testing.T) {
	r, writer := newWatchpointRegistry()
	_, err := r.EnableExpression([]int{1}, 0x2000, 8, WatchWrite, "", "x", true, 0, unresolvableScopeResolver{}, 1, FrameID{})
	if _, ok := err.(ErrUnknownScope); !ok {
		t.Fatalf("expected ErrUnknownScope, got %v", err)
	}
	if writer.synced[1].Used[0] {
		t.Fatal("expected the hardware slot rolled back after an unresolved scope")
	}
}

func TestClearLocalDisableGlobal(t *testing.T) {
	r, _ := newWatchpointRegistry()
	scoped, err := r.EnableExpression([]int{1}, 0x2000, 8, WatchWrite, "", "x", true, 0x3000, fixedScopeResolver{addr: 0x3000}, 1, FrameID{})
	if err != nil {
		t.Fatalf("EnableExpression: %v", err)
	}
	plain, err := r.EnableAddress([]int{1}, 0x5000, 8, WatchWrite, "")
	if err != nil {
		t.Fatalf("EnableAddress: %v", err)
	}

	toReenable := r.ClearLocalDisableGlobal()
	if len(toReenable) != 1 || toReenable[0].Number != plain.Number {
		t.Fatalf("expected only the non-scoped watchpoint to survive for re-enable, got %+v", toReenable)
	}
	if _, ok := r.ByNumber(scoped.Number); ok {
		t.Fatal("expected the scoped watchpoint dropped outright")
	}
}
