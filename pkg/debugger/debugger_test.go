package debugger

import (
	"testing"

	"github.com/dwarfdbg/dwarfdbg/pkg/target"
)

func TestThreadNumberForKnownAndUnknownTid(t *testing.T) {
	d := New(nil, nil)
	d.Tracees = target.NewTable()
	tr, err := d.Tracees.Add(4242)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := d.threadNumberFor(4242); got != tr.Number {
		t.Fatalf("got %d, want %d", got, tr.Number)
	}
	if got := d.threadNumberFor(9999); got != 0 {
		t.Fatalf("got %d, want 0 for an unregistered tid", got)
	}
}

func TestPlaceAndFuncAtNoObjectsLoaded(t *testing.T) {
	d := New(nil, nil)
	place, funcName := d.placeAndFuncAt(0x1000)
	if place != nil || funcName != "" {
		t.Fatalf("got place=%+v funcName=%q, want nil/empty with nothing loaded", place, funcName)
	}
}

func TestFireHookWrapsError(t *testing.T) {
	d := New(nil, nil)
	if err := d.fireHook(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	cause := target.ErrTraceeAlreadyExists{Tid: 1}
	err := d.fireHook(cause)
	hookErr, ok := err.(ErrHook)
	if !ok || hookErr.Inner != cause {
		t.Fatalf("expected ErrHook wrapping %v, got %v", cause, err)
	}
}

func TestNewUsesDefaultsWhenNilArgsGiven(t *testing.T) {
	d := New(nil, nil)
	if d.Config == nil {
		t.Fatal("expected a default config")
	}
	if d.Hooks == nil {
		t.Fatal("expected NoopHooks when hooks is nil")
	}
	if d.Trigger == nil || d.Addrs == nil {
		t.Fatal("expected Trigger registry and address table initialized")
	}
}

func TestMainObjectEmpty(t *testing.T) {
	d := New(nil, nil)
	if d.mainObject() != nil {
		t.Fatal("expected nil main object before anything is loaded")
	}
}
