package address

import "testing"

func TestRoundTrip(t *testing.T) {
	tbl := NewTable()
	tbl.Add(Mapping{Name: "main", StaticBase: 0x400000, Begin: 0x400000, End: 0x500000})

	g := NewGlobal(0x1234)
	r, err := tbl.ToRelocated("main", g)
	if err != nil {
		t.Fatalf("ToRelocated: %v", err)
	}
	if r.MustRelocated() != 0x401234 {
		t.Fatalf("got %#x, want %#x", r.MustRelocated(), 0x401234)
	}

	back, name, err := tbl.ToGlobal(r)
	if err != nil {
		t.Fatalf("ToGlobal: %v", err)
	}
	if name != "main" {
		t.Fatalf("got object %q, want main", name)
	}
	if back != g {
		t.Fatalf("round trip mismatch: got %s, want %s", back, g)
	}
}

func TestMappingNotFound(t *testing.T) {
	tbl := NewTable()
	_, _, err := tbl.ToGlobal(NewRelocated(0xdeadbeef))
	if _, ok := err.(ErrMappingNotFound); !ok {
		t.Fatalf("expected ErrMappingNotFound, got %v", err)
	}
}

func TestMustPanicsOnWrongKind(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewGlobal(1).MustRelocated()
}
