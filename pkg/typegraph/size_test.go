package typegraph

import "testing"

func newTestGraph() *Graph {
	return &Graph{nodes: map[TypeId]*TypeDeclaration{}}
}

func TestSizeOfScalarAndArray(t *testing.T) {
	g := newTestGraph()
	g.nodes[1] = &TypeDeclaration{Id: 1, Kind: KindScalar, Size: 4, Name: "i32"}
	g.nodes[2] = &TypeDeclaration{Id: 2, Kind: KindArray, ElementType: 1, ElementBytes: 4, Count: 3}

	sz, err := g.SizeOf(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sz != 12 {
		t.Fatalf("got %d, want 12", sz)
	}
}

func TestSizeOfUnknownArrayCount(t *testing.T) {
	g := newTestGraph()
	g.nodes[1] = &TypeDeclaration{Id: 1, Kind: KindScalar, Size: 4}
	g.nodes[2] = &TypeDeclaration{Id: 2, Kind: KindArray, ElementType: 1, ElementBytes: 4, Count: -1}

	if _, err := g.SizeOf(2); err == nil {
		t.Fatal("expected ErrUnknownSize")
	}
}

func TestSizeOfModifierUnwraps(t *testing.T) {
	g := newTestGraph()
	g.nodes[1] = &TypeDeclaration{Id: 1, Kind: KindScalar, Size: 8}
	g.nodes[2] = &TypeDeclaration{Id: 2, Kind: KindModifier, Inner: 1, ModifierKeyword: "const"}

	sz, err := g.SizeOf(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sz != 8 {
		t.Fatalf("got %d, want 8", sz)
	}
}

func TestMemberAddressPlainOffset(t *testing.T) {
	e := NewLocationEvaluator(8)
	addr, err := e.MemberAddress(Member{Name: "x", ByteOffset: 16}, 0x1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != 0x1010 {
		t.Fatalf("got %#x, want %#x", addr, 0x1010)
	}
}

func TestTargetSizeHintRejectsNonPointer(t *testing.T) {
	g := newTestGraph()
	if _, err := g.TargetSizeHint(&TypeDeclaration{Kind: KindScalar}); err == nil {
		t.Fatal("expected error for non-pointer type")
	}
}
