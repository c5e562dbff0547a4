package dqe

import "testing"

func TestParseIdent(t *testing.T) {
	expr, err := Parse("foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, ok := expr.(Ident)
	if !ok || id.Name != "foo" {
		t.Fatalf("got %#v", expr)
	}
}

func TestParseFieldChain(t *testing.T) {
	expr, err := Parse("foo.bar.baz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, ok := expr.(Field)
	if !ok || f.Name != "baz" {
		t.Fatalf("got %#v", expr)
	}
	inner, ok := f.X.(Field)
	if !ok || inner.Name != "bar" {
		t.Fatalf("got inner %#v", f.X)
	}
}

func TestParseIndex(t *testing.T) {
	expr, err := Parse("arr[3]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ix, ok := expr.(Index)
	if !ok || ix.Literal.Kind != LitInt || ix.Literal.Int != 3 {
		t.Fatalf("got %#v", expr)
	}
}

func TestParseSliceBothSides(t *testing.T) {
	expr, err := Parse("arr[1..4]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, ok := expr.(Slice)
	if !ok || s.Left == nil || s.Right == nil || s.Left.Int != 1 || s.Right.Int != 4 {
		t.Fatalf("got %#v", expr)
	}
}

func TestParseSliceOpenEnded(t *testing.T) {
	expr, err := Parse("arr[..]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, ok := expr.(Slice)
	if !ok || s.Left != nil || s.Right != nil {
		t.Fatalf("got %#v", expr)
	}
}

func TestParseDerefAndAddress(t *testing.T) {
	expr, err := Parse("*&foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := expr.(Deref)
	if !ok {
		t.Fatalf("got %#v", expr)
	}
	a, ok := d.X.(Address)
	if !ok {
		t.Fatalf("got %#v", d.X)
	}
	if _, ok := a.X.(Ident); !ok {
		t.Fatalf("got %#v", a.X)
	}
}

func TestParseDotWithoutIdentFails(t *testing.T) {
	if _, err := Parse("foo."); err == nil {
		t.Fatal("expected error for dangling dot")
	}
}

func TestParseMissingClosingBracket(t *testing.T) {
	if _, err := Parse("arr[3"); err == nil {
		t.Fatal("expected error for missing closing bracket")
	}
}

func TestParseParenExpr(t *testing.T) {
	expr, err := Parse("(foo.bar)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := expr.(Field); !ok {
		t.Fatalf("got %#v", expr)
	}
}
