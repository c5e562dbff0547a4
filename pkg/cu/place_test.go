package cu

import "testing"

func mkMatrix() LineMatrix {
	m := LineMatrix{
		{Address: 0x100, Line: 1, IsStmt: true},
		{Address: 0x110, Line: 2, IsStmt: false},
		{Address: 0x120, Line: 3, IsStmt: true},
		{Address: 0x130, Line: 4, IsStmt: true},
	}
	sortMatrix(m)
	return m
}

func TestNearestAtOrBefore(t *testing.T) {
	m := mkMatrix()
	p, ok := m.NearestAtOrBefore(0x115)
	if !ok || p.Address != 0x110 {
		t.Fatalf("got %+v, want address 0x110", p)
	}
	if _, ok := m.NearestAtOrBefore(0x50); ok {
		t.Fatal("expected no match before first row")
	}
}

func TestExactAt(t *testing.T) {
	m := mkMatrix()
	p, ok := m.ExactAt(0x120)
	if !ok || p.Line != 3 {
		t.Fatalf("got %+v", p)
	}
	if _, ok := m.ExactAt(0x121); ok {
		t.Fatal("expected no exact match")
	}
}

func TestWithin(t *testing.T) {
	m := mkMatrix()
	rows := m.Within(0x110, 0x130)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
}

func TestNextPrevStatement(t *testing.T) {
	m := mkMatrix()
	n, ok := m.NextStatement(0)
	if !ok || n.Line != 3 {
		t.Fatalf("got %+v, want line 3 (row 1 is not a statement)", n)
	}
	p, ok := m.PrevStatement(2)
	if !ok || p.Line != 1 {
		t.Fatalf("got %+v, want line 1", p)
	}
}

func TestScopeBoundaryHelpers(t *testing.T) {
	m := mkMatrix()
	p, ok := m.FirstStatementAtOrAfter(0x111)
	if !ok || p.Address != 0x120 {
		t.Fatalf("got %+v, want 0x120", p)
	}
	q, ok := m.LastStatementAtOrBefore(0x115)
	if !ok || q.Address != 0x100 {
		t.Fatalf("got %+v, want 0x100", q)
	}
}
