package dqe

import (
	"encoding/binary"
	"testing"

	"github.com/dwarfdbg/dwarfdbg/pkg/typegraph"
)

// fakeEvalMemory is a flat byte-addressed memory fake, standing in for a
// tracee's address space.
type fakeEvalMemory struct {
	bytes map[uint64]byte
}

func newFakeEvalMemory() *fakeEvalMemory { return &fakeEvalMemory{bytes: map[uint64]byte{}} }

func (f *fakeEvalMemory) ReadMemory(out []byte, addr uint64) (int, error) {
	for i := range out {
		out[i] = f.bytes[addr+uint64(i)]
	}
	return len(out), nil
}

func (f *fakeEvalMemory) putUint32(addr uint64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	for i, b := range buf {
		f.bytes[addr+uint64(i)] = b
	}
}

func (f *fakeEvalMemory) putUint64(addr uint64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	for i, b := range buf {
		f.bytes[addr+uint64(i)] = b
	}
}

// fakeVarLookup resolves a fixed set of variable names to (addr, type).
type fakeVarLookup struct {
	vars map[string]struct {
		addr uint64
		typ  typegraph.TypeId
	}
}

func newFakeVarLookup() *fakeVarLookup {
	return &fakeVarLookup{vars: map[string]struct {
		addr uint64
		typ  typegraph.TypeId
	}{}}
}

func (f *fakeVarLookup) add(name string, addr uint64, typ typegraph.TypeId) {
	f.vars[name] = struct {
		addr uint64
		typ  typegraph.TypeId
	}{addr, typ}
}

func (f *fakeVarLookup) LookupVariable(name string, localsOnly bool) (uint64, typegraph.TypeId, bool) {
	v, ok := f.vars[name]
	return v.addr, v.typ, ok
}

// fakeTypeResolver resolves a pointer-cast's bare type name to its TypeId,
// standing in for the image-wide type-name index the live facade builds
// from DWARF.
type fakeTypeResolver struct {
	byName map[string]typegraph.TypeId
}

func (f fakeTypeResolver) TypeIdByName(name string) (typegraph.TypeId, bool) {
	id, ok := f.byName[name]
	return id, ok
}

const (
	typeI32 typegraph.TypeId = iota + 1
	typePtrToI32
	typePoint
	typeArr3I32
)

func newEvalFixture() (*Evaluator, *fakeEvalMemory, *fakeVarLookup) {
	nodes := map[typegraph.TypeId]*typegraph.TypeDeclaration{
		typeI32: {Id: typeI32, Name: "i32", Kind: typegraph.KindScalar, Size: 4},
		typePtrToI32: {
			Id: typePtrToI32, Name: "*i32", Kind: typegraph.KindPointer, Size: 8,
			TargetType: typeI32,
		},
		typePoint: {
			Id: typePoint, Name: "Point", Kind: typegraph.KindStruct, Size: 8,
			Members: []typegraph.Member{
				{Name: "x", Type: typeI32, ByteOffset: 0},
				{Name: "y", Type: typeI32, ByteOffset: 4},
			},
		},
		typeArr3I32: {
			Id: typeArr3I32, Name: "[i32; 3]", Kind: typegraph.KindArray,
			ElementType: typeI32, ElementBytes: 4, Count: 3,
		},
	}
	graph := typegraph.NewGraphFromNodes(nodes)
	mem := newFakeEvalMemory()
	vars := newFakeVarLookup()
	e := &Evaluator{
		Graph:   graph,
		Mem:     mem,
		Loc:     typegraph.NewLocationEvaluator(8),
		Vars:    vars,
		Types:   fakeTypeResolver{byName: map[string]typegraph.TypeId{"i32": typeI32, "Point": typePoint}},
		PtrSize: 8,
	}
	return e, mem, vars
}

func TestEvalIdentScalar(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint32(0x1000, 42)
	vars.add("count", 0x1000, typeI32)

	v, err := e.Eval(Ident{Name: "count"})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v.Kind != ValScalar || v.Int != 42 {
		t.Fatalf("got %+v", v)
	}
}

func TestEvalIdentUnknown(t *testing.T) {
	e, _, _ := newEvalFixture()
	_, err := e.Eval(Ident{Name: "missing"})
	if _, ok := err.(ErrNoData); !ok {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestEvalStructField(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint32(0x2000, 10)
	mem.putUint32(0x2004, 20)
	vars.add("p", 0x2000, typePoint)

	v, err := e.Eval(Field{X: Ident{Name: "p"}, Name: "y"})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v.Kind != ValScalar || v.Int != 20 {
		t.Fatalf("got %+v", v)
	}
}

func TestEvalFieldNotFound(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint32(0x2000, 10)
	mem.putUint32(0x2004, 20)
	vars.add("p", 0x2000, typePoint)

	_, err := e.Eval(Field{X: Ident{Name: "p"}, Name: "z"})
	if _, ok := err.(ErrFieldNotFound); !ok {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestEvalPointerDeref(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint32(0x4000, 99)
	mem.putUint64(0x3000, 0x4000)
	vars.add("p", 0x3000, typePtrToI32)

	v, err := e.Eval(Deref{X: Ident{Name: "p"}})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v.Kind != ValScalar || v.Int != 99 {
		t.Fatalf("got %+v", v)
	}
}

func TestEvalDerefNonPointer(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint32(0x1000, 1)
	vars.add("n", 0x1000, typeI32)

	_, err := e.Eval(Deref{X: Ident{Name: "n"}})
	if _, ok := err.(ErrUnexpectedType); !ok {
		t.Fatalf("expected ErrUnexpectedType, got %v", err)
	}
}

func TestEvalArrayIndex(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint32(0x5000, 1)
	mem.putUint32(0x5004, 2)
	mem.putUint32(0x5008, 3)
	vars.add("arr", 0x5000, typeArr3I32)

	v, err := e.Eval(Index{X: Ident{Name: "arr"}, Literal: Literal{Kind: LitInt, Int: 2}})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v.Int != 3 {
		t.Fatalf("got %+v, want element 3", v)
	}
}

func TestEvalArrayIndexOutOfRange(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint32(0x5000, 1)
	mem.putUint32(0x5004, 2)
	mem.putUint32(0x5008, 3)
	vars.add("arr", 0x5000, typeArr3I32)

	_, err := e.Eval(Index{X: Ident{Name: "arr"}, Literal: Literal{Kind: LitInt, Int: 7}})
	if _, ok := err.(ErrFieldNotFound); !ok {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestEvalAddressOf(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint32(0x1000, 7)
	vars.add("n", 0x1000, typeI32)

	v, err := e.Eval(Address{X: Ident{Name: "n"}})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v.Kind != ValPointer || v.PointeeAddr != 0x1000 {
		t.Fatalf("got %+v", v)
	}
	if v.Type == nil || v.Type.Kind != typegraph.KindPointer || v.Type.TargetType != typeI32 {
		t.Fatalf("expected a pointer type targeting i32, got %+v", v.Type)
	}
}

// TestEvalDerefOfAddressRoundTrips exercises Deref(Address(n)) == n: the
// synthesized pointer Address produces must carry a TargetType the
// subsequent Deref can resolve back to the original scalar.
func TestEvalDerefOfAddressRoundTrips(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint32(0x1000, 7)
	vars.add("n", 0x1000, typeI32)

	v, err := e.Eval(Deref{X: Address{X: Ident{Name: "n"}}})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v.Kind != ValScalar || v.Int != 7 {
		t.Fatalf("got %+v, want the original scalar back", v)
	}
}

func TestEvalPtrCastFromIdent(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint64(0x1000, 0xbeef)
	vars.add("addr", 0x1000, typePtrToI32)

	v, err := e.Eval(PtrCast{Addr: Ident{Name: "addr"}, TypeName: "i32"})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v.Kind != ValPointer || v.PointeeAddr != 0xbeef {
		t.Fatalf("got %+v", v)
	}
	if v.Type == nil || v.Type.Kind != typegraph.KindPointer || v.Type.TargetType != typeI32 {
		t.Fatalf("expected a pointer type targeting i32, got %+v", v.Type)
	}
}

// TestEvalPtrCastThenDeref exercises *(i32*)addr end to end: casting a raw
// address to a named type must produce a pointer a subsequent Deref can
// actually follow, not a value with a nil Type.
func TestEvalPtrCastThenDeref(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint64(0x1000, 0x9000)
	mem.putUint32(0x9000, 123)
	vars.add("addr", 0x1000, typePtrToI32)

	v, err := e.Eval(Deref{X: PtrCast{Addr: Ident{Name: "addr"}, TypeName: "i32"}})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v.Kind != ValScalar || v.Int != 123 {
		t.Fatalf("got %+v", v)
	}
}

func TestEvalPtrCastUnknownTypeName(t *testing.T) {
	e, _, vars := newEvalFixture()
	vars.add("addr", 0x1000, typePtrToI32)

	_, err := e.Eval(PtrCast{Addr: Ident{Name: "addr"}, TypeName: "NoSuchType"})
	if _, ok := err.(ErrNoType); !ok {
		t.Fatalf("expected ErrNoType for an unresolvable cast target, got %v", err)
	}
}

func TestEvalSliceArray(t *testing.T) {
	e, mem, vars := newEvalFixture()
	mem.putUint32(0x5000, 1)
	mem.putUint32(0x5004, 2)
	mem.putUint32(0x5008, 3)
	vars.add("arr", 0x5000, typeArr3I32)

	left := Literal{Kind: LitInt, Int: 1}
	v, err := e.Eval(Slice{X: Ident{Name: "arr"}, Left: &left})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(v.Elements) != 2 || v.Elements[0].Int != 2 || v.Elements[1].Int != 3 {
		t.Fatalf("got %+v", v.Elements)
	}
}

func TestSpecializeVecRecognizesPrefix(t *testing.T) {
	lenField := &Value{Kind: ValScalar, Uint: 3}
	structVal := &Value{
		Kind: ValStruct,
		Type: &typegraph.TypeDeclaration{Name: "alloc::vec::Vec<i32, alloc::alloc::Global>"},
		Fields: map[string]*Value{
			"len": lenField,
		},
	}
	out := Specialize(structVal)
	if out.SpecializationName != "vec" {
		t.Fatalf("got specialization %q, want vec", out.SpecializationName)
	}
	if out.Original != structVal {
		t.Fatal("expected Original to point back at the undecorated struct value")
	}
}

func TestSpecializeLeavesUnrecognizedTypesAlone(t *testing.T) {
	v := &Value{Kind: ValStruct, Type: &typegraph.TypeDeclaration{Name: "my_app::Widget"}}
	out := Specialize(v)
	if out != v {
		t.Fatal("expected an unrecognized type name to pass through unchanged")
	}
}
