package dqe

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dwarfdbg/dwarfdbg/pkg/dwarf/op"
	"github.com/dwarfdbg/dwarfdbg/pkg/typegraph"
)

// MaxContainerElements caps the number of elements decoded out of a
// specialization's backing buffer, per spec.md §4.8's guard rails ("When
// decoding a not-yet-fully-initialized value... a reported length or
// capacity may be wildly large. The evaluator caps both at 10,000 before
// performing bulk reads; this is documented behavior, not an error").
const MaxContainerElements = 10000

// MemoryReader reads tracee memory by address, the same primitive
// spec.md §4.8 calls read_memory_by_pid, abstracted here over whatever
// pid owns the read (pkg/target.PidMemory in the live facade).
type MemoryReader interface {
	ReadMemory(out []byte, addr uint64) (int, error)
}

// VariableLookup resolves a bare identifier to its address and declared
// type, honoring the locals-only vs. locals+globals selector spec.md
// §4.8's Variable(selector) operation describes.
type VariableLookup interface {
	LookupVariable(name string, localsOnly bool) (addr uint64, typeID typegraph.TypeId, found bool)
}

// TypeResolver resolves a bare type name, as written in a pointer-cast
// expression's "(TypeName)" prefix, to its node in the evaluator's type
// graph. found is false for an unknown name.
type TypeResolver interface {
	TypeIdByName(name string) (typegraph.TypeId, bool)
}

// Evaluator walks a parsed Expr against the type graph and tracee memory,
// producing a typed Value tree, per spec.md §4.8.
type Evaluator struct {
	Graph   *typegraph.Graph
	Mem     MemoryReader
	Loc     *typegraph.LocationEvaluator
	Vars    VariableLookup
	Types   TypeResolver
	PtrSize int

	// LocalsOnly selects spec.md §4.8's Variable(selector) behavior: true
	// restricts bare-identifier lookup to the current scope's locals, false
	// also searches globals.
	LocalsOnly bool

	Regs op.DwarfRegisters
}

func (e *Evaluator) readMem(out []byte, addr uint64) (int, error) {
	n, err := e.Mem.ReadMemory(out, addr)
	if err != nil {
		return n, ErrReadDebugeeMemory{Addr: addr}
	}
	return n, nil
}

// Eval evaluates a parsed expression to a Value.
func (e *Evaluator) Eval(expr Expr) (*Value, error) {
	switch x := expr.(type) {
	case Ident:
		return e.evalIdent(x)
	case Field:
		return e.evalField(x)
	case Index:
		return e.evalIndex(x)
	case Slice:
		return e.evalSlice(x)
	case Deref:
		return e.evalDeref(x)
	case Address:
		return e.evalAddress(x)
	case PtrCast:
		return e.evalPtrCast(x)
	default:
		return nil, fmt.Errorf("dqe: unknown expression node %T", expr)
	}
}

func (e *Evaluator) evalIdent(id Ident) (*Value, error) {
	addr, typeID, ok := e.Vars.LookupVariable(id.Name, e.LocalsOnly)
	if !ok {
		return nil, ErrNoData{What: id.Name}
	}
	decl, ok := e.Graph.Node(typeID)
	if !ok {
		return nil, ErrNoType{What: id.Name}
	}
	return e.decode(addr, decl)
}

func (e *Evaluator) evalField(f Field) (*Value, error) {
	x, err := e.Eval(f.X)
	if err != nil {
		return nil, err
	}
	if x.Kind == ValTaggedEnum && x.ActiveVariant != nil {
		x = x.ActiveVariant
	}
	if x.Fields == nil {
		return nil, ErrUnexpectedType{Want: "struct/union", Got: fmt.Sprint(x.Kind)}
	}
	v, ok := x.Fields[f.Name]
	if !ok {
		return nil, ErrFieldNotFound{Name: f.Name}
	}
	return v, nil
}

func (e *Evaluator) evalIndex(ix Index) (*Value, error) {
	x, err := e.Eval(ix.X)
	if err != nil {
		return nil, err
	}
	if x.Kind == ValTaggedEnum && x.ActiveVariant != nil {
		x = x.ActiveVariant
	}

	if x.SpecializationName == "set" {
		for _, el := range x.Elements {
			if literalEqualsValue(ix.Literal, el) {
				return &Value{Kind: ValContainsBool, Bool: true}, nil
			}
		}
		return &Value{Kind: ValContainsBool, Bool: false}, nil
	}

	if x.SpecializationName == "map" {
		for i := 0; i+1 < len(x.Elements); i += 2 {
			if literalEqualsValue(ix.Literal, x.Elements[i]) {
				return x.Elements[i+1], nil
			}
		}
		return nil, ErrFieldNotFound{Name: "<key>"}
	}

	if x.Kind == ValTaggedEnum {
		for _, v := range x.Fields {
			return v, nil
		}
		return nil, ErrFieldNotFound{Name: "<variant>"}
	}

	if x.Kind == ValArray || x.SpecializationName == "vec" || x.SpecializationName == "deque" {
		if ix.Literal.Kind != LitInt {
			return nil, ErrInvalidOperand{Text: "array index must be an integer"}
		}
		idx := ix.Literal.Int
		if idx < 0 || idx >= int64(len(x.Elements)) {
			return nil, ErrFieldNotFound{Name: "<index>"}
		}
		return x.Elements[idx], nil
	}

	return nil, ErrUnexpectedType{Want: "indexable value", Got: fmt.Sprint(x.Kind)}
}

func literalEqualsValue(l Literal, v *Value) bool {
	switch l.Kind {
	case LitInt:
		return v.Int == l.Int || int64(v.Uint) == l.Int
	case LitString:
		return string(v.Bytes) == l.Str
	case LitBool:
		return v.Bool == l.Bool
	default:
		return false
	}
}

func (e *Evaluator) evalSlice(s Slice) (*Value, error) {
	x, err := e.Eval(s.X)
	if err != nil {
		return nil, err
	}

	if x.Kind == ValPointer {
		if s.Right == nil {
			return nil, ErrOperandNotFound{}
		}
		left := int64(0)
		if s.Left != nil {
			left = s.Left.Int
		}
		count := s.Right.Int - left
		if count < 0 {
			count = 0
		}
		if count > MaxContainerElements {
			count = MaxContainerElements
		}
		elemDecl, _ := e.Graph.Node(x.Type.TargetType)
		elemSize, err := e.Graph.SizeOf(x.Type.TargetType)
		if err != nil {
			return nil, err
		}
		out := &Value{Kind: ValArray, Type: x.Type}
		for i := int64(0); i < count; i++ {
			el, err := e.decode(x.PointeeAddr+uint64((left+i)*elemSize), elemDecl)
			if err != nil {
				return nil, err
			}
			out.Elements = append(out.Elements, el)
		}
		return out, nil
	}

	if x.Kind == ValArray {
		left, right := int64(0), int64(len(x.Elements))
		if s.Left != nil {
			left = s.Left.Int
		}
		if s.Right != nil {
			right = s.Right.Int
		}
		if left < 0 {
			left = 0
		}
		if right > int64(len(x.Elements)) {
			right = int64(len(x.Elements))
		}
		if left > right {
			left = right
		}
		return &Value{Kind: ValArray, Type: x.Type, Elements: x.Elements[left:right]}, nil
	}

	return nil, ErrUnexpectedType{Want: "array or raw pointer", Got: fmt.Sprint(x.Kind)}
}

func (e *Evaluator) evalDeref(d Deref) (*Value, error) {
	x, err := e.Eval(d.X)
	if err != nil {
		return nil, err
	}
	if x.Kind != ValPointer {
		return nil, ErrUnexpectedType{Want: "pointer", Got: fmt.Sprint(x.Kind)}
	}
	if x.Type.Kind == typegraph.KindPointer {
		if target, ok := e.Graph.Node(x.Type.TargetType); ok && target.Kind == typegraph.KindSubroutine {
			return nil, ErrUnexpectedType{Want: "data pointer", Got: "function pointer"}
		}
	}
	targetDecl, _ := e.Graph.Node(x.Type.TargetType)
	return e.decode(x.PointeeAddr, targetDecl)
}

func (e *Evaluator) evalAddress(a Address) (*Value, error) {
	x, err := e.Eval(a.X)
	if err != nil {
		return nil, err
	}
	if !x.HasAddr {
		return nil, ErrAddressUnavailable{}
	}
	return &Value{
		Kind:        ValPointer,
		Type:        e.Graph.PointerTo(x.Type.Id),
		PointeeAddr: x.Addr,
		Uint:        x.Addr,
	}, nil
}

func (e *Evaluator) evalPtrCast(c PtrCast) (*Value, error) {
	addrVal, err := e.Eval(c.Addr)
	if err != nil {
		return nil, err
	}
	var addr uint64
	switch addrVal.Kind {
	case ValScalar:
		addr = addrVal.Uint
	case ValPointer:
		addr = addrVal.Uint
	default:
		return nil, ErrUnexpectedType{Want: "address-valued expression", Got: fmt.Sprint(addrVal.Kind)}
	}
	if e.Types == nil {
		return nil, ErrNoType{What: c.TypeName}
	}
	targetID, ok := e.Types.TypeIdByName(c.TypeName)
	if !ok {
		return nil, ErrNoType{What: c.TypeName}
	}
	return &Value{Kind: ValPointer, Type: e.Graph.PointerTo(targetID), PointeeAddr: addr, Uint: addr}, nil
}

// decode reads and interprets the bytes at addr as the given type,
// building the typed Value tree recursively, per spec.md §3's "Value"
// description and §4.8's specialization-recognition pass.
func (e *Evaluator) decode(addr uint64, decl *typegraph.TypeDeclaration) (*Value, error) {
	if decl == nil {
		return nil, ErrNoType{What: "<unknown>"}
	}

	switch decl.Kind {
	case typegraph.KindModifier:
		inner, _ := e.Graph.Node(decl.Inner)
		v, err := e.decode(addr, inner)
		if err != nil {
			return nil, err
		}
		v.Type = decl
		return v, nil

	case typegraph.KindScalar:
		return e.decodeScalar(addr, decl)

	case typegraph.KindPointer:
		buf := make([]byte, e.PtrSize)
		if _, err := e.readMem(buf, addr); err != nil {
			return nil, err
		}
		p := binary.LittleEndian.Uint64(buf)
		return &Value{Kind: ValPointer, Type: decl, Addr: addr, HasAddr: true, Uint: p, PointeeAddr: p}, nil

	case typegraph.KindSubroutine:
		buf := make([]byte, e.PtrSize)
		if _, err := e.readMem(buf, addr); err != nil {
			return nil, err
		}
		return &Value{Kind: ValPointer, Type: decl, Addr: addr, HasAddr: true, Uint: binary.LittleEndian.Uint64(buf)}, nil

	case typegraph.KindCEnum:
		sz, err := e.Graph.SizeOf(decl.Id)
		if err != nil {
			sz = 4
		}
		buf := make([]byte, sz)
		if _, err := e.readMem(buf, addr); err != nil {
			return nil, err
		}
		iv := readIntLE(buf)
		name := decl.Enumerators[iv]
		return &Value{Kind: ValEnum, Type: decl, Addr: addr, HasAddr: true, Int: iv, EnumName: name}, nil

	case typegraph.KindArray:
		return e.decodeArray(addr, decl)

	case typegraph.KindStruct, typegraph.KindUnion:
		return e.decodeStruct(addr, decl)

	case typegraph.KindTaggedEnum:
		return e.decodeTaggedEnum(addr, decl)

	default:
		return nil, ErrIncompleteInterp{What: decl.Name}
	}
}

func (e *Evaluator) decodeScalar(addr uint64, decl *typegraph.TypeDeclaration) (*Value, error) {
	sz := decl.Size
	if sz <= 0 {
		sz = 8
	}
	buf := make([]byte, sz)
	if _, err := e.readMem(buf, addr); err != nil {
		return nil, err
	}
	v := &Value{Kind: ValScalar, Type: decl, Addr: addr, HasAddr: true, Bytes: buf}
	switch {
	case decl.IsBool:
		v.Bool = buf[0] != 0
	case decl.IsFloat:
		if sz == 4 {
			v.Float = float64(math.Float32frombits(uint32(readIntLE(buf))))
		} else {
			v.Float = math.Float64frombits(uint64(readIntLE(buf)))
		}
	case decl.IsUnsigned:
		v.Uint = uint64(readIntLE(buf))
	default:
		v.Int = signExtend(readIntLE(buf), int(sz))
	}
	return v, nil
}

func (e *Evaluator) decodeArray(addr uint64, decl *typegraph.TypeDeclaration) (*Value, error) {
	elemDecl, _ := e.Graph.Node(decl.ElementType)
	count := decl.Count
	if count < 0 {
		count = 0
	}
	if count > MaxContainerElements {
		count = MaxContainerElements
	}
	elemSize, err := e.Graph.SizeOf(decl.ElementType)
	if err != nil {
		return nil, err
	}
	out := &Value{Kind: ValArray, Type: decl, Addr: addr, HasAddr: true}
	for i := int64(0); i < count; i++ {
		el, err := e.decode(addr+uint64(i*elemSize), elemDecl)
		if err != nil {
			return nil, err
		}
		out.Elements = append(out.Elements, el)
	}
	return out, nil
}

func (e *Evaluator) decodeStruct(addr uint64, decl *typegraph.TypeDeclaration) (*Value, error) {
	out := &Value{Kind: ValStruct, Type: decl, Addr: addr, HasAddr: true, Fields: map[string]*Value{}}
	if decl.Kind == typegraph.KindUnion {
		out.Kind = ValStruct // unions decode the same way; caller picks the active member by convention
	}
	for _, m := range decl.Members {
		memberDecl, _ := e.Graph.Node(m.Type)
		maddr, err := e.Loc.MemberAddress(m, addr)
		if err != nil {
			return nil, err
		}
		mv, err := e.decode(maddr, memberDecl)
		if err != nil {
			return nil, err
		}
		out.Fields[m.Name] = mv
		out.FieldOrder = append(out.FieldOrder, m.Name)
	}
	return Specialize(out), nil
}

func (e *Evaluator) decodeTaggedEnum(addr uint64, decl *typegraph.TypeDeclaration) (*Value, error) {
	out := &Value{Kind: ValTaggedEnum, Type: decl, Addr: addr, HasAddr: true, Fields: map[string]*Value{}}
	if decl.DiscriminantMember == nil {
		return out, nil
	}
	discDecl, _ := e.Graph.Node(decl.DiscriminantMember.Type)
	discAddr, err := e.Loc.MemberAddress(*decl.DiscriminantMember, addr)
	if err != nil {
		return nil, err
	}
	discVal, err := e.decode(discAddr, discDecl)
	if err != nil {
		return nil, err
	}

	var discriminant int64
	if discVal.Kind == ValEnum {
		discriminant = discVal.Int
	} else {
		discriminant = discVal.Int
	}

	for _, variant := range decl.Variants {
		if variant.Discriminant != nil && *variant.Discriminant != discriminant {
			continue
		}
		memberDecl, _ := e.Graph.Node(variant.Member.Type)
		maddr, err := e.Loc.MemberAddress(variant.Member, addr)
		if err != nil {
			return nil, err
		}
		mv, err := e.decode(maddr, memberDecl)
		if err != nil {
			return nil, err
		}
		out.Fields[variant.Member.Name] = mv
		out.ActiveVariant = mv
		break
	}
	return out, nil
}

func readIntLE(buf []byte) int64 {
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return int64(v)
}

func signExtend(v int64, byteLen int) int64 {
	bits := uint(byteLen * 8)
	if bits >= 64 {
		return v
	}
	mask := int64(1) << (bits - 1)
	return (v ^ mask) - mask
}
