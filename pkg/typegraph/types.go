// Package typegraph implements the complex-type catalog described in
// spec.md §3/§4.2: a directed graph of TypeDeclaration nodes keyed by
// TypeId, covering scalar, array, struct, union, C-style enum, tagged
// enum, pointer, subroutine and modifier (const/volatile/atomic/restrict/
// typedef) kinds, plus size resolution and the DWARF-location evaluator
// member locations and frame bases need.
//
// Grounded on spec.md §3/§4.2 and BugStalker's debugee/dwarf/r#type module
// (referenced via original_source/src/debugger/variable/value/mod.rs
// imports); built on top of the standard library's debug/dwarf type parser
// (dwarf.Type) rather than re-parsing type DIEs by hand, since debug/dwarf
// already resolves DW_AT_type chains, struct members and array bounds —
// no retrieved example repo layers a third-party type-graph library over
// debug/dwarf either (delve's own pkg/dwarf/godwarf does the same kind of
// thin wrapping).
package typegraph

import (
	"debug/dwarf"
	"fmt"
)

// TypeId identifies a node in the graph: the DIE offset of the type.
type TypeId uint64

// Kind discriminates the shape of a TypeDeclaration.
type Kind int

const (
	KindScalar Kind = iota
	KindArray
	KindStruct
	KindUnion
	KindCEnum
	KindTaggedEnum
	KindPointer
	KindSubroutine
	KindModifier
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	case KindCEnum:
		return "enum"
	case KindTaggedEnum:
		return "tagged-enum"
	case KindPointer:
		return "pointer"
	case KindSubroutine:
		return "subroutine"
	case KindModifier:
		return "modifier"
	default:
		return "unknown"
	}
}

// Member is one field of a struct or union: its name, its type, and its
// byte offset within the containing aggregate (unions: always 0).
type Member struct {
	Name       string
	Type       TypeId
	ByteOffset int64
	// LocationExpr, if non-nil, is a DWARF location expression that must be
	// evaluated (rather than a plain constant offset) to find this member's
	// address — used by bitfields and a handful of compiler-specific
	// encodings; most members use ByteOffset directly.
	LocationExpr []byte
}

// TaggedVariant maps one discriminant value to the struct member that holds
// that variant's payload, generalizing Rust-style "#[repr] enum as tagged
// union" encodings that compilers lower to DWARF as a structure with a
// discriminant field and an anonymous variant part.
type TaggedVariant struct {
	Discriminant *int64 // nil means "default/untagged variant"
	Member       Member
}

// TypeDeclaration is one node of the type graph.
type TypeDeclaration struct {
	Id   TypeId
	Name string
	Kind Kind
	Size int64 // byte size, when statically known; see Graph.SizeOf otherwise

	// Scalar
	Encoding   int64 // DW_ATE_* value
	IsFloat    bool
	IsUnsigned bool
	IsBool     bool

	// Array
	ElementType  TypeId
	Count        int64 // -1 if not statically known; SizeOf then reports ErrUnknownSize
	ElementBytes int64

	// Struct / Union
	Members []Member
	// TypeParams maps a generic/template type-parameter name to its
	// resolved TypeId, per spec.md §4.2 ("plus type-parameter map"). build
	// creates it empty for structs and unions and does not fill it.
	TypeParams map[string]TypeId

	// Enum (C-style): discriminant type plus value->name map.
	DiscriminantType TypeId
	Enumerators      map[int64]string

	// Tagged enum: which member holds the discriminant, and the
	// discriminant-value -> variant-struct-member map.
	DiscriminantMember *Member
	Variants           []TaggedVariant

	// Pointer
	TargetType TypeId
	TargetSize int64 // hint, set when the pointer node is built and not updated afterwards

	// Subroutine
	ReturnType TypeId
	HasReturn  bool

	// Modifier (const/volatile/atomic/restrict/typedef)
	ModifierKeyword string
	Inner           TypeId
}

// Graph is the directed graph of TypeDeclaration nodes for one Image,
// built lazily from debug/dwarf's own dwarf.Type resolution and memoized
// by TypeId.
type Graph struct {
	data  *dwarf.Data
	nodes map[TypeId]*TypeDeclaration
}

// NewGraph returns an empty graph backed by the given parsed DWARF data.
func NewGraph(data *dwarf.Data) *Graph {
	return &Graph{data: data, nodes: map[TypeId]*TypeDeclaration{}}
}

// NewGraphFromNodes builds a graph directly from an already-resolved node
// set, with no backing DWARF data. Resolve panics on such a graph; Node and
// SizeOf work normally. Used to build fixed type-graph fixtures for callers
// (the DQE evaluator's tests) that want to exercise decoding without a real
// object file.
func NewGraphFromNodes(nodes map[TypeId]*TypeDeclaration) *Graph {
	return &Graph{nodes: nodes}
}

// Resolve returns the TypeDeclaration for the type DIE at off, building and
// memoizing it (and any types it references) on first access.
func (g *Graph) Resolve(off dwarf.Offset) (*TypeDeclaration, error) {
	id := TypeId(off)
	if n, ok := g.nodes[id]; ok {
		return n, nil
	}
	// Insert a placeholder before recursing so that self-referential types
	// (a struct containing a pointer to itself) terminate instead of
	// looping forever.
	placeholder := &TypeDeclaration{Id: id}
	g.nodes[id] = placeholder

	t, err := g.data.Type(off)
	if err != nil {
		delete(g.nodes, id)
		return nil, fmt.Errorf("typegraph: resolving type at %#x: %w", off, err)
	}
	decl, err := g.build(id, t)
	if err != nil {
		delete(g.nodes, id)
		return nil, err
	}
	*placeholder = *decl
	return placeholder, nil
}

func (g *Graph) build(id TypeId, t dwarf.Type) (*TypeDeclaration, error) {
	common := t.Common()
	decl := &TypeDeclaration{Id: id, Name: common.Name, Size: common.ByteSize}

	switch v := t.(type) {
	case *dwarf.BoolType:
		decl.Kind = KindScalar
		decl.IsBool = true
	case *dwarf.CharType:
		decl.Kind = KindScalar
	case *dwarf.UcharType:
		decl.Kind = KindScalar
		decl.IsUnsigned = true
	case *dwarf.IntType:
		decl.Kind = KindScalar
	case *dwarf.UintType:
		decl.Kind = KindScalar
		decl.IsUnsigned = true
	case *dwarf.FloatType:
		decl.Kind = KindScalar
		decl.IsFloat = true
	case *dwarf.ComplexType:
		decl.Kind = KindScalar
		decl.IsFloat = true
	case *dwarf.UnspecifiedType:
		decl.Kind = KindScalar

	case *dwarf.ArrayType:
		decl.Kind = KindArray
		elemId, err := g.idFor(v.Type)
		if err != nil {
			return nil, err
		}
		decl.ElementType = elemId
		decl.ElementBytes = v.Type.Common().ByteSize
		decl.Count = v.Count // -1 if unknown, matching dwarf.ArrayType

	case *dwarf.StructType:
		if v.Kind == "union" {
			decl.Kind = KindUnion
		} else {
			decl.Kind = KindStruct
		}
		decl.TypeParams = map[string]TypeId{}
		for _, f := range v.Field {
			mid, err := g.idFor(f.Type)
			if err != nil {
				return nil, err
			}
			decl.Members = append(decl.Members, Member{
				Name:       f.Name,
				Type:       mid,
				ByteOffset: f.ByteOffset,
			})
		}

	case *dwarf.EnumType:
		decl.Kind = KindCEnum
		decl.Enumerators = map[int64]string{}
		for _, v := range v.Val {
			decl.Enumerators[v.Val] = v.Name
		}

	case *dwarf.PtrType:
		decl.Kind = KindPointer
		if v.Type != nil {
			tid, err := g.idFor(v.Type)
			if err != nil {
				return nil, err
			}
			decl.TargetType = tid
			decl.TargetSize = v.Type.Common().ByteSize
		}
		if decl.Size == 0 {
			decl.Size = 8
		}

	case *dwarf.FuncType:
		decl.Kind = KindSubroutine
		if v.ReturnType != nil {
			rid, err := g.idFor(v.ReturnType)
			if err != nil {
				return nil, err
			}
			decl.ReturnType = rid
			decl.HasReturn = true
		}

	case *dwarf.TypedefType:
		decl.Kind = KindModifier
		decl.ModifierKeyword = "typedef"
		inner, err := g.idFor(v.Type)
		if err != nil {
			return nil, err
		}
		decl.Inner = inner
		if decl.Size == 0 {
			decl.Size = v.Type.Common().ByteSize
		}

	case *dwarf.QualType:
		decl.Kind = KindModifier
		decl.ModifierKeyword = v.Qual
		inner, err := g.idFor(v.Type)
		if err != nil {
			return nil, err
		}
		decl.Inner = inner
		if decl.Size == 0 {
			decl.Size = v.Type.Common().ByteSize
		}

	default:
		decl.Kind = KindScalar
	}

	return decl, nil
}

func (g *Graph) idFor(t dwarf.Type) (TypeId, error) {
	if t == nil {
		return 0, nil
	}
	off := t.Common().Offset
	if _, ok := g.nodes[TypeId(off)]; !ok {
		if _, err := g.Resolve(off); err != nil {
			return 0, err
		}
	}
	return TypeId(off), nil
}

// MarkTaggedEnum promotes an already-resolved struct node into a tagged
// enum by supplying the discriminant member and the variant map, since
// DWARF itself has no first-class "tagged enum" DIE tag for most
// compilers that emit this shape. Nothing in this module calls it (the DQE
// specialization recognizer included), so build never produces a
// KindTaggedEnum node on its own.
func (g *Graph) MarkTaggedEnum(id TypeId, discriminant Member, variants []TaggedVariant) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	n.Kind = KindTaggedEnum
	n.DiscriminantMember = &discriminant
	n.Variants = variants
}

// Node returns the already-resolved declaration for id, if any.
func (g *Graph) Node(id TypeId) (*TypeDeclaration, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// syntheticPointerBit marks TypeIds minted by PointerTo rather than read
// from a DWARF pointer DIE, keeping them out of the real DIE-offset space
// (a DIE offset this large would overflow any object debug/dwarf can parse).
const syntheticPointerBit TypeId = 1 << 63

// PointerTo returns a pointer-type node whose TargetType is target,
// creating and memoizing it if this is the first request for that target.
// DWARF only gives the graph a pointer node where a DW_TAG_pointer_type DIE
// exists; the evaluator's Address and PtrCast expressions both need to
// synthesize one on the fly (address-of has no DIE at all, and a pointer
// cast names its target type, not a pointer to it), so they share this
// single minting path rather than leaving Value.Type pointed at whatever
// node happened to be on hand.
func (g *Graph) PointerTo(target TypeId) *TypeDeclaration {
	id := syntheticPointerBit | target
	if n, ok := g.nodes[id]; ok {
		return n
	}
	decl := &TypeDeclaration{Id: id, Kind: KindPointer, TargetType: target, Size: 8, TargetSize: 8}
	g.nodes[id] = decl
	return decl
}
