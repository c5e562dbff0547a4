package dqe

import "github.com/dwarfdbg/dwarfdbg/pkg/typegraph"

// ValueKind discriminates the shape of a decoded Value, per spec.md §3's
// "Value tree".
type ValueKind int

const (
	ValScalar ValueKind = iota
	ValStruct
	ValArray
	ValPointer
	ValEnum
	ValTaggedEnum
	ValSpecialized
	ValContainsBool // synthetic `contains` result for set membership queries
)

// Value is one node of the decoded value tree spec.md §3 and §4.8
// describe: a typed, addressed view over tracee memory.
type Value struct {
	Kind ValueKind
	Type *typegraph.TypeDeclaration

	// Addr is the value's location in tracee memory, when it has one
	// (synthesized slices/specializations may have none: AddressOf on them
	// fails with AddressUnavailable).
	Addr    uint64
	HasAddr bool

	// Scalar payload.
	Int      int64
	Uint     uint64
	Float    float64
	Bool     bool
	Bytes    []byte

	// Struct / union members, already decoded.
	Fields map[string]*Value
	FieldOrder []string

	// Array / slice elements.
	Elements []*Value

	// Enum
	EnumName string

	// Tagged enum
	ActiveVariant *Value

	// Pointer
	PointeeAddr uint64

	// Specialization: the recognized kind's synthesized view plus the
	// original decoded structure, per spec.md §4.8 ("it must also remember
	// the underlying structure (original) so that the user can ask for the
	// canonical form").
	SpecializationName string
	Original           *Value
}

// ErrFieldNotFound / ErrFieldNotANumber / ErrUnexpectedType / etc. mirror
// spec.md §7's evaluator-error taxonomy.
type ErrFieldNotFound struct{ Name string }

func (e ErrFieldNotFound) Error() string { return "dqe: field not found: " + e.Name }

type ErrFieldNotANumber struct{ Name string }

func (e ErrFieldNotANumber) Error() string { return "dqe: field is not a number: " + e.Name }

type ErrUnexpectedType struct{ Want, Got string }

func (e ErrUnexpectedType) Error() string {
	return "dqe: unexpected type: want " + e.Want + ", got " + e.Got
}

type ErrAddressUnavailable struct{}

func (ErrAddressUnavailable) Error() string { return "dqe: address unavailable for this value" }

type ErrReadDebugeeMemory struct{ Addr uint64 }

func (e ErrReadDebugeeMemory) Error() string {
	return "dqe: failed reading tracee memory"
}

type ErrNoData struct{ What string }

func (e ErrNoData) Error() string { return "dqe: no data: " + e.What }

type ErrNoType struct{ What string }

func (e ErrNoType) Error() string { return "dqe: no type: " + e.What }

type ErrIncompleteInterp struct{ What string }

func (e ErrIncompleteInterp) Error() string { return "dqe: incomplete interpretation: " + e.What }
