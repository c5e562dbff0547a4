// Package address implements the two address spaces the debugger engine
// reasons about: file-relative (global) addresses as emitted by DWARF and
// live virtual (relocated) addresses inside a running tracee. The two must
// never be silently interchanged; Address enforces that by carrying its
// kind alongside the value.
package address

import "fmt"

// Kind discriminates the two address spaces.
type Kind uint8

const (
	// Global addresses are offsets within the program image as described by
	// DWARF: file-relative, independent of where the object is mapped.
	Global Kind = iota
	// Relocated addresses are live virtual addresses in the tracee.
	Relocated
)

func (k Kind) String() string {
	switch k {
	case Global:
		return "global"
	case Relocated:
		return "relocated"
	default:
		return "unknown"
	}
}

// Address is a tagged program address. The zero value is the global
// address 0, which is a valid (if usually uninteresting) value.
type Address struct {
	kind  Kind
	value uint64
}

// NewGlobal builds a file-relative address.
func NewGlobal(v uint64) Address { return Address{kind: Global, value: v} }

// NewRelocated builds a live virtual address.
func NewRelocated(v uint64) Address { return Address{kind: Relocated, value: v} }

// Kind reports which address space a holds.
func (a Address) Kind() Kind { return a.kind }

// IsGlobal reports whether a is a file-relative address.
func (a Address) IsGlobal() bool { return a.kind == Global }

// IsRelocated reports whether a is a live virtual address.
func (a Address) IsRelocated() bool { return a.kind == Relocated }

// Raw returns the numeric value regardless of kind. Callers that need to
// distinguish kinds should check Kind() first; Raw is for formatting,
// hashing and passing to generic byte-length arithmetic.
func (a Address) Raw() uint64 { return a.value }

// MustGlobal returns the underlying value, panicking if a is not Global.
// Used at call sites that have already established the invariant (e.g.
// DWARF-side code that only ever sees Global addresses) and would rather
// fail loudly than silently operate on the wrong space.
func (a Address) MustGlobal() uint64 {
	if a.kind != Global {
		panic(fmt.Sprintf("address: expected global address, got %s", a.kind))
	}
	return a.value
}

// MustRelocated returns the underlying value, panicking if a is not
// Relocated.
func (a Address) MustRelocated() uint64 {
	if a.kind != Relocated {
		panic(fmt.Sprintf("address: expected relocated address, got %s", a.kind))
	}
	return a.value
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%#x", a.kind, a.value)
}

// Add returns a new address of the same kind offset by delta.
func (a Address) Add(delta int64) Address {
	return Address{kind: a.kind, value: uint64(int64(a.value) + delta)}
}

// Mapping is the address range at which one object (the main executable or
// a shared library) has been loaded into the tracee.
type Mapping struct {
	Name       string
	StaticBase uint64 // runtime load bias: relocated = global + StaticBase
	Begin      uint64 // relocated begin
	End        uint64 // relocated end, exclusive
}

// Contains reports whether the relocated address v falls within m.
func (m Mapping) Contains(v uint64) bool {
	return v >= m.Begin && v < m.End
}

// ErrMappingNotFound is returned when no loaded object covers the address
// being converted.
type ErrMappingNotFound struct {
	Addr Address
}

func (e ErrMappingNotFound) Error() string {
	return fmt.Sprintf("address mapping not found for %s", e.Addr)
}

// Table tracks the set of currently loaded object mappings (program image
// plus shared objects) and performs Global<->Relocated conversion. It is
// owned by the facade and updated on process install and on every linker
// rendezvous hit.
type Table struct {
	mappings []Mapping
}

// NewTable returns an empty mapping table.
func NewTable() *Table { return &Table{} }

// Set replaces the whole set of mappings, e.g. after re-reading
// /proc/<pid>/maps.
func (t *Table) Set(mappings []Mapping) { t.mappings = mappings }

// Add registers a single mapping, e.g. for a newly dlopen'd shared object.
func (t *Table) Add(m Mapping) { t.mappings = append(t.mappings, m) }

// Mappings returns the current set of loaded objects, in load order.
func (t *Table) Mappings() []Mapping {
	out := make([]Mapping, len(t.mappings))
	copy(out, t.mappings)
	return out
}

// mappingFor returns the mapping covering a relocated address.
func (t *Table) mappingFor(relocated uint64) (Mapping, bool) {
	for _, m := range t.mappings {
		if m.Contains(relocated) {
			return m, true
		}
	}
	return Mapping{}, false
}

// mappingByName returns the mapping with the given object name, used when
// converting a Global address whose owning object is already known (e.g.
// the DWARF compilation unit records which image it came from).
func (t *Table) mappingByName(name string) (Mapping, bool) {
	for _, m := range t.mappings {
		if m.Name == name {
			return m, true
		}
	}
	return Mapping{}, false
}

// ToRelocated converts a Global address belonging to the named object into
// its live Relocated form.
func (t *Table) ToRelocated(objectName string, a Address) (Address, error) {
	if !a.IsGlobal() {
		return Address{}, fmt.Errorf("address: ToRelocated requires a global address, got %s", a.Kind())
	}
	m, ok := t.mappingByName(objectName)
	if !ok {
		return Address{}, ErrMappingNotFound{Addr: a}
	}
	return NewRelocated(a.Raw() + m.StaticBase), nil
}

// ToGlobal converts a Relocated address into its file-relative Global form,
// identifying the owning object by address-range lookup.
func (t *Table) ToGlobal(a Address) (Address, string, error) {
	if !a.IsRelocated() {
		return Address{}, "", fmt.Errorf("address: ToGlobal requires a relocated address, got %s", a.Kind())
	}
	m, ok := t.mappingFor(a.Raw())
	if !ok {
		return Address{}, "", ErrMappingNotFound{Addr: a}
	}
	return NewGlobal(a.Raw() - m.StaticBase), m.Name, nil
}
