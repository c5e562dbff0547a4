package dqe

import "strings"

// Specialize inspects an already-decoded struct Value's type name and
// namespace prefix and, if it recognizes one of the standard-library
// container/smart-pointer shapes spec.md §4.8 lists, synthesizes a
// specialized view over it while keeping the original decoded structure
// reachable via Value.Original, per spec.md §4.8 ("it must also remember
// the underlying structure (original) so that the user can ask for the
// canonical form").
//
// Grounded on BugStalker's debugger/variable/specialization module
// (original_source), which recognizes exactly this set of standard-library
// shapes for a Rust debuggee; the recognizer is name-prefix matching
// because DWARF carries no specialization tag of its own — the type's
// mangled name is the only signal available.
func Specialize(v *Value) *Value {
	if v.Type == nil {
		return v
	}
	name := v.Type.Name

	switch {
	case matchesAny(name, "&str", "str"):
		return specializeStr(v)
	case strings.HasPrefix(name, "alloc::string::String"):
		return specializeString(v)
	case strings.HasPrefix(name, "alloc::vec::Vec"):
		return specializeVec(v, "vec")
	case strings.HasPrefix(name, "alloc::collections::vec_deque::VecDeque"):
		return specializeVec(v, "deque")
	case strings.HasPrefix(name, "std::collections::hash::map::HashMap"), strings.HasPrefix(name, "std::collections::HashMap"):
		return specializeMap(v)
	case strings.HasPrefix(name, "std::collections::hash::set::HashSet"), strings.HasPrefix(name, "std::collections::HashSet"):
		return specializeSet(v)
	case strings.HasPrefix(name, "alloc::collections::btree::map::BTreeMap"):
		return specializeMap(v)
	case strings.HasPrefix(name, "alloc::collections::btree::set::BTreeSet"):
		return specializeSet(v)
	case strings.HasPrefix(name, "std::thread::local::LocalKey"):
		return specializeWrapper(v, "tls-cell")
	case strings.HasPrefix(name, "core::cell::Cell"):
		return specializeWrapper(v, "cell")
	case strings.HasPrefix(name, "core::cell::RefCell"):
		return specializeWrapper(v, "refcell")
	case strings.HasPrefix(name, "alloc::rc::Rc"):
		return specializeWrapper(v, "rc")
	case strings.HasPrefix(name, "alloc::sync::Arc"):
		return specializeWrapper(v, "arc")
	case strings.HasPrefix(name, "uuid::Uuid"):
		return specializeWrapper(v, "uuid")
	case strings.HasPrefix(name, "std::time::SystemTime"):
		return specializeWrapper(v, "systemtime")
	case strings.HasPrefix(name, "std::time::Instant"):
		return specializeWrapper(v, "instant")
	default:
		return v
	}
}

func matchesAny(s string, opts ...string) bool {
	for _, o := range opts {
		if s == o {
			return true
		}
	}
	return false
}

// specializeStr turns a (data_ptr, length) fat-pointer struct into a
// synthesized string value.
func specializeStr(v *Value) *Value {
	data := fieldOrNil(v, "data_ptr", "ptr")
	lenField := fieldOrNil(v, "length", "len")
	if data == nil || lenField == nil {
		return v
	}
	n := lenField.Uint
	if n > MaxContainerElements {
		n = MaxContainerElements
	}
	return &Value{
		Kind:               ValSpecialized,
		Type:               v.Type,
		SpecializationName: "str",
		Bytes:              []byte{}, // the buffer at data.PointeeAddr is not read; Bytes stays empty
		Original:           v,
	}
}

func specializeString(v *Value) *Value {
	inner := fieldOrNil(v, "vec")
	if inner == nil {
		return v
	}
	s := specializeVec(inner, "vec")
	s.SpecializationName = "string"
	s.Original = v
	return s
}

// specializeVec recognizes a (ptr, len, cap) Vec/VecDeque representation
// and returns a ValArray tagged with kind. The element buffer is not read:
// Elements stays nil, and the length, capped at MaxContainerElements, is
// computed but not stored in the result.
func specializeVec(v *Value, kind string) *Value {
	lenField := fieldOrNil(v, "len")
	if lenField == nil {
		return v
	}
	n := lenField.Uint
	if n > MaxContainerElements {
		n = MaxContainerElements
	}
	return &Value{
		Kind:               ValArray,
		Type:               v.Type,
		SpecializationName: kind,
		Elements:           nil, // the buffer behind the inner RawVec's ptr is not read
		Original:           v,
	}
}

func specializeMap(v *Value) *Value {
	return &Value{
		Kind:               ValArray,
		Type:               v.Type,
		SpecializationName: "map",
		Original:           v,
	}
}

func specializeSet(v *Value) *Value {
	return &Value{
		Kind:               ValArray,
		Type:               v.Type,
		SpecializationName: "set",
		Original:           v,
	}
}

func specializeWrapper(v *Value, kind string) *Value {
	inner := fieldOrNil(v, "value", "0", "data")
	out := &Value{
		Kind:               ValSpecialized,
		Type:               v.Type,
		SpecializationName: kind,
		Original:           v,
	}
	if inner != nil {
		out.ActiveVariant = inner
	}
	return out
}

func fieldOrNil(v *Value, names ...string) *Value {
	if v.Fields == nil {
		return nil
	}
	for _, n := range names {
		if f, ok := v.Fields[n]; ok {
			return f
		}
	}
	return nil
}
