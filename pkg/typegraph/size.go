package typegraph

import "fmt"

// ErrUnknownSize is returned when a type's size cannot be statically
// determined, matching the UnknownSize(type) evaluator error spec.md §7
// names.
type ErrUnknownSize struct{ TypeName string }

func (e ErrUnknownSize) Error() string { return fmt.Sprintf("unknown size for type %q", e.TypeName) }

// SizeOf resolves the byte size of a type node, recursing through
// modifiers and computing array sizes from element size * count. Per
// spec.md §4.2 ("Sizes of types are resolved through a size function that
// may itself consult the DWARF expression evaluator for count-based arrays
// whose length depends on a DIE attribute"), an array whose Count the
// standard library's DWARF parser could not determine statically is
// reported as ErrUnknownSize rather than guessed at.
func (g *Graph) SizeOf(id TypeId) (int64, error) {
	decl, ok := g.nodes[id]
	if !ok {
		return 0, fmt.Errorf("typegraph: no such type %d", id)
	}
	switch decl.Kind {
	case KindModifier:
		if decl.Size > 0 {
			return decl.Size, nil
		}
		return g.SizeOf(decl.Inner)
	case KindArray:
		if decl.Count < 0 {
			return 0, ErrUnknownSize{TypeName: decl.Name}
		}
		elemSize := decl.ElementBytes
		if elemSize == 0 {
			var err error
			elemSize, err = g.SizeOf(decl.ElementType)
			if err != nil {
				return 0, err
			}
		}
		return elemSize * decl.Count, nil
	case KindPointer, KindSubroutine:
		if decl.Size == 0 {
			return 8, nil
		}
		return decl.Size, nil
	default:
		if decl.Size > 0 || decl.Kind == KindScalar {
			return decl.Size, nil
		}
		return 0, ErrUnknownSize{TypeName: decl.Name}
	}
}

// TargetSizeHint resolves the pointee size for a pointer type (spec.md
// §4.6's "the resulting pointer value's target size becomes the watch
// size"). The DQE evaluator and the facade's watchpoint sizing do not call
// it.
func (g *Graph) TargetSizeHint(ptr *TypeDeclaration) (int64, error) {
	if ptr.Kind != KindPointer {
		return 0, fmt.Errorf("typegraph: TargetSizeHint on non-pointer type %q", ptr.Name)
	}
	if ptr.TargetType == 0 {
		return 0, ErrUnknownSize{TypeName: "<void>"}
	}
	return g.SizeOf(ptr.TargetType)
}
