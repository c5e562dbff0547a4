package main

import (
	"fmt"
	"strings"

	"github.com/dwarfdbg/dwarfdbg/pkg/dqe"
)

// formatValue renders a decoded dqe.Value tree for terminal display,
// mirroring delve's own recursive variable printer: scalars inline,
// aggregates indented one level, pointers shown as their target address.
func formatValue(v *dqe.Value) string {
	if v == nil {
		return "<nil>"
	}
	switch v.Kind {
	case dqe.ValScalar:
		return formatScalar(v)
	case dqe.ValPointer:
		return fmt.Sprintf("*(%#x)", v.PointeeAddr)
	case dqe.ValArray:
		parts := make([]string, len(v.Elements))
		for i, e := range v.Elements {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case dqe.ValStruct:
		parts := make([]string, 0, len(v.FieldOrder))
		for _, name := range v.FieldOrder {
			parts = append(parts, fmt.Sprintf("%s: %s", name, formatValue(v.Fields[name])))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case dqe.ValEnum:
		return v.EnumName
	case dqe.ValTaggedEnum:
		return fmt.Sprintf("%s(%s)", v.EnumName, formatValue(v.ActiveVariant))
	case dqe.ValSpecialized:
		return fmt.Sprintf("%s %s", v.SpecializationName, formatValue(v.Original))
	case dqe.ValContainsBool:
		return fmt.Sprintf("%v", v.Bool)
	default:
		return fmt.Sprintf("<unknown value kind %d>", v.Kind)
	}
}

func formatScalar(v *dqe.Value) string {
	switch {
	case v.Type != nil && v.Type.IsBool:
		return fmt.Sprintf("%v", v.Bool)
	case v.Type != nil && v.Type.IsFloat:
		return fmt.Sprintf("%g", v.Float)
	case v.Type != nil && v.Type.IsUnsigned:
		return fmt.Sprintf("%d", v.Uint)
	default:
		return fmt.Sprintf("%d", v.Int)
	}
}
