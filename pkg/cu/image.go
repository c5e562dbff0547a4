package cu

import (
	"debug/dwarf"
	"fmt"
	"sort"
	"strings"

	"github.com/derekparker/trie"
	"github.com/dwarfdbg/dwarfdbg/pkg/config"
	"github.com/dwarfdbg/dwarfdbg/pkg/logflags"
)

// Image is one loaded object (the main executable or a shared library):
// its parsed DWARF data plus the set of lazily-completed compilation units
// it contains. Grounded on spec.md §4.1 ("the loader accepts a parsed
// object, walks all compilation units").
type Image struct {
	Name    string
	data    *dwarf.Data
	cfg     *config.Config
	units   []*Unit
	nameTrie *trie.Trie // function suffix trie, shared across all units in this image
}

// Stripped reports whether this image carries no DWARF info at all.
func (img *Image) Stripped() bool { return img.data == nil }

// Units returns every compilation unit in this image, in DWARF order.
func (img *Image) Units() []*Unit { return img.units }

// Load parses dwarfData into an Image and performs phase-1 loading of every
// compilation unit (identity, encoding, ranges, line matrix).
func Load(name string, dwarfData *dwarf.Data, cfg *config.Config) (*Image, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	img := &Image{Name: name, data: dwarfData, cfg: cfg, nameTrie: trie.New()}
	if dwarfData == nil {
		return img, nil
	}

	r := dwarfData.Reader()
	idx := 0
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("cu: reading top-level DIE: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		u, err := img.loadUnitPhase1(entry, idx)
		if err != nil {
			return nil, fmt.Errorf("cu: loading unit %d: %w", idx, err)
		}
		img.units = append(img.units, u)
		idx++
		r.SkipChildren()
	}
	return img, nil
}

func attrStr(e *dwarf.Entry, a dwarf.Attr) string {
	v, _ := e.Val(a).(string)
	return v
}

func attrU64(e *dwarf.Entry, a dwarf.Attr) uint64 {
	switch v := e.Val(a).(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	default:
		return 0
	}
}

func (img *Image) loadUnitPhase1(entry *dwarf.Entry, idx int) (*Unit, error) {
	u := &Unit{
		Image:       img,
		Index:       idx,
		Name:        attrStr(entry, dwarf.AttrName),
		CompDir:     attrStr(entry, dwarf.AttrCompDir),
		LowPC:       attrU64(entry, dwarf.AttrLowpc),
		AddrSize:    8,
		AddrBase:    -1,
		LoclistBase: -1,
	}
	u.Name = img.cfg.RewriteSourcePath(u.Name)

	if lr, err := img.data.LineReader(entry); err == nil && lr != nil {
		u.files = lineReaderFiles(lr)
		var matrix LineMatrix
		var le dwarf.LineEntry
		for {
			err := lr.Next(&le)
			if err != nil {
				break
			}
			file := ""
			if le.File != nil {
				file = u.cfg().RewriteSourcePath(le.File.Name)
			}
			matrix = append(matrix, Place{
				File:          file,
				Line:          le.Line,
				Column:        le.Column,
				Address:       le.Address,
				IsStmt:        le.IsStmt,
				PrologueEnd:   le.PrologueEnd,
				EpilogueBegin: le.EpilogueBegin,
				EndSequence:   le.EndSequence,
			})
		}
		sortMatrix(matrix)
		u.lineMatrix = matrix
	}

	// Address ranges: low/high pc pair if present, else the DWARF ranges list.
	if highpc, ok := entry.Val(dwarf.AttrHighpc).(uint64); ok && u.LowPC != 0 {
		end := highpc
		if end < u.LowPC {
			end = u.LowPC + end // DWARF4+ high_pc is often an offset from low_pc
		}
		u.Ranges = []AddrRange{{Begin: u.LowPC, End: end}}
	}
	if ranges, err := img.data.Ranges(entry); err == nil {
		for _, rg := range ranges {
			u.Ranges = append(u.Ranges, AddrRange{Begin: rg[0], End: rg[1]})
		}
	}
	sort.Slice(u.Ranges, func(i, j int) bool { return u.Ranges[i].Begin < u.Ranges[j].Begin })

	u.entryOffset = entry.Offset
	return u, nil
}

func (u *Unit) cfg() *config.Config { return u.Image.cfg }

func lineReaderFiles(lr *dwarf.LineReader) []string {
	var files []string
	for _, f := range lr.Files() {
		if f == nil {
			files = append(files, "")
			continue
		}
		files = append(files, f.Name)
	}
	return files
}

// completeUnit performs phase 2: DFS over the DIE tree, building the
// function/variable/type indices, per-DIE ranges, and the parent-of map,
// per spec.md §4.1.
func (img *Image) completeUnit(u *Unit) error {
	u.funcByQualName = map[string]*FunctionInfo{}
	u.varIndex = map[string][]VarRef{}
	u.typeIndex = map[string]dwarf.Offset{}
	u.dieRanges = map[dwarf.Offset][]AddrRange{}
	u.parentOf = map[dwarf.Offset]dwarf.Offset{}

	if img.Stripped() {
		u.Stripped = true
		return nil
	}

	r := img.data.Reader()
	r.Seek(u.entryOffset)

	type frame struct {
		offset    dwarf.Offset
		namespace []string
		isNS      bool
	}
	var stack []frame

	root, err := r.Next()
	if err != nil {
		return err
	}
	if root == nil {
		return nil
	}
	stack = append(stack, frame{offset: root.Offset})

	for {
		entry, err := r.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		if entry.Tag == 0 {
			// debug/dwarf's reader returns an entry with no tag at the end of
			// every sibling list. The one closing the root's children ends this
			// unit; the reader would otherwise carry on into the next unit.
			if len(stack) == 1 {
				break
			}
			stack = stack[:len(stack)-1]
			continue
		}

		parent := stack[len(stack)-1]
		u.parentOf[entry.Offset] = parent.offset

		if ranges, err := img.data.Ranges(entry); err == nil && len(ranges) > 0 {
			for _, rg := range ranges {
				u.dieRanges[entry.Offset] = append(u.dieRanges[entry.Offset], AddrRange{Begin: rg[0], End: rg[1]})
			}
		} else if lo, ok := entry.Val(dwarf.AttrLowpc).(uint64); ok {
			hi := attrU64(entry, dwarf.AttrHighpc)
			if hi < lo {
				hi = lo + hi
			}
			u.dieRanges[entry.Offset] = []AddrRange{{Begin: lo, End: hi}}
		}

		switch entry.Tag {
		case dwarf.TagNamespace:
			name := attrStr(entry, dwarf.AttrName)
			if entry.Children {
				ns := append(append([]string{}, parent.namespace...), name)
				stack = append(stack, frame{offset: entry.Offset, namespace: ns, isNS: true})
			}
			continue
		case dwarf.TagSubprogram:
			fi := img.buildFunctionInfo(entry, parent.namespace)
			if fi != nil {
				qn := fi.QualifiedName()
				u.funcByQualName[qn] = fi
				u.funcSuffixes = append(u.funcSuffixes, qn)
				img.nameTrie.Add(reverseQualName(qn), 0)
			}
		case dwarf.TagVariable, dwarf.TagFormalParameter:
			if name := attrStr(entry, dwarf.AttrName); name != "" {
				u.varIndex[name] = append(u.varIndex[name], VarRef{Namespace: parent.namespace, Offset: entry.Offset})
			}
		case dwarf.TagBaseType, dwarf.TagStructType, dwarf.TagUnionType, dwarf.TagEnumerationType,
			dwarf.TagTypedef, dwarf.TagPointerType, dwarf.TagArrayType:
			if name := attrStr(entry, dwarf.AttrName); name != "" {
				if _, exists := u.typeIndex[name]; !exists {
					u.typeIndex[name] = entry.Offset
				}
			}
		}

		if entry.Children {
			stack = append(stack, frame{offset: entry.Offset, namespace: parent.namespace})
		}
	}

	return nil
}

func reverseQualName(qn string) string {
	parts := strings.Split(qn, "::")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "::")
}

func (img *Image) buildFunctionInfo(entry *dwarf.Entry, namespace []string) *FunctionInfo {
	name := attrStr(entry, dwarf.AttrName)
	linkage := attrStr(entry, dwarf.AttrLinkageName)
	declFile := ""
	declLine := 0
	var entryPC, endPC uint64

	if spec, ok := entry.Val(dwarf.AttrSpecification).(dwarf.Offset); ok {
		if specEntry := img.entryAt(spec); specEntry != nil {
			if name == "" {
				name = attrStr(specEntry, dwarf.AttrName)
			}
			if linkage == "" {
				linkage = attrStr(specEntry, dwarf.AttrLinkageName)
			}
			declLine = int(attrU64(specEntry, dwarf.AttrDeclLine))
		}
	}
	if name == "" && linkage == "" {
		return nil
	}
	if lo, ok := entry.Val(dwarf.AttrLowpc).(uint64); ok {
		entryPC = lo
		hi := attrU64(entry, dwarf.AttrHighpc)
		if hi < lo {
			hi = lo + hi
		}
		endPC = hi
	}
	if logflags.DWARF() {
		logflags.DWARFLogger().Debugf("function %s (linkage=%s) at %#x-%#x", name, linkage, entryPC, endPC)
	}
	return &FunctionInfo{
		Namespace:   namespace,
		Name:        name,
		LinkageName: linkage,
		DeclFile:    declFile,
		DeclLine:    declLine,
		Entry:       entryPC,
		End:         endPC,
		Offset:      entry.Offset,
	}
}

func (img *Image) entryAt(off dwarf.Offset) *dwarf.Entry {
	r := img.data.Reader()
	r.Seek(off)
	e, err := r.Next()
	if err != nil {
		return nil
	}
	return e
}

// FunctionsBySuffix aggregates the per-unit suffix lookup across every
// compilation unit in the image, per spec.md's "supporting prefix-suffix
// lookup used by `break <fn>`". Each unit matches by a linear scan of its
// qualified names; the image-wide nameTrie (filled with every qualified
// name reversed component-wise) is not queried here.
func (img *Image) FunctionsBySuffix(suffix string) ([]*FunctionInfo, error) {
	var out []*FunctionInfo
	for _, u := range img.units {
		fns, err := u.FunctionsBySuffix(suffix)
		if err != nil {
			return nil, err
		}
		out = append(out, fns...)
	}
	return out, nil
}

// TypeOffsetNamed searches every unit for a type with the given name,
// returning the first match (and the unit that owns it), supporting a
// pointer-cast expression's "(TypeName)" lookup regardless of which unit
// happens to declare the type.
func (img *Image) TypeOffsetNamed(name string) (dwarf.Offset, bool, error) {
	for _, u := range img.units {
		off, ok, err := u.TypeOffsetNamed(name)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return off, true, nil
		}
	}
	return 0, false, nil
}

// FunctionForPC finds the function covering pc across every unit in the
// image, short-circuiting on the unit whose range already covers pc.
func (img *Image) FunctionForPC(pc uint64) (*FunctionInfo, bool) {
	if u, ok := img.UnitForPC(pc); ok {
		if fn, ok := u.FunctionForPC(pc); ok {
			return fn, true
		}
	}
	for _, u := range img.units {
		if fn, ok := u.FunctionForPC(pc); ok {
			return fn, true
		}
	}
	return nil, false
}

// UnitForPC returns the compilation unit whose address ranges cover pc.
func (img *Image) UnitForPC(pc uint64) (*Unit, bool) {
	for _, u := range img.units {
		if u.ContainsPC(pc) {
			return u, true
		}
	}
	return nil, false
}

// DIETreeEntry reads a single DIE by offset, for the unwinder/type-graph's
// member-location and frame-base computations (spec.md §4.2).
func (img *Image) DIETreeEntry(off dwarf.Offset) (*dwarf.Entry, error) {
	e := img.entryAt(off)
	if e == nil {
		return nil, fmt.Errorf("cu: no DIE at offset %#x", off)
	}
	return e, nil
}

// Data exposes the underlying parsed DWARF data for components (the type
// graph, the location evaluator) that need direct attribute access beyond
// what Unit/Image expose.
func (img *Image) Data() *dwarf.Data { return img.data }
