package debugger

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dwarfdbg/dwarfdbg/pkg/address"
	"github.com/dwarfdbg/dwarfdbg/pkg/cu"
	"github.com/dwarfdbg/dwarfdbg/pkg/dwarf/frame"
	"github.com/dwarfdbg/dwarfdbg/pkg/typegraph"
)

// loadedObject bundles everything the facade tracks about one mapped
// object (the main executable or a shared library): its parsed DWARF
// compilation units, its type graph, and its call-frame-information table,
// all keyed by Global (file-relative) addresses until address.Table
// relocates them.
type loadedObject struct {
	Name       string
	Image      *cu.Image
	Graph      *typegraph.Graph
	FDEs       *frame.Table
	Entry      uint64 // file-relative entry point, 0 for shared libraries
	StaticBase uint64
}

// loadObject parses path's ELF/DWARF content into a loadedObject. Grounded
// on spec.md §4.1's loader contract; debug/elf and debug/dwarf are the only
// object/DWARF parsers in the retrieved corpus (see DESIGN.md).
func (d *Debugger) loadObject(path string) (*loadedObject, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("debugger: opening %s: %w", path, err)
	}
	defer f.Close()

	dwarfData, err := f.DWARF()
	if err != nil {
		// Stripped binary: still track it for addr/backtrace coverage with
		// no symbolic information, per spec.md §4.1's Stripped() path.
		dwarfData = nil
	}

	img, err := cu.Load(path, dwarfData, d.Config)
	if err != nil {
		return nil, fmt.Errorf("debugger: loading compilation units from %s: %w", path, err)
	}

	var graph *typegraph.Graph
	if dwarfData != nil {
		graph = typegraph.NewGraph(dwarfData)
	}

	fdes, err := loadFrameTable(f)
	if err != nil {
		return nil, err
	}

	return &loadedObject{Name: path, Image: img, Graph: graph, FDEs: fdes, Entry: f.Entry}, nil
}

// loadFrameTable prefers .eh_frame (always present, even in stripped
// binaries) over .debug_frame, matching the teacher's own preference order
// when both sections exist.
func loadFrameTable(f *elf.File) (*frame.Table, error) {
	for _, name := range []string{".eh_frame", ".debug_frame"} {
		sec := f.Section(name)
		if sec == nil {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("debugger: reading %s: %w", name, err)
		}
		return frame.Parse(data, 0)
	}
	return frame.NewTable(nil), nil
}

// staticBaseFromMaps reads /proc/<pid>/maps and returns the load bias of
// the first mapping whose backing file matches objectPath, per spec.md
// §6's "Environment" note ("consults /proc/<pid>/maps"). Returns 0 (no
// bias) for statically linked, non-PIE executables, which is the common
// case this debugger's default test binaries use.
func staticBaseFromMaps(pid int, objectPath string) (uint64, error) {
	if ef, err := elf.Open(objectPath); err == nil {
		isExec := ef.Type == elf.ET_EXEC
		ef.Close()
		if isExec {
			return 0, nil
		}
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return 0, fmt.Errorf("debugger: reading /proc/%d/maps: %w", pid, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasSuffix(strings.TrimSpace(line), objectPath) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		rangeStr := strings.SplitN(fields[0], "-", 2)
		begin, err := strconv.ParseUint(rangeStr[0], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("debugger: parsing maps entry %q: %w", line, err)
		}
		return begin, nil
	}
	return 0, nil
}

// mappingsFromMaps builds the full address.Table entry set for a process,
// used after install and after every linker-map hit (spec.md §4.3's "Address
// model and mapping").
func mappingsFromMaps(pid int) ([]address.Mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("debugger: reading /proc/%d/maps: %w", pid, err)
	}
	defer f.Close()

	seen := map[string]bool{}
	var out []address.Mapping
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 {
			continue
		}
		name := fields[5]
		if name == "" || strings.HasPrefix(name, "[") || seen[name] {
			continue
		}
		rangeStr := strings.SplitN(fields[0], "-", 2)
		begin, err1 := strconv.ParseUint(rangeStr[0], 16, 64)
		end, err2 := strconv.ParseUint(rangeStr[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		seen[name] = true
		out = append(out, address.Mapping{Name: name, StaticBase: begin, Begin: begin, End: end})
	}
	return out, nil
}
