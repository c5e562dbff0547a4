package target

import (
	"fmt"
	"sync"
)

// debug register control-register (DR7) bit layout for x86-64, the same
// encoding gdb and delve's hardware-breakpoint support use: two control
// bits per slot (local/global enable) at bit 2*n, and a 2-bit condition
// plus a 2-bit length field per slot, packed into the nibble at bit 16+4*n.
const (
	dr7LocalEnableBit = 1 // L0 at bit 0, L1 at bit 2, ...
	dr7RWExecute      = 0x0
	dr7RWWrite        = 0x1
	dr7RWReadWrite    = 0x3
	dr7Len1           = 0x0
	dr7Len2           = 0x1
	dr7Len8           = 0x2
	dr7Len4           = 0x3
)

// WatchKind is the access type a watchpoint traps on.
type WatchKind int

const (
	WatchWrite WatchKind = iota
	WatchReadWrite
)

// HardwareDebugState is the four-slot hardware debug-register allocation
// for one tracee, per spec.md §4.6 ("HardwareDebugState encodes the four
// address registers plus the control register").
type HardwareDebugState struct {
	Addr [4]uint64
	Used [4]bool
	Kind [4]WatchKind
	Len  [4]int // byte length: 1, 2, 4 or 8
	DR7  uint64
}

// dr7Value computes the DR7 control register encoding the four slots.
func (s *HardwareDebugState) dr7Value() uint64 {
	var v uint64
	for n := 0; n < 4; n++ {
		if !s.Used[n] {
			continue
		}
		v |= 1 << uint(n*2) // local enable bit for slot n

		var rw uint64
		switch s.Kind[n] {
		case WatchWrite:
			rw = dr7RWWrite
		case WatchReadWrite:
			rw = dr7RWReadWrite
		}
		var ln uint64
		switch s.Len[n] {
		case 1:
			ln = dr7Len1
		case 2:
			ln = dr7Len2
		case 4:
			ln = dr7Len4
		case 8:
			ln = dr7Len8
		}
		shift := uint(16 + 4*n)
		v |= (rw | (ln << 2)) << shift
	}
	return v
}

// allocate picks the first free slot and returns its index, or -1 if all
// four are in use.
func (s *HardwareDebugState) allocate(addr uint64, kind WatchKind, length int) int {
	for n := 0; n < 4; n++ {
		if !s.Used[n] {
			s.Addr[n] = addr
			s.Used[n] = true
			s.Kind[n] = kind
			s.Len[n] = length
			s.DR7 = s.dr7Value()
			return n
		}
	}
	return -1
}

func (s *HardwareDebugState) free(slot int) {
	s.Used[slot] = false
	s.DR7 = s.dr7Value()
}

// DebugRegisterWriter synchronizes a HardwareDebugState to a tracee's debug
// registers, implemented against PeekUserDebugReg/PokeUserDebugReg.
type DebugRegisterWriter interface {
	SyncDebugRegisters(tid int, s *HardwareDebugState) error
}

// ErrWatchpointLimitReached is returned when all four hardware slots are
// in use.
type ErrWatchpointLimitReached struct{}

func (ErrWatchpointLimitReached) Error() string { return "watchpoint limit reached (4 slots in use)" }

// ErrWatchpointWrongSize is returned when a watch target's size is not one
// of 1, 2, 4 or 8 bytes.
type ErrWatchpointWrongSize struct{ Size int64 }

func (e ErrWatchpointWrongSize) Error() string {
	return fmt.Sprintf("watchpoint size %d is not one of 1, 2, 4, 8", e.Size)
}

// ErrUnknownScope is returned when a scoped expression watchpoint's
// end-of-scope address cannot be determined.
type ErrUnknownScope struct{}

func (ErrUnknownScope) Error() string { return "could not determine end-of-scope address" }

// ErrAddressAlreadyObserved is returned when a new watchpoint's address
// range overlaps an existing one.
type ErrAddressAlreadyObserved struct{ Addr uint64 }

func (e ErrAddressAlreadyObserved) Error() string {
	return fmt.Sprintf("address %#x is already observed by a watchpoint", e.Addr)
}

// Watchpoint is a single installed hardware watchpoint, per spec.md §3 and
// §4.6.
type Watchpoint struct {
	Number    int
	Address   uint64
	Size      int
	Kind      WatchKind
	Condition string

	// SourceDQE is the originating expression text, empty for a raw address
	// watchpoint.
	SourceDQE string

	// Scoped is true when this watchpoint has a lexical scope and a
	// companion breakpoint anchoring its end-of-scope notification.
	Scoped           bool
	CompanionBP       int
	CreatorTid        int
	CreatorFrameID    FrameID

	OldValue []byte
	NewValue []byte

	slot int
}

// FrameID identifies a live stack frame across repeated unwinds, per
// spec.md §4.7. Valid only while the frame (cfa, funcStartPC) is live.
type FrameID struct {
	CFA         uint64
	FuncStartPC uint64
}

// ScopeEndResolver finds the best stop-point address at or after a scope's
// end, falling back to the last stop-point at or before it, per spec.md
// §4.6's scope algorithm.
type ScopeEndResolver interface {
	ResolveScopeEnd(scopeEndAddr uint64) (addr uint64, ok bool)
}

// WatchpointRegistry is the watchpoint registry, per spec.md §4.6.
type WatchpointRegistry struct {
	mu sync.Mutex

	writer DebugRegisterWriter
	bps    *Registry

	byNumber map[int]*Watchpoint
	byTid    map[int]*HardwareDebugState
	nextNum  int
}

// NewWatchpointRegistry returns an empty watchpoint registry that
// synchronizes hardware debug registers through writer and anchors
// companion breakpoints in bps.
func NewWatchpointRegistry(writer DebugRegisterWriter, bps *Registry) *WatchpointRegistry {
	return &WatchpointRegistry{
		writer:   writer,
		bps:      bps,
		byNumber: map[int]*Watchpoint{},
		byTid:    map[int]*HardwareDebugState{},
		nextNum:  1,
	}
}

func (r *WatchpointRegistry) stateFor(tid int) *HardwareDebugState {
	s, ok := r.byTid[tid]
	if !ok {
		s = &HardwareDebugState{}
		r.byTid[tid] = s
	}
	return s
}

// EnableAddress installs an address watchpoint on every known tracee, per
// spec.md §4.6's "Address watchpoints".
func (r *WatchpointRegistry) EnableAddress(tids []int, addr uint64, size int, kind WatchKind, condition string) (*Watchpoint, error) {
	if size != 1 && size != 2 && size != 4 && size != 8 {
		return nil, ErrWatchpointWrongSize{Size: int64(size)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, wp := range r.byNumber {
		if overlaps(wp.Address, int64(wp.Size), addr, int64(size)) {
			return nil, ErrAddressAlreadyObserved{Addr: addr}
		}
	}

	slot := -1
	for i, tid := range tids {
		s := r.stateFor(tid)
		n := s.allocate(addr, kind, size)
		if n < 0 {
			for _, done := range tids[:i] {
				r.stateFor(done).free(slot)
			}
			return nil, ErrWatchpointLimitReached{}
		}
		slot = n
		if err := r.writer.SyncDebugRegisters(tid, s); err != nil {
			return nil, fmt.Errorf("target: syncing debug registers for tid %d: %w", tid, err)
		}
	}

	wp := &Watchpoint{
		Number:    r.nextNum,
		Address:   addr,
		Size:      size,
		Kind:      kind,
		Condition: condition,
		slot:      slot,
	}
	r.nextNum++
	r.byNumber[wp.Number] = wp
	return wp, nil
}

// EnableExpression installs an expression watchpoint, per spec.md §4.6's
// "Expression watchpoints". addr/size are the already-evaluated
// address-of result and its target size; scopeEndAddr, if hasScope, is the
// DIE-reported end of the expression's lexical scope.
func (r *WatchpointRegistry) EnableExpression(tids []int, addr uint64, size int, kind WatchKind, condition, dqeText string, hasScope bool, scopeEndAddr uint64, scopeResolver ScopeEndResolver, creatorTid int, creatorFrame FrameID) (*Watchpoint, error) {
	wp, err := r.EnableAddress(tids, addr, size, kind, condition)
	if err != nil {
		return nil, err
	}
	wp.SourceDQE = dqeText
	wp.CreatorTid = creatorTid
	wp.CreatorFrameID = creatorFrame

	if !hasScope {
		return wp, nil
	}

	endAddr, ok := scopeResolver.ResolveScopeEnd(scopeEndAddr)
	if !ok {
		r.disableLocked(wp)
		return nil, ErrUnknownScope{}
	}
	companion, err := r.bps.Install(endAddr, KindWatchpointCompanion)
	if err != nil {
		if existing, dup := r.bps.ByAddr(endAddr); dup {
			companion = existing
		} else {
			r.disableLocked(wp)
			return nil, err
		}
	}
	r.bps.AddCompanionRef(companion.Number)
	wp.Scoped = true
	wp.CompanionBP = companion.Number
	return wp, nil
}

func overlaps(aAddr uint64, aSize int64, bAddr uint64, bSize int64) bool {
	aEnd := aAddr + uint64(aSize)
	bEnd := bAddr + uint64(bSize)
	return aAddr < bEnd && bAddr < aEnd
}

// Disable removes a watchpoint by number, freeing its hardware slot on
// every tracee and dropping its companion breakpoint reference.
func (r *WatchpointRegistry) Disable(number int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.byNumber[number]
	if !ok {
		return fmt.Errorf("target: watchpoint %d not found", number)
	}
	return r.disableLocked(wp)
}

func (r *WatchpointRegistry) disableLocked(wp *Watchpoint) error {
	for tid, s := range r.byTid {
		if s.Used[wp.slot] && s.Addr[wp.slot] == wp.Address {
			s.free(wp.slot)
			if err := r.writer.SyncDebugRegisters(tid, s); err != nil {
				return fmt.Errorf("target: syncing debug registers for tid %d: %w", tid, err)
			}
		}
	}
	if wp.Scoped {
		_ = r.bps.RemoveCompanionRef(wp.CompanionBP)
	}
	delete(r.byNumber, wp.Number)
	return nil
}

// ByNumber returns the watchpoint with the given stable number.
func (r *WatchpointRegistry) ByNumber(number int) (*Watchpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.byNumber[number]
	return wp, ok
}

// BySlot finds the watchpoint owning hardware slot n, used when the tracer
// decodes which debug-register slot fired, per spec.md §4.4.
func (r *WatchpointRegistry) BySlot(n int) (*Watchpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, wp := range r.byNumber {
		if wp.slot == n {
			return wp, true
		}
	}
	return nil, false
}

// All returns every currently installed watchpoint.
func (r *WatchpointRegistry) All() []*Watchpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Watchpoint, 0, len(r.byNumber))
	for _, wp := range r.byNumber {
		out = append(out, wp)
	}
	return out
}

// ClearLocalDisableGlobal implements spec.md §4.6's restart policy: scoped
// watchpoints are dropped outright (their frame ids are now meaningless);
// non-scoped ones are disabled in hardware but kept in the registry so
// they can be re-enabled once the new debugee reaches its entry point.
func (r *WatchpointRegistry) ClearLocalDisableGlobal() (toReenable []*Watchpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTid = map[int]*HardwareDebugState{}
	for num, wp := range r.byNumber {
		if wp.Scoped {
			delete(r.byNumber, num)
			continue
		}
		toReenable = append(toReenable, wp)
	}
	return toReenable
}
