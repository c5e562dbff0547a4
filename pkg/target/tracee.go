// Package target implements the process and tracee model, the tracer event
// loop, the breakpoint and watchpoint registries, and the DWARF
// call-frame-information unwinder — the subsystems spec.md §2 calls "the
// core of this specification". Grounded on the teacher's pkg/proc package
// (Target, Thread, Breakpoint, the Continue/ContinueOnce control loop) and
// BugStalker's debugee/tracer and breakpoint/watchpoint modules for the
// parts that are language-agnostic rather than Go-runtime-specific.
package target

import (
	"fmt"
	"sync"
)

// Status is the last observed state of a tracee.
type Status int

const (
	StatusRunning Status = iota
	StatusStopped
	StatusExited
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Tracee is a single OS-level thread within the traced process, per
// spec.md §3.
type Tracee struct {
	Tid    int
	Number int // 1-based, stable, assigned in discovery order
	Status Status

	// PendingSignal, if non-zero, is delivered the next time this tracee is
	// resumed (a signal observed during a stop that wasn't consumed as a
	// StopReason in its own right).
	PendingSignal int

	mu sync.Mutex
}

// SetStatus updates the tracee's last observed status.
func (t *Tracee) SetStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = s
}

// CurrentStatus returns the tracee's last observed status.
func (t *Tracee) CurrentStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

// Table is the per-process tracee table. It guarantees exactly-once
// insertion per thread id, per spec.md §3.
type Table struct {
	mu       sync.Mutex
	byTid    map[int]*Tracee
	order    []int
	nextNum  int
}

// NewTable returns an empty tracee table.
func NewTable() *Table {
	return &Table{byTid: map[int]*Tracee{}, nextNum: 1}
}

// ErrTraceeAlreadyExists is returned by Add when the thread id is already
// registered, enforcing the exactly-once insertion invariant.
type ErrTraceeAlreadyExists struct{ Tid int }

func (e ErrTraceeAlreadyExists) Error() string {
	return fmt.Sprintf("tracee %d already registered", e.Tid)
}

// Add registers a newly observed thread (reported via a clone event or the
// initial spawn/attach), assigning it the next monotonic number.
func (t *Table) Add(tid int) (*Tracee, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byTid[tid]; ok {
		return nil, ErrTraceeAlreadyExists{Tid: tid}
	}
	tr := &Tracee{Tid: tid, Number: t.nextNum, Status: StatusStopped}
	t.nextNum++
	t.byTid[tid] = tr
	t.order = append(t.order, tid)
	return tr, nil
}

// Remove drops a tracee from the table, e.g. on thread exit.
func (t *Table) Remove(tid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byTid, tid)
	for i, id := range t.order {
		if id == tid {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Get returns the tracee for tid, if registered.
func (t *Table) Get(tid int) (*Tracee, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.byTid[tid]
	return tr, ok
}

// ByNumber returns the tracee with the given 1-based stable number.
func (t *Table) ByNumber(num int) (*Tracee, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range t.byTid {
		if tr.Number == num {
			return tr, true
		}
	}
	return nil, false
}

// List returns every tracee, in discovery order.
func (t *Table) List() []*Tracee {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Tracee, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byTid[id])
	}
	return out
}

// Len returns the number of currently registered tracees.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byTid)
}
