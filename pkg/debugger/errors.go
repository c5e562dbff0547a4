// Package debugger implements the facade that composes the process
// handle, tracer, breakpoint and watchpoint registries, unwinder, DQE
// evaluator and trigger registry into the single operation surface an
// embedder (a TUI, a DAP adapter, or the minimal cmd/dwarfdbg CLI built in
// this repo) drives. Grounded on spec.md §4.10 and BugStalker's
// `debugger/mod.rs` (`Debugger`, `ExplorationContext`, `start_debugee`,
// `continue_debugee`, `read_variable`, `backtrace`,
// `set_frame_into_focus`), translated into idiomatic Go: explicit error
// returns, a Hooks interface rather than a trait object, no builder type.
package debugger

import "fmt"

// Operator errors, per spec.md §7's taxonomy.
type (
	ErrAlreadyRun             struct{}
	ErrProcessNotStarted      struct{}
	ErrThreadNotFound         struct{ Number int }
	ErrFrameNotFound          struct{ Index int }
	ErrNoSuitablePlace        struct{ What string }
	ErrRegisterNameNotFound   struct{ Name string }
	ErrWatchSubjectNotFound   struct{ DQE string }
	ErrWatchpointNoAddress    struct{}
	ErrWatchpointCollision    struct{ Addr uint64 }
)

func (ErrAlreadyRun) Error() string        { return "debugger: process already started" }
func (ErrProcessNotStarted) Error() string { return "debugger: process not started" }
func (e ErrThreadNotFound) Error() string {
	return fmt.Sprintf("debugger: thread %d not found", e.Number)
}
func (e ErrFrameNotFound) Error() string {
	return fmt.Sprintf("debugger: frame %d not found", e.Index)
}
func (e ErrNoSuitablePlace) Error() string {
	return fmt.Sprintf("debugger: no suitable place for %s", e.What)
}
func (e ErrRegisterNameNotFound) Error() string {
	return fmt.Sprintf("debugger: register %q not found", e.Name)
}
func (e ErrWatchSubjectNotFound) Error() string {
	return fmt.Sprintf("debugger: watch subject %q not found", e.DQE)
}
func (ErrWatchpointNoAddress) Error() string {
	return "debugger: watch subject has no addressable location"
}
func (e ErrWatchpointCollision) Error() string {
	return fmt.Sprintf("debugger: watchpoint collides with an existing one at %#x", e.Addr)
}

// ErrHook wraps a failure raised by a Hooks callback, per spec.md §7
// ("Any error raised by a hook callback is treated as fatal to the
// enclosing operation but does not corrupt registry state").
type ErrHook struct{ Inner error }

func (e ErrHook) Error() string { return fmt.Sprintf("debugger: hook failed: %v", e.Inner) }
func (e ErrHook) Unwrap() error { return e.Inner }
