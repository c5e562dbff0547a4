// Package trigger implements the starlark-scripted action subsystem
// attached to breakpoint and watchpoint numbers, referenced from spec.md
// §4.5 ("a breakpoint number may carry an attached trigger script") and
// distinct from the async-runtime oracle plugin surface spec.md §1 and
// §9 explicitly name as out of scope — this package is a general-purpose
// scripted-action mechanism, not a runtime-awareness helper.
//
// Grounded on go.starlark.net, the one scripting-language dependency
// present anywhere in the retrieved corpus (the teacher's own go.mod);
// no example repo embeds a trigger/action subsystem directly, so the
// Registry's shape (named scripts, a predeclared binding surface,
// boolean "continue transparently?" return value) is designed from
// spec.md §4.5's one-sentence mention plus starlark's own idiom of a
// StringDict of predeclared globals passed to ExecFile.
package trigger

import (
	"fmt"
	"sync"

	"go.starlark.net/starlark"
)

// Script is one registered action: a name and its starlark source.
type Script struct {
	Name   string
	Source string
}

// Event is the state exposed to a firing script as predeclared globals,
// per spec.md §4.10's hook payload shape (pc, breakpoint/watchpoint
// number, thread number, optional place).
type Event struct {
	Number     int
	PC         uint64
	ThreadNum  int
	FuncName   string
	File       string
	Line       int
	IsWatchpoint bool
	OldValue   int64
	NewValue   int64
}

// Registry maps breakpoint/watchpoint numbers to an attached script name,
// and script names to their compiled source.
type Registry struct {
	mu       sync.Mutex
	scripts  map[string]*Script
	attached map[int]string // breakpoint/watchpoint number -> script name
}

// NewRegistry returns an empty trigger registry.
func NewRegistry() *Registry {
	return &Registry{scripts: map[string]*Script{}, attached: map[int]string{}}
}

// Register checks a named script by running it once against zero-valued
// event globals (the names Fire binds), then stores it for later
// attachment; Fire runs it again with the firing event's specific state.
func (r *Registry) Register(name, source string) error {
	predeclared := starlarkBuiltins()
	for _, n := range []string{"pc", "thread", "line", "old_value", "new_value"} {
		predeclared[n] = starlark.MakeInt(0)
	}
	predeclared["func_name"], predeclared["file"] = starlark.String(""), starlark.String("")
	predeclared["is_watchpoint"] = starlark.False
	thread := &starlark.Thread{Name: "trigger-check:" + name}
	_, err := starlark.ExecFile(thread, name+".star", source, predeclared)
	if err != nil {
		return fmt.Errorf("trigger: compiling script %q: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[name] = &Script{Name: name, Source: source}
	return nil
}

// Attach associates a breakpoint/watchpoint number with a registered
// script.
func (r *Registry) Attach(number int, scriptName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scripts[scriptName]; !ok {
		return fmt.Errorf("trigger: no such script %q", scriptName)
	}
	r.attached[number] = scriptName
	return nil
}

// Detach removes any script attached to number.
func (r *Registry) Detach(number int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attached, number)
}

// ScriptFor returns the script attached to number, if any.
func (r *Registry) ScriptFor(number int) (*Script, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.attached[number]
	if !ok {
		return nil, false
	}
	return r.scripts[name], true
}

// Fire runs the script attached to ev.Number, if any, exposing ev's
// fields as predeclared globals (`pc`, `thread`, `func_name`, `file`,
// `line`, `is_watchpoint`, `old_value`, `new_value`).
// It returns (continueTransparently, error): true means the caller should
// resume without surfacing the stop to the operator, matching the
// "Transparent" breakpoint kind's callback-then-resume behavior spec.md
// §3 describes.
func (r *Registry) Fire(ev Event) (continueTransparently bool, err error) {
	script, ok := r.ScriptFor(ev.Number)
	if !ok {
		return false, nil
	}

	builtins := starlarkBuiltins()
	builtins["pc"] = starlark.MakeUint64(ev.PC)
	builtins["thread"] = starlark.MakeInt(ev.ThreadNum)
	builtins["func_name"] = starlark.String(ev.FuncName)
	builtins["file"] = starlark.String(ev.File)
	builtins["line"] = starlark.MakeInt(ev.Line)
	builtins["is_watchpoint"] = starlark.Bool(ev.IsWatchpoint)
	builtins["old_value"] = starlark.MakeInt64(ev.OldValue)
	builtins["new_value"] = starlark.MakeInt64(ev.NewValue)

	thread := &starlark.Thread{Name: fmt.Sprintf("trigger:%d", ev.Number)}
	globals, err := starlark.ExecFile(thread, script.Name+".star", script.Source, builtins)
	if err != nil {
		return false, fmt.Errorf("trigger: running script %q: %w", script.Name, err)
	}

	cont, ok := globals["continue_silently"]
	if !ok {
		return false, nil
	}
	b, ok := cont.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("trigger: script %q's continue_silently must be a bool", script.Name)
	}
	return bool(b), nil
}

// starlarkBuiltins returns the predeclared name set every script
// compiles and runs against; kept minimal (no tracee memory or register
// access) since the trigger subsystem's contract is "decide, don't
// drive" — it reports a continue/stop decision back to the tracer loop
// rather than issuing its own control operations.
func starlarkBuiltins() starlark.StringDict {
	return starlark.StringDict{}
}
