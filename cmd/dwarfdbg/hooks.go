package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/dwarfdbg/dwarfdbg/pkg/debugger"
)

// terminalHooks renders debugger events to the operator's terminal,
// colorizing them when the output stream is a real tty (the same
// colorable/isatty pairing the teacher uses to decide whether ANSI codes
// are safe to emit on Windows consoles and redirected output alike).
type terminalHooks struct {
	out      io.Writer
	colorize bool
}

func newTerminalHooks() *terminalHooks {
	out := colorable.NewColorableStdout()
	return &terminalHooks{out: out, colorize: isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())}
}

func (h *terminalHooks) color(code, s string) string {
	if !h.colorize {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func (h *terminalHooks) OnBreakpoint(pc uint64, number int, place *debugger.Place, funcName string, threadNum int) error {
	fmt.Fprintf(h.out, "%s %s at %#x %s (thread %d)\n",
		h.color("33", "breakpoint"), h.color("1", fmt.Sprintf("#%d", number)), pc, describePlace(place, funcName), threadNum)
	return nil
}

func (h *terminalHooks) OnWatchpoint(pc uint64, number int, place *debugger.Place, condition, dqeString string, oldValue, newValue []byte, endOfScope bool) error {
	if endOfScope {
		fmt.Fprintf(h.out, "%s %s (%s) went out of scope\n", h.color("35", "watchpoint"), h.color("1", fmt.Sprintf("#%d", number)), dqeString)
		return nil
	}
	fmt.Fprintf(h.out, "%s %s %s: %x -> %x at %#x %s\n",
		h.color("35", "watchpoint"), h.color("1", fmt.Sprintf("#%d", number)), dqeString, oldValue, newValue, pc, describePlace(place, ""))
	return nil
}

func (h *terminalHooks) OnStep(pc uint64, place *debugger.Place, funcName string, threadNum int) error {
	fmt.Fprintf(h.out, "%#x %s (thread %d)\n", pc, describePlace(place, funcName), threadNum)
	return nil
}

func (h *terminalHooks) OnSignal(signal int) error {
	fmt.Fprintf(h.out, "%s %d\n", h.color("31", "signal"), signal)
	return nil
}

func (h *terminalHooks) OnExit(code int) error {
	fmt.Fprintf(h.out, "%s with code %d\n", h.color("32", "process exited"), code)
	return nil
}

func (h *terminalHooks) OnProcessInstall(pid int, objectFile string) error {
	fmt.Fprintf(h.out, "%s %s (pid %d)\n", h.color("32", "debugging"), objectFile, pid)
	return nil
}

func describePlace(place *debugger.Place, funcName string) string {
	switch {
	case place != nil && funcName != "":
		return fmt.Sprintf("in %s at %s:%d", funcName, place.File, place.Line)
	case place != nil:
		return fmt.Sprintf("at %s:%d", place.File, place.Line)
	case funcName != "":
		return fmt.Sprintf("in %s", funcName)
	default:
		return ""
	}
}
