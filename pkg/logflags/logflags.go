// Package logflags configures the independently toggleable debug loggers
// used throughout the engine, mirroring the teacher's own pkg/logflags:
// each subsystem has its own flag and its own *logrus.Entry so that a
// "log tracer,dqe" style setting doesn't drown the operator in breakpoint
// registry chatter.
package logflags

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type flag struct {
	enabled bool
	logger  *logrus.Entry
}

var (
	mu       sync.Mutex
	root     = logrus.New()
	subsys   = map[string]*flag{}
	initOnce sync.Once
)

func ensureInit() {
	initOnce.Do(func() {
		root.Out = os.Stderr
		root.Formatter = &logrus.TextFormatter{FullTimestamp: true}
		for _, name := range []string{"tracer", "bp", "dwarf", "dqe", "stack", "debugger"} {
			subsys[name] = &flag{logger: root.WithField("layer", name)}
		}
	})
}

// Setup parses a comma separated list of subsystem names (as accepted by
// the engine's --log flag) and enables logging for exactly those.
// "" disables all subsystem logging. "all" enables every known subsystem.
func Setup(spec string, level logrus.Level) error {
	ensureInit()
	mu.Lock()
	defer mu.Unlock()
	root.SetLevel(level)
	for _, f := range subsys {
		f.enabled = false
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if spec == "all" {
		for _, f := range subsys {
			f.enabled = true
		}
		return nil
	}
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		f, ok := subsys[name]
		if !ok {
			return fmt.Errorf("logflags: unknown subsystem %q", name)
		}
		f.enabled = true
	}
	return nil
}

func isEnabled(name string) bool {
	ensureInit()
	mu.Lock()
	defer mu.Unlock()
	f, ok := subsys[name]
	return ok && f.enabled
}

func loggerFor(name string) *logrus.Entry {
	ensureInit()
	mu.Lock()
	defer mu.Unlock()
	return subsys[name].logger
}

// Tracer reports whether tracer-loop logging is enabled.
func Tracer() bool { return isEnabled("tracer") }

// TracerLogger returns the tracer subsystem's logger.
func TracerLogger() *logrus.Entry { return loggerFor("tracer") }

// Breakpoint reports whether breakpoint/watchpoint registry logging is enabled.
func Breakpoint() bool { return isEnabled("bp") }

// BreakpointLogger returns the breakpoint subsystem's logger.
func BreakpointLogger() *logrus.Entry { return loggerFor("bp") }

// DWARF reports whether DWARF loader logging is enabled.
func DWARF() bool { return isEnabled("dwarf") }

// DWARFLogger returns the DWARF loader subsystem's logger.
func DWARFLogger() *logrus.Entry { return loggerFor("dwarf") }

// DQE reports whether expression evaluator logging is enabled.
func DQE() bool { return isEnabled("dqe") }

// DQELogger returns the DQE subsystem's logger.
func DQELogger() *logrus.Entry { return loggerFor("dqe") }

// Stack reports whether unwinder logging is enabled.
func Stack() bool { return isEnabled("stack") }

// StackLogger returns the unwinder subsystem's logger.
func StackLogger() *logrus.Entry { return loggerFor("stack") }

// DebuggerLogger returns the facade's own logger, always available
// regardless of the enabled set (facade-level errors are always worth
// seeing).
func DebuggerLogger() *logrus.Entry { return loggerFor("debugger") }
