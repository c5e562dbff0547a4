package target

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// ProcessState is the lifecycle stage of a ProcessHandle.
type ProcessState int

const (
	StateNotInstalled ProcessState = iota
	StateInstalled
)

// ProcessHandle owns the child process identity: its pid, program path,
// the read side (pty master) of its stdout/stderr streams (so the UI layer
// can consume them), and whether it was spawned by the engine or attached
// to an already-running process. Grounded on spec.md §3 ("Process
// handle").
type ProcessHandle struct {
	Pid        int
	Path       string
	Args       []string
	IsExternal bool // true when attached rather than spawned
	State      ProcessState

	cmd     *exec.Cmd
	ptyMain *os.File // the pty master side, read by the UI for child output

	StdoutR io.Reader
	StderrR io.Reader
}

// NewSpawnHandle returns an uninstalled handle for a program the engine
// will spawn itself.
func NewSpawnHandle(path string, args []string) *ProcessHandle {
	return &ProcessHandle{Path: path, Args: args, IsExternal: false}
}

// NewAttachHandle returns an installed handle for a process the engine is
// attaching to rather than spawning.
func NewAttachHandle(pid int) *ProcessHandle {
	return &ProcessHandle{Pid: pid, IsExternal: true, State: StateInstalled}
}

// Install (re)creates the child with tracing enabled and returns a new
// handle in the Installed state, per spec.md §3. Spawned children are
// given a pseudo-terminal (rather than a plain pipe) for their
// stdout/stderr, so that interactive programs under test behave as they
// would in a real terminal — this is the teacher's own `cmd/dlv exec`
// behavior, generalized here with github.com/creack/pty rather than
// delve's OS-specific process-group plumbing.
func (h *ProcessHandle) Install() (*ProcessHandle, error) {
	if h.IsExternal {
		return h, attachPtrace(h.Pid)
	}

	cmd := exec.Command(h.Path, h.Args...)
	cmd.Env = os.Environ()

	ptyMain, ptySub, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("target: opening pty: %w", err)
	}
	cmd.Stdout = ptySub
	cmd.Stderr = ptySub
	cmd.Stdin = ptySub
	configureTraceChild(cmd)

	if err := cmd.Start(); err != nil {
		ptySub.Close()
		ptyMain.Close()
		return nil, fmt.Errorf("target: starting %s: %w", h.Path, err)
	}
	ptySub.Close()

	installed := &ProcessHandle{
		Pid:        cmd.Process.Pid,
		Path:       h.Path,
		Args:       h.Args,
		IsExternal: false,
		State:      StateInstalled,
		cmd:        cmd,
		ptyMain:    ptyMain,
		StdoutR:    ptyMain,
		StderrR:    ptyMain,
	}
	return installed, nil
}

// Close releases the process handle's resources (the pty master side). It
// does not itself kill or detach the tracee; that is the tracer/facade's
// responsibility per spec.md §5's on-drop policy.
func (h *ProcessHandle) Close() error {
	if h.ptyMain != nil {
		return h.ptyMain.Close()
	}
	return nil
}
