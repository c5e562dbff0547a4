package debugger

import "github.com/dwarfdbg/dwarfdbg/pkg/target"

// ExplorationContext is the facade's notion of "where the operator is
// looking": which thread has focus, which frame within that thread's
// backtrace, and the last location resolved for it. Grounded on
// BugStalker's `ExplorationContext` (thread_number, frame_num,
// current_location), generalized with a cached backtrace so repeated
// frame-focus changes don't force a fresh unwind each time.
type ExplorationContext struct {
	ThreadNum int
	FrameNum  int

	framesCache []target.FrameInfo
}

// newExplorationContext returns a context focused on the given thread's
// innermost frame.
func newExplorationContext(threadNum int) *ExplorationContext {
	return &ExplorationContext{ThreadNum: threadNum, FrameNum: 0}
}

// invalidate drops the cached backtrace, forcing the next frame access to
// re-unwind; called whenever the tracee resumes.
func (c *ExplorationContext) invalidate() {
	c.framesCache = nil
}

// CurrentFrame returns the frame in focus, if the cached backtrace has been
// populated and FrameNum is in range.
func (c *ExplorationContext) CurrentFrame() (target.FrameInfo, bool) {
	if c.FrameNum < 0 || c.FrameNum >= len(c.framesCache) {
		return target.FrameInfo{}, false
	}
	return c.framesCache[c.FrameNum], true
}
