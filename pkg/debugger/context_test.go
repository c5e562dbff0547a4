package debugger

import (
	"testing"

	"github.com/dwarfdbg/dwarfdbg/pkg/target"
)

func TestNewExplorationContextFocusesInnermostFrame(t *testing.T) {
	c := newExplorationContext(3)
	if c.ThreadNum != 3 || c.FrameNum != 0 {
		t.Fatalf("got %+v", c)
	}
	if _, ok := c.CurrentFrame(); ok {
		t.Fatal("expected no current frame before a backtrace is cached")
	}
}

func TestCurrentFrameFromCache(t *testing.T) {
	c := newExplorationContext(1)
	c.framesCache = []target.FrameInfo{
		{IP: 0x1000, FuncName: "inner"},
		{IP: 0x2000, FuncName: "outer"},
	}
	c.FrameNum = 1
	fi, ok := c.CurrentFrame()
	if !ok || fi.FuncName != "outer" {
		t.Fatalf("got %+v, %v", fi, ok)
	}
}

func TestCurrentFrameOutOfRange(t *testing.T) {
	c := newExplorationContext(1)
	c.framesCache = []target.FrameInfo{{IP: 0x1000}}
	c.FrameNum = 5
	if _, ok := c.CurrentFrame(); ok {
		t.Fatal("expected false for an out-of-range frame focus")
	}
}

func TestInvalidateDropsCache(t *testing.T) {
	c := newExplorationContext(1)
	c.framesCache = []target.FrameInfo{{IP: 0x1000}}
	c.invalidate()
	if c.framesCache != nil {
		t.Fatal("expected invalidate to clear the cached backtrace")
	}
	if _, ok := c.CurrentFrame(); ok {
		t.Fatal("expected no current frame after invalidate")
	}
}
