package guard

import "github.com/testerbesterkali/marketer/internal/progress"

// Cursor tracks the step shown for one stage run. Real events win over the local timer:
// a real event moves the cursor to its step unless an earlier real event was already further.
// Timer ticks move it one step at a time and stop at the last step before completed.
type Cursor struct {
	kind     progress.Kind
	steps    []string
	pos      int
	lastReal int
}

func NewCursor(kind progress.Kind) *Cursor {
	return &Cursor{kind: kind, steps: kind.Steps(), lastReal: -1}
}

// Observe applies a real event. It reports whether the cursor moved and whether step is terminal.
// Unknown steps are ignored.
func (c *Cursor) Observe(step string) (moved, completed bool) {
	idx := c.kind.Index(step)
	if idx < 0 || idx < c.lastReal {
		return false, false
	}
	c.lastReal = idx
	moved = idx != c.pos
	c.pos = idx
	return moved, step == progress.StepCompleted
}

// Tick applies one timer step.
func (c *Cursor) Tick() bool {
	last := len(c.steps) - 2
	if c.pos >= last {
		return false
	}
	c.pos++
	return true
}

func (c *Cursor) Index() int { return c.pos }

func (c *Cursor) Step() string { return c.steps[c.pos] }

func (c *Cursor) Completed() bool { return c.steps[c.pos] == progress.StepCompleted }
