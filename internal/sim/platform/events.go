package platform

import (
	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/sim/grid"
)

type Outcome string

const (
	// OutcomeReturned: the run reversed back to its start position.
	OutcomeReturned Outcome = "RETURNED"
	// OutcomeAborted: the first move was blocked; the platform never left.
	OutcomeAborted Outcome = "ABORTED"
	// OutcomeFaulted: the reversal itself was obstructed.
	OutcomeFaulted Outcome = "FAULTED"
	// OutcomeCancelled: Stop or StartCommandSequence interrupted the run.
	OutcomeCancelled Outcome = "CANCELLED"
)

// RunSummary describes one finished run.
type RunSummary struct {
	Run        uint64
	Outcome    Outcome
	Steps      int
	Collisions int
	Start      mgl64.Vec3
	End        mgl64.Vec3
	Fault      Verdict
}

// events holds observer callbacks. Callbacks run synchronously on the
// goroutine that calls Advance and must not call back into Advance.
type events struct {
	stateChanged    []func(State)
	collision       []func(grid.Cell)
	reverseStart    []func()
	reverseComplete []func()
	moved           []func(mgl64.Vec3)
	fault           []func(Verdict)
	runStarted      []func(run uint64)
	runFinished     []func(RunSummary)
}

func (c *Controller) OnStateChanged(fn func(State))        { c.ev.stateChanged = append(c.ev.stateChanged, fn) }
func (c *Controller) OnObstacleCollision(fn func(grid.Cell)) { c.ev.collision = append(c.ev.collision, fn) }
func (c *Controller) OnReverseStart(fn func())              { c.ev.reverseStart = append(c.ev.reverseStart, fn) }
func (c *Controller) OnReverseComplete(fn func())           { c.ev.reverseComplete = append(c.ev.reverseComplete, fn) }
func (c *Controller) OnMoved(fn func(local mgl64.Vec3))     { c.ev.moved = append(c.ev.moved, fn) }
func (c *Controller) OnFault(fn func(Verdict))              { c.ev.fault = append(c.ev.fault, fn) }
func (c *Controller) OnRunStarted(fn func(run uint64))      { c.ev.runStarted = append(c.ev.runStarted, fn) }
func (c *Controller) OnRunFinished(fn func(RunSummary))     { c.ev.runFinished = append(c.ev.runFinished, fn) }

func (c *Controller) emitCollision(v Verdict) {
	if v.Reason != ReasonOccupied {
		return
	}
	c.run.collisions++
	for _, fn := range c.ev.collision {
		fn(v.Cell)
	}
}

func (c *Controller) emitReverseStart() {
	for _, fn := range c.ev.reverseStart {
		fn()
	}
}

func (c *Controller) emitReverseComplete() {
	for _, fn := range c.ev.reverseComplete {
		fn()
	}
}

func (c *Controller) emitFault(v Verdict) {
	for _, fn := range c.ev.fault {
		fn(v)
	}
}
