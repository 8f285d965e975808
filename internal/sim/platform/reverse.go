package platform

import "github.com/go-gl/mathgl/mgl64"

// reversal replays the executed history backwards with inverted directions.
// cmds[i] is the inverse of the i-th most recent history entry; history is
// popped as entries are performed.
type reversal struct {
	cmds   []Command
	slots  []int
	cursor int
	steps  int
}

func within(a, b mgl64.Vec3, tol float64) bool {
	return a.Sub(b).Len() <= tol
}

// InverseSequence returns the commands that undo history, in the order they
// must run.
func InverseSequence(history []HistoryEntry) []Command {
	out := make([]Command, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i].Command.Inverse())
	}
	return out
}

func (c *Controller) beginReversal() {
	if len(c.history) == 0 && within(c.pos, c.start, ReturnTolerance) {
		c.debugf("nothing to reverse")
		c.phase = phaseNone
		c.playing = false
		c.setState(StateIdle)
		c.finish(OutcomeReturned, Verdict{})
		return
	}
	slots := make([]int, 0, len(c.history))
	for i := len(c.history) - 1; i >= 0; i-- {
		slots = append(slots, c.history[i].Slot)
	}
	c.rev = reversal{cmds: InverseSequence(c.history), slots: slots}
	c.motion = nil
	c.phase = phaseReverse
	c.debugf("starting reverse sequence over %d commands", len(c.rev.cmds))
	c.emitReverseStart()
	c.setState(StateReversing)
}

func (c *Controller) consumeReverse(n int) {
	c.rev.cursor += n
	keep := len(c.history) - n
	if keep < 0 {
		keep = 0
	}
	c.history = c.history[:keep]
}

func (c *Controller) stepReverse() bool {
	if c.rev.cursor >= len(c.rev.cmds) {
		if !within(c.pos, c.start, ReturnTolerance) {
			c.debugf("final position adjustment: current=%v target=%v", c.pos, c.start)
			c.motion = NewMotion([]mgl64.Vec3{c.pos, c.start}, c.moveSet.Profile())
			c.phase = phaseCorrect
			c.setState(StateMoving)
			return true
		}
		c.completeReversal()
		return false
	}

	plan := c.planner().Plan(c.pos, c.rev.cmds, c.rev.cursor, c.moveSet.Continuous)
	c.debugf("processing reverse command %d/%d: %s -> %s", c.rev.cursor+1, len(c.rev.cmds), c.rev.cmds[c.rev.cursor], plan.Kind)
	switch plan.Kind {
	case PlanSkip:
		c.consumeReverse(1)
		return true
	case PlanWait:
		c.waitLeft = c.waitFor(c.rev.slots[c.rev.cursor])
		c.phase = phaseReverseWait
		c.setState(StateWaiting)
		return true
	case PlanMove:
		c.rev.steps = plan.Consumed
		c.motion = NewMotion(plan.Waypoints, c.moveSet.Profile())
		c.phase = phaseReverseMove
		c.setState(StateMoving)
		return true
	}
	c.faultReversal(plan.Blocker)
	return false
}

func (c *Controller) stepReverseMove(dt *float64) bool {
	if *dt <= 0 {
		return false
	}
	pos, st := c.motion.Step(*dt, c.validator().Check)
	*dt = 0
	c.setPos(pos)
	switch st {
	case MotionRunning:
		return false
	case MotionDone:
		c.setPos(c.space.Snap(c.pos))
		c.consumeReverse(c.rev.steps)
		c.motion = nil
		c.phase = phaseReverse
		c.setState(StateReversing)
		return true
	}
	c.consumeReverse(c.motion.CompletedSegments())
	c.faultReversal(c.motion.Obstruction())
	return false
}

func (c *Controller) stepCorrect(dt *float64) bool {
	if *dt <= 0 {
		return false
	}
	pos, st := c.motion.Step(*dt, c.validator().Check)
	*dt = 0
	c.setPos(pos)
	switch st {
	case MotionRunning:
		return false
	case MotionDone:
		c.setPos(c.start)
		c.completeReversal()
		return false
	}
	c.faultReversal(c.motion.Obstruction())
	return false
}

func (c *Controller) completeReversal() {
	c.rev = reversal{}
	c.motion = nil
	c.history = c.history[:0]
	c.phase = phaseNone
	c.playing = false
	c.setState(StateIdle)
	c.debugf("reverse sequence completed")
	c.emitReverseComplete()
	c.finish(OutcomeReturned, Verdict{})
}

// faultReversal stops the platform where it is. No fallback is attempted; the
// next run starts from the stopped position.
func (c *Controller) faultReversal(v Verdict) {
	c.log.Printf("error: reversal obstructed at %v: %s", c.pos, v)
	c.emitCollision(v)
	c.emitFault(v)
	c.rev = reversal{}
	c.motion = nil
	c.history = c.history[:0]
	c.phase = phaseNone
	c.playing = false
	c.setState(StateIdle)
	c.finish(OutcomeFaulted, v)
}
