package platform

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/sim/grid"
	"puzzleplatform.ai/internal/sim/occupancy"
)

type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonOutOfBounds
	ReasonOccupied
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonOutOfBounds:
		return "OUT_OF_BOUNDS"
	case ReasonOccupied:
		return "OCCUPIED"
	}
	return "UNKNOWN"
}

// Verdict is the outcome of a validity check. Cell is set for ReasonOccupied.
type Verdict struct {
	Reason Reason
	Cell   grid.Cell
}

func (v Verdict) OK() bool { return v.Reason == ReasonNone }

func (v Verdict) String() string {
	if v.Reason == ReasonOccupied {
		return fmt.Sprintf("%s %s", v.Reason, v.Cell)
	}
	return v.Reason.String()
}

// Validator tests whether the platform may occupy a local position: its
// one-cell box must sit inside the movement area and cover no occupied cell.
type Validator struct {
	Space grid.Space
	Area  grid.Bounds
	Index *occupancy.Index
}

func (v Validator) Box(pos mgl64.Vec3) grid.Bounds {
	return grid.BoxAt(pos, v.Space.CellSize())
}

func (v Validator) Check(pos mgl64.Vec3) Verdict {
	box := v.Box(pos)
	if !v.Area.Contains(box) {
		return Verdict{Reason: ReasonOutOfBounds}
	}
	if v.Index != nil {
		if c, hit := v.Index.FirstOccupied(v.Space, box); hit {
			return Verdict{Reason: ReasonOccupied, Cell: c}
		}
	}
	return Verdict{}
}

type PlanKind uint8

const (
	// PlanMove carries a waypoint path of one or more steps.
	PlanMove PlanKind = iota
	// PlanWait pauses in place.
	PlanWait
	// PlanSkip consumes a command without motion (Idle).
	PlanSkip
	// PlanBlocked means the first step is invalid; nothing is consumed.
	PlanBlocked
	// PlanEnd means the start index is past the queue.
	PlanEnd
)

func (k PlanKind) String() string {
	switch k {
	case PlanMove:
		return "MOVE"
	case PlanWait:
		return "WAIT"
	case PlanSkip:
		return "SKIP"
	case PlanBlocked:
		return "BLOCKED"
	case PlanEnd:
		return "END"
	}
	return "UNKNOWN"
}

// StopCause records why a coalesced run stopped extending.
type StopCause uint8

const (
	StopSingle StopCause = iota
	StopEndOfQueue
	StopDirectionChange
	StopWait
	StopInvalid
)

type Plan struct {
	Kind PlanKind
	// Waypoints starts at the current position; a move has len >= 2, a wait
	// has exactly the current position.
	Waypoints []mgl64.Vec3
	// Commands are the queue entries performed, in traversal order.
	Commands []Command
	Consumed int
	Stop     StopCause
	// ObstacleHitAtEnd is set when coalescing stopped on an occupied cell.
	ObstacleHitAtEnd bool
	// Blocker describes the failed check for PlanBlocked, or the check that
	// stopped coalescing when Stop is StopInvalid.
	Blocker Verdict
}

// Steps is the number of grid steps in a move plan.
func (p Plan) Steps() int { return max(len(p.Waypoints)-1, 0) }

// Planner turns queue slices into validated waypoint plans.
type Planner struct {
	Validator Validator
}

// Plan looks at queue[start:] from position cur. With coalesce set, every
// following command with the same direction is folded into one path while
// each cumulative step stays valid.
func (pl Planner) Plan(cur mgl64.Vec3, queue []Command, start int, coalesce bool) Plan {
	if start < 0 || start >= len(queue) {
		return Plan{Kind: PlanEnd}
	}
	cmd := queue[start]
	switch {
	case cmd == Wait:
		return Plan{Kind: PlanWait, Waypoints: []mgl64.Vec3{cur}, Commands: []Command{Wait}, Consumed: 1}
	case !cmd.Moves():
		return Plan{Kind: PlanSkip, Commands: []Command{cmd}, Consumed: 1}
	}

	dir := cmd.Direction()
	step := pl.Validator.Space.Step(dir)
	plan := Plan{Kind: PlanMove, Waypoints: []mgl64.Vec3{cur}}

	if coalesce {
		plan.Stop = StopEndOfQueue
		for i := start; i < len(queue); i++ {
			next := queue[i]
			if next == Wait {
				plan.Stop = StopWait
				break
			}
			if next.Direction() != dir {
				plan.Stop = StopDirectionChange
				break
			}
			candidate := plan.Waypoints[len(plan.Waypoints)-1].Add(step)
			if v := pl.Validator.Check(candidate); !v.OK() {
				plan.Stop = StopInvalid
				plan.Blocker = v
				plan.ObstacleHitAtEnd = v.Reason == ReasonOccupied
				break
			}
			plan.Waypoints = append(plan.Waypoints, candidate)
			plan.Commands = append(plan.Commands, next)
		}
	}

	if len(plan.Commands) == 0 {
		candidate := cur.Add(step)
		if v := pl.Validator.Check(candidate); !v.OK() {
			return Plan{Kind: PlanBlocked, Blocker: v}
		}
		plan.Waypoints = []mgl64.Vec3{cur, candidate}
		plan.Commands = []Command{cmd}
		plan.Stop = StopSingle
		plan.ObstacleHitAtEnd = false
		plan.Blocker = Verdict{}
	}
	plan.Consumed = len(plan.Commands)
	return plan
}
