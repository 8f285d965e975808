package platform

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/sim/grid"
	"puzzleplatform.ai/internal/sim/occupancy"
)

func testPlanner(t *testing.T, blocked ...grid.Cell) Planner {
	t.Helper()
	space, err := grid.NewSpace(mgl64.Vec3{1, 1, 1}, mgl64.Vec3{})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	idx := occupancy.NewIndex()
	idx.Register(occupancy.NewCellObstacle("test", blocked...))
	return Planner{Validator: Validator{
		Space: space,
		Area:  grid.NewBounds(mgl64.Vec3{}, mgl64.Vec3{5, 5, 5}),
		Index: idx,
	}}
}

func TestPlanCoalescesSameDirection(t *testing.T) {
	pl := testPlanner(t)
	p := pl.Plan(mgl64.Vec3{}, []Command{Right, Right, Right}, 0, true)
	if p.Kind != PlanMove || p.Consumed != 3 || len(p.Waypoints) != 4 {
		t.Fatalf("unexpected plan: %+v", p)
	}
	if p.Stop != StopEndOfQueue || p.ObstacleHitAtEnd {
		t.Fatalf("stop=%v hit=%v", p.Stop, p.ObstacleHitAtEnd)
	}
	if p.Waypoints[3] != (mgl64.Vec3{3, 0, 0}) {
		t.Fatalf("last waypoint %v", p.Waypoints[3])
	}
}

func TestPlanStopsAtWaitAndDirectionChange(t *testing.T) {
	pl := testPlanner(t)
	p := pl.Plan(mgl64.Vec3{}, []Command{Right, Right, Wait, Right}, 0, true)
	if p.Consumed != 2 || p.Stop != StopWait {
		t.Fatalf("wait stop: %+v", p)
	}
	p = pl.Plan(mgl64.Vec3{}, []Command{Up, Up, Right}, 0, true)
	if p.Consumed != 2 || p.Stop != StopDirectionChange {
		t.Fatalf("direction stop: %+v", p)
	}
	if p.Waypoints[2] != (mgl64.Vec3{0, 2, 0}) {
		t.Fatalf("up waypoint %v", p.Waypoints[2])
	}
}

func TestPlanRecordsObstacleHitAtEnd(t *testing.T) {
	pl := testPlanner(t, grid.Cell{X: 3})
	p := pl.Plan(mgl64.Vec3{}, []Command{Right, Right, Right, Right}, 0, true)
	if p.Consumed != 2 || p.Stop != StopInvalid || !p.ObstacleHitAtEnd {
		t.Fatalf("unexpected plan: %+v", p)
	}
	if p.Blocker.Reason != ReasonOccupied || p.Blocker.Cell != (grid.Cell{X: 3}) {
		t.Fatalf("blocker %v", p.Blocker)
	}
}

func TestPlanBoundsStopIsNotObstacle(t *testing.T) {
	pl := testPlanner(t)
	p := pl.Plan(mgl64.Vec3{3, 0, 0}, []Command{Right, Right, Right}, 0, true)
	if p.Consumed != 1 || p.Stop != StopInvalid || p.ObstacleHitAtEnd {
		t.Fatalf("unexpected plan: %+v", p)
	}
	if p.Blocker.Reason != ReasonOutOfBounds {
		t.Fatalf("blocker %v", p.Blocker)
	}
}

func TestPlanWithoutCoalescingTakesOneStep(t *testing.T) {
	pl := testPlanner(t)
	p := pl.Plan(mgl64.Vec3{}, []Command{Right, Right}, 0, false)
	if p.Kind != PlanMove || p.Consumed != 1 || p.Stop != StopSingle {
		t.Fatalf("unexpected plan: %+v", p)
	}
}

func TestPlanBlockedFirstStep(t *testing.T) {
	pl := testPlanner(t, grid.Cell{X: 1})
	for _, coalesce := range []bool{true, false} {
		p := pl.Plan(mgl64.Vec3{}, []Command{Right, Right}, 0, coalesce)
		if p.Kind != PlanBlocked || p.Consumed != 0 || len(p.Waypoints) != 0 {
			t.Fatalf("coalesce=%v: unexpected plan %+v", coalesce, p)
		}
		if p.Blocker.Cell != (grid.Cell{X: 1}) {
			t.Fatalf("blocker %v", p.Blocker)
		}
	}
}

func TestPlanRejectsOutOfAreaRegardlessOfObstacles(t *testing.T) {
	for _, blocked := range [][]grid.Cell{nil, {{X: 2, Y: 2, Z: 2}}} {
		pl := testPlanner(t, blocked...)
		p := pl.Plan(mgl64.Vec3{4, 0, 0}, []Command{Right}, 0, true)
		if p.Kind != PlanBlocked || p.Blocker.Reason != ReasonOutOfBounds {
			t.Fatalf("expected out of bounds, got %+v", p)
		}
		p = pl.Plan(mgl64.Vec3{0, 0, 0}, []Command{Backward}, 0, true)
		if p.Kind != PlanBlocked || p.Blocker.Reason != ReasonOutOfBounds {
			t.Fatalf("expected out of bounds on -z, got %+v", p)
		}
	}
}

func TestPlanWaitIdleAndEnd(t *testing.T) {
	pl := testPlanner(t)
	cur := mgl64.Vec3{1, 1, 1}
	p := pl.Plan(cur, []Command{Wait}, 0, true)
	if p.Kind != PlanWait || p.Consumed != 1 || len(p.Waypoints) != 1 || p.Waypoints[0] != cur {
		t.Fatalf("wait plan: %+v", p)
	}
	p = pl.Plan(cur, []Command{Idle}, 0, true)
	if p.Kind != PlanSkip || p.Consumed != 1 || len(p.Waypoints) != 0 {
		t.Fatalf("idle plan: %+v", p)
	}
	if p := pl.Plan(cur, []Command{Idle}, 1, true); p.Kind != PlanEnd {
		t.Fatalf("end plan: %+v", p)
	}
}

func TestInverseSequence(t *testing.T) {
	h := []HistoryEntry{{Right, 0}, {Right, 1}, {Wait, 2}, {Up, 3}}
	got := InverseSequence(h)
	want := []Command{Down, Wait, Left, Left}
	if len(got) != len(want) {
		t.Fatalf("len %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("inverse[%d]=%s want %s", i, got[i], want[i])
		}
	}
}

func TestCommandCycleAndParse(t *testing.T) {
	if Wait.Next() != Idle || Idle.Prev() != Wait || Up.Next() != Down {
		t.Fatalf("cycle mismatch")
	}
	for c := Idle; c < commandCount; c++ {
		if c.Inverse().Inverse() != c {
			t.Fatalf("inverse of %s not involutive", c)
		}
		got, err := ParseCommand(c.String())
		if err != nil || got != c {
			t.Fatalf("parse %s: %v %v", c, got, err)
		}
	}
	if _, err := ParseCommand("sideways"); err == nil {
		t.Fatalf("expected parse error")
	}
}
