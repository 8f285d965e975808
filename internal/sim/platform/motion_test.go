package platform

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/sim/easing"
	"puzzleplatform.ai/internal/sim/grid"
)

func TestMotionConstantSpeedAcrossUnequalSegments(t *testing.T) {
	path := []mgl64.Vec3{{0, 0, 0}, {1, 0, 0}, {3, 0, 0}}
	m := NewMotion(path, Profile{Speed: 1, Curve: easing.Linear()})
	if m.Duration() != 3 {
		t.Fatalf("duration=%v", m.Duration())
	}
	pos, st := m.Step(1.5, nil)
	if st != MotionRunning || math.Abs(pos[0]-1.5) > 1e-9 {
		t.Fatalf("mid pos=%v status=%v", pos, st)
	}
	if m.CompletedSegments() != 1 {
		t.Fatalf("completed=%d", m.CompletedSegments())
	}
	pos, st = m.Step(1.5, nil)
	if st != MotionDone || pos != path[2] {
		t.Fatalf("end pos=%v status=%v", pos, st)
	}
	if m.CompletedSegments() != 2 {
		t.Fatalf("completed=%d", m.CompletedSegments())
	}
}

func TestMotionRampsAddTime(t *testing.T) {
	path := []mgl64.Vec3{{0, 0, 0}, {3, 0, 0}}
	m := NewMotion(path, Profile{Speed: 1, Curve: easing.EaseInOut(), AccelTime: 1, DecelTime: 1})
	last := 0.0
	for i := 0; i < 100000 && m.Status() == MotionRunning; i++ {
		pos, _ := m.Step(0.01, nil)
		if pos[0] < last-1e-12 {
			t.Fatalf("motion went backwards: %v < %v", pos[0], last)
		}
		last = pos[0]
	}
	if m.Status() != MotionDone {
		t.Fatalf("motion did not finish")
	}
	if m.Elapsed() <= m.Duration() {
		t.Fatalf("ramps should extend traversal: elapsed=%v duration=%v", m.Elapsed(), m.Duration())
	}
	if m.Position() != path[1] {
		t.Fatalf("final position %v", m.Position())
	}
}

func TestMotionObstructionFreezesAtLastWaypoint(t *testing.T) {
	path := []mgl64.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}}
	m := NewMotion(path, Profile{Speed: 1, Curve: easing.Linear()})
	check := func(p mgl64.Vec3) Verdict {
		if p[0] > 1.2 {
			return Verdict{Reason: ReasonOccupied, Cell: grid.Cell{X: 2}}
		}
		return Verdict{}
	}
	var st MotionStatus
	for i := 0; i < 100 && st == MotionRunning; i++ {
		_, st = m.Step(0.25, check)
	}
	if st != MotionObstructed {
		t.Fatalf("status=%v", st)
	}
	if m.Position() != path[1] || m.CompletedSegments() != 1 {
		t.Fatalf("froze at %v after %d segments", m.Position(), m.CompletedSegments())
	}
	if m.Obstruction().Cell != (grid.Cell{X: 2}) {
		t.Fatalf("obstruction %v", m.Obstruction())
	}
	if pos, st2 := m.Step(1, check); st2 != MotionObstructed || pos != path[1] {
		t.Fatalf("obstructed motion must stay frozen")
	}
}

func TestMotionZeroLengthPathIsDone(t *testing.T) {
	m := NewMotion([]mgl64.Vec3{{2, 2, 2}}, Profile{Speed: 1})
	if m.Status() != MotionDone || m.Position() != (mgl64.Vec3{2, 2, 2}) {
		t.Fatalf("status=%v pos=%v", m.Status(), m.Position())
	}
}

func TestMotionObstructionOnEnteredWaypointStopsBeforeIt(t *testing.T) {
	path := []mgl64.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}}
	m := NewMotion(path, Profile{Speed: 1, Curve: easing.Linear()})
	blocked := false
	check := func(p mgl64.Vec3) Verdict {
		if blocked && p[0] > 1.9 {
			return Verdict{Reason: ReasonOccupied, Cell: grid.Cell{X: 2}}
		}
		return Verdict{}
	}
	for i := 0; i < 3; i++ {
		m.Step(0.5, check)
	}
	blocked = true
	// The next candidate reaches waypoint 2.
	pos, st := m.Step(0.5, check)
	if st != MotionObstructed {
		t.Fatalf("status=%v", st)
	}
	if pos != path[1] || m.CompletedSegments() != 1 {
		t.Fatalf("froze at %v after %d segments", pos, m.CompletedSegments())
	}
	if !check(pos).OK() {
		t.Fatalf("frozen position %v fails its own check", pos)
	}
}

func TestMotionLongStepChecksCrossedWaypoints(t *testing.T) {
	path := []mgl64.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}, {4, 0, 0}}
	m := NewMotion(path, Profile{Speed: 1, Curve: easing.Linear()})
	var checked []float64
	check := func(p mgl64.Vec3) Verdict {
		checked = append(checked, p[0])
		if math.Abs(p[0]-2) < 0.5 {
			return Verdict{Reason: ReasonOccupied, Cell: grid.Cell{X: 2}}
		}
		return Verdict{}
	}
	// One step would land at 3.5, past the blocked waypoint.
	pos, st := m.Step(3.5, check)
	if st != MotionObstructed {
		t.Fatalf("status=%v pos=%v", st, pos)
	}
	if pos != path[1] || m.CompletedSegments() != 1 {
		t.Fatalf("froze at %v after %d segments", pos, m.CompletedSegments())
	}
	if m.Obstruction().Cell != (grid.Cell{X: 2}) {
		t.Fatalf("obstruction %v", m.Obstruction())
	}
	if len(checked) < 2 || checked[0] != 1 || checked[1] != 2 {
		t.Fatalf("waypoints not checked in order: %v", checked)
	}
}

func TestMotionLongStepToEndChecksEveryWaypoint(t *testing.T) {
	path := []mgl64.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}}
	m := NewMotion(path, Profile{Speed: 1, Curve: easing.Linear()})
	check := func(p mgl64.Vec3) Verdict {
		if p[0] == 1 {
			return Verdict{Reason: ReasonOccupied, Cell: grid.Cell{X: 1}}
		}
		return Verdict{}
	}
	pos, st := m.Step(10, check)
	if st != MotionObstructed || pos != path[0] || m.CompletedSegments() != 0 {
		t.Fatalf("pos=%v status=%v completed=%d", pos, st, m.CompletedSegments())
	}
}
