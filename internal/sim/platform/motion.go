package platform

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/sim/easing"
)

// minSpeedMultiplier keeps the ramp phases moving when the curve starts at 0.
const minSpeedMultiplier = 0.1

// Profile is the per-path timing input of a Motion.
type Profile struct {
	Speed     float64
	Curve     easing.Curve
	AccelTime float64
	DecelTime float64
}

type MotionStatus uint8

const (
	MotionRunning MotionStatus = iota
	MotionDone
	MotionObstructed
)

func (s MotionStatus) String() string {
	switch s {
	case MotionRunning:
		return "RUNNING"
	case MotionDone:
		return "DONE"
	case MotionObstructed:
		return "OBSTRUCTED"
	}
	return "UNKNOWN"
}

// Motion advances a position along a waypoint path, one Step per tick.
//
// A virtual clock runs from 0 to duration (total distance / speed). Each Step
// moves it by dt times a speed multiplier that ramps over the first
// accel and last decel seconds, so the wall-clock traversal is longer than
// duration by the ramp slowdown. The clock fraction is mapped through the
// curve to a fraction of the total path distance.
type Motion struct {
	path  []mgl64.Vec3
	cum   []float64
	total float64

	duration float64
	accel    float64
	decel    float64
	curve    easing.Curve

	clock   float64
	elapsed float64
	pos     mgl64.Vec3
	seg     int
	status  MotionStatus
	blocked Verdict
}

func NewMotion(path []mgl64.Vec3, p Profile) *Motion {
	m := &Motion{path: append([]mgl64.Vec3(nil), path...), curve: p.Curve}
	if len(m.path) == 0 {
		m.status = MotionDone
		return m
	}
	m.pos = m.path[0]
	m.cum = make([]float64, len(m.path))
	for i := 1; i < len(m.path); i++ {
		m.cum[i] = m.cum[i-1] + m.path[i].Sub(m.path[i-1]).Len()
	}
	m.total = m.cum[len(m.cum)-1]

	speed := p.Speed
	if speed < minMoveSpeed {
		speed = minMoveSpeed
	}
	if m.total <= 0 {
		m.pos = m.path[len(m.path)-1]
		m.seg = len(m.path) - 1
		m.status = MotionDone
		return m
	}
	m.duration = m.total / speed
	m.accel = max(p.AccelTime, 0)
	m.decel = max(p.DecelTime, 0)
	if ramp := m.accel + m.decel; ramp > m.duration {
		scale := m.duration / ramp
		m.accel *= scale
		m.decel *= scale
	}
	return m
}

func (m *Motion) Position() mgl64.Vec3  { return m.pos }
func (m *Motion) Status() MotionStatus  { return m.status }
func (m *Motion) Path() []mgl64.Vec3    { return m.path }
func (m *Motion) Segments() int         { return max(len(m.path)-1, 0) }
func (m *Motion) TotalDistance() float64 { return m.total }

// Duration is the traversal time at full speed, excluding ramp slowdown.
func (m *Motion) Duration() float64 { return m.duration }

// Elapsed is the wall-clock time consumed by Step so far.
func (m *Motion) Elapsed() float64 { return m.elapsed }

// CompletedSegments counts path segments fully traversed. After an
// obstruction it is the index of the waypoint the platform froze at.
func (m *Motion) CompletedSegments() int {
	if m.status == MotionDone {
		return m.Segments()
	}
	return m.seg
}

// Obstruction is the failed check that stopped the motion.
func (m *Motion) Obstruction() Verdict { return m.blocked }

func (m *Motion) speedMultiplier() float64 {
	mul := 1.0
	switch {
	case m.accel > 0 && m.clock < m.accel:
		mul = m.curve.Clamp01(m.clock / m.accel)
	case m.decel > 0 && m.clock > m.duration-m.decel:
		local := (m.clock - (m.duration - m.decel)) / m.decel
		mul = m.curve.Clamp01(1 - local)
	}
	if mul < minSpeedMultiplier {
		mul = minSpeedMultiplier
	}
	return mul
}

// Step advances by dt seconds. check validates every waypoint crossed on the
// way and then the candidate position; a nil check accepts everything.
// On a failed check the motion freezes at the furthest waypoint before the
// failure that still passes.
func (m *Motion) Step(dt float64, check func(mgl64.Vec3) Verdict) (mgl64.Vec3, MotionStatus) {
	if m.status != MotionRunning {
		return m.pos, m.status
	}
	if dt < 0 {
		dt = 0
	}
	m.elapsed += dt
	m.clock += dt * m.speedMultiplier()

	done := m.clock >= m.duration
	var (
		next mgl64.Vec3
		seg  int
	)
	if done {
		m.clock = m.duration
		seg = len(m.path) - 1
		next = m.path[seg]
	} else {
		target := m.curve.Clamp01(m.clock/m.duration) * m.total
		seg = m.segmentAt(target)
		a, b := m.path[seg], m.path[seg+1]
		next = a
		if segLen := m.cum[seg+1] - m.cum[seg]; segLen > 0 {
			t := (target - m.cum[seg]) / segLen
			next = a.Add(b.Sub(a).Mul(t))
		}
	}

	if check != nil {
		for k := m.seg + 1; k <= seg; k++ {
			if v := check(m.path[k]); !v.OK() {
				m.obstruct(k-1, v, check)
				return m.pos, m.status
			}
		}
		if !done {
			if v := check(next); !v.OK() {
				m.obstruct(seg, v, check)
				return m.pos, m.status
			}
		}
	}

	m.pos = next
	m.seg = seg
	if done {
		m.status = MotionDone
	}
	return m.pos, m.status
}

// obstruct freezes at the furthest waypoint in (m.seg, from] that passes
// check, falling back to the waypoint the current segment started from.
func (m *Motion) obstruct(from int, v Verdict, check func(mgl64.Vec3) Verdict) {
	stop := m.seg
	for k := from; k > m.seg; k-- {
		if check(m.path[k]).OK() {
			stop = k
			break
		}
	}
	m.seg = stop
	m.pos = m.path[stop]
	m.blocked = v
	m.status = MotionObstructed
}

// segmentAt returns the index of the segment containing cumulative distance d.
func (m *Motion) segmentAt(d float64) int {
	last := len(m.path) - 2
	i := sort.Search(len(m.cum), func(i int) bool { return m.cum[i] > d }) - 1
	if i < 0 {
		return 0
	}
	if i > last {
		return last
	}
	return i
}
