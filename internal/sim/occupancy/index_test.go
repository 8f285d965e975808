package occupancy

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/sim/grid"
)

type stubSource struct {
	cells  []grid.Cell
	static bool
	pulls  int
}

func (s *stubSource) OccupiedCells() []grid.Cell {
	s.pulls++
	return s.cells
}
func (s *stubSource) IsStatic() bool { return s.static }

func unitSpace(t *testing.T) grid.Space {
	t.Helper()
	s, err := grid.NewSpace(mgl64.Vec3{1, 1, 1}, mgl64.Vec3{})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return s
}

func TestIndexUnionAndUpdate(t *testing.T) {
	x := NewIndex()
	a := &stubSource{cells: []grid.Cell{{X: 1}, {X: 2}}, static: true}
	b := &stubSource{cells: []grid.Cell{{X: 2}, {Y: 3}}, static: true}
	x.Register(a)
	x.Register(b)
	if x.Len() != 3 {
		t.Fatalf("union len=%d want 3", x.Len())
	}

	a.cells = nil
	x.Update(a)
	if x.Contains(grid.Cell{X: 1}) {
		t.Fatalf("cell owned only by a should be gone")
	}
	if !x.Contains(grid.Cell{X: 2}) {
		t.Fatalf("cell still owned by b should remain")
	}

	x.Unregister(b)
	if x.Len() != 0 {
		t.Fatalf("expected empty union, got %v", x.Cells())
	}
}

func TestIndexRefreshPullsOnlyDynamic(t *testing.T) {
	x := NewIndex()
	st := &stubSource{cells: []grid.Cell{{X: 1}}, static: true}
	dyn := &stubSource{cells: []grid.Cell{{X: 4}}}
	x.Register(st)
	x.Register(dyn)
	st.pulls, dyn.pulls = 0, 0

	dyn.cells = []grid.Cell{{X: 5}}
	x.Refresh()
	if st.pulls != 0 || dyn.pulls != 1 {
		t.Fatalf("pulls static=%d dynamic=%d", st.pulls, dyn.pulls)
	}
	if x.Contains(grid.Cell{X: 4}) || !x.Contains(grid.Cell{X: 5}) {
		t.Fatalf("refresh did not replace dynamic cells: %v", x.Cells())
	}
}

func TestIndexFirstOccupied(t *testing.T) {
	space := unitSpace(t)
	x := NewIndex()
	x.Register(NewCellObstacle("wall", grid.Cell{X: 1}))

	if x.AnyOccupied(space, grid.BoxAt(mgl64.Vec3{}, space.CellSize())) {
		t.Fatalf("cell 0 should be free")
	}
	c, hit := x.FirstOccupied(space, grid.BoxAt(mgl64.Vec3{0.5, 0, 0}, space.CellSize()))
	if !hit || c != (grid.Cell{X: 1}) {
		t.Fatalf("expected hit on (1,0,0), got %v %v", c, hit)
	}
}

func TestCellObstacleNotifiesIndex(t *testing.T) {
	x := NewIndex()
	o := NewCellObstacle("o")
	x.Register(o)
	v := x.Version()

	o.Add(grid.Cell{Z: 2})
	if !x.Contains(grid.Cell{Z: 2}) {
		t.Fatalf("added cell not visible")
	}
	if x.Version() == v {
		t.Fatalf("version should advance")
	}
	o.Remove(grid.Cell{Z: 2})
	if x.Contains(grid.Cell{Z: 2}) {
		t.Fatalf("removed cell still visible")
	}
}

func TestBoxObstacleRaster(t *testing.T) {
	space := unitSpace(t)
	box := NewBoxObstacle("crate", space, grid.BoxAt(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{1, 1, 1}), true)
	cells := box.OccupiedCells()
	if len(cells) != 1 || cells[0] != (grid.Cell{X: 1}) {
		t.Fatalf("aligned crate cells=%v", cells)
	}

	box.SetBounds(grid.BoxAt(mgl64.Vec3{1.5, 0, 0}, mgl64.Vec3{1, 1, 1}))
	cells = box.OccupiedCells()
	if len(cells) != 2 {
		t.Fatalf("straddling crate cells=%v", cells)
	}
}

func TestBoxObstacleAdvanceDynamic(t *testing.T) {
	space := unitSpace(t)
	box := NewBoxObstacle("cart", space, grid.BoxAt(mgl64.Vec3{0, 3, 0}, mgl64.Vec3{1, 1, 1}), false)
	box.SetVelocity(mgl64.Vec3{0, -1, 0})
	x := NewIndex()
	x.Register(box)
	if !x.Contains(grid.Cell{Y: 3}) {
		t.Fatalf("initial cell missing")
	}
	box.Advance(1)
	x.Refresh()
	if x.Contains(grid.Cell{Y: 3}) || !x.Contains(grid.Cell{Y: 2}) {
		t.Fatalf("dynamic box not tracked: %v", x.Cells())
	}
}
