package occupancy

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/sim/grid"
)

// CellObstacle is an explicit set of cells. Add and Remove notify listeners
// immediately; it is always static.
type CellObstacle struct {
	ID string

	mu        sync.Mutex
	cells     map[grid.Cell]struct{}
	listeners []func(Source)
}

func NewCellObstacle(id string, cells ...grid.Cell) *CellObstacle {
	o := &CellObstacle{ID: id, cells: make(map[grid.Cell]struct{}, len(cells))}
	for _, c := range cells {
		o.cells[c] = struct{}{}
	}
	return o
}

func (o *CellObstacle) IsStatic() bool { return true }

func (o *CellObstacle) OccupiedCells() []grid.Cell {
	o.mu.Lock()
	out := make([]grid.Cell, 0, len(o.cells))
	for c := range o.cells {
		out = append(out, c)
	}
	o.mu.Unlock()
	SortCells(out)
	return out
}

func (o *CellObstacle) OnChange(fn func(Source)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

func (o *CellObstacle) Add(c grid.Cell) {
	o.mu.Lock()
	_, had := o.cells[c]
	o.cells[c] = struct{}{}
	o.mu.Unlock()
	if !had {
		o.notify()
	}
}

func (o *CellObstacle) Remove(c grid.Cell) {
	o.mu.Lock()
	_, had := o.cells[c]
	delete(o.cells, c)
	o.mu.Unlock()
	if had {
		o.notify()
	}
}

func (o *CellObstacle) notify() {
	o.mu.Lock()
	ls := append([]func(Source){}, o.listeners...)
	o.mu.Unlock()
	for _, fn := range ls {
		fn(o)
	}
}

// BoxObstacle rasterises a world-space box into the cells of one platform
// grid. A cell counts as occupied when it overlaps the box with positive
// volume; faces that merely touch do not occupy.
type BoxObstacle struct {
	ID string

	space  grid.Space
	static bool

	mu       sync.Mutex
	bounds   grid.Bounds
	velocity mgl64.Vec3
	cells    []grid.Cell
	dirty    bool
}

func NewBoxObstacle(id string, space grid.Space, world grid.Bounds, static bool) *BoxObstacle {
	return &BoxObstacle{ID: id, space: space, bounds: world, static: static, dirty: true}
}

func (o *BoxObstacle) IsStatic() bool { return o.static }

func (o *BoxObstacle) Bounds() grid.Bounds {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bounds
}

// SetBounds moves or resizes the box. Dynamic obstacles are picked up by the
// next Index.Refresh; static ones must be pushed with Index.Update.
func (o *BoxObstacle) SetBounds(world grid.Bounds) {
	o.mu.Lock()
	o.bounds = world
	o.dirty = true
	o.mu.Unlock()
}

// SetVelocity sets the world units per second applied by Advance.
func (o *BoxObstacle) SetVelocity(v mgl64.Vec3) {
	o.mu.Lock()
	o.velocity = v
	o.mu.Unlock()
}

// Advance moves the box by its velocity; used for scripted moving obstacles.
func (o *BoxObstacle) Advance(dt float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.static || o.velocity == (mgl64.Vec3{}) || dt <= 0 {
		return
	}
	o.bounds = o.bounds.Translate(o.velocity.Mul(dt))
	o.dirty = true
}

func (o *BoxObstacle) OccupiedCells() []grid.Cell {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dirty {
		o.cells = o.rasterLocked()
		o.dirty = false
	}
	return append([]grid.Cell(nil), o.cells...)
}

func (o *BoxObstacle) rasterLocked() []grid.Cell {
	local := grid.Bounds{Min: o.space.ToLocal(o.bounds.Min), Max: o.space.ToLocal(o.bounds.Max)}
	var out []grid.Cell
	o.space.EachCell(local, func(c grid.Cell) bool {
		if o.space.CellBounds(c).Overlaps(local) {
			out = append(out, c)
		}
		return true
	})
	return out
}
