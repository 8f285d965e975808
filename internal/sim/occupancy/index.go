package occupancy

import (
	"sort"
	"sync"

	"puzzleplatform.ai/internal/sim/grid"
)

// Source contributes occupied cells to an Index. Cells are expressed in the
// local grid of the platform the index belongs to.
type Source interface {
	OccupiedCells() []grid.Cell
	IsStatic() bool
}

// Notifier is implemented by sources that push their own changes; the index
// subscribes on Register.
type Notifier interface {
	Source
	OnChange(fn func(Source))
}

// Index is the union of the cells of every registered source.
//
// Writes happen at tick boundaries (Register/Update/Refresh) and rebuild the
// union before publishing it, so concurrent readers never observe a partial
// update.
type Index struct {
	mu sync.RWMutex

	sources []Source
	owned   map[Source]map[grid.Cell]struct{}
	union   map[grid.Cell]struct{}
	version uint64
}

func NewIndex() *Index {
	return &Index{
		owned: map[Source]map[grid.Cell]struct{}{},
		union: map[grid.Cell]struct{}{},
	}
}

// Register adds src and pulls its current cells. Registering twice is a no-op
// apart from the refresh.
func (x *Index) Register(src Source) {
	if src == nil {
		return
	}
	x.mu.Lock()
	_, known := x.owned[src]
	if !known {
		x.sources = append(x.sources, src)
	}
	x.mu.Unlock()

	if !known {
		if n, ok := src.(Notifier); ok {
			n.OnChange(x.Update)
		}
	}
	x.Update(src)
}

func (x *Index) Unregister(src Source) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.owned[src]; !ok {
		return
	}
	delete(x.owned, src)
	for i, s := range x.sources {
		if s == src {
			x.sources = append(x.sources[:i], x.sources[i+1:]...)
			break
		}
	}
	x.rebuildLocked()
}

// Update replaces the cells owned by src with its current set and recomputes
// the union. Unknown sources are ignored.
func (x *Index) Update(src Source) {
	cells := src.OccupiedCells()
	set := make(map[grid.Cell]struct{}, len(cells))
	for _, c := range cells {
		set[c] = struct{}{}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.owned[src]; !ok {
		found := false
		for _, s := range x.sources {
			if s == src {
				found = true
				break
			}
		}
		if !found {
			return
		}
	}
	x.owned[src] = set
	x.rebuildLocked()
}

// Refresh re-pulls every non-static source. Call once per tick before any
// planning or interpolation reads the index.
func (x *Index) Refresh() {
	x.mu.RLock()
	dynamic := make([]Source, 0, len(x.sources))
	for _, s := range x.sources {
		if !s.IsStatic() {
			dynamic = append(dynamic, s)
		}
	}
	x.mu.RUnlock()
	if len(dynamic) == 0 {
		return
	}

	pulled := make([]map[grid.Cell]struct{}, len(dynamic))
	for i, s := range dynamic {
		cells := s.OccupiedCells()
		set := make(map[grid.Cell]struct{}, len(cells))
		for _, c := range cells {
			set[c] = struct{}{}
		}
		pulled[i] = set
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for i, s := range dynamic {
		if _, ok := x.owned[s]; ok {
			x.owned[s] = pulled[i]
		}
	}
	x.rebuildLocked()
}

func (x *Index) rebuildLocked() {
	n := 0
	for _, set := range x.owned {
		n += len(set)
	}
	union := make(map[grid.Cell]struct{}, n)
	for _, set := range x.owned {
		for c := range set {
			union[c] = struct{}{}
		}
	}
	x.union = union
	x.version++
}

func (x *Index) Contains(c grid.Cell) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.union[c]
	return ok
}

// AnyOccupied reports whether any cell covered by the local box b is occupied.
func (x *Index) AnyOccupied(space grid.Space, b grid.Bounds) bool {
	_, hit := x.FirstOccupied(space, b)
	return hit
}

// FirstOccupied returns the first occupied cell covered by b in x, y, z order.
func (x *Index) FirstOccupied(space grid.Space, b grid.Bounds) (grid.Cell, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var hit grid.Cell
	found := false
	if len(x.union) == 0 {
		return hit, false
	}
	space.EachCell(b, func(c grid.Cell) bool {
		if _, ok := x.union[c]; ok {
			hit = c
			found = true
			return false
		}
		return true
	})
	return hit, found
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.union)
}

// Version increments on every union rebuild.
func (x *Index) Version() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.version
}

// Cells returns the union in deterministic order.
func (x *Index) Cells() []grid.Cell {
	x.mu.RLock()
	out := make([]grid.Cell, 0, len(x.union))
	for c := range x.union {
		out = append(out, c)
	}
	x.mu.RUnlock()
	SortCells(out)
	return out
}

func SortCells(cells []grid.Cell) {
	sort.Slice(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}
