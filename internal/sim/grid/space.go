package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Cell identifies one voxel of a movement grid.
type Cell struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

func (c Cell) Add(o Cell) Cell { return Cell{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z + o.Z} }

func (c Cell) Vec() mgl64.Vec3 { return mgl64.Vec3{float64(c.X), float64(c.Y), float64(c.Z)} }

func (c Cell) String() string { return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z) }

var ErrBadCellSize = errors.New("grid: cell size components must be > 0")

// Space maps continuous positions to cells for one platform. Positions handed
// to CellsIntersecting and Snap are local (relative to Origin); ToCell and the
// world helpers take world positions.
type Space struct {
	size   mgl64.Vec3
	origin mgl64.Vec3
}

func NewSpace(cellSize, origin mgl64.Vec3) (Space, error) {
	for i := 0; i < 3; i++ {
		if !(cellSize[i] > 0) || math.IsInf(cellSize[i], 0) {
			return Space{}, fmt.Errorf("%w: %s", ErrBadCellSize, fmtVec(cellSize))
		}
	}
	return Space{size: cellSize, origin: origin}, nil
}

func (s Space) CellSize() mgl64.Vec3 { return s.size }
func (s Space) Origin() mgl64.Vec3   { return s.origin }

func (s Space) ToLocal(world mgl64.Vec3) mgl64.Vec3 { return world.Sub(s.origin) }
func (s Space) ToWorld(local mgl64.Vec3) mgl64.Vec3 { return local.Add(s.origin) }

// ToCell rounds a world position to the nearest cell index.
func (s Space) ToCell(world mgl64.Vec3) Cell {
	l := s.ToLocal(world)
	return Cell{
		X: int(math.Round(l[0] / s.size[0])),
		Y: int(math.Round(l[1] / s.size[1])),
		Z: int(math.Round(l[2] / s.size[2])),
	}
}

// CellMin is the local min corner of c.
func (s Space) CellMin(c Cell) mgl64.Vec3 { return Scale(c.Vec(), s.size) }

func (s Space) CellBounds(c Cell) Bounds { return BoxAt(s.CellMin(c), s.size) }

// Step is the local offset of one cell along the unit direction dir.
func (s Space) Step(dir mgl64.Vec3) mgl64.Vec3 { return Scale(dir, s.size) }

// Snap rounds a local position to whole cell boundaries.
func (s Space) Snap(local mgl64.Vec3) mgl64.Vec3 {
	var out mgl64.Vec3
	for i := 0; i < 3; i++ {
		out[i] = math.Round(local[i]/s.size[i]) * s.size[i]
	}
	return out
}

// CellRange returns the half-open index range [lo, hi) per axis covered by a
// local box: floor(min/size) .. ceil(max/size).
func (s Space) CellRange(b Bounds) (lo, hi Cell) {
	f := func(i int) (int, int) {
		a := math.Floor(b.Min[i]/s.size[i] + Epsilon)
		z := math.Ceil(b.Max[i]/s.size[i] - Epsilon)
		return int(a), int(z)
	}
	lo.X, hi.X = f(0)
	lo.Y, hi.Y = f(1)
	lo.Z, hi.Z = f(2)
	return lo, hi
}

// CellsIntersecting enumerates every cell covered by a local box.
func (s Space) CellsIntersecting(b Bounds) []Cell {
	var out []Cell
	s.EachCell(b, func(c Cell) bool {
		out = append(out, c)
		return true
	})
	return out
}

// EachCell visits cells covered by b in x, y, z order until fn returns false.
func (s Space) EachCell(b Bounds, fn func(Cell) bool) {
	lo, hi := s.CellRange(b)
	for x := lo.X; x < hi.X; x++ {
		for y := lo.Y; y < hi.Y; y++ {
			for z := lo.Z; z < hi.Z; z++ {
				if !fn(Cell{X: x, Y: y, Z: z}) {
					return
				}
			}
		}
	}
}

// Scale is the component-wise product.
func Scale(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}
