package grid

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Epsilon absorbs float error when a box edge sits exactly on a cell boundary
// or on the movement area's faces.
const Epsilon = 1e-9

// Bounds is an axis-aligned box given by its min and max corners.
type Bounds struct {
	Min mgl64.Vec3 `json:"min" yaml:"min"`
	Max mgl64.Vec3 `json:"max" yaml:"max"`
}

func NewBounds(min, max mgl64.Vec3) Bounds {
	b := Bounds{Min: min, Max: max}
	for i := 0; i < 3; i++ {
		if b.Min[i] > b.Max[i] {
			b.Min[i], b.Max[i] = b.Max[i], b.Min[i]
		}
	}
	return b
}

// BoxAt returns the box of the given size whose min corner is at pos.
func BoxAt(pos, size mgl64.Vec3) Bounds {
	return Bounds{Min: pos, Max: pos.Add(size)}
}

func (b Bounds) Size() mgl64.Vec3 { return b.Max.Sub(b.Min) }

func (b Bounds) Center() mgl64.Vec3 { return b.Min.Add(b.Max).Mul(0.5) }

// ContainsPoint is inclusive on every face.
func (b Bounds) ContainsPoint(p mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i]-Epsilon || p[i] > b.Max[i]+Epsilon {
			return false
		}
	}
	return true
}

// Contains reports whether inner lies fully inside b.
func (b Bounds) Contains(inner Bounds) bool {
	return b.ContainsPoint(inner.Min) && b.ContainsPoint(inner.Max)
}

// Overlaps is strict: boxes that only touch on a face do not overlap.
func (b Bounds) Overlaps(o Bounds) bool {
	for i := 0; i < 3; i++ {
		if b.Max[i] <= o.Min[i]+Epsilon || o.Max[i] <= b.Min[i]+Epsilon {
			return false
		}
	}
	return true
}

func (b Bounds) Translate(d mgl64.Vec3) Bounds {
	return Bounds{Min: b.Min.Add(d), Max: b.Max.Add(d)}
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%v..%v]", fmtVec(b.Min), fmtVec(b.Max))
}

func fmtVec(v mgl64.Vec3) string {
	return fmt.Sprintf("(%g,%g,%g)", v[0], v[1], v[2])
}
