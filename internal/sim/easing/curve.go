// Package easing evaluates keyframed easing curves with cubic Hermite
// segments between keys.
package easing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Key struct {
	Time       float64 `json:"time" yaml:"time"`
	Value      float64 `json:"value" yaml:"value"`
	InTangent  float64 `json:"in_tangent,omitempty" yaml:"in_tangent,omitempty"`
	OutTangent float64 `json:"out_tangent,omitempty" yaml:"out_tangent,omitempty"`
}

// Curve is evaluated outside its key range by clamping to the first/last key.
// A zero Curve evaluates as Linear.
type Curve struct {
	Keys []Key `json:"keys" yaml:"keys"`
}

const (
	NameLinear    = "linear"
	NameEaseInOut = "ease_in_out"
	NameEaseIn    = "ease_in"
	NameEaseOut   = "ease_out"
)

func Linear() Curve {
	return Curve{Keys: []Key{{Time: 0, Value: 0, OutTangent: 1}, {Time: 1, Value: 1, InTangent: 1}}}
}

// EaseInOut has flat tangents at both ends (smoothstep).
func EaseInOut() Curve {
	return Curve{Keys: []Key{{Time: 0, Value: 0}, {Time: 1, Value: 1}}}
}

func EaseIn() Curve {
	return Curve{Keys: []Key{{Time: 0, Value: 0}, {Time: 1, Value: 1, InTangent: 2}}}
}

func EaseOut() Curve {
	return Curve{Keys: []Key{{Time: 0, Value: 0, OutTangent: 2}, {Time: 1, Value: 1}}}
}

func Named(name string) (Curve, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameLinear, "":
		return Linear(), nil
	case NameEaseInOut:
		return EaseInOut(), nil
	case NameEaseIn:
		return EaseIn(), nil
	case NameEaseOut:
		return EaseOut(), nil
	}
	return Curve{}, fmt.Errorf("unknown curve %q", name)
}

var ErrUnsortedKeys = errors.New("easing: key times must be strictly increasing")

func (c Curve) Validate() error {
	for i := 1; i < len(c.Keys); i++ {
		if !(c.Keys[i].Time > c.Keys[i-1].Time) {
			return ErrUnsortedKeys
		}
	}
	return nil
}

// Clone returns a curve that shares no key storage with c.
func (c Curve) Clone() Curve {
	return Curve{Keys: append([]Key(nil), c.Keys...)}
}

func (c Curve) Evaluate(t float64) float64 {
	keys := c.Keys
	switch len(keys) {
	case 0:
		return t
	case 1:
		return keys[0].Value
	}
	if t <= keys[0].Time {
		return keys[0].Value
	}
	last := keys[len(keys)-1]
	if t >= last.Time {
		return last.Value
	}
	i := sort.Search(len(keys), func(i int) bool { return keys[i].Time > t }) - 1
	k0, k1 := keys[i], keys[i+1]
	dt := k1.Time - k0.Time
	s := (t - k0.Time) / dt
	s2 := s * s
	s3 := s2 * s
	h00 := 2*s3 - 3*s2 + 1
	h10 := s3 - 2*s2 + s
	h01 := -2*s3 + 3*s2
	h11 := s3 - s2
	return h00*k0.Value + h10*dt*k0.OutTangent + h01*k1.Value + h11*dt*k1.InTangent
}

// Clamp01 evaluates and clamps to [0,1].
func (c Curve) Clamp01(t float64) float64 {
	v := c.Evaluate(t)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// UnmarshalYAML accepts either a preset name or a list of keys.
func (c *Curve) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		named, err := Named(n.Value)
		if err != nil {
			return err
		}
		*c = named
		return nil
	case yaml.SequenceNode:
		var keys []Key
		if err := n.Decode(&keys); err != nil {
			return err
		}
		cv := Curve{Keys: keys}
		if err := cv.Validate(); err != nil {
			return err
		}
		*c = cv
		return nil
	case yaml.MappingNode:
		var raw struct {
			Keys []Key `yaml:"keys"`
		}
		if err := n.Decode(&raw); err != nil {
			return err
		}
		cv := Curve{Keys: raw.Keys}
		if err := cv.Validate(); err != nil {
			return err
		}
		*c = cv
		return nil
	}
	return fmt.Errorf("curve: unsupported yaml node at line %d", n.Line)
}
