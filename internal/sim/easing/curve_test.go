package easing

import (
	"math"
	"testing"

	"gopkg.in/yaml.v3"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestLinearAndEaseInOut(t *testing.T) {
	lin := Linear()
	for _, x := range []float64{0, 0.25, 0.5, 0.9, 1} {
		if got := lin.Evaluate(x); !near(got, x) {
			t.Fatalf("linear(%v)=%v", x, got)
		}
	}
	eio := EaseInOut()
	if got := eio.Evaluate(0.5); !near(got, 0.5) {
		t.Fatalf("ease_in_out(0.5)=%v", got)
	}
	if got := eio.Evaluate(0.25); !near(got, 0.15625) {
		t.Fatalf("ease_in_out(0.25)=%v want smoothstep 0.15625", got)
	}
	if eio.Evaluate(-1) != 0 || eio.Evaluate(2) != 1 {
		t.Fatalf("evaluation should clamp outside the key range")
	}
}

func TestZeroCurveIsIdentity(t *testing.T) {
	var c Curve
	if c.Evaluate(0.3) != 0.3 {
		t.Fatalf("zero curve should be identity")
	}
}

func TestCurveYAML(t *testing.T) {
	var doc struct {
		A Curve `yaml:"a"`
		B Curve `yaml:"b"`
	}
	src := `
a: ease_in_out
b:
  - {time: 0, value: 0, out_tangent: 1}
  - {time: 1, value: 1, in_tangent: 1}
`
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if len(doc.A.Keys) != 2 || doc.A.Keys[0].OutTangent != 0 {
		t.Fatalf("preset decode mismatch: %+v", doc.A)
	}
	if got := doc.B.Evaluate(0.4); !near(got, 0.4) {
		t.Fatalf("key list decode mismatch: %v", got)
	}

	if err := yaml.Unmarshal([]byte("a: wobble\n"), &doc); err == nil {
		t.Fatalf("expected unknown preset error")
	}
	if err := yaml.Unmarshal([]byte("a: [{time: 1}, {time: 0}]\n"), &doc); err == nil {
		t.Fatalf("expected unsorted keys error")
	}
}
