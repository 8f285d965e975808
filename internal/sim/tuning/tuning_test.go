package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/sim/grid"
	"puzzleplatform.ai/internal/sim/platform"
)

const sample = `
tick_rate_hz: 20
grid:
  cell_size: [2, 1, 2]
settings:
  speed: 3
  curve: linear
platforms:
  - id: lift
    area: {min: [0, 0, 0], max: [8, 4, 8]}
    resting: [1, 0, 0]
    commands: [right, RIGHT, wait, Up]
    slots: 6
    waits:
      - {slot: 2, seconds: 0.25}
  - area: {min: [0, 0, 0], max: [4, 4, 4]}
    grid: {cell_size: [1, 1, 1], origin: [10, 0, 0]}
    settings: {speed: 2, curve: ease_in_out, continuous: false}
obstacles:
  - id: wall
    cells: [[3, 0, 0], [3, 1, 0]]
  - id: crate
    box: {min: [0, 0, 4], max: [2, 1, 6]}
    velocity: [0.5, 0, 0]
`

func TestParseScenario(t *testing.T) {
	s, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.TickRateHz != 20 || s.StatusEveryTicks != defaultStatusEvery {
		t.Fatalf("tick=%d status=%d", s.TickRateHz, s.StatusEveryTicks)
	}
	if s.Settings.Speed != 3 || !s.Settings.Continuous {
		t.Fatalf("shared settings %+v", s.Settings)
	}
	if len(s.Platforms) != 2 {
		t.Fatalf("platforms=%d", len(s.Platforms))
	}

	lift := s.Platforms[0]
	want := []platform.Command{platform.Right, platform.Right, platform.Wait, platform.Up, platform.Idle, platform.Idle}
	if len(lift.Commands) != len(want) {
		t.Fatalf("commands %v", lift.Commands)
	}
	for i := range want {
		if lift.Commands[i] != want[i] {
			t.Fatalf("commands[%d]=%s want %s", i, lift.Commands[i], want[i])
		}
	}
	if !*lift.UseSharedSettings || *lift.WaitTime != defaultWaitTime {
		t.Fatalf("lift defaults: shared=%v wait=%v", *lift.UseSharedSettings, *lift.WaitTime)
	}
	cfg := lift.Config(s.Grid)
	if cfg.CellSize != (mgl64.Vec3{2, 1, 2}) || cfg.Resting != (grid.Cell{X: 1}) {
		t.Fatalf("lift config %+v", cfg)
	}

	second := s.Platforms[1]
	if second.ID != "P2" || *second.UseSharedSettings || second.Settings.Continuous {
		t.Fatalf("second platform %+v", second)
	}
	if second.GridOr(s.Grid).Key() == s.Grid.Key() {
		t.Fatalf("override grid must not share the default grid key")
	}

	crate := s.Obstacles[1]
	if *crate.Static {
		t.Fatalf("moving box must default to dynamic")
	}
	if !*s.Obstacles[0].Static || len(s.Obstacles[0].CellList()) != 2 {
		t.Fatalf("wall obstacle %+v", s.Obstacles[0])
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"unknown command": `
platforms:
  - area: {min: [0,0,0], max: [3,3,3]}
    commands: [JUMP]
`,
		"unknown field": `
tick_rate_hz: 10
colour: blue
platforms:
  - area: {min: [0,0,0], max: [3,3,3]}
`,
		"obstacle with cells and box": `
platforms:
  - area: {min: [0,0,0], max: [3,3,3]}
obstacles:
  - cells: [[1,0,0]]
    box: {min: [0,0,0], max: [1,1,1]}
`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidateRejectsBadScenarios(t *testing.T) {
	cases := map[string]string{
		"no platforms": `tick_rate_hz: 10`,
		"duplicate ids": `
platforms:
  - {id: A, area: {min: [0,0,0], max: [3,3,3]}}
  - {id: A, area: {min: [0,0,0], max: [3,3,3]}}
`,
		"area too small": `
platforms:
  - area: {min: [0,0,0], max: [0.5,3,3]}
`,
		"wait slot out of range": `
platforms:
  - area: {min: [0,0,0], max: [3,3,3]}
    commands: [WAIT]
    waits: [{slot: 4, seconds: 1}]
`,
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !strings.HasPrefix(err.Error(), "scenario.yaml: ") {
			t.Fatalf("%s: unprefixed error %v", name, err)
		}
	}
}

func TestLoadFileAndDemo(t *testing.T) {
	p := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(p, []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
	demo, err := Load("")
	if err != nil {
		t.Fatalf("Load demo: %v", err)
	}
	if err := demo.Validate(); err != nil {
		t.Fatalf("demo invalid: %v", err)
	}
}
