// Package tuning loads scenario files: the tick rate, shared movement
// settings, platforms and obstacles a server starts with.
package tuning

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"puzzleplatform.ai/internal/sim/grid"
	"puzzleplatform.ai/internal/sim/platform"
)

//go:embed scenario.schema.json
var schemaJSON string

const (
	defaultTickRateHz   = 30
	defaultStatusEvery  = 10
	defaultEventBuffer  = 4096
	defaultWaitTime     = 1.0
	MaxPlatformCommands = 1024
)

type Scenario struct {
	TickRateHz         int                       `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	StatusEveryTicks   int                       `yaml:"status_every_ticks" json:"status_every_ticks"`
	SnapshotEveryTicks int                       `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`
	EventBuffer        int                       `yaml:"event_buffer" json:"event_buffer"`
	Grid               GridSpec                  `yaml:"grid" json:"grid"`
	Settings           platform.MovementSettings `yaml:"settings" json:"settings"`
	Platforms          []PlatformSpec            `yaml:"platforms" json:"platforms"`
	Obstacles          []ObstacleSpec            `yaml:"obstacles,omitempty" json:"obstacles,omitempty"`
}

// GridSpec places a cell grid in world space.
type GridSpec struct {
	CellSize mgl64.Vec3 `yaml:"cell_size" json:"cell_size"`
	Origin   mgl64.Vec3 `yaml:"origin" json:"origin"`
}

type BoxSpec struct {
	Min mgl64.Vec3 `yaml:"min" json:"min"`
	Max mgl64.Vec3 `yaml:"max" json:"max"`
}

type PlatformSpec struct {
	ID       string             `yaml:"id" json:"id"`
	Grid     *GridSpec          `yaml:"grid,omitempty" json:"grid,omitempty"`
	Area     BoxSpec            `yaml:"area" json:"area"`
	Resting  [3]int             `yaml:"resting" json:"resting"`
	Commands []platform.Command `yaml:"commands" json:"commands"`
	// Slots pads the queue with Idle up to this length.
	Slots    int        `yaml:"slots" json:"slots"`
	WaitTime *float64   `yaml:"wait_time,omitempty" json:"wait_time,omitempty"`
	Waits    []WaitSpec `yaml:"waits,omitempty" json:"waits,omitempty"`

	UseSharedSettings *bool                      `yaml:"use_shared_settings,omitempty" json:"use_shared_settings,omitempty"`
	Settings          *platform.MovementSettings `yaml:"settings,omitempty" json:"settings,omitempty"`

	Debug     bool `yaml:"debug" json:"debug"`
	AutoStart bool `yaml:"auto_start" json:"auto_start"`
}

type WaitSpec struct {
	Slot    int     `yaml:"slot" json:"slot"`
	Seconds float64 `yaml:"seconds" json:"seconds"`
}

// ObstacleSpec is either a list of cells in its grid or a world-space box.
// A box with a non-zero velocity moves every tick.
type ObstacleSpec struct {
	ID       string     `yaml:"id" json:"id"`
	Grid     *GridSpec  `yaml:"grid,omitempty" json:"grid,omitempty"`
	Cells    [][3]int   `yaml:"cells,omitempty" json:"cells,omitempty"`
	Box      *BoxSpec   `yaml:"box,omitempty" json:"box,omitempty"`
	Static   *bool      `yaml:"static,omitempty" json:"static,omitempty"`
	Velocity mgl64.Vec3 `yaml:"velocity,omitempty" json:"velocity,omitempty"`
}

func Load(path string) (Scenario, error) {
	if strings.TrimSpace(path) == "" {
		s := Demo()
		s.Normalize()
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return defaults(), err
	}
	return Parse(b)
}

// Parse decodes and validates a scenario document.
func Parse(b []byte) (Scenario, error) {
	s := defaults()
	if err := validateSchema(b); err != nil {
		return s, fmt.Errorf("scenario.yaml: %w", err)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("scenario.yaml: %w", err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("scenario.yaml: %w", err)
	}
	return s, nil
}

func defaults() Scenario {
	return Scenario{
		TickRateHz:       defaultTickRateHz,
		StatusEveryTicks: defaultStatusEvery,
		EventBuffer:      defaultEventBuffer,
		Grid:             GridSpec{CellSize: mgl64.Vec3{1, 1, 1}},
		Settings:         platform.DefaultMovementSettings(),
	}
}

// Demo is the scenario used when no file is given: one platform stepping
// around a pillar.
func Demo() Scenario {
	s := defaults()
	s.Platforms = []PlatformSpec{{
		ID:       "P1",
		Area:     BoxSpec{Max: mgl64.Vec3{6, 4, 6}},
		Commands: []platform.Command{platform.Right, platform.Right, platform.Wait, platform.Up, platform.Forward, platform.Forward, platform.Right},
	}}
	s.Obstacles = []ObstacleSpec{{ID: "pillar", Cells: [][3]int{{3, 0, 2}, {3, 1, 2}}}}
	return s
}

func (s *Scenario) Normalize() {
	if s == nil {
		return
	}
	if s.TickRateHz <= 0 {
		s.TickRateHz = defaultTickRateHz
	}
	if s.StatusEveryTicks < 0 {
		s.StatusEveryTicks = 0
	}
	if s.SnapshotEveryTicks < 0 {
		s.SnapshotEveryTicks = 0
	}
	if s.EventBuffer <= 0 {
		s.EventBuffer = defaultEventBuffer
	}
	s.Grid.normalize()
	s.Settings.Normalize()

	for i := range s.Platforms {
		p := &s.Platforms[i]
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			p.ID = fmt.Sprintf("P%d", i+1)
		}
		if p.Grid != nil {
			p.Grid.normalize()
		}
		if p.WaitTime == nil {
			w := defaultWaitTime
			p.WaitTime = &w
		}
		for len(p.Commands) < p.Slots {
			p.Commands = append(p.Commands, platform.Idle)
		}
		if p.Settings != nil {
			p.Settings.Normalize()
		}
		if p.UseSharedSettings == nil {
			shared := p.Settings == nil
			p.UseSharedSettings = &shared
		}
	}
	for i := range s.Obstacles {
		o := &s.Obstacles[i]
		o.ID = strings.TrimSpace(o.ID)
		if o.ID == "" {
			o.ID = fmt.Sprintf("O%d", i+1)
		}
		if o.Grid != nil {
			o.Grid.normalize()
		}
		if o.Static == nil {
			static := o.Velocity == (mgl64.Vec3{})
			o.Static = &static
		}
	}
}

func (g *GridSpec) normalize() {
	for i := 0; i < 3; i++ {
		if g.CellSize[i] == 0 {
			g.CellSize[i] = 1
		}
	}
}

func (s Scenario) Validate() error {
	if len(s.Platforms) == 0 {
		return fmt.Errorf("no platforms defined")
	}
	if _, err := s.Grid.Space(); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	seen := map[string]bool{}
	for _, p := range s.Platforms {
		if seen[p.ID] {
			return fmt.Errorf("duplicate platform id: %s", p.ID)
		}
		seen[p.ID] = true
		g := p.GridOr(s.Grid)
		if _, err := g.Space(); err != nil {
			return fmt.Errorf("platform %s: %w", p.ID, err)
		}
		size := p.Area.Bounds().Size()
		for i := 0; i < 3; i++ {
			if size[i]+grid.Epsilon < g.CellSize[i] {
				return fmt.Errorf("platform %s: area smaller than one cell on axis %d", p.ID, i)
			}
		}
		if len(p.Commands) > MaxPlatformCommands {
			return fmt.Errorf("platform %s: %d commands exceeds %d", p.ID, len(p.Commands), MaxPlatformCommands)
		}
		for _, w := range p.Waits {
			if w.Slot < 0 || w.Slot >= len(p.Commands) {
				return fmt.Errorf("platform %s: wait slot %d out of range", p.ID, w.Slot)
			}
			if w.Seconds < 0 {
				return fmt.Errorf("platform %s: negative wait for slot %d", p.ID, w.Slot)
			}
		}
		if p.WaitTime != nil && *p.WaitTime < 0 {
			return fmt.Errorf("platform %s: negative wait_time", p.ID)
		}
	}
	obs := map[string]bool{}
	for _, o := range s.Obstacles {
		if obs[o.ID] {
			return fmt.Errorf("duplicate obstacle id: %s", o.ID)
		}
		obs[o.ID] = true
		if (o.Box == nil) == (len(o.Cells) == 0) {
			return fmt.Errorf("obstacle %s: exactly one of cells or box is required", o.ID)
		}
		if o.Box != nil {
			size := o.Box.Bounds().Size()
			if size[0] <= 0 || size[1] <= 0 || size[2] <= 0 {
				return fmt.Errorf("obstacle %s: degenerate box", o.ID)
			}
		}
		if len(o.Cells) > 0 && o.Velocity != (mgl64.Vec3{}) {
			return fmt.Errorf("obstacle %s: cell obstacles cannot move", o.ID)
		}
	}
	return nil
}

func (g GridSpec) Space() (grid.Space, error) { return grid.NewSpace(g.CellSize, g.Origin) }

// Key identifies grids that share cell coordinates.
func (g GridSpec) Key() string {
	return fmt.Sprintf("%g,%g,%g@%g,%g,%g", g.CellSize[0], g.CellSize[1], g.CellSize[2], g.Origin[0], g.Origin[1], g.Origin[2])
}

func (b BoxSpec) Bounds() grid.Bounds { return grid.NewBounds(b.Min, b.Max) }

func (p PlatformSpec) GridOr(def GridSpec) GridSpec {
	if p.Grid != nil {
		return *p.Grid
	}
	return def
}

func (o ObstacleSpec) GridOr(def GridSpec) GridSpec {
	if o.Grid != nil {
		return *o.Grid
	}
	return def
}

func (o ObstacleSpec) CellList() []grid.Cell {
	out := make([]grid.Cell, 0, len(o.Cells))
	for _, c := range o.Cells {
		out = append(out, grid.Cell{X: c[0], Y: c[1], Z: c[2]})
	}
	return out
}

// Config converts a platform entry into controller configuration.
func (p PlatformSpec) Config(def GridSpec) platform.Config {
	g := p.GridOr(def)
	wait := defaultWaitTime
	if p.WaitTime != nil {
		wait = *p.WaitTime
	}
	return platform.Config{
		CellSize: g.CellSize,
		Origin:   g.Origin,
		Area:     p.Area.Bounds(),
		Resting:  grid.Cell{X: p.Resting[0], Y: p.Resting[1], Z: p.Resting[2]},
		Commands: append([]platform.Command(nil), p.Commands...),
		WaitTime: wait,
	}
}

func validateSchema(b []byte) error {
	sch, err := jsonschema.CompileString("scenario.schema.json", schemaJSON)
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	raw, err := json.Marshal(jsonCompatible(doc))
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return sch.Validate(v)
}

// jsonCompatible rewrites yaml maps with non-string keys so they can be
// marshalled as JSON.
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = jsonCompatible(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = jsonCompatible(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = jsonCompatible(e)
		}
		return t
	}
	return v
}
