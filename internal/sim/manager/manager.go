// Package manager owns every platform of a scenario and drives them from a
// single tick loop.
package manager

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/persistence/snapshot"
	"puzzleplatform.ai/internal/protocol"
	"puzzleplatform.ai/internal/sim/grid"
	"puzzleplatform.ai/internal/sim/occupancy"
	"puzzleplatform.ai/internal/sim/platform"
	"puzzleplatform.ai/internal/sim/tuning"
)

const defaultSlots = 5

var (
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrBadRequest      = errors.New("bad request")
	ErrStopped         = errors.New("manager stopped")
)

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// RunRecorder receives one record per finished run.
type RunRecorder interface {
	RecordRun(r RunRecord)
}

type TickLogEntry struct {
	Tick     uint64                `json:"tick"`
	Controls []protocol.ControlMsg `json:"controls,omitempty"`
	Events   []protocol.Event      `json:"events,omitempty"`
	Digest   string                `json:"digest"`
}

type RunRecord struct {
	Platform   string     `json:"platform"`
	Run        uint64     `json:"run"`
	StartTick  uint64     `json:"start_tick"`
	EndTick    uint64     `json:"end_tick"`
	Outcome    string     `json:"outcome"`
	Steps      int        `json:"steps"`
	Collisions int        `json:"collisions"`
	Start      [3]float64 `json:"start"`
	End        [3]float64 `json:"end"`
	Commands   string     `json:"commands"`
	Fault      string     `json:"fault,omitempty"`
}

type Options struct {
	Logger *log.Logger
	// Name is recorded in snapshot headers.
	Name string
}

type entry struct {
	ctl       *platform.Controller
	autoStart bool
	startTick uint64
	commands  string
}

type Manager struct {
	log  *log.Logger
	name string
	scn  tuning.Scenario
	dt   float64

	tick    atomic.Uint64
	curTick uint64

	ids       []string
	platforms map[string]*entry
	infos     []protocol.PlatformInfo
	nextID    int
	indexes   map[string]*occupancy.Index
	indexKeys []string
	grids     []tuning.GridSpec
	cells     []*occupancy.CellObstacle
	boxes     []*boxSource
	shared    *platform.SharedSettings

	tickLogger   TickLogger
	runRecorder  RunRecorder
	snapshotSink chan<- snapshot.SnapshotV1
	snapPending  bool

	pending []protocol.Event

	inbox     chan controlReq
	snapReq   chan snapshotReq
	stop      chan struct{}
	stopOnce  sync.Once

	feed     *eventFeed
	statusMu sync.RWMutex
	status   protocol.StatusMsg
}

// boxSource is one world-space box, rasterised once per grid.
type boxSource struct {
	id       string
	bounds   grid.Bounds
	velocity mgl64.Vec3
	static   bool
	perGrid  []*occupancy.BoxObstacle
	gridKeys []string
}

// New builds a manager from a normalized, validated scenario.
func New(scn tuning.Scenario, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if scn.TickRateHz <= 0 {
		return nil, fmt.Errorf("%w: tick rate must be positive", ErrBadRequest)
	}
	m := &Manager{
		log:       logger,
		name:      opts.Name,
		scn:       scn,
		dt:        1 / float64(scn.TickRateHz),
		platforms: map[string]*entry{},
		indexes:   map[string]*occupancy.Index{},
		shared:    platform.NewSharedSettings(scn.Settings),
		inbox:     make(chan controlReq, 256),
		snapReq:   make(chan snapshotReq, 8),
		stop:      make(chan struct{}),
		feed:      newEventFeed(scn.EventBuffer),
	}
	for _, p := range scn.Platforms {
		if _, err := m.addPlatform(p); err != nil {
			return nil, err
		}
	}
	for _, o := range scn.Obstacles {
		if err := m.addObstacle(o); err != nil {
			return nil, err
		}
	}
	m.publishStatus()
	return m, nil
}

func (m *Manager) SetTickLogger(l TickLogger)                    { m.tickLogger = l }
func (m *Manager) SetRunRecorder(r RunRecorder)                  { m.runRecorder = r }
func (m *Manager) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { m.snapshotSink = ch }

func (m *Manager) CurrentTick() uint64 { return m.tick.Load() }
func (m *Manager) TickRateHz() int     { return m.scn.TickRateHz }

// DT is the fixed simulation step in seconds.
func (m *Manager) DT() float64 { return m.dt }

// IDs returns platform ids in tick order.
func (m *Manager) IDs() []string { return append([]string(nil), m.ids...) }

// Platform exposes a controller for tests and tools that drive the manager
// with StepOnce. It must not be used while Run is active.
func (m *Manager) Platform(id string) (*platform.Controller, bool) {
	e, ok := m.platforms[id]
	if !ok {
		return nil, false
	}
	return e.ctl, true
}

func (m *Manager) SharedSettings() *platform.SharedSettings { return m.shared }

// AddPlatform creates a platform from a scenario entry. An empty id is
// assigned the next free "P<n>"; missing commands default to Idle slots.
// Call it before Run starts.
func (m *Manager) AddPlatform(spec tuning.PlatformSpec) (string, error) {
	if spec.ID == "" {
		spec.ID = m.freeID()
	}
	if len(spec.Commands) == 0 && spec.Slots == 0 {
		spec.Slots = defaultSlots
	}
	for len(spec.Commands) < spec.Slots {
		spec.Commands = append(spec.Commands, platform.Idle)
	}
	id, err := m.addPlatform(spec)
	if err == nil {
		m.publishStatus()
	}
	return id, err
}

func (m *Manager) freeID() string {
	for {
		m.nextID++
		id := fmt.Sprintf("P%d", m.nextID)
		if _, taken := m.platforms[id]; !taken {
			return id
		}
	}
}

func (m *Manager) addPlatform(spec tuning.PlatformSpec) (string, error) {
	if _, dup := m.platforms[spec.ID]; dup {
		return "", fmt.Errorf("%w: duplicate platform id %s", ErrBadRequest, spec.ID)
	}
	g := spec.GridOr(m.scn.Grid)
	idx := m.indexFor(g)

	binding := platform.SharedBinding(m.shared)
	if spec.UseSharedSettings != nil && !*spec.UseSharedSettings {
		local := platform.DefaultMovementSettings()
		if spec.Settings != nil {
			local = spec.Settings.Clone()
		}
		binding = platform.LocalBinding(local)
		binding.Shared = m.shared
	}

	ctl := platform.NewController(platform.Options{
		ID:       spec.ID,
		Logger:   log.New(m.log.Writer(), fmt.Sprintf("%s[platform %s] ", m.log.Prefix(), spec.ID), m.log.Flags()),
		Index:    idx,
		Settings: binding,
		Debug:    spec.Debug,
	})
	if err := ctl.Configure(spec.Config(m.scn.Grid)); err != nil {
		return "", fmt.Errorf("platform %s: %w", spec.ID, err)
	}
	for _, w := range spec.Waits {
		if err := ctl.SetWaitDuration(w.Slot, w.Seconds); err != nil {
			return "", fmt.Errorf("platform %s: %w", spec.ID, err)
		}
	}

	e := &entry{ctl: ctl, autoStart: spec.AutoStart}
	m.platforms[spec.ID] = e
	m.ids = append(m.ids, spec.ID)
	sort.Strings(m.ids)
	m.infos = append(m.infos, platformInfo(spec.ID, ctl.Config()))
	sort.Slice(m.infos, func(i, j int) bool { return m.infos[i].ID < m.infos[j].ID })
	m.wire(spec.ID, e)

	if spec.AutoStart {
		ctl.StartCommandSequence()
	}
	return spec.ID, nil
}

func platformInfo(id string, cfg platform.Config) protocol.PlatformInfo {
	return protocol.PlatformInfo{
		ID:       id,
		CellSize: [3]float64{cfg.CellSize[0], cfg.CellSize[1], cfg.CellSize[2]},
		Origin:   [3]float64{cfg.Origin[0], cfg.Origin[1], cfg.Origin[2]},
		AreaMin:  [3]float64{cfg.Area.Min[0], cfg.Area.Min[1], cfg.Area.Min[2]},
		AreaMax:  [3]float64{cfg.Area.Max[0], cfg.Area.Max[1], cfg.Area.Max[2]},
		Slots:    len(cfg.Commands),
	}
}

func (m *Manager) indexFor(g tuning.GridSpec) *occupancy.Index {
	key := g.Key()
	if idx, ok := m.indexes[key]; ok {
		return idx
	}
	idx := occupancy.NewIndex()
	m.indexes[key] = idx
	m.indexKeys = append(m.indexKeys, key)
	sort.Strings(m.indexKeys)
	m.grids = append(m.grids, g)
	for _, b := range m.boxes {
		m.rasterBox(b, g, idx)
	}
	return idx
}

func (m *Manager) addObstacle(o tuning.ObstacleSpec) error {
	if len(o.Cells) > 0 {
		g := o.GridOr(m.scn.Grid)
		src := occupancy.NewCellObstacle(o.ID, o.CellList()...)
		m.cells = append(m.cells, src)
		m.indexFor(g).Register(src)
		return nil
	}
	if o.Box == nil {
		return fmt.Errorf("%w: obstacle %s has no shape", ErrBadRequest, o.ID)
	}
	b := &boxSource{
		id:       o.ID,
		bounds:   o.Box.Bounds(),
		velocity: o.Velocity,
		static:   o.Static == nil || *o.Static,
	}
	m.boxes = append(m.boxes, b)
	for _, g := range m.grids {
		m.rasterBox(b, g, m.indexes[g.Key()])
	}
	return nil
}

func (m *Manager) rasterBox(b *boxSource, g tuning.GridSpec, idx *occupancy.Index) {
	space, err := g.Space()
	if err != nil {
		m.log.Printf("obstacle %s: %v", b.id, err)
		return
	}
	src := occupancy.NewBoxObstacle(b.id, space, b.bounds, b.static)
	b.perGrid = append(b.perGrid, src)
	b.gridKeys = append(b.gridKeys, g.Key())
	idx.Register(src)
}

// advanceBoxes moves dynamic boxes by their velocity. The per-grid rasters
// are re-read by the next Index.Refresh.
func (m *Manager) advanceBoxes(dt float64) {
	for _, b := range m.boxes {
		if b.static || b.velocity == (mgl64.Vec3{}) {
			continue
		}
		b.bounds = b.bounds.Translate(b.velocity.Mul(dt))
		for _, src := range b.perGrid {
			src.SetBounds(b.bounds)
		}
	}
}
