package platform

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/sim/grid"
	"puzzleplatform.ai/internal/sim/occupancy"
)

// ReturnTolerance is how close the platform must end to its run start before
// the reversal skips the corrective move.
const ReturnTolerance = 0.001

var (
	ErrEmptyQueue     = errors.New("command list is empty")
	ErrAlreadyPlaying = errors.New("platform is already executing commands")
	ErrInvalidIndex   = errors.New("index out of bounds for command list")
	ErrInvalidConfig  = errors.New("invalid platform configuration")
)

type State uint8

const (
	StateIdle State = iota
	StateMoving
	StateWaiting
	StateExecutingCommands
	StateReversing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateMoving:
		return "MOVING"
	case StateWaiting:
		return "WAITING"
	case StateExecutingCommands:
		return "EXECUTING_COMMANDS"
	case StateReversing:
		return "REVERSING"
	}
	return "UNKNOWN"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config is the author-time description of a platform.
type Config struct {
	// CellSize is world units per cell on each axis.
	CellSize mgl64.Vec3
	// Origin is the world position of local (0,0,0).
	Origin mgl64.Vec3
	// Area is the local region the platform box must stay inside.
	Area grid.Bounds
	// Resting is the cell the platform rests at before its first run.
	Resting  grid.Cell
	Commands []Command
	// WaitTime is the default pause of a Wait command, in seconds.
	WaitTime float64
}

func (c Config) clone() Config {
	c.Commands = append([]Command(nil), c.Commands...)
	return c
}

func (c Config) equal(o Config) bool {
	if c.CellSize != o.CellSize || c.Origin != o.Origin || c.Area != o.Area ||
		c.Resting != o.Resting || c.WaitTime != o.WaitTime || len(c.Commands) != len(o.Commands) {
		return false
	}
	for i := range c.Commands {
		if c.Commands[i] != o.Commands[i] {
			return false
		}
	}
	return true
}

// HistoryEntry is one performed command and the queue slot it came from.
type HistoryEntry struct {
	Command Command
	Slot    int
}

type Options struct {
	ID       string
	Logger   *log.Logger
	Index    *occupancy.Index
	Settings SettingsBinding
	Debug    bool
}

type phase uint8

const (
	phaseNone phase = iota
	phaseDelayedStart
	phaseStarting
	phaseForward
	phaseForwardMove
	phaseForwardWait
	phaseReverse
	phaseReverseMove
	phaseReverseWait
	phaseCorrect
)

type runStats struct {
	id         uint64
	steps      int
	collisions int
}

// Controller sequences one platform through its command queue and back.
//
// It never blocks: the owner calls Advance once per tick. All methods must be
// called from the goroutine that drives Advance.
type Controller struct {
	id    string
	log   *log.Logger
	debug bool

	cfg        Config
	configured bool
	space      grid.Space
	index      *occupancy.Index
	settings   SettingsBinding
	waits      map[int]float64

	state   State
	playing bool
	cursor  int
	pos     mgl64.Vec3
	start   mgl64.Vec3
	history []HistoryEntry

	phase    phase
	queue    []Command
	moveSet  MovementSettings
	motion   *Motion
	moving   []HistoryEntry
	hitAtEnd Verdict
	waitLeft float64
	rev      reversal

	runs uint64
	run  runStats
	ev   events
}

func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	idx := opts.Index
	if idx == nil {
		idx = occupancy.NewIndex()
	}
	settings := opts.Settings
	if !settings.UseShared && settings.Local.Speed == 0 {
		settings.Local = DefaultMovementSettings()
	}
	return &Controller{
		id:       opts.ID,
		log:      logger,
		debug:    opts.Debug,
		index:    idx,
		settings: settings,
		waits:    map[int]float64{},
		cursor:   -1,
	}
}

func (c *Controller) debugf(format string, args ...any) {
	if c.debug {
		c.log.Printf("[debug] "+format, args...)
	}
}

// Configure applies author-time setup. It is rejected while a run is active.
// Reconfiguring an idle platform moves it to its resting cell; the executed
// history and state are untouched.
func (c *Controller) Configure(cfg Config) error {
	if c.playing {
		c.log.Printf("configure rejected: %v", ErrAlreadyPlaying)
		return ErrAlreadyPlaying
	}
	space, err := grid.NewSpace(cfg.CellSize, cfg.Origin)
	if err != nil {
		c.log.Printf("configure rejected: %v", err)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Area = grid.NewBounds(cfg.Area.Min, cfg.Area.Max)
	size := cfg.Area.Size()
	for i := 0; i < 3; i++ {
		if size[i]+grid.Epsilon < cfg.CellSize[i] {
			err := fmt.Errorf("%w: movement area %s smaller than one cell on axis %d", ErrInvalidConfig, cfg.Area, i)
			c.log.Printf("configure rejected: %v", err)
			return err
		}
	}
	if cfg.WaitTime < 0 {
		cfg.WaitTime = 0
	}
	if c.configured && c.cfg.equal(cfg) {
		return nil
	}

	c.cfg = cfg.clone()
	c.space = space
	c.configured = true
	c.setPos(space.CellMin(cfg.Resting))

	if !cfg.Area.Contains(grid.BoxAt(c.pos, cfg.CellSize)) {
		c.log.Printf("warning: resting position %s lies outside movement area %s", cfg.Resting, cfg.Area)
	}
	if len(cfg.Commands) == 0 {
		c.log.Printf("warning: %v; please add commands", ErrEmptyQueue)
	}
	return nil
}

// ExecuteCommands begins a forward run. The run starts moving on the tick
// after the call so observers can react to the reset state first.
func (c *Controller) ExecuteCommands() error {
	if !c.configured || len(c.cfg.Commands) == 0 {
		c.log.Printf("warning: %v; please add commands", ErrEmptyQueue)
		return ErrEmptyQueue
	}
	if c.playing {
		c.log.Printf("warning: %v", ErrAlreadyPlaying)
		return ErrAlreadyPlaying
	}
	c.playing = true
	c.queue = append([]Command(nil), c.cfg.Commands...)
	c.moveSet = c.settings.Effective()
	c.history = c.history[:0]
	c.cursor = 0
	c.start = c.pos
	c.motion = nil
	c.moving = nil
	c.hitAtEnd = Verdict{}
	c.runs++
	c.run = runStats{id: c.runs}
	c.phase = phaseStarting
	c.setState(StateExecutingCommands)
	c.debugf("starting command sequence run=%d commands=%d", c.runs, len(c.queue))
	for _, fn := range c.ev.runStarted {
		fn(c.runs)
	}
	return nil
}

// StartCommandSequence cancels any in-flight run, waits one tick and then
// calls ExecuteCommands.
func (c *Controller) StartCommandSequence() {
	c.cancel()
	c.cursor = -1
	c.phase = phaseDelayedStart
}

// Stop cancels the active run and returns to Idle in place.
func (c *Controller) Stop() {
	c.cancel()
}

func (c *Controller) cancel() {
	wasPlaying := c.playing
	c.phase = phaseNone
	c.motion = nil
	c.moving = nil
	c.rev = reversal{}
	c.playing = false
	if c.configured {
		c.setPos(c.space.Snap(c.pos))
	}
	c.setState(StateIdle)
	if wasPlaying {
		c.finish(OutcomeCancelled, Verdict{})
	}
}

// Advance runs the state machine for one tick of dt seconds.
func (c *Controller) Advance(dt float64) {
	if dt < 0 {
		dt = 0
	}
	limit := 2*(len(c.queue)+len(c.history)+len(c.rev.cmds)) + 8
	for i := 0; i < limit; i++ {
		if !c.advancePhase(&dt) {
			return
		}
	}
	c.log.Printf("advance: decision limit reached in phase %d", c.phase)
}

// advancePhase performs one transition. It reports whether another transition
// may run in the same tick.
func (c *Controller) advancePhase(dt *float64) bool {
	switch c.phase {
	case phaseNone:
		return false
	case phaseDelayedStart:
		c.phase = phaseNone
		_ = c.ExecuteCommands()
		return false
	case phaseStarting:
		c.phase = phaseForward
		return false
	case phaseForward:
		return c.stepForward()
	case phaseForwardMove:
		return c.stepForwardMove(dt)
	case phaseForwardWait, phaseReverseWait:
		return c.stepWait(dt)
	case phaseReverse:
		return c.stepReverse()
	case phaseReverseMove:
		return c.stepReverseMove(dt)
	case phaseCorrect:
		return c.stepCorrect(dt)
	}
	return false
}

func (c *Controller) planner() Planner {
	return Planner{Validator: c.validator()}
}

func (c *Controller) validator() Validator {
	return Validator{Space: c.space, Area: c.cfg.Area, Index: c.index}
}

func (c *Controller) stepForward() bool {
	if c.cursor >= len(c.queue) {
		c.debugf("command list exhausted at %d", c.cursor)
		c.beginReversal()
		return true
	}
	plan := c.planner().Plan(c.pos, c.queue, c.cursor, c.moveSet.Continuous)
	c.debugf("processing command %d: %s -> %s", c.cursor, c.queue[c.cursor], plan.Kind)

	switch plan.Kind {
	case PlanSkip:
		c.cursor++
		return true
	case PlanWait:
		c.history = append(c.history, HistoryEntry{Command: Wait, Slot: c.cursor})
		c.waitLeft = c.waitFor(c.cursor)
		c.phase = phaseForwardWait
		c.setState(StateWaiting)
		return true
	case PlanBlocked:
		c.debugf("move blocked at %v: %s", c.pos, plan.Blocker)
		c.emitCollision(plan.Blocker)
		if len(c.history) == 0 {
			c.debugf("obstacle on first move, aborting run")
			c.abort()
			return false
		}
		c.beginReversal()
		return true
	case PlanMove:
		c.moving = c.moving[:0]
		for i, cmd := range plan.Commands {
			e := HistoryEntry{Command: cmd, Slot: c.cursor + i}
			c.moving = append(c.moving, e)
			c.history = append(c.history, e)
		}
		c.hitAtEnd = Verdict{}
		if plan.ObstacleHitAtEnd {
			c.hitAtEnd = plan.Blocker
		}
		c.motion = NewMotion(plan.Waypoints, c.moveSet.Profile())
		c.phase = phaseForwardMove
		c.setState(StateMoving)
		c.debugf("starting movement over %d tiles", plan.Steps())
		return true
	}
	c.beginReversal()
	return true
}

func (c *Controller) stepForwardMove(dt *float64) bool {
	if *dt <= 0 {
		return false
	}
	pos, st := c.motion.Step(*dt, c.validator().Check)
	*dt = 0
	c.setPos(pos)

	switch st {
	case MotionRunning:
		return false
	case MotionDone:
		c.setPos(c.space.Snap(c.pos))
		c.cursor += len(c.moving)
		c.run.steps += len(c.moving)
		c.motion = nil
		c.phase = phaseForward
		c.setState(StateExecutingCommands)
		c.debugf("movement completed at %v", c.pos)
		if !c.hitAtEnd.OK() {
			c.debugf("obstacle after continuous movement, reversing")
			c.emitCollision(c.hitAtEnd)
			c.beginReversal()
		}
		return true
	}

	done := c.motion.CompletedSegments()
	blocker := c.motion.Obstruction()
	c.history = c.history[:len(c.history)-(len(c.moving)-done)]
	c.cursor += done
	c.run.steps += done
	c.motion = nil
	c.setPos(c.space.Snap(c.pos))
	c.debugf("obstacle during movement at %v after %d steps: %s", c.pos, done, blocker)
	c.emitCollision(blocker)
	if len(c.history) == 0 && within(c.pos, c.start, ReturnTolerance) {
		c.abort()
		return false
	}
	c.beginReversal()
	return true
}

func (c *Controller) stepWait(dt *float64) bool {
	if c.waitLeft > 0 {
		if *dt <= 0 {
			return false
		}
		c.waitLeft -= *dt
		*dt = 0
		if c.waitLeft > 0 {
			return false
		}
	}
	if c.phase == phaseForwardWait {
		c.cursor++
		c.phase = phaseForward
		c.setState(StateExecutingCommands)
	} else {
		c.consumeReverse(1)
		c.phase = phaseReverse
		c.setState(StateReversing)
	}
	c.debugf("wait completed")
	return true
}

func (c *Controller) waitFor(slot int) float64 {
	if d, ok := c.waits[slot]; ok {
		return d
	}
	return c.cfg.WaitTime
}

func (c *Controller) abort() {
	c.phase = phaseNone
	c.motion = nil
	c.playing = false
	c.setState(StateIdle)
	c.finish(OutcomeAborted, Verdict{})
}

func (c *Controller) finish(outcome Outcome, fault Verdict) {
	sum := RunSummary{
		Run:        c.run.id,
		Outcome:    outcome,
		Steps:      c.run.steps,
		Collisions: c.run.collisions,
		Start:      c.start,
		End:        c.pos,
		Fault:      fault,
	}
	for _, fn := range c.ev.runFinished {
		fn(sum)
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	for _, fn := range c.ev.stateChanged {
		fn(s)
	}
}

func (c *Controller) setPos(p mgl64.Vec3) {
	if c.pos == p {
		return
	}
	c.pos = p
	for _, fn := range c.ev.moved {
		fn(p)
	}
}

// SetSpecificCommand replaces one queue slot. A running sequence keeps the
// queue it started with.
func (c *Controller) SetSpecificCommand(index int, cmd Command) error {
	if index < 0 || index >= len(c.cfg.Commands) || !cmd.Valid() {
		c.log.Printf("error: %v (index=%d len=%d)", ErrInvalidIndex, index, len(c.cfg.Commands))
		return ErrInvalidIndex
	}
	c.cfg.Commands[index] = cmd
	return nil
}

// IncreaseCommand cycles a slot to the next command value.
func (c *Controller) IncreaseCommand(index int) error {
	if index < 0 || index >= len(c.cfg.Commands) {
		c.log.Printf("warning: invalid slot index %d", index)
		return ErrInvalidIndex
	}
	return c.SetSpecificCommand(index, c.cfg.Commands[index].Next())
}

// DecreaseCommand cycles a slot to the previous command value.
func (c *Controller) DecreaseCommand(index int) error {
	if index < 0 || index >= len(c.cfg.Commands) {
		c.log.Printf("warning: invalid slot index %d", index)
		return ErrInvalidIndex
	}
	return c.SetSpecificCommand(index, c.cfg.Commands[index].Prev())
}

func (c *Controller) SetCommands(cmds []Command) {
	c.cfg.Commands = append([]Command(nil), cmds...)
}

// SetSlotCount resizes the queue, keeping existing slots and filling new ones
// with Idle.
func (c *Controller) SetSlotCount(n int) {
	if n < 0 {
		n = 0
	}
	if n <= len(c.cfg.Commands) {
		c.cfg.Commands = c.cfg.Commands[:n]
		return
	}
	c.cfg.Commands = append(c.cfg.Commands, make([]Command, n-len(c.cfg.Commands))...)
}

// SetWaitDuration overrides the pause of the Wait in one slot.
func (c *Controller) SetWaitDuration(index int, seconds float64) error {
	if index < 0 {
		c.SetGlobalWaitDuration(seconds)
		return nil
	}
	if index >= len(c.cfg.Commands) {
		c.log.Printf("error: %v (wait slot %d)", ErrInvalidIndex, index)
		return ErrInvalidIndex
	}
	c.waits[index] = max(seconds, 0)
	return nil
}

func (c *Controller) SetGlobalWaitDuration(seconds float64) {
	c.cfg.WaitTime = max(seconds, 0)
}

// WaitDurations returns a copy of the per-slot overrides.
func (c *Controller) WaitDurations() map[int]float64 {
	out := make(map[int]float64, len(c.waits))
	for k, v := range c.waits {
		out[k] = v
	}
	return out
}

func (c *Controller) Settings() *SettingsBinding { return &c.settings }

func (c *Controller) SetDebug(on bool) { c.debug = on }

func (c *Controller) ID() string                 { return c.id }
func (c *Controller) Config() Config             { return c.cfg.clone() }
func (c *Controller) Space() grid.Space          { return c.space }
func (c *Controller) Index() *occupancy.Index    { return c.index }
func (c *Controller) State() State               { return c.state }
func (c *Controller) IsPlaying() bool            { return c.playing }
func (c *Controller) CurrentCommandIndex() int   { return c.cursor }
func (c *Controller) LocalPosition() mgl64.Vec3  { return c.pos }
func (c *Controller) WorldPosition() mgl64.Vec3  { return c.space.ToWorld(c.pos) }
func (c *Controller) Cell() grid.Cell            { return c.space.ToCell(c.WorldPosition()) }
func (c *Controller) RunStart() mgl64.Vec3       { return c.start }
func (c *Controller) Commands() []Command        { return append([]Command(nil), c.cfg.Commands...) }

// History returns the executed commands in the order they were performed.
func (c *Controller) History() []HistoryEntry {
	return append([]HistoryEntry(nil), c.history...)
}

// Runs is the number of runs started so far.
func (c *Controller) Runs() uint64 { return c.runs }

// RestoreRuns sets the run counter when resuming from a snapshot.
func (c *Controller) RestoreRuns(n uint64) { c.runs = n }

// RestoreRest places an idle platform at a local position, snapped to the
// grid. It is used when resuming from a snapshot.
func (c *Controller) RestoreRest(local mgl64.Vec3) error {
	if c.playing {
		return ErrAlreadyPlaying
	}
	if !c.configured {
		return ErrInvalidConfig
	}
	c.setPos(c.space.Snap(local))
	return nil
}
