package manager

import (
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/protocol"
	"puzzleplatform.ai/internal/sim/encoding"
	"puzzleplatform.ai/internal/sim/grid"
	"puzzleplatform.ai/internal/sim/platform"
)

func vec(v mgl64.Vec3) *[3]float64 {
	out := [3]float64{v[0], v[1], v[2]}
	return &out
}

func cellRef(c grid.Cell) *[3]int {
	out := [3]int{c.X, c.Y, c.Z}
	return &out
}

// wire turns controller callbacks into protocol events stamped with the
// current tick. Callbacks run on the loop goroutine.
func (m *Manager) wire(id string, e *entry) {
	c := e.ctl
	emit := func(ev protocol.Event) {
		ev.Tick = m.curTick
		ev.Platform = id
		m.pending = append(m.pending, ev)
	}
	c.OnStateChanged(func(s platform.State) {
		emit(protocol.Event{Kind: protocol.EventStateChanged, State: s.String(), Pos: vec(c.LocalPosition())})
	})
	c.OnObstacleCollision(func(cell grid.Cell) {
		emit(protocol.Event{Kind: protocol.EventCollision, Cell: cellRef(cell), Pos: vec(c.LocalPosition())})
	})
	c.OnReverseStart(func() {
		emit(protocol.Event{Kind: protocol.EventReverseStart, Pos: vec(c.LocalPosition()), Steps: len(c.History())})
	})
	c.OnReverseComplete(func() {
		emit(protocol.Event{Kind: protocol.EventReverseComplete, Pos: vec(c.LocalPosition())})
	})
	c.OnFault(func(v platform.Verdict) {
		ev := protocol.Event{Kind: protocol.EventFault, Reason: v.Reason.String(), Pos: vec(c.LocalPosition())}
		if v.Reason == platform.ReasonOccupied {
			ev.Cell = cellRef(v.Cell)
		}
		emit(ev)
	})
	c.OnRunStarted(func(run uint64) {
		e.startTick = m.curTick
		e.commands = encoding.FormatCommands(c.Commands())
		emit(protocol.Event{Kind: protocol.EventRunStarted, Run: run, Start: vec(c.RunStart())})
	})
	c.OnRunFinished(func(s platform.RunSummary) {
		emit(protocol.Event{
			Kind:       protocol.EventRunFinished,
			Run:        s.Run,
			Outcome:    string(s.Outcome),
			Steps:      s.Steps,
			Collisions: s.Collisions,
			Start:      vec(s.Start),
			End:        vec(s.End),
		})
		if m.runRecorder == nil {
			return
		}
		rec := RunRecord{
			Platform:   id,
			Run:        s.Run,
			StartTick:  e.startTick,
			EndTick:    m.curTick,
			Outcome:    string(s.Outcome),
			Steps:      s.Steps,
			Collisions: s.Collisions,
			Start:      *vec(s.Start),
			End:        *vec(s.End),
			Commands:   e.commands,
		}
		if !s.Fault.OK() {
			rec.Fault = s.Fault.String()
		}
		m.runRecorder.RecordRun(rec)
	})
}

// Subscriber receives pushed events and status. Events are dropped when
// the buffer is full; clients catch up with EventsSince.
type Subscriber struct {
	ID     uint64
	Events chan protocol.EventMsg
	Status chan protocol.StatusMsg

	platforms   map[string]bool
	statusEvery int
	dropped     atomic.Uint64
}

func (s *Subscriber) wants(platformID string) bool {
	return len(s.platforms) == 0 || s.platforms[platformID]
}

// Dropped reports how many events did not fit the subscriber buffer.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

type SubscribeRequest struct {
	Platforms        []string
	StatusEveryTicks int
	Buffer           int
}

// eventFeed keeps a ring of recent events addressed by a monotonically
// increasing cursor, and fans new events out to subscribers.
type eventFeed struct {
	mu     sync.Mutex
	ring   []protocol.Event
	next   uint64
	subs   map[uint64]*Subscriber
	nextID uint64
}

func newEventFeed(size int) *eventFeed {
	if size <= 0 {
		size = 1
	}
	return &eventFeed{ring: make([]protocol.Event, size), subs: map[uint64]*Subscriber{}}
}

func (f *eventFeed) publish(events []protocol.Event) {
	if len(events) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		cursor := f.next
		f.ring[cursor%uint64(len(f.ring))] = ev
		f.next++
		msg := protocol.EventMsg{Type: protocol.TypeEvent, ProtocolVersion: protocol.Version, Cursor: cursor, Event: ev}
		for _, s := range f.subs {
			if !s.wants(ev.Platform) {
				continue
			}
			select {
			case s.Events <- msg:
			default:
				s.dropped.Add(1)
			}
		}
	}
}

func (f *eventFeed) pushStatus(tick uint64, st protocol.StatusMsg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.statusEvery <= 0 || tick%uint64(s.statusEvery) != 0 {
			continue
		}
		sendLatest(s.Status, st)
	}
}

func sendLatest(ch chan protocol.StatusMsg, st protocol.StatusMsg) {
	select {
	case ch <- st:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}

// since returns events with cursor >= from, oldest first. Events that fell
// out of the ring are skipped.
func (f *eventFeed) since(from uint64, limit int, platformID string) ([]protocol.EventBatchItem, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size := uint64(len(f.ring))
	oldest := uint64(0)
	if f.next > size {
		oldest = f.next - size
	}
	if from < oldest {
		from = oldest
	}
	if limit <= 0 {
		limit = 256
	}
	var out []protocol.EventBatchItem
	cur := from
	for ; cur < f.next && len(out) < limit; cur++ {
		ev := f.ring[cur%size]
		if platformID != "" && ev.Platform != platformID {
			continue
		}
		out = append(out, protocol.EventBatchItem{Cursor: cur, Event: ev})
	}
	return out, cur
}

// Subscribe registers a push subscriber. A zero StatusEveryTicks uses the
// scenario default. Call Unsubscribe when done.
func (m *Manager) Subscribe(req SubscribeRequest) *Subscriber {
	buf := req.Buffer
	if buf <= 0 {
		buf = 256
	}
	every := req.StatusEveryTicks
	if every <= 0 {
		every = m.scn.StatusEveryTicks
	}
	s := &Subscriber{
		Events:      make(chan protocol.EventMsg, buf),
		Status:      make(chan protocol.StatusMsg, 1),
		statusEvery: every,
	}
	if len(req.Platforms) > 0 {
		s.platforms = map[string]bool{}
		for _, id := range req.Platforms {
			s.platforms[id] = true
		}
	}
	m.feed.mu.Lock()
	m.feed.nextID++
	s.ID = m.feed.nextID
	m.feed.subs[s.ID] = s
	m.feed.mu.Unlock()
	return s
}

func (m *Manager) Unsubscribe(id uint64) {
	m.feed.mu.Lock()
	delete(m.feed.subs, id)
	m.feed.mu.Unlock()
}

// EventsSince serves EVENT_BATCH requests from the ring of recent events.
func (m *Manager) EventsSince(cursor uint64, limit int, platformID string) ([]protocol.EventBatchItem, uint64) {
	return m.feed.since(cursor, limit, platformID)
}
