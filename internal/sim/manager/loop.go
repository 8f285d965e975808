package manager

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"puzzleplatform.ai/internal/protocol"
)

// Run drives every platform at the scenario tick rate until ctx is done or
// Stop is called. Controls received between ticks are applied at the start
// of the next tick, in arrival order.
func (m *Manager) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(m.scn.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingControls []controlReq
	var pendingSnaps []snapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case req := <-m.inbox:
			pendingControls = append(pendingControls, req)
		case req := <-m.snapReq:
			pendingSnaps = append(pendingSnaps, req)
		case <-ticker.C:
			m.step(pendingControls)
			m.handleSnapshotRequests(pendingSnaps)
			pendingControls = pendingControls[:0]
			pendingSnaps = pendingSnaps[:0]
		}
	}
}

func (m *Manager) Stop() { m.stopOnce.Do(func() { close(m.stop) }) }

// StepOnce advances a single tick with the same ordering as Run. It is meant
// for deterministic replays and tests and must not be mixed with Run.
func (m *Manager) StepOnce(controls []protocol.ControlMsg) (tick uint64, digest string) {
	reqs := make([]controlReq, len(controls))
	for i, c := range controls {
		reqs[i] = controlReq{Msg: c}
	}
	return m.step(reqs)
}

func (m *Manager) step(reqs []controlReq) (uint64, string) {
	tick := m.tick.Load()
	m.curTick = tick
	m.pending = m.pending[:0]

	var applied []protocol.ControlMsg
	for _, r := range reqs {
		err := m.apply(r.Msg)
		if err != nil {
			m.log.Printf("tick %d control %s %s rejected: %v", tick, r.Msg.Op, r.Msg.Platform, err)
		}
		applied = append(applied, r.Msg)
		if r.Resp != nil {
			select {
			case r.Resp <- m.ack(r.Msg, err):
			default:
			}
		}
	}

	m.advanceBoxes(m.dt)
	for _, key := range m.indexKeys {
		m.indexes[key].Refresh()
	}
	for _, id := range m.ids {
		m.platforms[id].ctl.Advance(m.dt)
	}

	events := append([]protocol.Event(nil), m.pending...)
	digest := m.stateDigest(tick)
	if m.tickLogger != nil {
		if err := m.tickLogger.WriteTick(TickLogEntry{Tick: tick, Controls: applied, Events: events, Digest: digest}); err != nil {
			m.log.Printf("tick log: %v", err)
		}
	}
	m.tick.Store(tick + 1)

	m.feed.publish(events)
	m.publishStatus()
	m.feed.pushStatus(tick, m.Status())

	if every := m.scn.SnapshotEveryTicks; every > 0 && tick > 0 && tick%uint64(every) == 0 {
		m.snapPending = true
	}
	if m.snapPending && m.allIdle() {
		if m.sendSnapshot(tick) == nil {
			m.snapPending = false
		}
	}
	return tick, digest
}

func (m *Manager) allIdle() bool {
	for _, id := range m.ids {
		if m.platforms[id].ctl.IsPlaying() {
			return false
		}
	}
	return true
}

type snapshotReq struct {
	Resp chan snapshotResp
}

type snapshotResp struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the loop goroutine to export a snapshot to the sink.
// Platforms that are mid-run are exported at their run start.
func (m *Manager) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan snapshotResp, 1)
	select {
	case m.snapReq <- snapshotReq{Resp: resp}:
	case <-m.stop:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (m *Manager) handleSnapshotRequests(reqs []snapshotReq) {
	if len(reqs) == 0 {
		return
	}
	cur := m.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}
	errStr := ""
	if err := m.sendSnapshot(snapTick); err != nil {
		errStr = err.Error()
	}
	resp := snapshotResp{Tick: snapTick, Err: errStr}
	for _, r := range reqs {
		select {
		case r.Resp <- resp:
		default:
			// Caller gave up; don't block the loop.
		}
	}
}

func (m *Manager) sendSnapshot(tick uint64) error {
	if m.snapshotSink == nil {
		return errors.New("snapshot sink not configured")
	}
	select {
	case m.snapshotSink <- m.ExportSnapshot(tick):
		return nil
	default:
		return errors.New("snapshot sink backpressure")
	}
}

// stateDigest hashes everything that replay must reproduce: platform state,
// position, cursor and history, plus obstacle placement.
func (m *Manager) stateDigest(tick uint64) string {
	h := sha256.New()
	var tmp [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	writeF64 := func(v float64) { writeU64(math.Float64bits(v)) }

	writeU64(tick)
	for _, id := range m.ids {
		c := m.platforms[id].ctl
		h.Write([]byte(id))
		h.Write([]byte{byte(c.State()), boolByte(c.IsPlaying())})
		writeU64(uint64(int64(c.CurrentCommandIndex())))
		pos := c.LocalPosition()
		for i := 0; i < 3; i++ {
			writeF64(pos[i])
		}
		hist := c.History()
		writeU64(uint64(len(hist)))
		for _, e := range hist {
			h.Write([]byte{byte(e.Command)})
			writeU64(uint64(e.Slot))
		}
		for _, cmd := range c.Commands() {
			h.Write([]byte{byte(cmd)})
		}
	}
	for _, b := range m.boxes {
		h.Write([]byte(b.id))
		for i := 0; i < 3; i++ {
			writeF64(b.bounds.Min[i])
			writeF64(b.bounds.Max[i])
		}
	}
	for _, o := range m.cells {
		h.Write([]byte(o.ID))
		for _, c := range o.OccupiedCells() {
			writeU64(uint64(int64(c.X)))
			writeU64(uint64(int64(c.Y)))
			writeU64(uint64(int64(c.Z)))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
