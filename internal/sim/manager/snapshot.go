package manager

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"puzzleplatform.ai/internal/persistence/snapshot"
	"puzzleplatform.ai/internal/sim/encoding"
	"puzzleplatform.ai/internal/sim/grid"
)

// ExportSnapshot captures queues, wait times and rest positions. A platform
// in the middle of a run is exported at its run start, so a resumed
// platform is always at rest.
func (m *Manager) ExportSnapshot(tick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: snapshot.Version, Scenario: m.name, Tick: tick},
		TickRate: m.scn.TickRateHz,
	}
	for _, id := range m.ids {
		c := m.platforms[id].ctl
		rest := c.LocalPosition()
		if c.IsPlaying() {
			rest = c.RunStart()
		}
		snap.Platforms = append(snap.Platforms, snapshot.PlatformV1{
			ID:       id,
			Commands: encoding.EncodeCommands(c.Commands()),
			WaitTime: c.Config().WaitTime,
			Waits:    c.WaitDurations(),
			Rest:     [3]float64{rest[0], rest[1], rest[2]},
			Runs:     c.Runs(),
		})
	}
	for _, b := range m.boxes {
		snap.Boxes = append(snap.Boxes, snapshot.BoxV1{
			ID:  b.id,
			Min: [3]float64{b.bounds.Min[0], b.bounds.Min[1], b.bounds.Min[2]},
			Max: [3]float64{b.bounds.Max[0], b.bounds.Max[1], b.bounds.Max[2]},
		})
	}
	for _, o := range m.cells {
		cs := o.OccupiedCells()
		out := make([][3]int, len(cs))
		for i, c := range cs {
			out[i] = [3]int{c.X, c.Y, c.Z}
		}
		snap.Cells = append(snap.Cells, snapshot.CellsV1{ID: o.ID, Cells: out})
	}
	return snap
}

// ImportSnapshot restores a snapshot onto a manager built from the same
// scenario. Platforms and obstacles missing from the scenario are skipped.
// Call it before Run.
func (m *Manager) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.TickRate != 0 && snap.TickRate != m.scn.TickRateHz {
		m.log.Printf("snapshot tick rate %d differs from scenario %d", snap.TickRate, m.scn.TickRateHz)
	}
	for _, p := range snap.Platforms {
		e, ok := m.platforms[p.ID]
		if !ok {
			m.log.Printf("snapshot: skipping unknown platform %s", p.ID)
			continue
		}
		cmds, err := encoding.DecodeCommands(p.Commands)
		if err != nil {
			return fmt.Errorf("snapshot platform %s: %w", p.ID, err)
		}
		c := e.ctl
		c.Stop()
		c.SetCommands(cmds)
		c.SetGlobalWaitDuration(p.WaitTime)
		for slot, secs := range p.Waits {
			if err := c.SetWaitDuration(slot, secs); err != nil {
				return fmt.Errorf("snapshot platform %s wait slot %d: %w", p.ID, slot, err)
			}
		}
		if err := c.RestoreRest(mgl64.Vec3{p.Rest[0], p.Rest[1], p.Rest[2]}); err != nil {
			return fmt.Errorf("snapshot platform %s: %w", p.ID, err)
		}
		c.RestoreRuns(p.Runs)
		if e.autoStart {
			c.StartCommandSequence()
		}
	}

	boxes := map[string]*boxSource{}
	for _, b := range m.boxes {
		boxes[b.id] = b
	}
	for _, sb := range snap.Boxes {
		b, ok := boxes[sb.ID]
		if !ok {
			m.log.Printf("snapshot: skipping unknown box %s", sb.ID)
			continue
		}
		b.bounds = grid.NewBounds(mgl64.Vec3(sb.Min), mgl64.Vec3(sb.Max))
		for i, src := range b.perGrid {
			src.SetBounds(b.bounds)
			m.indexes[b.gridKeys[i]].Update(src)
		}
	}

	for _, sc := range snap.Cells {
		var found bool
		for _, o := range m.cells {
			if o.ID != sc.ID {
				continue
			}
			found = true
			want := map[grid.Cell]bool{}
			for _, c := range sc.Cells {
				want[grid.Cell{X: c[0], Y: c[1], Z: c[2]}] = true
			}
			for _, c := range o.OccupiedCells() {
				if !want[c] {
					o.Remove(c)
				}
			}
			for c := range want {
				o.Add(c)
			}
		}
		if !found {
			m.log.Printf("snapshot: skipping unknown cell obstacle %s", sc.ID)
		}
	}

	m.tick.Store(snap.Header.Tick + 1)
	m.curTick = snap.Header.Tick + 1
	m.pending = m.pending[:0]
	m.publishStatus()
	return nil
}
