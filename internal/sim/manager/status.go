package manager

import "puzzleplatform.ai/internal/protocol"

func (m *Manager) publishStatus() {
	st := protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		Tick:            m.tick.Load(),
		Platforms:       make([]protocol.PlatformStatus, 0, len(m.ids)),
	}
	for _, id := range m.ids {
		c := m.platforms[id].ctl
		pos := c.LocalPosition()
		cell := c.Cell()
		cmds := c.Commands()
		names := make([]string, len(cmds))
		for i, cmd := range cmds {
			names[i] = cmd.String()
		}
		st.Platforms = append(st.Platforms, protocol.PlatformStatus{
			ID:       id,
			State:    c.State().String(),
			Playing:  c.IsPlaying(),
			Cursor:   c.CurrentCommandIndex(),
			Pos:      [3]float64{pos[0], pos[1], pos[2]},
			Cell:     [3]int{cell.X, cell.Y, cell.Z},
			Commands: names,
			History:  len(c.History()),
			Run:      c.Runs(),
		})
	}
	m.statusMu.Lock()
	m.status = st
	m.statusMu.Unlock()
}

// Status returns the most recently published status. Safe for concurrent use.
func (m *Manager) Status() protocol.StatusMsg {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	st := m.status
	st.Platforms = append([]protocol.PlatformStatus(nil), m.status.Platforms...)
	return st
}

// PlatformInfos describes the static layout of each platform for WELCOME.
// The layout does not change after New, so it is safe to call concurrently
// with Run.
func (m *Manager) PlatformInfos() []protocol.PlatformInfo {
	out := make([]protocol.PlatformInfo, 0, len(m.infos))
	return append(out, m.infos...)
}
