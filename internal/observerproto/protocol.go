package observerproto

import "puzzleplatform.ai/internal/protocol"

// Version is the observer protocol version (separate from the control WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Platforms limits frames to these ids. Empty means all.
	Platforms []string `json:"platforms,omitempty"`
	// FrameEveryTicks sets the frame cadence.
	FrameEveryTicks int `json:"frame_every_ticks"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string                  `json:"protocol_version"`
	Scenario        string                  `json:"scenario"`
	Tick            uint64                  `json:"tick"`
	TickRateHz      int                     `json:"tick_rate_hz"`
	Platforms       []protocol.PlatformInfo `json:"platforms"`
}

// Server -> Client. Sent every FrameEveryTicks ticks.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Platforms []PlatformFrame `json:"platforms"`
	// Events collected since the previous frame.
	Events []protocol.Event `json:"events,omitempty"`
}

// PlatformFrame is one platform placed in world space for rendering.
type PlatformFrame struct {
	ID      string     `json:"id"`
	State   string     `json:"state"`
	Playing bool       `json:"playing"`
	Cursor  int        `json:"cursor"`
	World   [3]float64 `json:"world"`
	Size    [3]float64 `json:"size"`
}
