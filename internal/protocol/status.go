package protocol

// STATUS (server -> client)
type StatusMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Tick            uint64           `json:"tick"`
	Platforms       []PlatformStatus `json:"platforms"`
}

type PlatformStatus struct {
	ID       string     `json:"id"`
	State    string     `json:"state"`
	Playing  bool       `json:"playing"`
	Cursor   int        `json:"cursor"`
	Pos      [3]float64 `json:"pos"`
	Cell     [3]int     `json:"cell"`
	Commands []string   `json:"commands"`
	History  int        `json:"history"`
	Run      uint64     `json:"run"`
}

// Event kinds.
const (
	EventStateChanged    = "STATE_CHANGED"
	EventCollision       = "OBSTACLE_COLLISION"
	EventReverseStart    = "REVERSE_START"
	EventReverseComplete = "REVERSE_COMPLETE"
	EventFault           = "SEQUENCE_FAULT"
	EventRunStarted      = "RUN_STARTED"
	EventRunFinished     = "RUN_FINISHED"
)

// Event is one platform notification, stamped with the tick it happened in.
type Event struct {
	Tick     uint64 `json:"tick"`
	Platform string `json:"platform"`
	Kind     string `json:"kind"`

	State   string      `json:"state,omitempty"`
	Cell    *[3]int     `json:"cell,omitempty"`
	Pos     *[3]float64 `json:"pos,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Run     uint64      `json:"run,omitempty"`
	Outcome string      `json:"outcome,omitempty"`
	Steps   int         `json:"steps,omitempty"`
	// Start and End are local positions of a finished run.
	Start      *[3]float64 `json:"start,omitempty"`
	End        *[3]float64 `json:"end,omitempty"`
	Collisions int         `json:"collisions,omitempty"`
}

// EVENT (server -> client)
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Cursor          uint64 `json:"cursor"`
	Event           Event  `json:"event"`
}
