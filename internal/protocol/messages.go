package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// Platforms limits pushed events to these platform ids. Empty means all.
	Platforms []string `json:"platforms,omitempty"`
	// StatusEveryTicks asks for a STATUS push every N ticks. 0 uses the
	// server default.
	StatusEveryTicks int `json:"status_every_ticks,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	TickRateHz      int            `json:"tick_rate_hz"`
	Platforms       []PlatformInfo `json:"platforms"`
}

type PlatformInfo struct {
	ID       string     `json:"id"`
	CellSize [3]float64 `json:"cell_size"`
	Origin   [3]float64 `json:"origin"`
	AreaMin  [3]float64 `json:"area_min"`
	AreaMax  [3]float64 `json:"area_max"`
	Slots    int        `json:"slots"`
}

// Control operations.
const (
	OpExecute       = "EXECUTE"
	OpStartSequence = "START_SEQUENCE"
	OpStop          = "STOP"
	OpSetCommand    = "SET_COMMAND"
	OpSetCommands   = "SET_COMMANDS"
	OpCycle         = "CYCLE"
	OpSetWait       = "SET_WAIT"
	OpSetSlots      = "SET_SLOTS"
	OpStartAll      = "START_ALL"
	// OpInitCommands resets every queue slot to IDLE.
	OpInitCommands  = "INITIALIZE_COMMANDS"
)

// CONTROL (client -> server)
type ControlMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ReqID           string   `json:"req_id"`
	Op              string   `json:"op"`
	Platform        string   `json:"platform,omitempty"`
	Index           *int     `json:"index,omitempty"`
	Command         string   `json:"command,omitempty"`
	Commands        []string `json:"commands,omitempty"`
	// Delta is +1 or -1 for CYCLE.
	Delta   int      `json:"delta,omitempty"`
	Seconds *float64 `json:"seconds,omitempty"`
	Count   int      `json:"count,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}
