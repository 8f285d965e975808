package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Platform routing/state.
	ErrNotFound = "E_NOT_FOUND"
	ErrBusy     = "E_BUSY"

	// Command layer.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrEmptyQueue     = "E_EMPTY_QUEUE"
	ErrInvalidIndex   = "E_INVALID_INDEX"
	ErrAlreadyPlaying = "E_ALREADY_PLAYING"
	ErrInvalidConfig  = "E_INVALID_CONFIG"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrNotFound:        {},
	ErrBusy:            {},
	ErrBadRequest:      {},
	ErrEmptyQueue:      {},
	ErrInvalidIndex:    {},
	ErrAlreadyPlaying:  {},
	ErrInvalidConfig:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
