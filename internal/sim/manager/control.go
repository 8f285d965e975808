package manager

import (
	"context"
	"errors"
	"fmt"

	"puzzleplatform.ai/internal/protocol"
	"puzzleplatform.ai/internal/sim/platform"
	"puzzleplatform.ai/internal/sim/tuning"
)

type controlReq struct {
	Msg  protocol.ControlMsg
	Resp chan protocol.AckMsg
}

// Control queues a control message for the next tick and waits for its ACK.
// It is safe to call from other goroutines (e.g. websocket handlers).
func (m *Manager) Control(ctx context.Context, msg protocol.ControlMsg) (protocol.AckMsg, error) {
	resp := make(chan protocol.AckMsg, 1)
	select {
	case m.inbox <- controlReq{Msg: msg, Resp: resp}:
	case <-m.stop:
		return protocol.AckMsg{}, ErrStopped
	case <-ctx.Done():
		return protocol.AckMsg{}, ctx.Err()
	}
	select {
	case ack := <-resp:
		return ack, nil
	case <-m.stop:
		return protocol.AckMsg{}, ErrStopped
	case <-ctx.Done():
		return protocol.AckMsg{}, ctx.Err()
	}
}

func (m *Manager) ack(msg protocol.ControlMsg, err error) protocol.AckMsg {
	a := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          msg.ReqID,
		Accepted:        err == nil,
		ServerTick:      m.curTick,
	}
	if err != nil {
		a.Code = ErrorCode(err)
		a.Message = err.Error()
	}
	return a
}

// ErrorCode maps manager and platform errors to protocol error codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownPlatform):
		return protocol.ErrNotFound
	case errors.Is(err, ErrStopped):
		return protocol.ErrBusy
	case errors.Is(err, platform.ErrEmptyQueue):
		return protocol.ErrEmptyQueue
	case errors.Is(err, platform.ErrInvalidIndex):
		return protocol.ErrInvalidIndex
	case errors.Is(err, platform.ErrAlreadyPlaying):
		return protocol.ErrAlreadyPlaying
	case errors.Is(err, platform.ErrInvalidConfig):
		return protocol.ErrInvalidConfig
	case errors.Is(err, ErrBadRequest):
		return protocol.ErrBadRequest
	}
	return protocol.ErrInternal
}

func (m *Manager) lookup(id string) (*platform.Controller, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: platform is required", ErrBadRequest)
	}
	e, ok := m.platforms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, id)
	}
	return e.ctl, nil
}

func needIndex(msg protocol.ControlMsg) (int, error) {
	if msg.Index == nil {
		return 0, fmt.Errorf("%w: %s needs index", ErrBadRequest, msg.Op)
	}
	return *msg.Index, nil
}

// apply runs one control on the loop goroutine.
func (m *Manager) apply(msg protocol.ControlMsg) error {
	switch msg.Op {
	case protocol.OpStartAll:
		m.StartAll()
		return nil
	case protocol.OpInitCommands:
		if msg.Platform == "" {
			m.InitializeCommands()
			return nil
		}
		ctl, err := m.lookup(msg.Platform)
		if err != nil {
			return err
		}
		resetQueue(ctl)
		return nil
	}

	ctl, err := m.lookup(msg.Platform)
	if err != nil {
		return err
	}
	switch msg.Op {
	case protocol.OpExecute:
		return ctl.ExecuteCommands()
	case protocol.OpStartSequence:
		ctl.StartCommandSequence()
		return nil
	case protocol.OpStop:
		ctl.Stop()
		return nil
	case protocol.OpSetCommand:
		idx, err := needIndex(msg)
		if err != nil {
			return err
		}
		cmd, err := platform.ParseCommand(msg.Command)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		return ctl.SetSpecificCommand(idx, cmd)
	case protocol.OpSetCommands:
		if len(msg.Commands) > tuning.MaxPlatformCommands {
			return fmt.Errorf("%w: %d commands exceeds %d", ErrBadRequest, len(msg.Commands), tuning.MaxPlatformCommands)
		}
		cmds, err := platform.ParseCommands(msg.Commands)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		ctl.SetCommands(cmds)
		return nil
	case protocol.OpCycle:
		idx, err := needIndex(msg)
		if err != nil {
			return err
		}
		switch msg.Delta {
		case 1:
			return ctl.IncreaseCommand(idx)
		case -1:
			return ctl.DecreaseCommand(idx)
		}
		return fmt.Errorf("%w: delta must be 1 or -1", ErrBadRequest)
	case protocol.OpSetWait:
		if msg.Seconds == nil || *msg.Seconds < 0 {
			return fmt.Errorf("%w: seconds must be >= 0", ErrBadRequest)
		}
		if msg.Index == nil {
			ctl.SetGlobalWaitDuration(*msg.Seconds)
			return nil
		}
		if *msg.Index < 0 {
			return platform.ErrInvalidIndex
		}
		return ctl.SetWaitDuration(*msg.Index, *msg.Seconds)
	case protocol.OpSetSlots:
		if msg.Count < 0 || msg.Count > tuning.MaxPlatformCommands {
			return fmt.Errorf("%w: count out of range", ErrBadRequest)
		}
		ctl.SetSlotCount(msg.Count)
		return nil
	}
	return fmt.Errorf("%w: unknown op %q", ErrBadRequest, msg.Op)
}

// StartAll restarts every platform's sequence, in tick order.
func (m *Manager) StartAll() {
	for _, id := range m.ids {
		m.platforms[id].ctl.StartCommandSequence()
	}
}

// InitializeCommands resets every queue to Idle, keeping its slot count.
func (m *Manager) InitializeCommands() {
	for _, id := range m.ids {
		resetQueue(m.platforms[id].ctl)
	}
}

func resetQueue(ctl *platform.Controller) {
	cmds := make([]platform.Command, len(ctl.Commands()))
	for i := range cmds {
		cmds[i] = platform.Idle
	}
	ctl.SetCommands(cmds)
}
