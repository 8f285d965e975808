package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"puzzleplatform.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	roundTrip := func(v any) any {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	controlSchema := compile("control.schema.json")
	eventSchema := compile("event.schema.json")
	statusSchema := compile("status.schema.json")

	var control any
	_ = json.Unmarshal([]byte(`{
	  "type":"CONTROL",
	  "protocol_version":"1.0",
	  "req_id":"R1",
	  "op":"SET_COMMAND",
	  "platform":"P1",
	  "index":2,
	  "command":"RIGHT"
	}`), &control)
	validate(controlSchema, control)

	idx := 0
	secs := 0.5
	validate(controlSchema, roundTrip(protocol.ControlMsg{
		Type:            protocol.TypeControl,
		ProtocolVersion: protocol.Version,
		ReqID:           "R2",
		Op:              protocol.OpSetWait,
		Platform:        "P1",
		Index:           &idx,
		Seconds:         &secs,
	}))

	cell := [3]int{1, 0, 0}
	validate(eventSchema, roundTrip(protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Cursor:          7,
		Event:           protocol.Event{Tick: 3, Platform: "P1", Kind: protocol.EventCollision, Cell: &cell},
	}))

	validate(statusSchema, roundTrip(protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		Tick:            9,
		Platforms: []protocol.PlatformStatus{{
			ID:       "P1",
			State:    "MOVING",
			Playing:  true,
			Cursor:   1,
			Pos:      [3]float64{0.5, 0, 0},
			Cell:     [3]int{1, 0, 0},
			Commands: []string{"RIGHT", "WAIT"},
		}},
	}))

	var bad any
	_ = json.Unmarshal([]byte(`{"type":"CONTROL","protocol_version":"1.0","req_id":"R3","op":"JUMP"}`), &bad)
	if err := controlSchema.Validate(bad); err == nil {
		t.Fatalf("expected unknown op rejected")
	}
}
