package encoding

import (
	"testing"

	"puzzleplatform.ai/internal/sim/platform"
)

func TestCommandRLE_RoundTrip(t *testing.T) {
	in := []platform.Command{platform.Right, platform.Right, platform.Right, platform.Wait, platform.Up}
	for i := 0; i < 50; i++ {
		in = append(in, platform.Forward)
	}
	in = append(in, platform.Idle, platform.Left, platform.Left)

	enc := EncodeCommands(in)
	out, err := DecodeCommands(enc)
	if err != nil {
		t.Fatalf("DecodeCommands: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %s want %s", i, out[i], in[i])
		}
	}
}

func TestCommandRLE_Empty(t *testing.T) {
	out, err := DecodeCommands(EncodeCommands(nil))
	if err != nil || len(out) != 0 {
		t.Fatalf("got %v, %v", out, err)
	}
}

func TestCommandRLE_RejectsUnknownCommand(t *testing.T) {
	// (200, 1) is not a command.
	if _, err := DecodeCommands("yAEB"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFormatCommands(t *testing.T) {
	got := FormatCommands([]platform.Command{platform.Right, platform.Right, platform.Right, platform.Wait, platform.Up})
	if got != "RIGHTx3 WAIT UP" {
		t.Fatalf("got %q", got)
	}
}
