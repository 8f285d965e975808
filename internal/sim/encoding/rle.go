package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"puzzleplatform.ai/internal/sim/platform"
)

// MaxQueueLen bounds decoded queues.
const MaxQueueLen = 1 << 16

// Run is one stretch of identical commands.
type Run struct {
	Command platform.Command
	Len     int
}

func Runs(cmds []platform.Command) []Run {
	var out []Run
	for i := 0; i < len(cmds); {
		c := cmds[i]
		n := 1
		for i+n < len(cmds) && cmds[i+n] == c {
			n++
		}
		out = append(out, Run{Command: c, Len: n})
		i += n
	}
	return out
}

// EncodeCommands encodes a command queue into base64(varint pairs).
// The pairs are (command, run_len) repeated.
func EncodeCommands(cmds []platform.Command) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	for _, r := range Runs(cmds) {
		n := binary.PutUvarint(tmp[:], uint64(r.Command))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(r.Len))
		buf.Write(tmp[:n])
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeCommands(b64 string) ([]platform.Command, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []platform.Command
	for i := 0; i < len(raw); {
		c, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		cmd := platform.Command(c)
		if c > 0xFF || !cmd.Valid() {
			return nil, fmt.Errorf("unknown command value: %d", c)
		}
		if run == 0 || uint64(len(out))+run > MaxQueueLen {
			return nil, fmt.Errorf("bad run length %d at %d", run, i)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, cmd)
		}
	}
	return out, nil
}

// FormatCommands renders a queue compactly, e.g. "RIGHTx3 WAIT UP".
func FormatCommands(cmds []platform.Command) string {
	runs := Runs(cmds)
	parts := make([]string, 0, len(runs))
	for _, r := range runs {
		if r.Len == 1 {
			parts = append(parts, r.Command.String())
			continue
		}
		parts = append(parts, fmt.Sprintf("%sx%d", r.Command, r.Len))
	}
	return strings.Join(parts, " ")
}
