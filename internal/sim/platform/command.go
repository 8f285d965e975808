package platform

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

// Command is one slot of a platform's command queue.
type Command uint8

const (
	Idle Command = iota
	Up
	Down
	Left
	Right
	Forward
	Backward
	Wait

	commandCount
)

var commandNames = [...]string{
	Idle:     "IDLE",
	Up:       "UP",
	Down:     "DOWN",
	Left:     "LEFT",
	Right:    "RIGHT",
	Forward:  "FORWARD",
	Backward: "BACKWARD",
	Wait:     "WAIT",
}

func (c Command) String() string {
	if c < commandCount {
		return commandNames[c]
	}
	return fmt.Sprintf("COMMAND(%d)", uint8(c))
}

func (c Command) Valid() bool { return c < commandCount }

func ParseCommand(s string) (Command, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range commandNames {
		if n == u {
			return Command(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown command %q", s)
}

// Direction is the unit step of c in local space: +Y up, +X right, +Z forward.
// Idle and Wait have no direction.
func (c Command) Direction() mgl64.Vec3 {
	switch c {
	case Up:
		return mgl64.Vec3{0, 1, 0}
	case Down:
		return mgl64.Vec3{0, -1, 0}
	case Left:
		return mgl64.Vec3{-1, 0, 0}
	case Right:
		return mgl64.Vec3{1, 0, 0}
	case Forward:
		return mgl64.Vec3{0, 0, 1}
	case Backward:
		return mgl64.Vec3{0, 0, -1}
	}
	return mgl64.Vec3{}
}

func (c Command) Moves() bool { return c.Direction() != (mgl64.Vec3{}) }

// Inverse maps a movement to its opposite; Idle and Wait map to themselves.
func (c Command) Inverse() Command {
	switch c {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	case Forward:
		return Backward
	case Backward:
		return Forward
	}
	return c
}

// Next and Prev cycle through every command value, wrapping around.
func (c Command) Next() Command { return (c + 1) % commandCount }

func (c Command) Prev() Command { return (c + commandCount - 1) % commandCount }

func (c Command) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Command) UnmarshalText(b []byte) error {
	v, err := ParseCommand(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c *Command) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("command: expected scalar at line %d", n.Line)
	}
	return c.UnmarshalText([]byte(n.Value))
}

func ParseCommands(names []string) ([]Command, error) {
	out := make([]Command, 0, len(names))
	for i, n := range names {
		c, err := ParseCommand(n)
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}
