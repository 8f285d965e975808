package platform

import (
	"sync"

	"puzzleplatform.ai/internal/sim/easing"
)

const (
	minMoveSpeed        = 0.1
	defaultMoveSpeed    = 5
	defaultAccelTime    = 0.2
	defaultDecelTime    = 0.2
	defaultWaitDuration = 1.0
)

// MovementSettings shapes how a platform travels between cells.
type MovementSettings struct {
	// Speed is world units per second at full speed.
	Speed float64 `json:"speed" yaml:"speed"`
	// Curve maps normalized progress to path fraction and shapes the
	// acceleration and deceleration multipliers.
	Curve easing.Curve `json:"curve" yaml:"curve"`
	// Continuous coalesces consecutive same-direction commands into one path.
	Continuous bool `json:"continuous" yaml:"continuous"`
	// AccelTime and DecelTime are seconds at the start and end of a path
	// during which the speed multiplier ramps.
	AccelTime float64 `json:"accel_time" yaml:"accel_time"`
	DecelTime float64 `json:"decel_time" yaml:"decel_time"`
}

func DefaultMovementSettings() MovementSettings {
	return MovementSettings{
		Speed:      defaultMoveSpeed,
		Curve:      easing.EaseInOut(),
		Continuous: true,
		AccelTime:  defaultAccelTime,
		DecelTime:  defaultDecelTime,
	}
}

// Normalize clamps speed and ramp times into a usable range.
func (s *MovementSettings) Normalize() {
	if s.Speed < minMoveSpeed {
		s.Speed = minMoveSpeed
	}
	if s.AccelTime < 0 {
		s.AccelTime = 0
	}
	if s.DecelTime < 0 {
		s.DecelTime = 0
	}
	if len(s.Curve.Keys) == 0 {
		s.Curve = easing.Linear()
	}
}

func (s MovementSettings) Clone() MovementSettings {
	s.Curve = s.Curve.Clone()
	return s
}

func (s MovementSettings) Profile() Profile {
	return Profile{Speed: s.Speed, Curve: s.Curve, AccelTime: s.AccelTime, DecelTime: s.DecelTime}
}

// SharedSettings is a settings asset referenced by several platforms.
type SharedSettings struct {
	mu sync.RWMutex
	s  MovementSettings
}

func NewSharedSettings(s MovementSettings) *SharedSettings {
	s.Normalize()
	return &SharedSettings{s: s.Clone()}
}

func (ss *SharedSettings) Get() MovementSettings {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.s.Clone()
}

func (ss *SharedSettings) Set(s MovementSettings) {
	s.Normalize()
	ss.mu.Lock()
	ss.s = s.Clone()
	ss.mu.Unlock()
}

// SettingsBinding selects between a shared settings asset and a locally owned
// copy. Nothing is synchronised implicitly: CopyFromShared and CopyToShared
// are the only bridges between the two.
type SettingsBinding struct {
	Shared    *SharedSettings
	Local     MovementSettings
	UseShared bool
}

func LocalBinding(s MovementSettings) SettingsBinding {
	s.Normalize()
	return SettingsBinding{Local: s}
}

func SharedBinding(ss *SharedSettings) SettingsBinding {
	b := SettingsBinding{Shared: ss, UseShared: ss != nil}
	if ss != nil {
		b.Local = ss.Get()
	} else {
		b.Local = DefaultMovementSettings()
	}
	return b
}

// Effective returns the settings a run should use.
func (b *SettingsBinding) Effective() MovementSettings {
	if b.UseShared && b.Shared != nil {
		return b.Shared.Get()
	}
	s := b.Local.Clone()
	s.Normalize()
	return s
}

func (b *SettingsBinding) CopyFromShared() bool {
	if b.Shared == nil {
		return false
	}
	b.Local = b.Shared.Get()
	return true
}

func (b *SettingsBinding) CopyToShared() bool {
	if b.Shared == nil {
		return false
	}
	b.Shared.Set(b.Local)
	return true
}
