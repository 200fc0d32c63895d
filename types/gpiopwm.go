package types

// ------------------------
// Button
// ------------------------

// ButtonParams configures a gpio_button device.
type ButtonParams struct {
	Pin         int    `json:"pin" yaml:"pin"`
	ActiveLevel int    `json:"active_level" yaml:"active_level"` // level read while pressed (0 or 1)
	Pull        string `json:"pull" yaml:"pull"`                 // "none","up","down"
	DebounceMs  uint16 `json:"debounce_ms" yaml:"debounce_ms"`
	Domain      string `json:"domain,omitempty" yaml:"domain"`
	Name        string `json:"name" yaml:"name"`
}

type ButtonInfo struct {
	Pin         int `json:"pin"`
	ActiveLevel int `json:"active_level"`
}

type ButtonValue struct {
	Pressed bool `json:"pressed"`
}

// ButtonEvent is published on .../event/pressed and .../event/released.
// HeldMs is only set on release.
type ButtonEvent struct {
	HeldMs uint32 `json:"held_ms"`
	TS     int64  `json:"ts_ns"`
}

// ------------------------
// PWM
// ------------------------

// PWMSpeedMode selects the timer group on parts that have more than one.
type PWMSpeedMode uint8

const (
	PWMLowSpeed PWMSpeedMode = iota
	PWMHighSpeed
)

// PWMClock selects the timer clock source.
type PWMClock uint8

const (
	PWMClockAuto PWMClock = iota
	PWMClockAPB
	PWMClockRef
	PWMClockRTC8M
)

// PWMOutParams configures a pwm_out device: one timer + channel bound to a pin.
type PWMOutParams struct {
	Pin            int          `json:"pin" yaml:"pin"`
	Channel        uint8        `json:"channel" yaml:"channel"`
	Timer          uint8        `json:"timer" yaml:"timer"`
	SpeedMode      PWMSpeedMode `json:"speed_mode" yaml:"speed_mode"`
	ResolutionBits uint8        `json:"resolution_bits" yaml:"resolution_bits"`
	FreqHz         uint32       `json:"freq_hz" yaml:"freq_hz"`
	Clock          PWMClock     `json:"clock" yaml:"clock"`
	ActiveLow      bool         `json:"active_low" yaml:"active_low"`
	Initial        uint32       `json:"initial" yaml:"initial"` // initial logical duty
	Domain         string       `json:"domain,omitempty" yaml:"domain"`
	Name           string       `json:"name" yaml:"name"`
}

// PCA9685OutParams configures one channel of a PCA9685 expander as a PWM capability.
type PCA9685OutParams struct {
	Bus       string `json:"bus" yaml:"bus"`   // e.g. "i2c0"
	Addr      uint16 `json:"addr" yaml:"addr"` // default 0x40
	Channel   uint8  `json:"channel" yaml:"channel"`
	FreqHz    uint32 `json:"freq_hz" yaml:"freq_hz"`
	ActiveLow bool   `json:"active_low" yaml:"active_low"`
	Domain    string `json:"domain,omitempty" yaml:"domain"`
	Name      string `json:"name" yaml:"name"`
}

// PWMInfo is published under hal/cap/.../info as Info.Detail.
type PWMInfo struct {
	Pin            int          `json:"pin"`
	Channel        uint8        `json:"channel"`
	Timer          uint8        `json:"timer"`
	SpeedMode      PWMSpeedMode `json:"speed_mode"`
	ResolutionBits uint8        `json:"resolution_bits"`
	FreqHz         uint32       `json:"freq_hz,omitempty"`
	MaxDuty        uint32       `json:"max_duty"`
	ActiveLow      bool         `json:"active_low"`
}

// PWMValue is published under hal/cap/.../value (retained).
type PWMValue struct {
	Duty uint32 `json:"duty"` // 0..MaxDuty (logical)
}

// PWMSet is the payload of control/set.
type PWMSet struct {
	Duty uint32 `json:"duty"` // 0..MaxDuty (logical)
}

// PWMRamp is the payload of control/ramp.
type PWMRamp struct {
	To         uint32 `json:"to"`          // 0..MaxDuty (logical)
	DurationMs uint32 `json:"duration_ms"` // total duration
	Steps      uint16 `json:"steps"`       // >0
}
