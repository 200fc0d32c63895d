package types

// ------------------------
// Common HAL state (retained)
// ------------------------

type HALState struct {
	Level  string `json:"level"`  // "idle", "ready", "stopped"
	Status string `json:"status"` // freeform short code
	TS     int64  `json:"ts_ns"`
}

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type CapabilityStatus struct {
	Link  Link   `json:"link"`
	TS    int64  `json:"ts_ns"`
	Error string `json:"error,omitempty"` // machine-readable short code
}

// ------------------------
// HAL configuration
// ------------------------

type HALConfig struct {
	Devices []HALDevice `json:"devices"`
}

type HALDevice struct {
	ID     string `json:"id"`     // logical device id
	Type   string `json:"type"`   // e.g. "pwm_out"
	Params any    `json:"params"` // one of the *Params types
}

// ------------------------
// Generic replies
// ------------------------

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ------------------------
// Info envelope (retained)
// ------------------------

type Info struct {
	SchemaVersion int    `json:"schema_version"`
	Driver        string `json:"driver"`
	Detail        any    `json:"detail,omitempty"` // one of *Info types
}

// ------------------------
// Board resource plan
// ------------------------

// BoardPlan describes what the platform may hand out: the usable GPIO range and
// the I2C controllers with their wiring. It carries no device choices.
type BoardPlan struct {
	Name    string       `json:"name" yaml:"name"`
	GPIOMin int          `json:"gpio_min" yaml:"gpio_min"`
	GPIOMax int          `json:"gpio_max" yaml:"gpio_max"`
	I2C     []I2CBusPlan `json:"i2c,omitempty" yaml:"i2c,omitempty"`
}

type I2CBusPlan struct {
	ID  string `json:"id" yaml:"id"` // "i2c0", "i2c1"
	SDA int    `json:"sda" yaml:"sda"`
	SCL int    `json:"scl" yaml:"scl"`
	Hz  uint32 `json:"hz" yaml:"hz"`
}
