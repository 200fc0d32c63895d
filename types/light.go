package types

// LightProfile selects which cloud parameters the light exposes.
type LightProfile string

const (
	// ProfileLight exposes Power, Brightness, Hue and Saturation.
	ProfileLight LightProfile = "light"
	// ProfileVoltage exposes Power, Brightness and a read-only Voltage.
	ProfileVoltage LightProfile = "voltage"
)

// LightConfig is published retained on config/light.
type LightConfig struct {
	Device      string       `json:"device" yaml:"device"` // cloud device name
	Profile     LightProfile `json:"profile" yaml:"profile"`
	PWM         string       `json:"pwm" yaml:"pwm"`       // pwm capability name (domain io)
	Button      string       `json:"button" yaml:"button"` // optional button capability name
	MaxDuty     uint32       `json:"max_duty" yaml:"-"`    // derived from the PWM resolution
	LongPressMs uint32       `json:"long_press_ms" yaml:"long_press_ms"`
	SupplyMv    uint32       `json:"supply_mv" yaml:"supply_mv"`

	DefaultPower      bool `json:"default_power" yaml:"default_power"`
	DefaultBrightness int  `json:"default_brightness" yaml:"default_brightness"`
	DefaultHue        int  `json:"default_hue" yaml:"default_hue"`
	DefaultSaturation int  `json:"default_saturation" yaml:"default_saturation"`
}

// LightState is the retained snapshot on light/state.
type LightState struct {
	Power      bool   `json:"power"`
	Brightness int    `json:"brightness"`
	Hue        int    `json:"hue"`
	Saturation int    `json:"saturation"`
	Duty       uint32 `json:"duty"`
}
