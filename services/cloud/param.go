package cloud

// Standard parameter types.
const (
	ParamTypeName       = "esp.param.name"
	ParamTypePower      = "esp.param.power"
	ParamTypeBrightness = "esp.param.brightness"
	ParamTypeHue        = "esp.param.hue"
	ParamTypeSaturation = "esp.param.saturation"
	ParamTypeVoltage    = "esp.param.voltage"
)

// Standard parameter names.
const (
	NameParam       = "Name"
	PowerParam      = "Power"
	BrightnessParam = "Brightness"
	HueParam        = "Hue"
	SaturationParam = "Saturation"
	VoltageParam    = "Voltage"
)

// UI hints.
const (
	UIText      = "esp.ui.text"
	UIToggle    = "esp.ui.toggle"
	UISlider    = "esp.ui.slider"
	UIHueSlider = "esp.ui.hue-slider"
	UIHueCircle = "esp.ui.hue-circle"
)

// Props is a bit set of parameter properties.
type Props uint8

const (
	PropRead Props = 1 << iota
	PropWrite
)

func (p Props) Readable() bool { return p&PropRead != 0 }
func (p Props) Writable() bool { return p&PropWrite != 0 }

func (p Props) list() []string {
	var out []string
	if p.Readable() {
		out = append(out, "read")
	}
	if p.Writable() {
		out = append(out, "write")
	}
	return out
}

// Bounds limit numeric parameters.
type Bounds struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step,omitempty"`
}

// Param is one named, typed value of a device.
type Param struct {
	Name     string
	Type     string
	DataType DataType
	Props    Props
	UIType   string
	Bounds   *Bounds

	val Value
}

// NewParam creates a parameter with an initial value; its data type follows v.
func NewParam(name, typ string, v Value, props Props) *Param {
	return &Param{Name: name, Type: typ, DataType: v.Type(), Props: props, val: v}
}

// Value is the last stored value. Access through Device methods for locking.
func (p *Param) value() Value { return p.val }

func (p *Param) config() ParamConfig {
	return ParamConfig{
		Name:       p.Name,
		Type:       p.Type,
		DataType:   p.DataType,
		Properties: p.Props.list(),
		UIType:     p.UIType,
		Bounds:     p.Bounds,
	}
}

func NewNameParam(name string) *Param {
	p := NewParam(NameParam, ParamTypeName, String(name), PropRead|PropWrite)
	p.UIType = UIText
	return p
}

func NewPowerParam(on bool) *Param {
	p := NewParam(PowerParam, ParamTypePower, Bool(on), PropRead|PropWrite)
	p.UIType = UIToggle
	return p
}

func NewBrightnessParam(v int) *Param {
	p := NewParam(BrightnessParam, ParamTypeBrightness, Int(v), PropRead|PropWrite)
	p.UIType = UISlider
	p.Bounds = &Bounds{Min: 0, Max: 100, Step: 1}
	return p
}

func NewHueParam(v int) *Param {
	p := NewParam(HueParam, ParamTypeHue, Int(v), PropRead|PropWrite)
	p.UIType = UIHueSlider
	p.Bounds = &Bounds{Min: 0, Max: 360, Step: 1}
	return p
}

func NewSaturationParam(v int) *Param {
	p := NewParam(SaturationParam, ParamTypeSaturation, Int(v), PropRead|PropWrite)
	p.UIType = UISlider
	p.Bounds = &Bounds{Min: 0, Max: 100, Step: 1}
	return p
}

// NewVoltageParam is a read-only measurement in volts.
func NewVoltageParam(v float64) *Param {
	p := NewParam(VoltageParam, ParamTypeVoltage, Float(v), PropRead)
	p.UIType = UIText
	return p
}
