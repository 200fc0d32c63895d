package light

import (
	"sync"

	"pwmlight-go/types"
)

// Output is the single PWM channel the driver writes to. SetDuty stages a
// value; UpdateDuty commits it to the pin.
type Output interface {
	SetDuty(duty uint32) error
	UpdateDuty() error
}

// Defaults are the power-on values of the light state.
type Defaults struct {
	Power      bool
	Brightness int
	Hue        int
	Saturation int
}

// DefaultState returns the factory defaults: on, 25% brightness, hue 180,
// saturation 100.
func DefaultState() Defaults {
	return Defaults{Power: true, Brightness: 25, Hue: 180, Saturation: 100}
}

// Driver owns the light state and the output it drives. Hue and saturation
// are kept for the cloud schema only and never reach the hardware.
type Driver struct {
	mu      sync.Mutex
	out     Output
	maxDuty uint32
	initOn  bool // power state applied by Init

	power      bool
	brightness int
	hue        int
	saturation int
	duty       uint32 // last duty handed to out
}

// NewDriver returns a driver in its default state. Nothing is written to out
// until Init.
func NewDriver(out Output, maxDuty uint32, def Defaults) *Driver {
	return &Driver{
		out:        out,
		maxDuty:    maxDuty,
		initOn:     def.Power,
		power:      def.Power,
		brightness: ClampBrightness(def.Brightness),
		hue:        def.Hue,
		saturation: def.Saturation,
	}
}

// Init applies the default power state. Call it once the channel is configured.
func (d *Driver) Init() error {
	return d.SetState(d.initOn)
}

// Reapply writes the stored state to the output again without changing it.
func (d *Driver) Reapply() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apply()
}

// SetBrightness stores b clamped to [0,100]. The duty is recomputed and
// applied only while power is on.
func (d *Driver) SetBrightness(b int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.brightness = ClampBrightness(b)
	if !d.power {
		return nil
	}
	return d.apply()
}

// SetState stores the power flag and applies the duty for it.
func (d *Driver) SetState(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.power = on
	return d.apply()
}

// Toggle inverts power and returns the new state.
func (d *Driver) Toggle() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.power = !d.power
	return d.power, d.apply()
}

func (d *Driver) SetHue(h int) {
	d.mu.Lock()
	d.hue = h
	d.mu.Unlock()
}

func (d *Driver) SetSaturation(s int) {
	d.mu.Lock()
	d.saturation = s
	d.mu.Unlock()
}

func (d *Driver) Power() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.power
}

func (d *Driver) Brightness() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brightness
}

func (d *Driver) Hue() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hue
}

func (d *Driver) Saturation() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saturation
}

// Duty is the last duty written to the output.
func (d *Driver) Duty() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duty
}

func (d *Driver) MaxDuty() uint32 { return d.maxDuty }

func (d *Driver) State() types.LightState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return types.LightState{
		Power:      d.power,
		Brightness: d.brightness,
		Hue:        d.hue,
		Saturation: d.saturation,
		Duty:       d.duty,
	}
}

// apply stages and commits the duty for the current state; caller holds d.mu.
// The stored duty follows what was requested even if the output fails.
func (d *Driver) apply() error {
	duty := Duty(d.brightness, d.power, d.maxDuty)
	d.duty = duty
	if err := d.out.SetDuty(duty); err != nil {
		return err
	}
	return d.out.UpdateDuty()
}
