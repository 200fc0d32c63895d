// services/hal/internal/platform/rp2.go
//go:build rp2040 || rp2350

package platform

import (
	"machine"
	"sync"

	"pwmlight-go/errcode"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/types"
	"pwmlight-go/x/mathx"
	"pwmlight-go/x/timex"

	"tinygo.org/x/drivers"
)

// RP2 hands out machine pins, PWM slices and the I2C controllers named in the
// board plan.
type RP2 struct {
	mu    sync.Mutex
	pins  map[int]*rp2GPIO
	buses map[string]*machine.I2C
}

var _ Provider = (*RP2)(nil)

func NewRP2(plan types.BoardPlan) *RP2 {
	r := &RP2{pins: map[int]*rp2GPIO{}, buses: map[string]*machine.I2C{}}
	for _, p := range plan.I2C {
		var hw *machine.I2C
		switch p.ID {
		case "i2c0":
			hw = machine.I2C0
		case "i2c1":
			hw = machine.I2C1
		default:
			continue
		}
		sda, scl := machine.Pin(p.SDA), machine.Pin(p.SCL)
		sda.Configure(machine.PinConfig{Mode: machine.PinI2C})
		scl.Configure(machine.PinConfig{Mode: machine.PinI2C})
		if err := hw.Configure(machine.I2CConfig{SCL: scl, SDA: sda, Frequency: p.Hz}); err != nil {
			continue
		}
		r.buses[p.ID] = hw
	}
	return r
}

func (r *RP2) Name() string { return "rp2" }

func (r *RP2) Pin(n int) (core.IRQPin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.pins[n]; ok {
		return g, true
	}
	g := &rp2GPIO{p: machine.Pin(n), n: n}
	r.pins[n] = g
	return g, true
}

func (r *RP2) PWM(pin int) (core.PWMHandle, error) {
	slice, err := machine.PWMPeripheral(machine.Pin(pin))
	if err != nil {
		return nil, errcode.Unsupported
	}
	return &rp2PWM{pin: pin, slice: slice, ctrl: pwmGroupBySlice(slice)}, nil
}

func (r *RP2) I2C(id string) (drivers.I2C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buses[id]
	return b, ok
}

// -----------------------------------------------------------------------------
// GPIO
// -----------------------------------------------------------------------------

type rp2GPIO struct {
	p machine.Pin
	n int
}

func (g *rp2GPIO) Number() int { return g.n }

func (g *rp2GPIO) ConfigureInput(pull core.Pull) error {
	mode := machine.PinInput
	switch pull {
	case core.PullUp:
		mode = machine.PinInputPullup
	case core.PullDown:
		mode = machine.PinInputPulldown
	}
	g.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (g *rp2GPIO) ConfigureOutput(initial bool) error {
	g.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	g.p.Set(initial)
	return nil
}

func (g *rp2GPIO) Set(b bool) { g.p.Set(b) }
func (g *rp2GPIO) Get() bool  { return g.p.Get() }
func (g *rp2GPIO) Toggle()    { g.p.Set(!g.p.Get()) }

func (g *rp2GPIO) SetIRQ(edge core.Edge, handler func()) error {
	var change machine.PinChange
	switch edge {
	case core.EdgeRising:
		change = machine.PinRising
	case core.EdgeFalling:
		change = machine.PinFalling
	case core.EdgeBoth:
		change = machine.PinToggle
	default:
		return errcode.InvalidParams
	}
	return g.p.SetInterrupt(change, func(machine.Pin) { handler() })
}

func (g *rp2GPIO) ClearIRQ() error { return g.p.SetInterrupt(0, nil) }

// -----------------------------------------------------------------------------
// PWM: a "timer" is the pin's slice, a "channel" is its A/B output
// -----------------------------------------------------------------------------

// Local interface to avoid depending on an unexported concrete type in machine.
type pwmCtrl interface {
	Configure(cfg machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

func pwmGroupBySlice(slice uint8) pwmCtrl {
	switch slice {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}

// Slices are shared by two pins; both must agree on the frequency.
var slices struct {
	mu     sync.Mutex
	freqHz map[uint8]uint32
}

func init() { slices.freqHz = map[uint8]uint32{} }

type rp2PWM struct {
	mu     sync.Mutex
	pin    int
	slice  uint8
	ctrl   pwmCtrl
	chIdx  uint8
	max    uint32 // logical top, 2^bits-1
	hwTop  uint32
	staged uint32
	ready  bool
}

func (p *rp2PWM) ConfigureTimer(cfg core.PWMTimerConfig) error {
	if cfg.FreqHz == 0 || cfg.ResolutionBits == 0 || cfg.ResolutionBits > 16 {
		return errcode.InvalidParams
	}
	slices.mu.Lock()
	defer slices.mu.Unlock()
	if f, used := slices.freqHz[p.slice]; used && f != cfg.FreqHz {
		return errcode.Conflict
	}
	period := timex.PeriodFromHz(cfg.FreqHz)
	if err := p.ctrl.Configure(machine.PWMConfig{Period: period}); err != nil {
		return err
	}
	slices.freqHz[p.slice] = cfg.FreqHz

	p.mu.Lock()
	p.max = mathx.MaxForBits(cfg.ResolutionBits)
	p.hwTop = p.ctrl.Top()
	p.mu.Unlock()
	return nil
}

func (p *rp2PWM) ConfigureChannel(cfg core.PWMChannelConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.max == 0 {
		return errcode.HALNotReady
	}
	ch, err := p.ctrl.Channel(machine.Pin(p.pin))
	if err != nil {
		return errcode.Unsupported
	}
	p.chIdx = ch
	p.ready = true
	p.staged = min(cfg.Duty, p.max)
	p.commit()
	return nil
}

func (p *rp2PWM) SetDuty(duty uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return errcode.HALNotReady
	}
	p.staged = min(duty, p.max)
	return nil
}

func (p *rp2PWM) UpdateDuty() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return errcode.HALNotReady
	}
	p.commit()
	return nil
}

func (p *rp2PWM) MaxDuty() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

func (p *rp2PWM) Stop() error {
	p.mu.Lock()
	if p.ready {
		p.ctrl.Set(p.chIdx, 0)
		p.ready = false
	}
	p.mu.Unlock()

	slices.mu.Lock()
	delete(slices.freqHz, p.slice)
	slices.mu.Unlock()
	machine.Pin(p.pin).Configure(machine.PinConfig{Mode: machine.PinInput})
	return nil
}

// caller holds lock; scales [0..max] to the slice's [0..hwTop]
func (p *rp2PWM) commit() {
	hw := uint32(uint64(p.staged) * uint64(p.hwTop) / uint64(p.max))
	p.ctrl.Set(p.chIdx, hw)
}
