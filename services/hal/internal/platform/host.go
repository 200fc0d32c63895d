// services/hal/internal/platform/host.go
//go:build !tinygo

package platform

import (
	"sync"

	"pwmlight-go/errcode"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/x/mathx"

	"tinygo.org/x/drivers"
)

// Host is a fully simulated provider: pins that raise IRQs when driven, PWM
// channels that record every committed duty, and register-file I2C buses.
type Host struct {
	mu    sync.Mutex
	pins  map[int]*FakePin
	pwms  map[int]*FakePWM
	buses map[string]*HostI2C
}

var _ Provider = (*Host)(nil)

func NewHost() *Host {
	return &Host{
		pins: map[int]*FakePin{},
		pwms: map[int]*FakePWM{},
		buses: map[string]*HostI2C{
			"i2c0": NewHostI2C(),
			"i2c1": NewHostI2C(),
		},
	}
}

func (h *Host) Name() string { return "host" }

func (h *Host) Pin(n int) (core.IRQPin, bool) {
	return h.FakePin(n), true
}

func (h *Host) PWM(pin int) (core.PWMHandle, error) {
	return h.FakePWM(pin), nil
}

func (h *Host) I2C(id string) (drivers.I2C, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.buses[id]
	return b, ok
}

// FakePin returns the stable simulated pin for n.
func (h *Host) FakePin(n int) *FakePin {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pins[n]
	if !ok {
		p = &FakePin{number: n}
		h.pins[n] = p
	}
	return p
}

// FakePWM returns the stable simulated PWM channel for pin.
func (h *Host) FakePWM(pin int) *FakePWM {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pwms[pin]
	if !ok {
		p = &FakePWM{pin: pin}
		h.pwms[pin] = p
	}
	return p
}

// Bus returns a simulated I2C bus by id.
func (h *Host) Bus(id string) *HostI2C {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buses[id]
}

// ----------------------------- GPIO (host) -----------------------------------

// FakePin implements core.IRQPin. Driving it with Set raises the installed
// handler on matching edges, as a real pin would in interrupt context.
type FakePin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	modeOut bool
	pull    core.Pull
	irqEdge core.Edge
	irqFunc func()
}

func (p *FakePin) ConfigureInput(pull core.Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.pull = pull
	// An idle pulled-up input reads high.
	if pull == core.PullUp {
		p.level = true
	}
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.mu.Unlock()
	return nil
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	old := p.level
	p.level = level
	irq := p.irqFunc
	want := irqWanted(p.irqEdge, edgeFrom(old, level))
	p.mu.Unlock()
	if want && irq != nil {
		irq()
	}
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

func (p *FakePin) Toggle() { p.Set(!p.Get()) }

func (p *FakePin) Number() int { return p.number }

func (p *FakePin) SetIRQ(edge core.Edge, handler func()) error {
	p.mu.Lock()
	p.irqEdge = edge
	p.irqFunc = handler
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ClearIRQ() error {
	p.mu.Lock()
	p.irqEdge = core.EdgeNone
	p.irqFunc = nil
	p.mu.Unlock()
	return nil
}

// HasIRQ reports whether a handler is installed.
func (p *FakePin) HasIRQ() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.irqFunc != nil
}

func edgeFrom(old, new bool) core.Edge {
	switch {
	case !old && new:
		return core.EdgeRising
	case old && !new:
		return core.EdgeFalling
	default:
		return core.EdgeNone
	}
}

func irqWanted(cfg, seen core.Edge) bool {
	if seen == core.EdgeNone {
		return false
	}
	return cfg == core.EdgeBoth || cfg == seen
}

// ----------------------------- PWM (host) ------------------------------------

// FakePWM implements core.PWMHandle and keeps the committed duty history.
type FakePWM struct {
	mu        sync.Mutex
	pin       int
	timer     core.PWMTimerConfig
	channel   core.PWMChannelConfig
	timerOK   bool
	channelOK bool
	staged    uint32
	committed uint32
	history   []uint32
	stopped   bool
	failNext  error
}

func (p *FakePWM) ConfigureTimer(cfg core.PWMTimerConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFail(); err != nil {
		return err
	}
	if cfg.ResolutionBits == 0 || cfg.ResolutionBits > 20 || cfg.FreqHz == 0 {
		return errcode.InvalidParams
	}
	p.timer = cfg
	p.timerOK = true
	return nil
}

func (p *FakePWM) ConfigureChannel(cfg core.PWMChannelConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFail(); err != nil {
		return err
	}
	if !p.timerOK {
		return errcode.HALNotReady
	}
	if cfg.Duty > p.max() {
		return errcode.InvalidParams
	}
	p.channel = cfg
	p.channelOK = true
	p.staged = cfg.Duty
	p.commit()
	p.stopped = false
	return nil
}

func (p *FakePWM) SetDuty(duty uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFail(); err != nil {
		return err
	}
	if !p.channelOK {
		return errcode.HALNotReady
	}
	p.staged = min(duty, p.max())
	return nil
}

func (p *FakePWM) UpdateDuty() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFail(); err != nil {
		return err
	}
	if !p.channelOK {
		return errcode.HALNotReady
	}
	p.commit()
	return nil
}

func (p *FakePWM) MaxDuty() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max()
}

func (p *FakePWM) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

// caller holds lock
func (p *FakePWM) max() uint32 { return mathx.MaxForBits(p.timer.ResolutionBits) }

// caller holds lock
func (p *FakePWM) commit() {
	p.committed = p.staged
	p.history = append(p.history, p.staged)
}

// caller holds lock
func (p *FakePWM) takeFail() error {
	err := p.failNext
	p.failNext = nil
	return err
}

// FailNext makes the next handle call return err.
func (p *FakePWM) FailNext(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

// Duty is the committed (output) duty.
func (p *FakePWM) Duty() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.committed
}

// Staged is the duty written by SetDuty but not necessarily committed.
func (p *FakePWM) Staged() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.staged
}

// History lists every committed duty in order.
func (p *FakePWM) History() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.history...)
}

func (p *FakePWM) Timer() core.PWMTimerConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer
}

func (p *FakePWM) Channel() core.PWMChannelConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

func (p *FakePWM) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// ----------------------------- I²C (host) ------------------------------------

// HostI2C is a byte-addressed register file per device address. A write sets
// consecutive registers from w[0]; a read returns them.
type HostI2C struct {
	mu   sync.Mutex
	regs map[uint16]*[256]byte
	txs  int
}

func NewHostI2C() *HostI2C { return &HostI2C{regs: map[uint16]*[256]byte{}} }

func (h *HostI2C) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.txs++
	file := h.regs[addr]
	if file == nil {
		file = &[256]byte{}
		h.regs[addr] = file
	}
	if len(w) == 0 {
		return nil
	}
	reg := w[0]
	for i, b := range w[1:] {
		file[reg+uint8(i)] = b
	}
	for i := range r {
		r[i] = file[reg+uint8(i)]
	}
	return nil
}

// Reg returns the last value written to reg on the device at addr.
func (h *HostI2C) Reg(addr uint16, reg uint8) byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f := h.regs[addr]; f != nil {
		return f[reg]
	}
	return 0
}

// Txs counts transactions seen on the bus.
func (h *HostI2C) Txs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.txs
}
