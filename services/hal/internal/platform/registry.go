// services/hal/internal/platform/registry.go
package platform

import (
	"context"
	"strconv"
	"sync"
	"time"

	"pwmlight-go/errcode"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/services/hal/internal/gpioirq"
	"pwmlight-go/types"

	"tinygo.org/x/drivers"
)

// Provider is the hardware a Registry hands out. Implementations are selected by
// build tags (host simulation, Linux sysfs/cdev, RP2 machine package).
type Provider interface {
	Name() string
	Pin(n int) (core.IRQPin, bool)
	PWM(pin int) (core.PWMHandle, error)
	I2C(id string) (drivers.I2C, bool)
}

// Ensure the registry satisfies the contract at compile time.
var _ core.ResourceRegistry = (*Registry)(nil)

const i2cTimeout = 250 * time.Millisecond

// Registry implements core.ResourceRegistry on top of a Provider: pins are
// claimed exclusively, I2C buses are shared and serialised through one worker
// per bus, and input edges go through a gpioirq.Worker.
type Registry struct {
	prov Provider
	plan types.BoardPlan
	irq  *gpioirq.Worker

	mu     sync.Mutex
	pins   map[int]pinOwner
	pwms   map[int]core.PWMHandle
	edges  map[int]func()
	owners map[string]*i2cOwner
	users  map[string]map[string]struct{} // bus id -> device ids
}

type pinOwner struct {
	devID string
	fn    core.PinFunc
}

// NewRegistry builds a registry and starts its IRQ worker; it stops with ctx.
// A zero GPIO range in plan means "any pin the provider knows".
func NewRegistry(ctx context.Context, prov Provider, plan types.BoardPlan) *Registry {
	r := &Registry{
		prov:   prov,
		plan:   plan,
		irq:    gpioirq.New(32),
		pins:   map[int]pinOwner{},
		pwms:   map[int]core.PWMHandle{},
		edges:  map[int]func(){},
		owners: map[string]*i2cOwner{},
		users:  map[string]map[string]struct{}{},
	}
	r.irq.Start(ctx)
	go func() {
		<-ctx.Done()
		r.Close()
	}()
	return r
}

// Provider returns the underlying provider (tests use it to reach fakes).
func (r *Registry) Provider() Provider { return r.prov }

func (r *Registry) inRange(n int) bool {
	if r.plan.GPIOMin == 0 && r.plan.GPIOMax == 0 {
		return n >= 0
	}
	return n >= r.plan.GPIOMin && n <= r.plan.GPIOMax
}

// -----------------------------------------------------------------------------
// Pins
// -----------------------------------------------------------------------------

type pinHandle struct {
	n    int
	fn   core.PinFunc
	gpio core.GPIOHandle
	pwm  core.PWMHandle
}

func (h *pinHandle) AsGPIO() core.GPIOHandle {
	if h.fn != core.FuncGPIOIn && h.fn != core.FuncGPIOOut {
		panic("pin " + strconv.Itoa(h.n) + " not claimed for GPIO")
	}
	return h.gpio
}

func (h *pinHandle) AsPWM() core.PWMHandle {
	if h.fn != core.FuncPWM {
		panic("pin " + strconv.Itoa(h.n) + " not claimed for PWM")
	}
	return h.pwm
}

func (r *Registry) ClaimPin(devID string, n int, fn core.PinFunc) (core.PinHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inRange(n) {
		return nil, errcode.UnknownPin
	}
	if _, inUse := r.pins[n]; inUse {
		return nil, errcode.PinInUse
	}

	ph := &pinHandle{n: n, fn: fn}
	switch fn {
	case core.FuncGPIOIn, core.FuncGPIOOut:
		p, ok := r.prov.Pin(n)
		if !ok {
			return nil, errcode.UnknownPin
		}
		ph.gpio = p
	case core.FuncPWM:
		h, err := r.prov.PWM(n)
		if err != nil {
			return nil, err
		}
		ph.pwm = h
		r.pwms[n] = h
	default:
		return nil, errcode.Unsupported
	}
	r.pins[n] = pinOwner{devID: devID, fn: fn}
	return ph, nil
}

func (r *Registry) ReleasePin(devID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.pins[n]
	if !ok || o.devID != devID {
		return
	}
	if cancel := r.edges[n]; cancel != nil {
		cancel()
		delete(r.edges, n)
	}
	delete(r.pwms, n)
	delete(r.pins, n)
}

// -----------------------------------------------------------------------------
// Edges
// -----------------------------------------------------------------------------

type edgeStream struct {
	ch     <-chan core.GPIOEdgeEvent
	cancel func()
}

func (s *edgeStream) Events() <-chan core.GPIOEdgeEvent { return s.ch }
func (s *edgeStream) Close()                            { s.cancel() }

func (r *Registry) SubscribeGPIOEdges(devID string, n int, edge core.Edge, debounce time.Duration, buf int) (core.GPIOEdgeStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.pins[n]
	if !ok || o.devID != devID {
		return nil, errcode.PinInUse
	}
	if o.fn != core.FuncGPIOIn {
		return nil, errcode.Conflict
	}
	if _, busy := r.edges[n]; busy {
		return nil, errcode.Busy
	}
	p, ok := r.prov.Pin(n)
	if !ok {
		return nil, errcode.UnknownPin
	}
	ch, cancel, err := r.irq.RegisterInput("gpio"+strconv.Itoa(n), p, edge, debounce, buf)
	if err != nil {
		return nil, err
	}
	r.edges[n] = cancel
	return &edgeStream{ch: ch, cancel: cancel}, nil
}

func (r *Registry) UnsubscribeGPIOEdges(devID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.pins[n]; !ok || o.devID != devID {
		return
	}
	if cancel := r.edges[n]; cancel != nil {
		cancel()
		delete(r.edges, n)
	}
}

// -----------------------------------------------------------------------------
// I2C: one worker goroutine per bus, shared by every device on it
// -----------------------------------------------------------------------------

type i2cReq struct {
	addr uint16
	w, r []byte
	done chan error // buffered(1)
}

type i2cOwner struct {
	hw   drivers.I2C
	reqs chan i2cReq
	quit chan struct{}
}

func newI2COwner(hw drivers.I2C) *i2cOwner {
	o := &i2cOwner{hw: hw, reqs: make(chan i2cReq, 16), quit: make(chan struct{})}
	go o.loop()
	return o
}

func (o *i2cOwner) loop() {
	for {
		select {
		case req := <-o.reqs:
			req.done <- o.hw.Tx(req.addr, req.w, req.r)
		case <-o.quit:
			return
		}
	}
}

// serialI2C adapts an owner to drivers.I2C with a per-call deadline.
type serialI2C struct {
	o       *i2cOwner
	timeout time.Duration
}

var _ drivers.I2C = (*serialI2C)(nil)

func (d *serialI2C) Tx(addr uint16, w, r []byte) error {
	req := i2cReq{addr: addr, w: w, r: r, done: make(chan error, 1)}
	t := time.NewTimer(d.timeout)
	defer t.Stop()
	select {
	case d.o.reqs <- req:
	case <-d.o.quit:
		return errcode.HALNotReady
	case <-t.C:
		return errcode.Busy
	}
	select {
	case err := <-req.done:
		return err
	case <-t.C:
		return errcode.Timeout
	}
}

func (r *Registry) ClaimI2C(devID string, id string) (drivers.I2C, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.owners[id]
	if o == nil {
		hw, ok := r.prov.I2C(id)
		if !ok {
			return nil, errcode.UnknownBus
		}
		o = newI2COwner(hw)
		r.owners[id] = o
	}
	if r.users[id] == nil {
		r.users[id] = map[string]struct{}{}
	}
	r.users[id][devID] = struct{}{}
	return &serialI2C{o: o, timeout: i2cTimeout}, nil
}

func (r *Registry) ReleaseI2C(devID string, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users[id], devID)
}

// Close cancels edge watches and stops the bus workers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n, cancel := range r.edges {
		cancel()
		delete(r.edges, n)
	}
	for id, o := range r.owners {
		close(o.quit)
		delete(r.owners, id)
	}
}
