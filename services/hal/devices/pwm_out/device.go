package pwm_out

import (
	"context"
	"sync"
	"time"

	"pwmlight-go/errcode"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/types"
	"pwmlight-go/x/mathx"
	"pwmlight-go/x/ramp"
	"pwmlight-go/x/timex"
)

type Device struct {
	id   string
	p    types.PWMOutParams
	pwm  core.PWMHandle
	pub  core.EventEmitter
	reg  core.ResourceRegistry
	addr core.CapAddr

	mu       sync.Mutex
	max      uint32
	level    uint32 // current logical duty
	rampCxl  chan struct{}
	rampDone chan struct{} // closed when the ramp goroutine returns
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{{
		Domain: d.addr.Domain,
		Kind:   types.KindPWM,
		Name:   d.addr.Name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "pwm_out",
			Detail: types.PWMInfo{
				Pin:            d.p.Pin,
				Channel:        d.p.Channel,
				Timer:          d.p.Timer,
				SpeedMode:      d.p.SpeedMode,
				ResolutionBits: d.p.ResolutionBits,
				FreqHz:         d.p.FreqHz,
				MaxDuty:        mathx.MaxForBits(d.p.ResolutionBits),
				ActiveLow:      d.p.ActiveLow,
			},
		},
	}}
}

func (d *Device) Init(ctx context.Context) error {
	if err := d.pwm.ConfigureTimer(core.PWMTimerConfig{
		SpeedMode:      d.p.SpeedMode,
		ResolutionBits: d.p.ResolutionBits,
		Timer:          d.p.Timer,
		FreqHz:         d.p.FreqHz,
		Clock:          d.p.Clock,
	}); err != nil {
		d.reg.ReleasePin(d.id, d.p.Pin)
		return err
	}
	d.max = d.pwm.MaxDuty()
	initial := min(d.p.Initial, d.max)
	if err := d.pwm.ConfigureChannel(core.PWMChannelConfig{
		Pin:     d.p.Pin,
		Channel: d.p.Channel,
		Timer:   d.p.Timer,
		Duty:    d.toPhys(initial),
	}); err != nil {
		d.reg.ReleasePin(d.id, d.p.Pin)
		return err
	}
	d.level = initial
	d.emitValue(initial)
	return nil
}

// Close stops any active ramp and releases the claimed pin.
func (d *Device) Close() error {
	d.stopRamp()
	err := d.pwm.Stop()
	d.reg.ReleasePin(d.id, d.p.Pin)
	return err
}

func (d *Device) Control(_ core.CapAddr, verb string, payload any) (core.EnqueueResult, error) {
	switch verb {
	case "set":
		p, code := core.As[types.PWMSet](payload)
		if code != "" {
			return core.EnqueueResult{OK: false, Error: code}, nil
		}
		d.stopRamp()
		d.mu.Lock()
		err := d.apply(p.Duty)
		lvl := d.level
		d.mu.Unlock()
		if err != nil {
			d.pub.Emit(core.Event{Addr: d.addr, Err: string(errcode.MapDriverErr(err))})
			return core.EnqueueResult{}, err
		}
		d.emitValue(lvl)
		return core.EnqueueResult{OK: true}, nil

	case "ramp":
		p, code := core.As[types.PWMRamp](payload)
		if code != "" {
			return core.EnqueueResult{OK: false, Error: code}, nil
		}
		d.startRamp(p)
		return core.EnqueueResult{OK: true}, nil

	case "stop_ramp":
		d.stopRamp()
		return core.EnqueueResult{OK: true}, nil

	case "read":
		d.mu.Lock()
		lvl := d.level
		d.mu.Unlock()
		d.emitValue(lvl)
		return core.EnqueueResult{OK: true}, nil

	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

// apply stages and commits a logical duty; caller holds d.mu.
func (d *Device) apply(logical uint32) error {
	logical = min(logical, d.max)
	if err := d.pwm.SetDuty(d.toPhys(logical)); err != nil {
		return err
	}
	if err := d.pwm.UpdateDuty(); err != nil {
		return err
	}
	d.level = logical
	return nil
}

func (d *Device) toPhys(logical uint32) uint32 {
	if !d.p.ActiveLow {
		return logical
	}
	return d.max - logical
}

func (d *Device) startRamp(p types.PWMRamp) {
	d.stopRamp()
	cancel, done := make(chan struct{}), make(chan struct{})
	d.mu.Lock()
	d.rampCxl, d.rampDone = cancel, done
	start := d.level
	d.mu.Unlock()

	go func() {
		defer close(done)
		tick := func(dur time.Duration) bool {
			t := time.NewTimer(dur)
			defer t.Stop()
			select {
			case <-cancel:
				return false
			case <-t.C:
				return true
			}
		}
		ramp.StartLinear(start, p.To, d.max, p.DurationMs, p.Steps, tick, func(lvl uint32) {
			d.mu.Lock()
			select {
			case <-cancel:
				d.mu.Unlock()
				return
			default:
			}
			err := d.apply(lvl)
			d.mu.Unlock()
			if err != nil {
				d.pub.Emit(core.Event{Addr: d.addr, Err: string(errcode.MapDriverErr(err))})
				return
			}
			d.emitValue(lvl)
		})
	}()
}

// stopRamp cancels the active ramp and returns once its goroutine has exited,
// so no ramp step lands after the caller's own write. d.mu must not be held.
func (d *Device) stopRamp() {
	d.mu.Lock()
	cxl, done := d.rampCxl, d.rampDone
	d.rampCxl, d.rampDone = nil, nil
	d.mu.Unlock()
	if cxl == nil {
		return
	}
	close(cxl)
	<-done
}

func (d *Device) emitValue(level uint32) {
	d.pub.Emit(core.Event{
		Addr:    d.addr,
		Payload: types.PWMValue{Duty: level}, // publish logical
		TS:      timex.NowNs(),
	})
}
