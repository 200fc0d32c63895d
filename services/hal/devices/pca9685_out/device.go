package pca9685_out

import (
	"context"

	"pwmlight-go/drivers/pca9685"
	"pwmlight-go/errcode"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/types"
	"pwmlight-go/x/timex"
)

// Device exposes one PCA9685 channel as a 12-bit PWM capability.
type Device struct {
	id   string
	p    types.PCA9685OutParams
	chip *pca9685.Device
	pub  core.EventEmitter
	reg  core.ResourceRegistry
	addr core.CapAddr

	level uint32
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{{
		Domain: d.addr.Domain,
		Kind:   types.KindPWM,
		Name:   d.addr.Name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "pca9685_out",
			Detail: types.PWMInfo{
				Pin:            -1,
				Channel:        d.p.Channel,
				ResolutionBits: 12,
				FreqHz:         d.p.FreqHz,
				MaxDuty:        pca9685.MaxDuty,
				ActiveLow:      d.p.ActiveLow,
			},
		},
	}}
}

func (d *Device) Init(ctx context.Context) error {
	if err := d.chip.Configure(d.p.FreqHz); err != nil {
		d.reg.ReleaseI2C(d.id, d.p.Bus)
		return err
	}
	if err := d.write(0); err != nil {
		d.reg.ReleaseI2C(d.id, d.p.Bus)
		return err
	}
	d.emitValue()
	return nil
}

func (d *Device) Close() error {
	err := d.write(0)
	d.reg.ReleaseI2C(d.id, d.p.Bus)
	return err
}

func (d *Device) Control(_ core.CapAddr, verb string, payload any) (core.EnqueueResult, error) {
	switch verb {
	case "set":
		p, code := core.As[types.PWMSet](payload)
		if code != "" {
			return core.EnqueueResult{OK: false, Error: code}, nil
		}
		if err := d.write(p.Duty); err != nil {
			d.pub.Emit(core.Event{Addr: d.addr, Err: string(errcode.MapDriverErr(err))})
			return core.EnqueueResult{}, err
		}
		d.emitValue()
		return core.EnqueueResult{OK: true}, nil
	case "read":
		d.emitValue()
		return core.EnqueueResult{OK: true}, nil
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

func (d *Device) write(logical uint32) error {
	logical = min(logical, pca9685.MaxDuty)
	phys := logical
	if d.p.ActiveLow {
		phys = pca9685.MaxDuty - logical
	}
	if err := d.chip.Set(d.p.Channel, uint16(phys)); err != nil {
		return err
	}
	d.level = logical
	return nil
}

func (d *Device) emitValue() {
	d.pub.Emit(core.Event{Addr: d.addr, Payload: types.PWMValue{Duty: d.level}, TS: timex.NowNs()})
}
