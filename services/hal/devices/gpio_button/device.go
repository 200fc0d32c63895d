package gpio_button

import (
	"context"
	"time"

	"pwmlight-go/errcode"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/types"
)

type Device struct {
	id          string
	pinN        int
	gpio        core.GPIOHandle
	activeLevel bool

	pub core.EventEmitter
	reg core.ResourceRegistry
	a   core.CapAddr

	debounce time.Duration
	es       core.GPIOEdgeStream
	done     chan struct{}
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	active := 0
	if d.activeLevel {
		active = 1
	}
	return []core.CapabilitySpec{{
		Domain: d.a.Domain,
		Kind:   types.KindButton,
		Name:   d.a.Name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "gpio_button",
			Detail:        types.ButtonInfo{Pin: d.pinN, ActiveLevel: active},
		},
	}}
}

func (d *Device) Init(ctx context.Context) error {
	pressed := d.pressed(d.gpio.Get())
	d.pub.Emit(core.Event{Addr: d.a, Payload: types.ButtonValue{Pressed: pressed}})

	es, err := d.reg.SubscribeGPIOEdges(d.id, d.pinN, core.EdgeBoth, d.debounce, 8)
	if err != nil {
		d.pub.Emit(core.Event{Addr: d.a, Err: "edge_sub_failed"})
		return err
	}
	d.es = es
	d.done = make(chan struct{})
	go d.edgeLoop(pressed)
	return nil
}

func (d *Device) Close() error {
	if d.es != nil {
		d.es.Close()
		d.reg.UnsubscribeGPIOEdges(d.id, d.pinN)
		<-d.done
		d.es = nil
	}
	d.reg.ReleasePin(d.id, d.pinN)
	return nil
}

func (d *Device) Control(_ core.CapAddr, verb string, _ any) (core.EnqueueResult, error) {
	switch verb {
	case "read":
		pressed := d.pressed(d.gpio.Get())
		d.pub.Emit(core.Event{Addr: d.a, Payload: types.ButtonValue{Pressed: pressed}})
		return core.EnqueueResult{OK: true}, nil
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

// edgeLoop turns raw edges into pressed/released events. A release carries
// how long the button was held so listeners can tell short and long presses apart.
func (d *Device) edgeLoop(wasPressed bool) {
	defer close(d.done)
	var since time.Time
	if wasPressed {
		since = time.Now()
	}
	for ev := range d.es.Events() {
		pressed := d.pressed(ev.Level)
		if pressed == wasPressed {
			continue
		}
		wasPressed = pressed
		ts := ev.TS.UnixNano()
		if pressed {
			since = ev.TS
			d.pub.Emit(core.Event{Addr: d.a, IsEvent: true, EventTag: "pressed", Payload: types.ButtonEvent{TS: ts}, TS: ts})
		} else {
			var held uint32
			if !since.IsZero() {
				held = uint32(ev.TS.Sub(since) / time.Millisecond)
			}
			d.pub.Emit(core.Event{Addr: d.a, IsEvent: true, EventTag: "released", Payload: types.ButtonEvent{HeldMs: held, TS: ts}, TS: ts})
		}
		d.pub.Emit(core.Event{Addr: d.a, Payload: types.ButtonValue{Pressed: pressed}, TS: ts})
	}
}

func (d *Device) pressed(level bool) bool {
	return level == d.activeLevel
}
