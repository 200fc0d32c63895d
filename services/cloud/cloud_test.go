package cloud

import (
	"context"
	"errors"
	"testing"
	"time"

	"pwmlight-go/bus"
	"pwmlight-go/errcode"
	"pwmlight-go/types"
)

func recvWithin(t *testing.T, ch <-chan *bus.Message, d time.Duration) *bus.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(d):
		t.Fatalf("timeout after %v", d)
	}
	return nil
}

// echoHandler stores accepted values and echoes them like a real device.
type echoHandler struct {
	writes []WriteContext
	err    error
}

func (h *echoHandler) OnWrite(dev *Device, p *Param, v Value, wctx WriteContext) error {
	h.writes = append(h.writes, wctx)
	if h.err != nil {
		return h.err
	}
	return dev.UpdateAndReport(p.Name, v)
}

func newLightNode(t *testing.T, h WriteHandler) (*Node, *Device) {
	t.Helper()
	n, err := NewNode("node-1", "PlantWateringDevice", "Light")
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	d := NewDevice("PWM Light", DeviceTypeLightbulb, h)
	for _, p := range []*Param{NewNameParam("PWM Light"), NewPowerParam(true), NewBrightnessParam(25), NewVoltageParam(0)} {
		if err := d.AddParam(p); err != nil {
			t.Fatalf("AddParam %s: %v", p.Name, err)
		}
	}
	if err := d.AssignPrimary(PowerParam); err != nil {
		t.Fatalf("AssignPrimary: %v", err)
	}
	if err := n.AddDevice(d); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	return n, d
}

func startService(t *testing.T, n *Node) *bus.Connection {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	b := bus.NewBus(16)
	c := b.NewConnection("test")
	state := c.Subscribe(TopicState())
	if err := New(n).Start(ctx, b.NewConnection("cloud")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	recvWithin(t, state.Channel(), time.Second)
	c.Unsubscribe(state)
	return c
}

func set(t *testing.T, c *bus.Connection, payload any) *bus.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := c.RequestWait(ctx, c.NewMessage(TopicSet("node-1"), payload, false))
	if err != nil {
		t.Fatalf("RequestWait: %v", err)
	}
	return r
}

func TestNewNodeRequiresNameAndType(t *testing.T) {
	if _, err := NewNode("id", "", "Light"); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("err=%v want %v", err, errcode.InvalidParams)
	}
	if _, err := NewNode("id", "n", ""); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("err=%v want %v", err, errcode.InvalidParams)
	}
}

func TestDuplicates(t *testing.T) {
	n, d := newLightNode(t, nil)
	if err := d.AddParam(NewPowerParam(false)); !errors.Is(err, errcode.Duplicate) {
		t.Fatalf("AddParam dup: %v", err)
	}
	if err := n.AddDevice(NewDevice("PWM Light", DeviceTypeOther, nil)); !errors.Is(err, errcode.Duplicate) {
		t.Fatalf("AddDevice dup: %v", err)
	}
}

func TestCoerce(t *testing.T) {
	if v, err := Coerce(TypeInt, float64(42)); err != nil || v.Int() != 42 {
		t.Fatalf("int from float64: %v %v", v, err)
	}
	if _, err := Coerce(TypeInt, 4.5); !errors.Is(err, errcode.InvalidPayload) {
		t.Fatalf("fractional int: %v", err)
	}
	if _, err := Coerce(TypeBool, "true"); !errors.Is(err, errcode.InvalidPayload) {
		t.Fatalf("bool from string: %v", err)
	}
	if v, err := Coerce(TypeFloat, 3); err != nil || v.Float() != 3 {
		t.Fatalf("float from int: %v %v", v, err)
	}
	if v, err := Coerce(TypeString, String("x")); err != nil || v.Str() != "x" {
		t.Fatalf("string from Value: %v %v", v, err)
	}
}

func TestConfigAndParamsRetained(t *testing.T) {
	n, _ := newLightNode(t, &echoHandler{})
	c := startService(t, n)

	cfgSub := c.Subscribe(TopicConfig("node-1"))
	cfg, ok := recvWithin(t, cfgSub.Channel(), time.Second).Payload.(NodeConfig)
	if !ok {
		t.Fatal("config payload is not NodeConfig")
	}
	if cfg.Info.Name != "PlantWateringDevice" || len(cfg.Devices) != 1 {
		t.Fatalf("config %+v", cfg)
	}
	dc := cfg.Devices[0]
	if dc.Primary != PowerParam || len(dc.Params) != 4 {
		t.Fatalf("device config %+v", dc)
	}
	if b := dc.Params[2].Bounds; b == nil || b.Max != 100 {
		t.Fatalf("brightness bounds %+v", b)
	}
	if props := dc.Params[3].Properties; len(props) != 1 || props[0] != "read" {
		t.Fatalf("voltage properties %v", props)
	}

	parSub := c.Subscribe(TopicParams("node-1"))
	params := recvWithin(t, parSub.Channel(), time.Second).Payload.(map[string]map[string]any)
	if params["PWM Light"][BrightnessParam] != 25 || params["PWM Light"][PowerParam] != true {
		t.Fatalf("params %v", params)
	}
}

func TestSetRoutesToHandlerAndReports(t *testing.T) {
	h := &echoHandler{}
	n, d := newLightNode(t, h)
	c := startService(t, n)
	rep := c.Subscribe(TopicReport("node-1"))

	// JSON numbers arrive as float64.
	r := set(t, c, map[string]any{"PWM Light": map[string]any{BrightnessParam: float64(60)}})
	if _, ok := r.Payload.(types.OKReply); !ok {
		t.Fatalf("reply %#v", r.Payload)
	}
	got := recvWithin(t, rep.Channel(), time.Second).Payload.(map[string]map[string]any)
	if got["PWM Light"][BrightnessParam] != 60 {
		t.Fatalf("report %v", got)
	}
	if v, _ := d.Value(BrightnessParam); v.Int() != 60 {
		t.Fatalf("stored %v", v)
	}
	if len(h.writes) != 1 || h.writes[0].Src != SrcCloud {
		t.Fatalf("writes %+v", h.writes)
	}
}

func TestSetFromJSONAndLocalSource(t *testing.T) {
	h := &echoHandler{}
	n, d := newLightNode(t, h)
	c := startService(t, n)

	set(t, c, []byte(`{"PWM Light":{"Power":false}}`))
	if v, _ := d.Value(PowerParam); v.Bool() {
		t.Fatal("power still on after JSON write")
	}

	set(t, c, SetRequest{Src: SrcLocal, Params: map[string]map[string]any{"PWM Light": {PowerParam: true}}})
	if h.writes[len(h.writes)-1].Src != SrcLocal {
		t.Fatalf("src=%s want local", h.writes[len(h.writes)-1].Src)
	}
}

func TestSetRejections(t *testing.T) {
	h := &echoHandler{}
	n, d := newLightNode(t, h)
	c := startService(t, n)

	cases := []struct {
		payload any
		want    errcode.Code
	}{
		{map[string]any{"Nope": map[string]any{PowerParam: true}}, errcode.UnknownDevice},
		{map[string]any{"PWM Light": map[string]any{"Colour": 1}}, errcode.UnknownParam},
		{map[string]any{"PWM Light": map[string]any{VoltageParam: 3.3}}, errcode.ReadOnlyParam},
		{map[string]any{"PWM Light": map[string]any{PowerParam: "on"}}, errcode.InvalidPayload},
		{"garbage", errcode.InvalidPayload},
	}
	for _, tc := range cases {
		r := set(t, c, tc.payload)
		er, ok := r.Payload.(types.ErrorReply)
		if !ok || er.Error != string(tc.want) {
			t.Fatalf("payload %v: reply %#v want %s", tc.payload, r.Payload, tc.want)
		}
	}
	if len(h.writes) != 0 {
		t.Fatalf("handler called for rejected writes: %+v", h.writes)
	}
	if v, _ := d.Value(PowerParam); !v.Bool() {
		t.Fatal("power changed by rejected write")
	}
}

func TestHandlerErrorIsNotEchoed(t *testing.T) {
	h := &echoHandler{err: errcode.Busy}
	n, d := newLightNode(t, h)
	c := startService(t, n)
	rep := c.Subscribe(TopicReport("node-1"))

	r := set(t, c, map[string]any{"PWM Light": map[string]any{BrightnessParam: 90}})
	if er, ok := r.Payload.(types.ErrorReply); !ok || er.Error != string(errcode.Busy) {
		t.Fatalf("reply %#v", r.Payload)
	}
	select {
	case m := <-rep.Channel():
		t.Fatalf("unexpected report %v", m.Payload)
	case <-time.After(30 * time.Millisecond):
	}
	if v, _ := d.Value(BrightnessParam); v.Int() != 25 {
		t.Fatalf("brightness=%d want 25", v.Int())
	}
}

func TestDeviceAddedAfterStartRepublishesConfig(t *testing.T) {
	n, _ := newLightNode(t, nil)
	c := startService(t, n)
	cfgSub := c.Subscribe(TopicConfig("node-1"))
	recvWithin(t, cfgSub.Channel(), time.Second)

	if err := n.AddDevice(NewDevice("Pump", DeviceTypeOther, nil)); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	cfg := recvWithin(t, cfgSub.Channel(), time.Second).Payload.(NodeConfig)
	if len(cfg.Devices) != 2 {
		t.Fatalf("devices=%d want 2", len(cfg.Devices))
	}
}
