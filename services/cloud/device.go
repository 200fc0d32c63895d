package cloud

import (
	"sync"

	"pwmlight-go/errcode"
)

// Standard device types.
const (
	DeviceTypeLightbulb = "esp.device.lightbulb"
	DeviceTypeOther     = "esp.device.other"
)

// WriteSource says where a parameter write came from.
type WriteSource string

const (
	SrcInit  WriteSource = "init"
	SrcCloud WriteSource = "cloud"
	SrcLocal WriteSource = "local"
)

type WriteContext struct {
	Src WriteSource
}

// WriteHandler applies a parameter write to the device. It is expected to
// echo the accepted value with Device.UpdateAndReport; the framework does not
// echo on its own.
type WriteHandler interface {
	OnWrite(dev *Device, p *Param, v Value, wctx WriteContext) error
}

// WriteHandlerFunc adapts a function to WriteHandler.
type WriteHandlerFunc func(dev *Device, p *Param, v Value, wctx WriteContext) error

func (f WriteHandlerFunc) OnWrite(dev *Device, p *Param, v Value, wctx WriteContext) error {
	return f(dev, p, v, wctx)
}

// reporter receives every UpdateAndReport once the device belongs to a
// running node.
type reporter func(dev, param string, v Value)

// Device is a named set of parameters on a node.
type Device struct {
	Name    string
	Type    string
	handler WriteHandler

	mu      sync.Mutex
	primary string
	params  []*Param
	report  reporter
}

func NewDevice(name, typ string, h WriteHandler) *Device {
	return &Device{Name: name, Type: typ, handler: h}
}

// AddParam appends p; names are unique within a device.
func (d *Device) AddParam(p *Param) error {
	if p == nil || p.Name == "" {
		return errcode.InvalidParams
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, q := range d.params {
		if q.Name == p.Name {
			return errcode.Duplicate
		}
	}
	d.params = append(d.params, p)
	return nil
}

// AssignPrimary marks the parameter shown first by clients.
func (d *Device) AssignPrimary(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.find(name) == nil {
		return errcode.UnknownParam
	}
	d.primary = name
	return nil
}

// Param returns the named parameter or nil.
func (d *Device) Param(name string) *Param {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.find(name)
}

// Value returns the stored value of a parameter.
func (d *Device) Value(name string) (Value, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.find(name)
	if p == nil {
		return Value{}, false
	}
	return p.value(), true
}

// Update stores v without reporting it.
func (d *Device) Update(name string, v Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.store(name, v)
	return err
}

// UpdateAndReport stores v and pushes it upstream.
func (d *Device) UpdateAndReport(name string, v Value) error {
	d.mu.Lock()
	p, err := d.store(name, v)
	rep := d.report
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if rep != nil {
		rep(d.Name, p.Name, v)
	}
	return nil
}

// caller holds d.mu
func (d *Device) store(name string, v Value) (*Param, error) {
	p := d.find(name)
	if p == nil {
		return nil, errcode.UnknownParam
	}
	cv, err := Coerce(p.DataType, v)
	if err != nil {
		return nil, err
	}
	p.val = cv
	return p, nil
}

// caller holds d.mu
func (d *Device) find(name string) *Param {
	for _, p := range d.params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (d *Device) attach(r reporter) {
	d.mu.Lock()
	d.report = r
	d.mu.Unlock()
}

func (d *Device) config() DeviceConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	dc := DeviceConfig{Name: d.Name, Type: d.Type, Primary: d.primary}
	for _, p := range d.params {
		dc.Params = append(dc.Params, p.config())
	}
	return dc
}

func (d *Device) values() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]any, len(d.params))
	for _, p := range d.params {
		out[p.Name] = p.val.Any()
	}
	return out
}
