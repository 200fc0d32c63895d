package core

import (
	"context"

	"pwmlight-go/errcode"
	"pwmlight-go/types"
)

// ---- Capability & device model ----

// CapAddr is the public address of a capability: hal/cap/<domain>/<kind>/<name>.
type CapAddr struct {
	Domain string
	Kind   types.Kind
	Name   string
}

type CapabilitySpec struct {
	Domain string
	Kind   types.Kind
	Name   string
	Info   types.Info
}

// EnqueueResult is the synchronous outcome of a control. Controls must not block
// the HAL loop; long work (ramps) is started and reported through events.
type EnqueueResult struct {
	OK    bool
	Error errcode.Code
}

type Device interface {
	ID() string
	Capabilities() []CapabilitySpec
	Init(ctx context.Context) error
	Control(addr CapAddr, verb string, payload any) (EnqueueResult, error)
	Close() error
}

// ---- Builders ----

type BuilderInput struct {
	ID, Type string
	Params   any
	Res      Resources
}

type Builder interface {
	Build(ctx context.Context, in BuilderInput) (Device, error)
}
