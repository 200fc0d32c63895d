// services/hal/devices/pwm_out/builder.go
package pwm_out

import (
	"cmp"
	"context"

	"pwmlight-go/errcode"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/types"
)

func init() { core.RegisterBuilder("pwm_out", builder{}) }

const (
	defaultResolutionBits = 10
	defaultFreqHz         = 1000
	maxResolutionBits     = 20
)

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := core.Params[types.PWMOutParams](in.Params)
	if err != nil {
		return nil, err
	}
	if p.Pin < 0 {
		return nil, errcode.InvalidParams
	}
	if p.ResolutionBits == 0 {
		p.ResolutionBits = defaultResolutionBits
	}
	if p.ResolutionBits > maxResolutionBits {
		return nil, errcode.InvalidParams
	}
	if p.FreqHz == 0 {
		p.FreqHz = defaultFreqHz
	}
	ph, err := in.Res.Reg.ClaimPin(in.ID, p.Pin, core.FuncPWM)
	if err != nil {
		return nil, err
	}
	return &Device{
		id:   in.ID,
		p:    p,
		pwm:  ph.AsPWM(),
		pub:  in.Res.Pub,
		reg:  in.Res.Reg,
		addr: core.CapAddr{Domain: cmp.Or(p.Domain, "io"), Kind: types.KindPWM, Name: cmp.Or(p.Name, in.ID)},
	}, nil
}
