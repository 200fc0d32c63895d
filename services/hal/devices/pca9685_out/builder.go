package pca9685_out

import (
	"cmp"
	"context"

	"pwmlight-go/drivers/pca9685"
	"pwmlight-go/errcode"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/types"
)

func init() { core.RegisterBuilder("pca9685_out", builder{}) }

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := core.Params[types.PCA9685OutParams](in.Params)
	if err != nil {
		return nil, err
	}
	if p.Bus == "" || p.Channel >= pca9685.Channels {
		return nil, errcode.InvalidParams
	}
	if p.FreqHz == 0 {
		p.FreqHz = 1000
	}
	if _, err := pca9685.Prescale(p.FreqHz); err != nil {
		return nil, errcode.InvalidParams
	}
	i2c, err := in.Res.Reg.ClaimI2C(in.ID, p.Bus)
	if err != nil {
		return nil, err
	}
	return &Device{
		id:   in.ID,
		p:    p,
		chip: pca9685.New(i2c, p.Addr),
		pub:  in.Res.Pub,
		reg:  in.Res.Reg,
		addr: core.CapAddr{Domain: cmp.Or(p.Domain, "io"), Kind: types.KindPWM, Name: cmp.Or(p.Name, in.ID)},
	}, nil
}
