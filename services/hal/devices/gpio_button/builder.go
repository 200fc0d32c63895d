package gpio_button

import (
	"cmp"
	"context"
	"time"

	"pwmlight-go/errcode"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/types"
	"pwmlight-go/x/timex"
)

func init() { core.RegisterBuilder("gpio_button", builder{}) }

const defaultDebounce = 30 * time.Millisecond

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := core.Params[types.ButtonParams](in.Params)
	if err != nil {
		return nil, err
	}
	if p.Pin < 0 || p.Name == "" {
		return nil, errcode.InvalidParams
	}
	if p.ActiveLevel != 0 && p.ActiveLevel != 1 {
		return nil, errcode.InvalidParams
	}

	ph, err := in.Res.Reg.ClaimPin(in.ID, p.Pin, core.FuncGPIOIn)
	if err != nil {
		return nil, err
	}
	gpio := ph.AsGPIO()
	pull := core.PullNone
	switch p.Pull {
	case "up":
		pull = core.PullUp
	case "down":
		pull = core.PullDown
	case "", "none":
		// An active-low button with no explicit pull gets a pull-up.
		if p.Pull == "" && p.ActiveLevel == 0 {
			pull = core.PullUp
		}
	default:
		in.Res.Reg.ReleasePin(in.ID, p.Pin)
		return nil, errcode.InvalidParams
	}
	if err := gpio.ConfigureInput(pull); err != nil {
		in.Res.Reg.ReleasePin(in.ID, p.Pin)
		return nil, err
	}
	return &Device{
		id:          in.ID,
		pinN:        p.Pin,
		gpio:        gpio,
		activeLevel: p.ActiveLevel == 1,
		pub:         in.Res.Pub,
		reg:         in.Res.Reg,
		a:           core.CapAddr{Domain: cmp.Or(p.Domain, "io"), Kind: types.KindButton, Name: p.Name},
		debounce:    timex.MsOr(int(p.DebounceMs), defaultDebounce),
	}, nil
}
