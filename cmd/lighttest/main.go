// Command lighttest is a bring-up check for a board profile: it runs only the
// HAL, fades the light output up and down and logs button edges.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"pwmlight-go/bus"
	"pwmlight-go/services/boot"
	"pwmlight-go/services/config"
	"pwmlight-go/services/hal"
	"pwmlight-go/types"
)

const (
	board           = "pico"
	halReadyTimeout = 5 * time.Second

	fadeUp    = 1500 * time.Millisecond
	fadeDown  = 1500 * time.Millisecond
	dwellUp   = 2 * time.Second
	dwellDown = 2 * time.Second
	fadeSteps = 50

	// 0 loops forever.
	cyclesToRun = 0
)

func tRamp() bus.Topic {
	return hal.CapCtrl("io", types.KindPWM, config.LightCap, "ramp")
}

func tButton() bus.Topic {
	return hal.CapEvent("io", types.KindButton, config.ButtonCap, "#")
}

func waitHALReady(c *bus.Connection, d time.Duration) bool {
	sub := c.Subscribe(hal.State())
	defer c.Unsubscribe(sub)

	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case m := <-sub.Channel():
			if st, ok := m.Payload.(types.HALState); ok && st.Level == "ready" {
				return true
			}
		case <-t.C:
			return false
		}
	}
}

func fade(ctx context.Context, ui *bus.Connection, to uint32, d time.Duration) error {
	msg := ui.NewMessage(tRamp(), types.PWMRamp{To: to, DurationMs: uint32(d / time.Millisecond), Steps: fadeSteps}, false)
	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	reply, err := ui.RequestWait(rctx, msg)
	if err != nil {
		return err
	}
	if er, ok := reply.Payload.(types.ErrorReply); ok && !er.OK {
		return errors.New(er.Error)
	}
	return nil
}

func main() {
	// Allow USB CDC to enumerate before we log.
	time.Sleep(2 * time.Second)

	p, err := config.Load(board, "")
	if err != nil {
		println("config:", err.Error())
		return
	}
	boot.SetupLogging(os.Stdout, "debug", p.Log.Format, false)
	maxDuty := p.LightConfig().MaxDuty

	ctx := context.Background()
	b := bus.NewBus(8)
	ui := b.NewConnection("ui")

	go func() {
		opts := hal.Options{Platform: hal.Platform(p.Platform), Plan: p.Plan, GPIOChip: p.GPIOChip, PWMChip: p.PWMChip}
		if err := hal.Run(ctx, b.NewConnection("hal"), opts); err != nil {
			log.Error().Err(err).Msg("hal failed")
		}
	}()
	ui.Publish(ui.NewMessage(bus.T("config", "hal"), p.HALConfig(), true))

	if !waitHALReady(ui, halReadyTimeout) {
		log.Error().Dur("timeout", halReadyTimeout).Msg("hal not ready")
		return
	}
	log.Info().Str("board", p.Board).Uint32("max_duty", maxDuty).Msg("hal ready")

	btn := ui.Subscribe(tButton())
	go func() {
		for m := range btn.Channel() {
			ev, _ := m.Payload.(types.ButtonEvent)
			log.Info().Stringer("topic", m.Topic).Uint32("held_ms", ev.HeldMs).Msg("button")
		}
	}()

	for cycle := 1; cyclesToRun == 0 || cycle <= cyclesToRun; cycle++ {
		log.Info().Int("cycle", cycle).Msg("fade up")
		if err := fade(ctx, ui, maxDuty, fadeUp); err != nil {
			log.Error().Err(err).Msg("ramp up failed")
		}
		time.Sleep(fadeUp + dwellUp)

		log.Info().Int("cycle", cycle).Msg("fade down")
		if err := fade(ctx, ui, 0, fadeDown); err != nil {
			log.Error().Err(err).Msg("ramp down failed")
		}
		time.Sleep(fadeDown + dwellDown)
	}
}
