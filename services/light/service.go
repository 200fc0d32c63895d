package light

import (
	"cmp"
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pwmlight-go/bus"
	"pwmlight-go/errcode"
	"pwmlight-go/services/cloud"
	"pwmlight-go/services/hal"
	"pwmlight-go/types"
)

var (
	topicConfigLight = bus.T("config", "light")
	topicState       = bus.T("light", "state")
)

// infoWait bounds how long setup waits for the PWM capability to appear.
const infoWait = 5 * time.Second

// Backoff between initial apply attempts while the HAL is not serving the
// PWM capability yet.
const (
	initRetryMin = 50 * time.Millisecond
	initRetryMax = time.Second
)

// Service binds one HAL PWM capability to a cloud light device and, when
// configured, toggles power on short presses of a HAL button.
type Service struct {
	node *cloud.Node
	log  zerolog.Logger

	cfg    types.LightConfig
	driver *Driver
	dev    *cloud.Device
	conn   *bus.Connection

	pubMu sync.Mutex // afterApply runs on the cloud and light goroutines
	volts float64
}

func New(node *cloud.Node) *Service {
	return &Service{node: node, log: log.With().Str("svc", "light").Logger()}
}

// Driver is nil until the first config/light has been applied.
func (s *Service) Driver() *Driver { return s.driver }

func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	s.conn = conn
	cfgSub := conn.Subscribe(topicConfigLight)
	defer conn.Unsubscribe(cfgSub)

	var btn <-chan *bus.Message
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("light service stopping")
			return

		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.LightConfig)
			if !ok {
				s.log.Warn().Msgf("ignoring config payload of type %T", msg.Payload)
				continue
			}
			if s.driver != nil {
				// The cloud device schema is fixed once registered.
				s.log.Warn().Msg("light already configured; ignoring new config")
				continue
			}
			var sub *bus.Subscription
			if cfg.Button != "" {
				sub = conn.Subscribe(hal.CapEvent("io", types.KindButton, cfg.Button, "released"))
			}
			if err := s.setup(ctx, cfg); err != nil {
				s.log.Error().Err(err).Msg("light setup failed")
				if sub != nil {
					conn.Unsubscribe(sub)
				}
				continue
			}
			if sub != nil {
				defer conn.Unsubscribe(sub)
				btn = sub.Channel()
			}

		case msg := <-btn:
			ev, ok := msg.Payload.(types.ButtonEvent)
			if !ok {
				continue
			}
			s.onRelease(ev)
		}
	}
}

// initOutput applies the default state, retrying for as long as the HAL is
// still coming up. Other errors, and ctx ending, stop the retries.
func (s *Service) initOutput(ctx context.Context) error {
	err := s.driver.Init()
	backoff := initRetryMin
	for attempt := 1; err != nil && initRetryable(err); attempt++ {
		s.log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("output not ready; retrying")
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, initRetryMax)
		// Reapply keeps any state a cloud write stored meanwhile.
		err = s.driver.Reapply()
	}
	return err
}

func initRetryable(err error) bool {
	switch errcode.Of(err) {
	case errcode.Timeout, errcode.HALNotReady, errcode.UnknownCapability, errcode.Busy:
		return true
	}
	return false
}

// setup builds the driver and the cloud device, applies the default state and
// reports the initial values.
func (s *Service) setup(ctx context.Context, cfg types.LightConfig) error {
	if cfg.PWM == "" {
		return errcode.InvalidParams
	}
	if cfg.MaxDuty == 0 {
		max, err := s.waitMaxDuty(ctx, cfg.PWM)
		if err != nil {
			return err
		}
		cfg.MaxDuty = max
	}
	s.cfg = cfg

	def := Defaults{
		Power:      cfg.DefaultPower,
		Brightness: cfg.DefaultBrightness,
		Hue:        cfg.DefaultHue,
		Saturation: cfg.DefaultSaturation,
	}
	s.driver = NewDriver(NewHALOutput(s.conn, cfg.PWM, 0), cfg.MaxDuty, def)
	s.dev = s.buildDevice(cfg)
	if err := s.node.AddDevice(s.dev); err != nil {
		s.driver, s.dev = nil, nil
		return err
	}
	if err := s.initOutput(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The device stays registered; writes will retry the output.
		s.log.Error().Err(err).Msg("initial apply failed")
	}
	s.log.Info().
		Str("device", s.dev.Name).
		Str("profile", string(cfg.Profile)).
		Uint32("max_duty", cfg.MaxDuty).
		Uint32("duty", s.driver.Duty()).
		Msg("light ready")
	s.afterApply(true)
	return nil
}

// waitMaxDuty reads the retained capability info published by the HAL.
func (s *Service) waitMaxDuty(ctx context.Context, name string) (uint32, error) {
	sub := s.conn.Subscribe(hal.CapInfo("io", types.KindPWM, name))
	defer s.conn.Unsubscribe(sub)
	t := time.NewTimer(infoWait)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.C:
			return 0, errcode.Wrap(errcode.Timeout, "light.waitMaxDuty", errcode.UnknownCapability)
		case m := <-sub.Channel():
			info, ok := m.Payload.(types.Info)
			if !ok {
				continue
			}
			if pi, ok := info.Detail.(types.PWMInfo); ok && pi.MaxDuty > 0 {
				return pi.MaxDuty, nil
			}
		}
	}
}

func (s *Service) buildDevice(cfg types.LightConfig) *cloud.Device {
	d := s.driver
	name := cmp.Or(cfg.Device, "PWM Light")
	var dev *cloud.Device
	params := []*cloud.Param{
		cloud.NewNameParam(name),
		cloud.NewPowerParam(d.Power()),
		cloud.NewBrightnessParam(d.Brightness()),
	}
	switch cfg.Profile {
	case types.ProfileVoltage:
		dev = cloud.NewDevice(name, cloud.DeviceTypeOther, s)
		params = append(params, cloud.NewVoltageParam(0))
	default:
		dev = cloud.NewDevice(name, cloud.DeviceTypeLightbulb, s)
		params = append(params, cloud.NewHueParam(d.Hue()), cloud.NewSaturationParam(d.Saturation()))
	}
	for _, p := range params {
		_ = dev.AddParam(p)
	}
	_ = dev.AssignPrimary(cloud.PowerParam)
	return dev
}

// OnWrite applies a cloud write to the driver and echoes the stored value,
// also when the output fails and the error goes back to the writer.
func (s *Service) OnWrite(dev *cloud.Device, p *cloud.Param, v cloud.Value, wctx cloud.WriteContext) error {
	var err error
	echo := v
	switch p.Name {
	case cloud.PowerParam:
		err = s.driver.SetState(v.Bool())
		echo = cloud.Bool(s.driver.Power())
	case cloud.BrightnessParam:
		err = s.driver.SetBrightness(v.Int())
		echo = cloud.Int(s.driver.Brightness())
	case cloud.HueParam:
		s.driver.SetHue(v.Int())
	case cloud.SaturationParam:
		s.driver.SetSaturation(v.Int())
	case cloud.NameParam:
	default:
		return errcode.UnknownParam
	}
	if err != nil {
		// The driver keeps the new value even when the output rejected it;
		// echo it anyway so the cloud matches what the next apply will write.
		s.log.Error().Err(err).Str("param", p.Name).Msg("apply failed")
	}
	if rerr := dev.UpdateAndReport(p.Name, echo); rerr != nil && err == nil {
		err = rerr
	}
	s.afterApply(false)
	return err
}

// onRelease toggles power on a short press; long presses belong to reset.
func (s *Service) onRelease(ev types.ButtonEvent) {
	if s.cfg.LongPressMs > 0 && ev.HeldMs >= s.cfg.LongPressMs {
		s.log.Debug().Uint32("held_ms", ev.HeldMs).Msg("long press ignored")
		return
	}
	on, err := s.driver.Toggle()
	if err != nil {
		s.log.Error().Err(err).Msg("toggle failed")
	}
	s.log.Info().Bool("power", on).Msg("button toggled power")
	if err := s.dev.UpdateAndReport(cloud.PowerParam, cloud.Bool(on)); err != nil {
		s.log.Warn().Err(err).Msg("power report failed")
	}
	s.afterApply(false)
}

// afterApply publishes the light state and, on the voltage profile, reports
// the output voltage when it changed.
func (s *Service) afterApply(force bool) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	st := s.driver.State()
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))

	if s.cfg.Profile != types.ProfileVoltage || s.cfg.SupplyMv == 0 {
		return
	}
	v := Volts(st.Duty, s.driver.MaxDuty(), s.cfg.SupplyMv)
	if !force && v == s.volts {
		return
	}
	s.volts = v
	if err := s.dev.UpdateAndReport(cloud.VoltageParam, cloud.Float(v)); err != nil {
		s.log.Warn().Err(err).Msg("voltage report failed")
	}
}

// Volts is the mean output voltage for duty out of maxDuty on a supply of
// supplyMv, rounded to two decimals.
func Volts(duty, maxDuty, supplyMv uint32) float64 {
	if maxDuty == 0 {
		return 0
	}
	v := float64(duty) / float64(maxDuty) * float64(supplyMv) / 1000
	return math.Round(v*100) / 100
}
