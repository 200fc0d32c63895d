package core

import (
	"cmp"
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pwmlight-go/bus"
	"pwmlight-go/errcode"
	"pwmlight-go/types"
	"pwmlight-go/x/timex"
)

const eventQueueLen = 16

type capKey struct {
	domain string
	kind   string
	name   string
}

type HAL struct {
	conn *bus.Connection
	res  Resources
	log  zerolog.Logger

	// Device registry
	dev map[string]Device // devID -> device

	// Capability index: (domain,kind,name) -> devID
	capIndex map[capKey]string

	// Single-threaded publication of device events
	evCh chan Event
}

func NewHAL(conn *bus.Connection, reg ResourceRegistry) *HAL {
	h := &HAL{
		conn:     conn,
		res:      Resources{Reg: reg},
		log:      log.With().Str("svc", "hal").Logger(),
		dev:      map[string]Device{},
		capIndex: map[capKey]string{},
		evCh:     make(chan Event, eventQueueLen),
	}
	// HAL provides the emitter to devices.
	h.res.Pub = h
	return h
}

func (h *HAL) Run(ctx context.Context) {
	cfgSub := h.conn.Subscribe(topicConfigHAL())
	ctrlSub := h.conn.Subscribe(ctrlWildcard())
	defer h.conn.Unsubscribe(cfgSub)
	defer h.conn.Unsubscribe(ctrlSub)
	defer h.closeAll()

	h.pubHALState("idle", "awaiting_config")
	ready := false
	for {
		select {
		case <-ctx.Done():
			h.pubHALState("stopped", "context_cancelled")
			return
		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.HALConfig)
			if !ok {
				h.log.Warn().Msgf("ignoring config payload of type %T", msg.Payload)
				continue
			}
			// applyConfig is additive/idempotent for existing devices.
			h.applyConfig(ctx, cfg)
			if !ready {
				ready = true
				h.pubHALState("ready", "configured")
			}
		case m := <-ctrlSub.Channel():
			if !ready {
				h.replyErr(m, errcode.HALNotReady)
				continue
			}
			h.handleControl(m)
		case ev := <-h.evCh:
			// All device→HAL telemetry is published from this goroutine.
			h.handleEvent(ev)
		}
	}
}

func (h *HAL) applyConfig(ctx context.Context, cfg types.HALConfig) {
	for i := range cfg.Devices {
		dc := cfg.Devices[i]
		if _, exists := h.dev[dc.ID]; exists {
			continue
		}
		b, ok := lookupBuilder(dc.Type)
		if !ok {
			h.log.Error().Str("id", dc.ID).Str("type", dc.Type).Strs("known", BuilderTypes()).Msg("no builder for device type")
			continue
		}
		dev, err := b.Build(ctx, BuilderInput{ID: dc.ID, Type: dc.Type, Params: dc.Params, Res: h.res})
		if err != nil {
			h.log.Error().Err(err).Str("id", dc.ID).Msg("build failed")
			continue
		}

		// Register capabilities before Init so that initial values are routable.
		for _, cs := range dev.Capabilities() {
			k := string(cs.Kind)
			domain := cmp.Or(cs.Domain, defaultDomainFor(k))
			name := cmp.Or(cs.Name, dev.ID())
			h.capIndex[capKey{domain: domain, kind: k, name: name}] = dev.ID()

			h.conn.Publish(h.conn.NewMessage(CapInfo(domain, k, name), cs.Info, true))
			h.conn.Publish(h.conn.NewMessage(
				CapStatus(domain, k, name),
				types.CapabilityStatus{Link: types.LinkDown, TS: timex.NowNs()},
				true,
			))
		}

		if err := dev.Init(ctx); err != nil {
			h.log.Error().Err(err).Str("id", dc.ID).Msg("init failed")
			_ = dev.Close()
			h.dropCaps(dev.ID())
			continue
		}
		h.dev[dev.ID()] = dev
		h.log.Info().Str("id", dc.ID).Str("type", dc.Type).Msg("device ready")
	}
}

func (h *HAL) dropCaps(devID string) {
	for k, owner := range h.capIndex {
		if owner == devID {
			delete(h.capIndex, k)
		}
	}
}

func (h *HAL) closeAll() {
	for id, d := range h.dev {
		if err := d.Close(); err != nil {
			h.log.Warn().Err(err).Str("id", id).Msg("close failed")
		}
	}
}

func (h *HAL) handleControl(msg *bus.Message) {
	// hal/cap/<domain>/<kind>/<name>/control/<verb>
	if msg.Topic.Len() < 7 {
		h.replyErr(msg, errcode.InvalidTopic)
		return
	}
	domain, _ := msg.Topic.At(2).(string)
	kind, _ := msg.Topic.At(3).(string)
	name, _ := msg.Topic.At(4).(string)
	verb, _ := msg.Topic.At(6).(string)

	ownerID, ok := h.capIndex[capKey{domain: domain, kind: kind, name: name}]
	if !ok {
		h.replyErr(msg, errcode.UnknownCapability)
		return
	}
	dev := h.dev[ownerID]
	if dev == nil {
		h.replyErr(msg, errcode.Error)
		return
	}

	res, err := dev.Control(CapAddr{Domain: domain, Kind: types.Kind(kind), Name: name}, verb, msg.Payload)
	if err != nil {
		h.replyFromError(msg, err)
		return
	}
	if res.OK {
		h.replyOK(msg)
		return
	}
	code := res.Error
	if code == "" {
		code = errcode.Busy
	}
	h.replyErr(msg, code)
}

func (h *HAL) handleEvent(ev Event) {
	d := ev.Addr.Domain
	k := string(ev.Addr.Kind)
	n := ev.Addr.Name
	ts := ev.TS
	if ts == 0 {
		ts = timex.NowNs()
	}

	// 1) Error → retained status:degraded; no value/event published.
	if ev.Err != "" {
		h.conn.Publish(h.conn.NewMessage(
			CapStatus(d, k, n),
			types.CapabilityStatus{Link: types.LinkDegraded, TS: ts, Error: ev.Err},
			true,
		))
		return
	}

	// 2) Success: event vs value
	if ev.IsEvent {
		if ev.EventTag != "" {
			h.conn.Publish(h.conn.NewMessage(CapEventTagged(d, k, n, ev.EventTag), ev.Payload, false))
		} else {
			h.conn.Publish(h.conn.NewMessage(CapEvent(d, k, n), ev.Payload, false))
		}
	} else {
		h.conn.Publish(h.conn.NewMessage(CapValue(d, k, n), ev.Payload, true))
	}
	h.conn.Publish(h.conn.NewMessage(
		CapStatus(d, k, n),
		types.CapabilityStatus{Link: types.LinkUp, TS: ts},
		true,
	))
}

func (h *HAL) pubHALState(level, status string) {
	h.conn.Publish(h.conn.NewMessage(
		topicState(),
		types.HALState{Level: level, Status: status, TS: timex.NowNs()},
		true,
	))
}

func defaultDomainFor(kind string) string {
	switch kind {
	case "led", "pwm", "button":
		return "io"
	case "switch":
		return "power"
	default:
		return "io"
	}
}

// ---- HAL as EventEmitter (enqueue to single publisher) ----

func (h *HAL) Emit(ev Event) bool {
	select {
	case h.evCh <- ev:
		return true
	default:
		return false
	}
}

// ---- Replies ----

func (h *HAL) replyOK(m *bus.Message) {
	if m.CanReply() {
		h.conn.Reply(m, types.OKReply{OK: true}, false)
	}
}

func (h *HAL) replyErr(m *bus.Message, code errcode.Code) {
	if code == "" {
		code = errcode.Error
	}
	h.log.Debug().Stringer("topic", m.Topic).Str("code", string(code)).Msg("control rejected")
	if m.CanReply() {
		h.conn.Reply(m, types.ErrorReply{OK: false, Error: string(code)}, false)
	}
}

func (h *HAL) replyFromError(m *bus.Message, err error) {
	h.replyErr(m, errcode.Of(err))
}
