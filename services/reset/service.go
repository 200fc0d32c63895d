// Package reset turns a long press of the configured button into a factory
// reset: the NVS partition is wiped and a reboot is requested.
package reset

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pwmlight-go/bus"
	"pwmlight-go/services/hal"
	"pwmlight-go/services/nvs"
	"pwmlight-go/types"
)

// DefaultFactoryResetMs applies when config/reset leaves the hold time unset.
const DefaultFactoryResetMs = 10000

var (
	topicConfigReset = bus.T("config", "reset")
	topicReboot      = bus.T("system", "reboot")
)

// TopicReboot is where reboot requests are published.
func TopicReboot() bus.Topic { return topicReboot }

type Service struct {
	store nvs.Store
	log   zerolog.Logger
}

func New(store nvs.Store) *Service {
	return &Service{store: store, log: log.With().Str("svc", "reset").Logger()}
}

func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigReset)
	defer conn.Unsubscribe(cfgSub)

	var (
		btnSub *bus.Subscription
		btn    <-chan *bus.Message
		holdMs uint32 = DefaultFactoryResetMs
	)
	defer func() {
		if btnSub != nil {
			conn.Unsubscribe(btnSub)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.ResetConfig)
			if !ok {
				s.log.Warn().Msgf("ignoring config payload of type %T", msg.Payload)
				continue
			}
			if btnSub != nil {
				conn.Unsubscribe(btnSub)
				btnSub, btn = nil, nil
			}
			holdMs = cfg.FactoryResetMs
			if holdMs == 0 {
				holdMs = DefaultFactoryResetMs
			}
			if cfg.Button == "" {
				s.log.Info().Msg("factory reset disabled")
				continue
			}
			btnSub = conn.Subscribe(hal.CapEvent("io", types.KindButton, cfg.Button, "released"))
			btn = btnSub.Channel()
			s.log.Info().Str("button", cfg.Button).Uint32("hold_ms", holdMs).Msg("factory reset armed")

		case msg := <-btn:
			ev, ok := msg.Payload.(types.ButtonEvent)
			if !ok || ev.HeldMs < holdMs {
				continue
			}
			s.factoryReset(conn, ev.HeldMs)
		}
	}
}

func (s *Service) factoryReset(conn *bus.Connection, heldMs uint32) {
	s.log.Warn().Uint32("held_ms", heldMs).Msg("factory reset")
	if s.store != nil {
		if err := s.store.EraseAll(); err != nil {
			s.log.Error().Err(err).Msg("nvs erase failed")
		}
	}
	conn.Publish(conn.NewMessage(topicReboot, types.RebootRequest{Reason: "factory_reset"}, false))
}
