package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pwmlight-go/bus"
	"pwmlight-go/types"
	"pwmlight-go/x/timex"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("system", "heartbeat")
)

// TopicHeartbeat carries the retained types.Heartbeat.
func TopicHeartbeat() bus.Topic { return topicHeartbeat }

const defaultInterval = 10 * time.Second

type Service struct {
	log   zerolog.Logger
	start time.Time
}

func New() *Service {
	return &Service{log: log.With().Str("svc", "heartbeat").Logger()}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	s.start = time.Now()
	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("heartbeat service stopping")
			return
		case t := <-tick.C:
			up := int64(t.Sub(s.start) / time.Second)
			s.log.Debug().Int64("uptime_s", up).Msg("heartbeat")
			conn.Publish(conn.NewMessage(topicHeartbeat, types.Heartbeat{UptimeS: up, TS: timex.NowNs()}, true))
		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.HeartbeatConfig)
			if !ok || cfg.IntervalS <= 0 {
				s.log.Warn().Msgf("ignoring heartbeat config %v", msg.Payload)
				continue
			}
			tick.Reset(time.Duration(cfg.IntervalS) * time.Second)
			s.log.Info().Int("interval_s", cfg.IntervalS).Msg("heartbeat interval set")
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
