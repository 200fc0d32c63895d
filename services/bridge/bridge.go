// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"pwmlight-go/bus"
	"pwmlight-go/types"
	"pwmlight-go/x/timex"
)

const (
	defaultPing     = 5 * time.Second
	defaultUpRate   = 20 // frames per second
	defaultUpBurst  = 10
	backoffMin      = 250 * time.Millisecond
	backoffMax      = 5 * time.Second
	maxPendingPongs = 1
)

var (
	topicConfigBridge = bus.T("config", "bridge")
	topicState        = bus.T("bridge", "state")
	topicCloudAll     = bus.T("cloud", "#")
)

// TopicState carries the retained link state.
func TopicState() bus.Topic { return topicState }

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

// Service carries the local cloud/# topics over one framed link and injects
// parameter writes arriving from the far end.
type Service struct {
	conn *bus.Connection
	log  zerolog.Logger

	mu     sync.Mutex
	curRun context.CancelFunc
}

func New() *Service {
	return &Service{log: log.With().Str("svc", "bridge").Logger()}
}

// Start runs the service in its own goroutine. It listens for config on
// config/bridge and (re)configures the link.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.conn = conn
	go s.run(ctx)
	return nil
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigBridge)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg types.BridgeConfig) {
	s.mu.Lock()
	// Cancel any existing run.
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg types.BridgeConfig) {
	tr, err := newTransport(cfg)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(backoffMin, backoffMax)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.log.Info().Stringer("transport", tr).Msg("link established")
		s.publishState("up", "link_established", nil)
		err = s.handleLink(ctx, rwc, cfg)
		_ = rwc.Close()
		if err != nil {
			delay := backoff()
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("link lost")
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		// Clean close: restart only on new config.
		s.publishState("idle", "link_closed", nil)
		return
	}
}

var errRemoteClosed = errors.New("bridge: remote closed the link")

// handleLink owns the active link lifetime. Upstream frames are written only
// from this goroutine; the reader hands pings back through pongs.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser, cfg types.BridgeConfig) error {
	rd := newFramedReader(rwc)
	wr := newFramedWriter(rwc)

	up := s.conn.Subscribe(topicCloudAll)
	defer s.conn.Unsubscribe(up)

	lim := rate.NewLimiter(rate.Limit(orFloat(cfg.UpRatePerS, defaultUpRate)), orInt(cfg.UpBurst, defaultUpBurst))

	pongs := make(chan struct{}, maxPendingPongs)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			switch f.Type {
			case framePing:
				select {
				case pongs <- struct{}{}:
				default:
				}
			case framePong:
			case framePub:
				s.routeDown(f.Payload)
			case frameClose:
				errCh <- errRemoteClosed
				return
			default:
				s.log.Debug().Uint8("type", f.Type).Msg("ignoring frame")
			}
		}
	}()

	tick := time.NewTicker(timex.MsOr(cfg.PingMs, defaultPing))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort close.
			_ = wr.WriteFrame(Frame{Type: frameClose})
			return nil
		case err := <-errCh:
			if err == nil {
				err = io.EOF
			}
			return err
		case <-tick.C:
			if err := wr.WriteFrame(Frame{Type: framePing}); err != nil {
				return err
			}
		case <-pongs:
			if err := wr.WriteFrame(Frame{Type: framePong}); err != nil {
				return err
			}
		case msg := <-up.Channel():
			if isSetTopic(msg.Topic) {
				continue
			}
			if err := lim.Wait(ctx); err != nil {
				continue
			}
			f, err := encodePub(msg)
			if err != nil {
				s.log.Warn().Err(err).Stringer("topic", msg.Topic).Msg("dropping unencodable message")
				continue
			}
			if err := wr.WriteFrame(f); err != nil {
				return err
			}
		}
	}
}

// routeDown publishes remote parameter writes locally. Everything else from
// the far end is ignored.
func (s *Service) routeDown(payload []byte) {
	pf, err := decodePub(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("bad pub frame")
		return
	}
	topic := make(bus.Topic, 0, len(pf.Topic))
	for _, tok := range pf.Topic {
		topic = append(topic, tok)
	}
	if !isSetTopic(topic) {
		s.log.Debug().Stringer("topic", topic).Msg("ignoring remote publish")
		return
	}
	s.conn.Publish(s.conn.NewMessage(topic, pf.Payload, false))
}

// isSetTopic matches cloud/node/<id>/params/set.
func isSetTopic(t bus.Topic) bool {
	return t.Len() == 5 &&
		t.At(0) == "cloud" && t.At(1) == "node" && t.At(3) == "params" && t.At(4) == "set"
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (types.BridgeConfig, error) {
	var cfg types.BridgeConfig
	switch v := p.(type) {
	case types.BridgeConfig:
		cfg = v
	case *types.BridgeConfig:
		if v == nil {
			return cfg, errors.New("nil bridge config")
		}
		cfg = *v
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		// Already a decoded object; re-marshal for simplicity.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	if cfg.Transport == "" {
		return cfg, errors.New("bridge config has no transport")
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: timex.NowNs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func orFloat(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
