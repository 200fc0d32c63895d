package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pwmlight-go/bus"
	"pwmlight-go/errcode"
	"pwmlight-go/types"
	"pwmlight-go/x/timex"
)

const (
	tokCloud  = "cloud"
	tokNode   = "node"
	tokConfig = "config"
	tokParams = "params"
	tokSet    = "set"
	tokReport = "report"
	tokState  = "state"
)

// cloud/node/<id>/config (retained)
func TopicConfig(nodeID string) bus.Topic { return bus.T(tokCloud, tokNode, nodeID, tokConfig) }

// cloud/node/<id>/params (retained snapshot)
func TopicParams(nodeID string) bus.Topic { return bus.T(tokCloud, tokNode, nodeID, tokParams) }

// cloud/node/<id>/params/set
func TopicSet(nodeID string) bus.Topic { return TopicParams(nodeID).Append(tokSet) }

// cloud/node/<id>/params/report
func TopicReport(nodeID string) bus.Topic { return TopicParams(nodeID).Append(tokReport) }

// cloud/state (retained)
func TopicState() bus.Topic { return bus.T(tokCloud, tokState) }

// SetRequest is the typed params/set payload. Untyped payloads ({device:
// {param: value}} as a map or JSON bytes) are treated as cloud writes.
type SetRequest struct {
	Src    WriteSource               `json:"src,omitempty"`
	Params map[string]map[string]any `json:"params"`
}

// Service publishes a node on the bus and routes parameter writes to the
// owning device handlers.
type Service struct {
	node *Node
	log  zerolog.Logger

	pubMu sync.Mutex // orders report + snapshot publication
}

func New(node *Node) *Service {
	return &Service{node: node, log: log.With().Str("svc", "cloud").Str("node", node.ID).Logger()}
}

func (s *Service) Node() *Node { return s.node }

// Start runs the service in its own goroutine.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.Run(ctx, conn)
	return nil
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context, conn *bus.Connection) {
	changed := make(chan struct{}, 1)
	s.node.bind(
		func(dev, param string, v Value) { s.publishReport(conn, dev, param, v) },
		func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	)

	setSub := conn.Subscribe(TopicSet(s.node.ID))
	defer conn.Unsubscribe(setSub)

	s.publishConfig(conn)
	s.publishState(conn, "ready", "running", "")

	for {
		select {
		case <-ctx.Done():
			s.publishState(conn, "stopped", "context_cancelled", "")
			return
		case <-changed:
			s.publishConfig(conn)
		case msg := <-setSub.Channel():
			err := s.handleSet(msg.Payload)
			if !msg.CanReply() {
				continue
			}
			if err != nil {
				conn.Reply(msg, types.ErrorReply{OK: false, Error: string(errcode.Of(err))}, false)
			} else {
				conn.Reply(msg, types.OKReply{OK: true}, false)
			}
		}
	}
}

// handleSet applies every entry of a params/set payload. Failing entries are
// logged and skipped; the first failure is returned.
func (s *Service) handleSet(payload any) error {
	req, err := decodeSet(payload)
	if err != nil {
		s.log.Warn().Err(err).Msgf("ignoring params/set payload of type %T", payload)
		return err
	}
	src := req.Src
	if src == "" {
		src = SrcCloud
	}

	var first error
	note := func(err error) {
		if first == nil {
			first = err
		}
	}
	// Stable order keeps handler side effects reproducible.
	for _, devName := range sortedKeys(req.Params) {
		dev := s.node.Device(devName)
		if dev == nil {
			s.log.Warn().Str("device", devName).Msg("write for unknown device")
			note(errcode.UnknownDevice)
			continue
		}
		for _, name := range sortedKeys(req.Params[devName]) {
			if err := s.write(dev, name, req.Params[devName][name], src); err != nil {
				s.log.Warn().Err(err).Str("device", devName).Str("param", name).Msg("write rejected")
				note(err)
			}
		}
	}
	return first
}

func (s *Service) write(dev *Device, name string, raw any, src WriteSource) error {
	p := dev.Param(name)
	if p == nil {
		return errcode.UnknownParam
	}
	if !p.Props.Writable() {
		return errcode.ReadOnlyParam
	}
	v, err := Coerce(p.DataType, raw)
	if err != nil {
		return err
	}
	if dev.handler == nil {
		return errcode.Unsupported
	}
	s.log.Info().Str("device", dev.Name).Str("param", name).Stringer("value", v).Str("src", string(src)).Msg("received write")
	return dev.handler.OnWrite(dev, p, v, WriteContext{Src: src})
}

func (s *Service) publishReport(conn *bus.Connection, dev, param string, v Value) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	conn.Publish(conn.NewMessage(TopicReport(s.node.ID), map[string]map[string]any{dev: {param: v.Any()}}, false))
	conn.Publish(conn.NewMessage(TopicParams(s.node.ID), s.node.Params(), true))
}

func (s *Service) publishConfig(conn *bus.Connection) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	conn.Publish(conn.NewMessage(TopicConfig(s.node.ID), s.node.Config(), true))
	conn.Publish(conn.NewMessage(TopicParams(s.node.ID), s.node.Params(), true))
}

func (s *Service) publishState(conn *bus.Connection, level, status, errStr string) {
	conn.Publish(conn.NewMessage(TopicState(),
		types.ServiceState{Level: level, Status: status, Error: errStr, TS: timex.NowNs()}, true))
}

var errBadSet = errors.New("cloud: params/set wants {device: {param: value}}")

func decodeSet(payload any) (SetRequest, error) {
	switch p := payload.(type) {
	case SetRequest:
		return p, nil
	case *SetRequest:
		if p != nil {
			return *p, nil
		}
	case map[string]map[string]any:
		return SetRequest{Params: p}, nil
	case map[string]any:
		return fromAnyMap(p)
	case []byte:
		var m map[string]any
		if err := json.Unmarshal(p, &m); err != nil {
			return SetRequest{}, errcode.Wrap(errcode.InvalidPayload, "cloud.decodeSet", err)
		}
		return fromAnyMap(m)
	case json.RawMessage:
		return decodeSet([]byte(p))
	}
	return SetRequest{}, errcode.Wrap(errcode.InvalidPayload, "cloud.decodeSet", errBadSet)
}

func fromAnyMap(m map[string]any) (SetRequest, error) {
	out := SetRequest{Params: make(map[string]map[string]any, len(m))}
	for dev, v := range m {
		params, ok := v.(map[string]any)
		if !ok {
			return SetRequest{}, errcode.Wrap(errcode.InvalidPayload, "cloud.decodeSet", errBadSet)
		}
		out.Params[dev] = params
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
