// bridge/bridge_test.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"pwmlight-go/bus"
	"pwmlight-go/types"
)

// pipeTransport hands out one end of a net.Pipe per Open and exposes the
// other end as a remote peer.
type pipeTransport struct {
	mu    sync.Mutex
	peers chan *peer
	fail  error
}

func (p *pipeTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	p.mu.Lock()
	err := p.fail
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	lc, rc := net.Pipe()
	p.peers <- newPeer(rc)
	return lc, nil
}

func (p *pipeTransport) String() string { return "pipe" }

type peer struct {
	conn   net.Conn
	w      *framedWriter
	frames chan Frame
}

func newPeer(c net.Conn) *peer {
	pr := &peer{conn: c, w: newFramedWriter(c), frames: make(chan Frame, 256)}
	go func() {
		rd := newFramedReader(c)
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				close(pr.frames)
				return
			}
			pr.frames <- f
		}
	}()
	return pr
}

// next returns the first frame of type typ.
func (pr *peer) next(t *testing.T, typ byte) Frame {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case f, ok := <-pr.frames:
			if !ok {
				t.Fatal("link closed")
			}
			if f.Type == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("no frame of type %#x", typ)
		}
	}
}

func startBridge(t *testing.T, name string, tr *pipeTransport) (*bus.Connection, *bus.Subscription) {
	t.Helper()
	RegisterTransport(name, func(types.BridgeConfig) (Transport, error) { return tr, nil })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")
	stateSub := conn.Subscribe(TopicState())
	if err := New().Start(ctx, b.NewConnection("bridge")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	assertLevelStatus(t, nextState(t, stateSub), "idle", "awaiting_config")
	return conn, stateSub
}

func TestBridge_UnknownTransportYieldsErrorState(t *testing.T) {
	conn, stateSub := startBridge(t, "unused", &pipeTransport{peers: make(chan *peer, 1)})
	conn.Publish(conn.NewMessage(topicConfigBridge, types.BridgeConfig{Transport: "bogus"}, false))
	assertLevelStatus(t, nextState(t, stateSub), "error", "transport_init_failed")
}

func TestBridge_BadConfigPayload(t *testing.T) {
	conn, stateSub := startBridge(t, "unused2", &pipeTransport{peers: make(chan *peer, 1)})
	conn.Publish(conn.NewMessage(topicConfigBridge, 42, false))
	assertLevelStatus(t, nextState(t, stateSub), "error", "config_decode_failed")
}

func TestBridge_ForwardsCloudUpAndSetsDown(t *testing.T) {
	tr := &pipeTransport{peers: make(chan *peer, 1)}
	conn, stateSub := startBridge(t, "pipe-fwd", tr)

	conn.Publish(conn.NewMessage(bus.T("cloud", "node", "n1", "params"),
		map[string]map[string]any{"Light": {"Power": true}}, true))
	// Config may also arrive as JSON text.
	conn.Publish(conn.NewMessage(topicConfigBridge, `{"transport":"pipe-fwd","ping_ms":20}`, false))
	assertLevelStatus(t, nextState(t, stateSub), "up", "link_established")
	pr := <-tr.peers

	// Retained snapshot goes up on link start.
	pf, err := decodePub(pr.next(t, framePub).Payload)
	if err != nil {
		t.Fatalf("decodePub: %v", err)
	}
	if len(pf.Topic) != 4 || pf.Topic[3] != "params" || !pf.Retained {
		t.Fatalf("pub frame %+v", pf)
	}
	var params map[string]map[string]any
	if err := json.Unmarshal(pf.Payload, &params); err != nil || params["Light"]["Power"] != true {
		t.Fatalf("payload %s (%v)", pf.Payload, err)
	}

	// Keepalive both ways.
	pr.next(t, framePing)
	if err := pr.w.WriteFrame(Frame{Type: framePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	pr.next(t, framePong)

	// Remote writes come down as raw JSON on params/set.
	setSub := conn.Subscribe(bus.T("cloud", "node", "n1", "params", "set"))
	down, _ := json.Marshal(pubFrame{
		Topic:   []string{"cloud", "node", "n1", "params", "set"},
		Payload: json.RawMessage(`{"Light":{"Brightness":40}}`),
	})
	if err := pr.w.WriteFrame(Frame{Type: framePub, Payload: down}); err != nil {
		t.Fatalf("write pub: %v", err)
	}
	select {
	case m := <-setSub.Channel():
		raw, ok := m.Payload.(json.RawMessage)
		if !ok || string(raw) != `{"Light":{"Brightness":40}}` {
			t.Fatalf("set payload %#v", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("params/set not published locally")
	}

	// Other remote topics are dropped.
	other, _ := json.Marshal(pubFrame{Topic: []string{"hal", "cap"}, Payload: json.RawMessage(`1`)})
	_ = pr.w.WriteFrame(Frame{Type: framePub, Payload: other})

	// Local set messages are not echoed back up; reports are.
	conn.Publish(conn.NewMessage(bus.T("cloud", "node", "n1", "params", "report"),
		map[string]map[string]any{"Light": {"Brightness": 40}}, false))
	for {
		pf, err := decodePub(pr.next(t, framePub).Payload)
		if err != nil {
			t.Fatalf("decodePub: %v", err)
		}
		if pf.Topic[len(pf.Topic)-1] == "set" {
			t.Fatalf("set topic echoed upstream: %+v", pf)
		}
		if pf.Topic[len(pf.Topic)-1] == "report" {
			break
		}
	}
}

func TestBridge_LinkLossRetries(t *testing.T) {
	tr := &pipeTransport{peers: make(chan *peer, 2)}
	conn, stateSub := startBridge(t, "pipe-loss", tr)

	conn.Publish(conn.NewMessage(topicConfigBridge, types.BridgeConfig{Transport: "pipe-loss"}, false))
	assertLevelStatus(t, nextState(t, stateSub), "up", "link_established")
	pr := <-tr.peers

	// Close the remote to force link loss; expect degraded state, then a
	// fresh link after the first backoff.
	_ = pr.conn.Close()
	assertLevelStatus(t, nextState(t, stateSub), "degraded", "link_lost_retrying")
	assertLevelStatus(t, nextState(t, stateSub), "up", "link_established")
}

func TestBridge_DialFailureDegrades(t *testing.T) {
	tr := &pipeTransport{peers: make(chan *peer, 1), fail: errors.New("no such port")}
	conn, stateSub := startBridge(t, "pipe-fail", tr)

	conn.Publish(conn.NewMessage(topicConfigBridge, types.BridgeConfig{Transport: "pipe-fail"}, false))
	st := nextState(t, stateSub)
	assertLevelStatus(t, st, "degraded", "dial_failed_retrying")
	if st.Error == "" {
		t.Fatal("state carries no error")
	}
}

func TestFrameRoundTripAndLimit(t *testing.T) {
	lc, rc := net.Pipe()
	defer lc.Close()
	defer rc.Close()

	go func() { _ = newFramedWriter(lc).WriteFrame(Frame{Type: framePub, Payload: []byte("abc")}) }()
	f, err := newFramedReader(rc).ReadFrame()
	if err != nil || f.Type != framePub || string(f.Payload) != "abc" {
		t.Fatalf("frame %+v err %v", f, err)
	}
	if err := newFramedWriter(io.Discard).WriteFrame(Frame{Payload: make([]byte, 0x10000)}); err == nil {
		t.Fatal("oversized frame accepted")
	}
}

func TestBackoffDoublesToMax(t *testing.T) {
	next := backoffSeq(100*time.Millisecond, 350*time.Millisecond)
	want := []time.Duration{100, 200, 350, 350}
	for i, w := range want {
		if got := next(); got != w*time.Millisecond {
			t.Fatalf("step %d: %v want %v", i, got, w*time.Millisecond)
		}
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func nextState(t *testing.T, sub *bus.Subscription) types.ServiceState {
	t.Helper()
	select {
	case m := <-sub.Channel():
		st, ok := m.Payload.(types.ServiceState)
		if !ok {
			t.Fatalf("state payload %T", m.Payload)
		}
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for bridge state")
	}
	panic("unreachable")
}

func assertLevelStatus(t *testing.T, st types.ServiceState, level, status string) {
	t.Helper()
	if st.Level != level || st.Status != status {
		t.Fatalf("state %s/%s (%s), want %s/%s", st.Level, st.Status, st.Error, level, status)
	}
}
