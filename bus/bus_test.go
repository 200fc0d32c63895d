// bus/bus_test.go
package bus

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestPublishReachesExactSubscriber(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("config", "light"))
	conn.Publish(conn.NewMessage(T("config", "light"), "cfg", false))

	if got := recvString(t, sub); got != "cfg" {
		t.Fatalf("payload %q", got)
	}
}

func TestRetainedDeliveredOnSubscribe(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("light", "state"), "on", true))
	conn.Publish(conn.NewMessage(T("light", "state"), "off", true))

	sub := conn.Subscribe(T("light", "state"))
	if got := recvString(t, sub); got != "off" {
		t.Fatalf("retained %q, want the latest", got)
	}
	expectSilent(t, sub)
}

// -----------------------------------------------------------------------------
// Wildcards
// -----------------------------------------------------------------------------

func TestWildcardMatching(t *testing.T) {
	cases := []struct {
		filter Topic
		topic  Topic
		match  bool
	}{
		{T("hal", "cap", "io", "+", "light", "value"), T("hal", "cap", "io", "pwm", "light", "value"), true},
		{T("hal", "cap", "+", "+", "+", "value"), T("hal", "cap", "io", "button", "boot", "value"), true},
		{T("hal", "cap", "io", "+", "boot", "event", "#"), T("hal", "cap", "io", "button", "boot", "event", "released"), true},
		{T("hal", "#"), T("hal"), true},
		{T("#"), T("system", "heartbeat"), true},
		{T("cloud", "node", "+", "params"), T("cloud", "node", "n1", "params", "set"), false},
		{T("cloud", "node", "+", "params", "set"), T("cloud", "node", "params", "set"), false},
		{T("light", "state"), T("light"), false},
		{T("hal", "+", "#"), T("hal"), false},
	}
	for _, c := range cases {
		b := NewBus(4)
		conn := b.NewConnection("test")
		sub := conn.Subscribe(c.filter)
		conn.Publish(conn.NewMessage(c.topic, "m", false))
		if c.match {
			if got := recvString(t, sub); got != "m" {
				t.Fatalf("%v on %v: payload %q", c.filter, c.topic, got)
			}
		} else {
			expectSilent(t, sub)
		}
	}
}

func TestRetainedDeliveryThroughWildcards(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("test")

	c.Publish(c.NewMessage(T("config"), "root", true))
	c.Publish(c.NewMessage(T("config", "hal"), "hal", true))
	c.Publish(c.NewMessage(T("config", "light"), "light", true))
	c.Publish(c.NewMessage(T("config", "bridge", "uart"), "uart", true))

	cases := []struct {
		filter Topic
		want   []string
	}{
		{T("config", "#"), []string{"hal", "light", "root", "uart"}}, // includes the parent level
		{T("config", "+"), []string{"hal", "light"}},
		{T("config", "+", "#"), []string{"hal", "light", "uart"}},
	}
	for _, tc := range cases {
		sub := c.Subscribe(tc.filter)
		got := recvN(t, sub, len(tc.want))
		slices.Sort(got)
		if !slices.Equal(got, tc.want) {
			t.Fatalf("%v: got %v want %v", tc.filter, got, tc.want)
		}
		c.Unsubscribe(sub)
	}
}

func TestRetainedClearedByNilPayload(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(c.NewMessage(T("bridge", "state"), "up", true))
	c.Publish(c.NewMessage(T("light", "state"), "on", true))
	c.Publish(c.NewMessage(T("bridge", "state"), nil, true))

	sub := c.Subscribe(T("#"))
	if got := recvN(t, sub, 1); got[0] != "on" {
		t.Fatalf("after clear got %v", got)
	}
	expectSilent(t, sub)
}

// -----------------------------------------------------------------------------
// Request–Reply
// -----------------------------------------------------------------------------

func serveOnce(conn *Connection, topic Topic, reply any) {
	sub := conn.Subscribe(topic)
	go func() {
		defer conn.Unsubscribe(sub)
		if msg, ok := <-sub.Channel(); ok {
			conn.Reply(msg, reply, false)
		}
	}()
}

func TestRequestWaitGetsReplyOnReplyTopic(t *testing.T) {
	b := NewBus(8)
	req := b.NewConnection("cloud")
	serveOnce(b.NewConnection("light"), T("cloud", "node", "n1", "params", "set"), "ok")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	msg := req.NewMessage(T("cloud", "node", "n1", "params", "set"), map[string]any{"Power": false}, false)
	reply, err := req.RequestWait(ctx, msg)
	if err != nil {
		t.Fatalf("RequestWait: %v", err)
	}
	if reply.Payload != "ok" {
		t.Fatalf("reply %#v", reply.Payload)
	}
	if len(msg.ReplyTo) == 0 || reply.Topic.String() != msg.ReplyTo.String() {
		t.Fatalf("reply topic %v, ReplyTo %v", reply.Topic, msg.ReplyTo)
	}
}

func TestRequestWaitHonoursContext(t *testing.T) {
	b := NewBus(8)
	req := b.NewConnection("requester")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := req.RequestWait(ctx, req.NewMessage(T("system", "nobody"), nil, false)); err == nil {
		t.Fatal("RequestWait returned without a responder")
	}
}

func TestRequestWithOwnSubscription(t *testing.T) {
	b := NewBus(8)
	req := b.NewConnection("light")
	ctrl := T("hal", "cap", "io", "pwm", "light", "control", "set")
	serveOnce(b.NewConnection("hal"), ctrl, map[string]any{"duty": 256})

	replies := req.Request(req.NewMessage(ctrl, map[string]any{"duty": 256}, false))
	defer req.Unsubscribe(replies)

	select {
	case got := <-replies.Channel():
		if m, ok := got.Payload.(map[string]any); !ok || m["duty"] != 256 {
			t.Fatalf("reply %#v", got.Payload)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("no reply")
	}
}

// -----------------------------------------------------------------------------
// Topics and subscriptions
// -----------------------------------------------------------------------------

func TestTopicRejectsUncomparableToken(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("T accepted a []byte token")
		}
	}()
	_ = T([]byte("light"))
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	s := c.Subscribe(T("cloud", "+", "params"))
	c.Unsubscribe(s)
	c.Unsubscribe(s)

	c.Publish(c.NewMessage(T("cloud", "n1", "params"), "x", false))
	if _, ok := <-s.Channel(); ok {
		t.Fatal("channel still open after unsubscribe")
	}
}

func TestTopicHelpers(t *testing.T) {
	base := T("hal", "cap", "io", "pwm", "light")
	ctrl := base.Append("control", "ramp")
	if base.Len() != 5 {
		t.Fatalf("Append modified receiver: %v", base)
	}
	if got := ctrl.String(); got != "hal/cap/io/pwm/light/control/ramp" {
		t.Fatalf("String() = %q", got)
	}
	if ctrl.At(6) != "ramp" || ctrl.At(7) != nil {
		t.Fatalf("At() mismatch: %v %v", ctrl.At(6), ctrl.At(7))
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func recvString(t *testing.T, sub *Subscription) string {
	t.Helper()
	select {
	case m := <-sub.Channel():
		s, ok := m.Payload.(string)
		if !ok {
			t.Fatalf("payload %#v", m.Payload)
		}
		return s
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
	return ""
}

func recvN(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for len(out) < n {
		out = append(out, recvString(t, sub))
	}
	return out
}

func expectSilent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected message on %v: %#v", m.Topic, m.Payload)
	case <-time.After(60 * time.Millisecond):
	}
}
