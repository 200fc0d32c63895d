//go:build !tinygo

package boot

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pwmlight-go/bus"
	"pwmlight-go/services/config"
	"pwmlight-go/services/hal"
	"pwmlight-go/services/nvs"
	"pwmlight-go/services/reset"
	"pwmlight-go/types"
)

func hostProfile(t *testing.T) *config.Profile {
	t.Helper()
	p, err := config.Load("host", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p.Bridge = nil
	return p
}

type result struct {
	reason string
	err    error
}

func TestRunBringsUpLightAndReboots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewBus(32)
	ui := b.NewConnection("test")
	value := ui.Subscribe(hal.CapValue("io", types.KindPWM, config.LightCap))

	p := hostProfile(t)
	flash := nvs.NewMemory(3)
	done := make(chan result, 1)
	go func() {
		reason, err := Run(ctx, Options{
			Profile: p,
			Flash:   flash,
			Bus:     b,
			Abort:   func() { t.Error("aborted") },
		})
		done <- result{reason, err}
	}()

	deadline := time.After(3 * time.Second)
	for seen := false; !seen; {
		select {
		case m := <-value.Channel():
			if v, ok := m.Payload.(types.PWMValue); ok && v.Duty == 256 {
				seen = true
			}
		case <-deadline:
			t.Fatal("light never reached default duty")
		}
	}

	ui.Publish(ui.NewMessage(reset.TopicReboot(), types.RebootRequest{Reason: "test"}, false))
	select {
	case r := <-done:
		if r.err != nil || r.reason != "test" {
			t.Fatalf("Run = %q, %v", r.reason, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on reboot request")
	}

	// The identity persists across boots.
	st, err := nvs.Init(flash)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer st.Close()
	if _, created, err := nvs.NodeID(st); err != nil || created {
		t.Fatalf("NodeID created=%v err=%v", created, err)
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	p := hostProfile(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan result, 1)
	go func() {
		reason, err := Run(ctx, Options{
			Profile: p,
			Flash:   nvs.NewMemory(3),
			Abort:   func() { t.Error("aborted") },
		})
		done <- result{reason, err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case r := <-done:
		if r.err != nil || r.reason != "" {
			t.Fatalf("Run = %q, %v", r.reason, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on cancel")
	}
}

type brokenFlash struct{}

func (brokenFlash) Open() (nvs.Store, error) { return nil, errors.New("flash offline") }
func (brokenFlash) Erase() error             { return nil }

func TestRunFatalPaths(t *testing.T) {
	badNode := hostProfile(t)
	badNode.Node.Name = ""

	cases := []struct {
		name  string
		p     *config.Profile
		flash nvs.Flash
	}{
		{"nvs", hostProfile(t), brokenFlash{}},
		{"node", badNode, nvs.NewMemory(3)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var aborted atomic.Bool
			start := time.Now()
			_, err := Run(context.Background(), Options{
				Profile:    c.p,
				Flash:      c.flash,
				FatalDelay: 20 * time.Millisecond,
				Abort:      func() { aborted.Store(true) },
			})
			if err == nil {
				t.Fatal("Run succeeded")
			}
			if !aborted.Load() {
				t.Fatal("abort hook not called")
			}
			if time.Since(start) < 20*time.Millisecond {
				t.Fatal("fatal delay skipped")
			}
		})
	}
}
