// config/config_test.go
package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pwmlight-go/bus"
	"pwmlight-go/types"
)

func TestEmbeddedBoardsParse(t *testing.T) {
	for _, board := range []string{"pico", "pico-pca9685", "gpio10-voltage", "rpi", "host"} {
		p, err := Load(board, "")
		if err != nil {
			t.Fatalf("%s: %v", board, err)
		}
		if p.Board != board {
			t.Fatalf("%s: board field %q", board, p.Board)
		}
	}
	if _, err := Load("nope", ""); err == nil {
		t.Fatal("unknown board loaded")
	}
}

func TestDefaultsSurviveSparseProfile(t *testing.T) {
	p, err := Parse([]byte("board: tiny\npwm:\n  pin: 3\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.PWM.Pin != 3 || p.PWM.ResolutionBits != 10 || p.PWM.FreqHz != 5000 {
		t.Fatalf("pwm %+v", p.PWM)
	}
	lc := p.LightConfig()
	if !lc.DefaultPower || lc.DefaultBrightness != 25 || lc.DefaultHue != 180 || lc.DefaultSaturation != 100 {
		t.Fatalf("light defaults %+v", lc)
	}
	if lc.MaxDuty != 1023 || lc.PWM != LightCap || lc.Button != "" {
		t.Fatalf("light binding %+v", lc)
	}
	if rc := p.ResetConfig(); rc.Button != "" || rc.FactoryResetMs != 10000 {
		t.Fatalf("reset %+v", rc)
	}
}

func TestValidation(t *testing.T) {
	bad := []string{
		"pwm: {resolution_bits: 0}",
		"pwm: {resolution_bits: 21}",
		"light: {default_brightness: 101}",
		"light: {profile: rgb}",
		"node: {name: ''}",
		"pwm: [",
	}
	for _, raw := range bad {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("%q accepted", raw)
		}
	}
}

func TestExpanderReplacesPWM(t *testing.T) {
	p, err := Load("pico-pca9685", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	hc := p.HALConfig()
	if len(hc.Devices) != 2 || hc.Devices[0].Type != "pca9685_out" || hc.Devices[1].Type != "gpio_button" {
		t.Fatalf("hal %+v", hc)
	}
	ex := hc.Devices[0].Params.(types.PCA9685OutParams)
	if ex.Addr != 0x40 || ex.Name != LightCap {
		t.Fatalf("expander %+v", ex)
	}
	if lc := p.LightConfig(); lc.MaxDuty != 4095 || lc.Button != ButtonCap {
		t.Fatalf("light %+v", lc)
	}
}

func TestLoadFileExpandsEnv(t *testing.T) {
	t.Setenv("PWMLIGHT_NODE", "Porch")
	path := filepath.Join(t.TempDir(), "board.yaml")
	raw := "board: file\nnode:\n  name: ${PWMLIGHT_NODE}\n  type: ${PWMLIGHT_TYPE:Lightbulb}\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load("ignored", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Node.Name != "Porch" || p.Node.Type != "Lightbulb" {
		t.Fatalf("node %+v", p.Node)
	}
}

func TestConfig_PublishRetainedPerSection(t *testing.T) {
	p, err := Load("pico", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	if err := NewConfigService(p).Start(context.Background(), conn); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Retained messages arrive on subscribe.
	sub := conn.Subscribe(bus.T(configPrefix, "#"))
	got := map[string]any{}
	deadline := time.After(600 * time.Millisecond)
	for len(got) < 5 {
		select {
		case m := <-sub.Channel():
			got[m.Topic.String()] = m.Payload
		case <-deadline:
			t.Fatalf("got %d sections: %v", len(got), got)
		}
	}

	var keys []string
	for k := range got {
		keys = append(keys, k)
	}
	joined := strings.Join(keys, " ")
	for _, want := range []string{"hal", "light", "reset", "heartbeat", "bridge"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing section %s in %v", want, keys)
		}
	}
	for k, v := range got {
		switch v.(type) {
		case types.HALConfig, types.LightConfig, types.ResetConfig, types.HeartbeatConfig, types.BridgeConfig:
		default:
			t.Fatalf("%s: payload %T", k, v)
		}
	}
}
