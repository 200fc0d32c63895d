//go:build linux && !tinygo

package platform

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/types"
)

// fakePWMTree creates pwmchip0 with an already exported pwm0 so export is a no-op.
func fakePWMTree(t *testing.T) string {
	t.Helper()
	base := filepath.Join(t.TempDir(), "pwm")
	ch := filepath.Join(base, "pwmchip0", "pwm0")
	if err := os.MkdirAll(ch, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	files := map[string]string{
		filepath.Join(base, "pwmchip0", "npwm"):   "2\n",
		filepath.Join(base, "pwmchip0", "export"): "",
		filepath.Join(ch, "period"):               "",
		filepath.Join(ch, "duty_cycle"):           "",
		filepath.Join(ch, "enable"):               "",
	}
	for p, v := range files {
		if err := os.WriteFile(p, []byte(v), 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", p, err)
		}
	}
	old := pwmSysfsBase
	pwmSysfsBase = base
	t.Cleanup(func() { pwmSysfsBase = old })
	return ch
}

func readTrim(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("ReadFile %s: %v", p, err)
	}
	return strings.TrimSpace(string(b))
}

func TestSysfsPWMConfigureAndCommit(t *testing.T) {
	ch := fakePWMTree(t)
	l := NewLinux("", 0)

	h, err := l.PWM(10)
	if err != nil {
		t.Fatalf("PWM: %v", err)
	}
	if err := h.ConfigureTimer(core.PWMTimerConfig{ResolutionBits: 10, FreqHz: 1000, SpeedMode: types.PWMLowSpeed}); err != nil {
		t.Fatalf("ConfigureTimer: %v", err)
	}
	if got := h.MaxDuty(); got != 1023 {
		t.Fatalf("MaxDuty=%d want 1023", got)
	}
	if err := h.ConfigureChannel(core.PWMChannelConfig{Pin: 10, Channel: 0, Duty: 0}); err != nil {
		t.Fatalf("ConfigureChannel: %v", err)
	}
	if got := readTrim(t, filepath.Join(ch, "period")); got != "1000000" {
		t.Fatalf("period=%q want 1000000", got)
	}
	if got := readTrim(t, filepath.Join(ch, "enable")); got != "1" {
		t.Fatalf("enable=%q want 1", got)
	}

	// Staging alone does not reach the output.
	if err := h.SetDuty(1023); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if got := readTrim(t, filepath.Join(ch, "duty_cycle")); got != "0" {
		t.Fatalf("duty_cycle before commit=%q want 0", got)
	}
	if err := h.UpdateDuty(); err != nil {
		t.Fatalf("UpdateDuty: %v", err)
	}
	if got := readTrim(t, filepath.Join(ch, "duty_cycle")); got != "1000000" {
		t.Fatalf("duty_cycle=%q want 1000000", got)
	}
}

func TestSysfsPWMRejectsUnknownChannel(t *testing.T) {
	fakePWMTree(t)
	h, err := NewLinux("", 0).PWM(10)
	if err != nil {
		t.Fatalf("PWM: %v", err)
	}
	if err := h.ConfigureTimer(core.PWMTimerConfig{ResolutionBits: 10, FreqHz: 1000}); err != nil {
		t.Fatalf("ConfigureTimer: %v", err)
	}
	if err := h.ConfigureChannel(core.PWMChannelConfig{Channel: 5}); err == nil {
		t.Fatal("expected error for channel beyond npwm")
	}
}

func TestSysfsPWMMissingChip(t *testing.T) {
	old := pwmSysfsBase
	pwmSysfsBase = t.TempDir()
	t.Cleanup(func() { pwmSysfsBase = old })

	if _, err := NewLinux("", 3).PWM(10); err == nil {
		t.Fatal("expected error for missing pwmchip")
	}
}

func TestSysfsPWMSetBeforeChannel(t *testing.T) {
	fakePWMTree(t)
	h, err := NewLinux("", 0).PWM(10)
	if err != nil {
		t.Fatalf("PWM: %v", err)
	}
	if err := h.SetDuty(1); err == nil {
		t.Fatal("expected error before ConfigureChannel")
	}
}
