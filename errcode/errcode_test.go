package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"code", PinInUse, PinInUse},
		{"wrapped code", fmt.Errorf("claim: %w", UnknownPin), UnknownPin},
		{"E", &E{C: Timeout, Op: "pwm.set"}, Timeout},
		{"wrapped E", fmt.Errorf("light: %w", Wrap(NVSNoFreePages, "nvs.open", nil)), NVSNoFreePages},
		{"plain", errors.New("boom"), Error},
	}
	for _, tc := range cases {
		if got := Of(tc.err); got != tc.want {
			t.Errorf("%s: Of() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestEIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("init: %w", Wrap(NVSNewVersionFound, "nvs.open", errors.New("format 1 != 2")))
	if !errors.Is(err, NVSNewVersionFound) {
		t.Fatal("errors.Is should match the wrapped code")
	}
	if errors.Is(err, NVSNoFreePages) {
		t.Fatal("errors.Is matched the wrong code")
	}
}

func TestEError(t *testing.T) {
	e := &E{C: InvalidParams, Op: "cloud.NewNode", Msg: "empty name"}
	if got := e.Error(); got != "cloud.NewNode: invalid_params: empty name" {
		t.Fatalf("Error() = %q", got)
	}
}
