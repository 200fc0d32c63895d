package core

import (
	"context"
	"encoding/json"
	"testing"

	"pwmlight-go/errcode"
	"pwmlight-go/types"
)

func TestAsAcceptsValuePointerAndJSON(t *testing.T) {
	want := types.PWMRamp{To: 512, DurationMs: 300, Steps: 10}
	raw := `{"to":512,"duration_ms":300,"steps":10}`
	inputs := []any{
		want,
		&want,
		json.RawMessage(raw),
		[]byte(raw),
		raw,
		map[string]any{"to": 512, "duration_ms": 300, "steps": 10},
	}
	for _, in := range inputs {
		got, code := As[types.PWMRamp](in)
		if code != "" || got != want {
			t.Errorf("As(%T) = %+v, %q", in, got, code)
		}
	}
}

func TestAsRejects(t *testing.T) {
	var nilPtr *types.PWMSet
	for _, in := range []any{42, nilPtr, "{", types.PWMRamp{}} {
		if _, code := As[types.PWMSet](in); code != errcode.InvalidPayload {
			t.Errorf("As(%T) code %q", in, code)
		}
	}
	if v, code := As[types.PWMSet](nil); code != "" || v.Duty != 0 {
		t.Fatalf("nil payload: %+v %q", v, code)
	}
}

func TestParamsRequiresPayload(t *testing.T) {
	if _, err := Params[types.PWMOutParams](nil); err != errcode.InvalidParams {
		t.Fatalf("nil params err %v", err)
	}
	p, err := Params[types.PWMOutParams](`{"pin":18,"resolution_bits":12}`)
	if err != nil || p.Pin != 18 || p.ResolutionBits != 12 {
		t.Fatalf("params %+v err %v", p, err)
	}
}

func TestBuilderTypesSorted(t *testing.T) {
	noop := BuilderFunc(func(context.Context, BuilderInput) (Device, error) { return nil, nil })
	RegisterBuilder("zz_test", noop)
	RegisterBuilder("aa_test", noop)
	got := BuilderTypes()
	first, last := -1, -1
	for i, typ := range got {
		switch typ {
		case "aa_test":
			first = i
		case "zz_test":
			last = i
		}
	}
	if first < 0 || last < first {
		t.Fatalf("types %v", got)
	}
	if _, ok := lookupBuilder("aa_test"); !ok {
		t.Fatal("registered builder not found")
	}
}
