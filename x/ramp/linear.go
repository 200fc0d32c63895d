package ramp

import (
	"time"

	"pwmlight-go/x/mathx"
)

// Step sets the new logical level in [0..top].
type Step func(level uint32)

// Tick waits for d and reports whether to continue (false => cancelled).
type Tick func(d time.Duration) bool

// StartLinear runs a synchronous (caller-driven) integer ramp from cur to to.
// Call it from a goroutine and provide Tick to handle timing & cancellation.
// steps==0 or durationMs==0 snaps to 'to'.
func StartLinear(cur, to, top uint32, durationMs uint32, steps uint16, tick Tick, set Step) {
	to = min(to, top)
	if steps == 0 || durationMs == 0 {
		set(to)
		return
	}
	d := int64(to) - int64(cur)
	st := int64(steps)
	acc := int64(0)
	cur64 := int64(cur)
	stepDurMs := durationMs / uint32(steps)
	if stepDurMs == 0 {
		stepDurMs = 1
	}
	stepDur := time.Duration(stepDurMs) * time.Millisecond

	for i := uint16(1); i < steps; i++ {
		if !tick(stepDur) {
			return
		}
		acc += d
		inc := acc / st
		if inc != 0 {
			acc -= inc * st
			cur64 = mathx.Clamp(cur64+inc, 0, int64(top))
			set(uint32(cur64))
		}
	}
	if !tick(stepDur) {
		return
	}
	set(to)
}
