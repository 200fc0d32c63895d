package light

import "pwmlight-go/x/mathx"

// Brightness bounds in percent.
const (
	MinBrightness = 0
	MaxBrightness = 100
)

// MaxDuty is the largest duty register value for a timer resolution.
func MaxDuty(bits uint8) uint32 { return mathx.MaxForBits(bits) }

// Duty maps a brightness percentage to a duty value out of maxDuty. It is zero
// whenever power is off. Brightness is clamped first and the result is
// rounded to nearest with exact halves going down, so 25% of 1023 gives 256
// and 50% gives 511.
func Duty(brightness int, power bool, maxDuty uint32) uint32 {
	if !power {
		return 0
	}
	return mathx.ScalePct(uint32(ClampBrightness(brightness)), maxDuty)
}

// ClampBrightness saturates b into [MinBrightness, MaxBrightness].
func ClampBrightness(b int) int {
	return mathx.Clamp(b, MinBrightness, MaxBrightness)
}
