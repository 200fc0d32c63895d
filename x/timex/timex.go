// Package timex holds the time conversions shared by drivers and services.
package timex

import "time"

// NowNs returns Unix nanoseconds; every bus payload timestamp uses it.
func NowNs() int64 { return time.Now().UnixNano() }

// PeriodFromHz returns the PWM period in nanoseconds for freqHz.
// A zero frequency is treated as 1 Hz.
func PeriodFromHz(freqHz uint32) uint64 {
	return uint64(time.Second) / uint64(max(freqHz, 1))
}

// MsOr converts a config field in milliseconds, falling back to def when
// the field is unset or negative.
func MsOr(ms int, def time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
