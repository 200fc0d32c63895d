package types

// ------------------------
// Capability kinds
// ------------------------

type Kind string

const (
	KindPWM    Kind = "pwm"
	KindButton Kind = "button"
)
