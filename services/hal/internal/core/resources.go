package core

import (
	"time"

	"pwmlight-go/types"

	"tinygo.org/x/drivers"
)

// ---- Pin functions ----

type PinFunc uint8

const (
	FuncGPIOIn PinFunc = iota
	FuncGPIOOut
	FuncPWM
)

// ---- GPIO handles ----

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

type GPIOHandle interface {
	Number() int
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(bool)
	Get() bool
	Toggle()
}

// IRQPin is a GPIO that can call a handler on edges. The handler may run in
// interrupt context and must not block.
type IRQPin interface {
	GPIOHandle
	SetIRQ(edge Edge, handler func()) error
	ClearIRQ() error
}

// GPIOEdgeEvent is a debounced edge after the registry has sampled the level.
type GPIOEdgeEvent struct {
	Edge  Edge
	Level bool // raw level after the edge
	TS    time.Time
}

type GPIOEdgeStream interface {
	Events() <-chan GPIOEdgeEvent
	Close()
}

// ---- PWM handles ----

// PWMTimerConfig mirrors the timer half of an LEDC-style PWM peripheral.
type PWMTimerConfig struct {
	SpeedMode      types.PWMSpeedMode
	ResolutionBits uint8
	Timer          uint8
	FreqHz         uint32
	Clock          types.PWMClock
}

// PWMChannelConfig binds a channel to a timer and a pin.
type PWMChannelConfig struct {
	Pin     int
	Channel uint8
	Timer   uint8
	Duty    uint32
	HPoint  uint32
}

// PWMHandle is a single hardware channel. SetDuty stages a value and
// UpdateDuty commits it to the output.
type PWMHandle interface {
	ConfigureTimer(cfg PWMTimerConfig) error
	ConfigureChannel(cfg PWMChannelConfig) error
	SetDuty(duty uint32) error
	UpdateDuty() error
	MaxDuty() uint32
	Stop() error
}

// PinHandle is returned by ClaimPin; only the view matching the claimed
// function may be used.
type PinHandle interface {
	AsGPIO() GPIOHandle
	AsPWM() PWMHandle
}

// ---- Device → HAL telemetry (single shape) ----
// By default, an Event represents a value-like update that HAL publishes to
// .../value (retained). If IsEvent is true, HAL publishes to .../event[/<tag>]
// (non-retained). Err, when non-empty, causes HAL to publish only
// .../status=degraded (retained).

type Event struct {
	Addr     CapAddr
	Payload  any
	TS       int64  // unix ns
	Err      string // "timeout","io_error","unsupported",...
	IsEvent  bool
	EventTag string
}

type EventEmitter interface {
	// Emit enqueues an Event for HAL publication without blocking.
	// false indicates a drop under pressure.
	Emit(ev Event) bool
}

// ---- HAL-injected resources ----

type Resources struct {
	Reg ResourceRegistry
	Pub EventEmitter // provided by HAL
}

type ResourceRegistry interface {
	ClaimPin(devID string, pin int, fn PinFunc) (PinHandle, error)
	ReleasePin(devID string, pin int)

	ClaimI2C(devID string, id string) (drivers.I2C, error)
	ReleaseI2C(devID string, id string)

	SubscribeGPIOEdges(devID string, pin int, edge Edge, debounce time.Duration, buf int) (GPIOEdgeStream, error)
	UnsubscribeGPIOEdges(devID string, pin int)
}
