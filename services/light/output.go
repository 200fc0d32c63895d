package light

import (
	"context"
	"fmt"
	"time"

	"pwmlight-go/bus"
	"pwmlight-go/errcode"
	"pwmlight-go/services/hal"
	"pwmlight-go/types"
)

// DefaultOutputTimeout bounds one HAL round trip.
const DefaultOutputTimeout = 500 * time.Millisecond

// HALOutput drives a HAL PWM capability over the bus. SetDuty only stages;
// UpdateDuty sends the staged duty as a set control and waits for the reply.
type HALOutput struct {
	conn    *bus.Connection
	topic   bus.Topic
	timeout time.Duration
	staged  uint32
}

// NewHALOutput targets hal/cap/io/pwm/<name>.
func NewHALOutput(conn *bus.Connection, name string, timeout time.Duration) *HALOutput {
	if timeout <= 0 {
		timeout = DefaultOutputTimeout
	}
	return &HALOutput{
		conn:    conn,
		topic:   hal.CapCtrl("io", types.KindPWM, name, "set"),
		timeout: timeout,
	}
}

func (o *HALOutput) SetDuty(duty uint32) error {
	o.staged = duty
	return nil
}

func (o *HALOutput) UpdateDuty() error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	r, err := o.conn.RequestWait(ctx, o.conn.NewMessage(o.topic, types.PWMSet{Duty: o.staged}, false))
	if err != nil {
		return errcode.Wrap(errcode.Timeout, "light.UpdateDuty", err)
	}
	switch p := r.Payload.(type) {
	case types.OKReply:
		return nil
	case types.ErrorReply:
		return &errcode.E{C: errcode.Code(p.Error), Op: "light.UpdateDuty"}
	default:
		return &errcode.E{C: errcode.InvalidPayload, Op: "light.UpdateDuty", Msg: fmt.Sprintf("reply %T", r.Payload)}
	}
}
