//go:build !tinygo

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"pwmlight-go/types"
)

func init() { RegisterTransport("serial", newSerialTransport) }

// serialTransport opens a host serial device.
type serialTransport struct {
	cfg *serial.Config
}

func newSerialTransport(c types.BridgeConfig) (Transport, error) {
	if c.Port == "" {
		return nil, errors.New("serial transport requires a port")
	}
	baud := c.Baud
	if baud == 0 {
		baud = 115200
	}
	return &serialTransport{cfg: &serial.Config{
		Name:        c.Port,
		Baud:        baud,
		ReadTimeout: time.Duration(c.ReadTimeoutMs) * time.Millisecond,
	}}, nil
}

func (t *serialTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := serial.OpenPort(t.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", t.cfg.Name, err)
	}
	return p, nil
}

func (t *serialTransport) String() string { return "serial:" + t.cfg.Name }
