//go:build tinygo && (rp2040 || rp2350)

package bridge

import (
	"context"
	"errors"
	"io"
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"pwmlight-go/types"
)

func init() { RegisterTransport("uart", newUARTTransport) }

// uartTransport owns one of the RP2 UARTs.
type uartTransport struct {
	hw  *uartx.UART
	cfg types.BridgeConfig
}

func newUARTTransport(c types.BridgeConfig) (Transport, error) {
	var hw *uartx.UART
	switch c.UART {
	case 0:
		hw = uartx.UART0
	case 1:
		hw = uartx.UART1
	default:
		return nil, errors.New("uart transport: uart must be 0 or 1")
	}
	return &uartTransport{hw: hw, cfg: c}, nil
}

func (t *uartTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	// Defaults inside uartx apply if zero.
	if err := t.hw.Configure(uartx.UARTConfig{
		BaudRate: uint32(t.cfg.Baud),
		TX:       machine.Pin(t.cfg.TxPin),
		RX:       machine.Pin(t.cfg.RxPin),
	}); err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancel(ctx)
	return &uartConn{hw: t.hw, ctx: lctx, cancel: cancel, readTimeout: time.Duration(t.cfg.ReadTimeoutMs) * time.Millisecond}, nil
}

func (t *uartTransport) String() string { return "uart" }

// uartConn adapts the context-aware receive call to io.Reader. Close
// unblocks a pending Read.
type uartConn struct {
	hw          *uartx.UART
	ctx         context.Context
	cancel      context.CancelFunc
	readTimeout time.Duration
}

func (c *uartConn) Read(p []byte) (int, error) {
	ctx := c.ctx
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}
	n, err := c.hw.RecvSomeContext(ctx, p)
	if err != nil && c.ctx.Err() != nil {
		return n, io.EOF
	}
	return n, err
}

func (c *uartConn) Write(p []byte) (int, error) {
	if c.ctx.Err() != nil {
		return 0, io.ErrClosedPipe
	}
	return c.hw.Write(p)
}

func (c *uartConn) Close() error {
	c.cancel()
	return nil
}
