// services/hal/internal/gpioirq/irq_worker.go
package gpioirq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pwmlight-go/services/hal/internal/core"
)

// Worker moves edges out of interrupt context, debounces them and fans them out
// to one channel per registered input.
type Worker struct {
	// Written by ISR; MUST NOT block the ISR:
	isrQ    chan isrEvent
	stopped chan struct{}

	mu     sync.Mutex
	inputs map[string]*watch // key -> watch

	drops uint32 // ISR drop counter
}

type isrEvent struct {
	key   string
	level bool // captured in ISR
	ts    time.Time
}

type watch struct {
	pin       core.IRQPin
	edge      core.Edge
	debounce  time.Duration
	lastLevel bool
	lastEvent time.Time
	out       chan core.GPIOEdgeEvent
}

func New(isrBuf int) *Worker {
	if isrBuf <= 0 {
		isrBuf = 64
	}
	return &Worker{
		isrQ:    make(chan isrEvent, isrBuf),
		stopped: make(chan struct{}),
		inputs:  map[string]*watch{},
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-w.isrQ:
				w.handleISR(ev)
			}
		}
	}()
}

// RegisterInput installs an IRQ handler on pin and returns the debounced edge
// channel plus a cancel function that removes the handler and closes the channel.
func (w *Worker) RegisterInput(key string, pin core.IRQPin, edge core.Edge, debounce time.Duration, buf int) (<-chan core.GPIOEdgeEvent, func(), error) {
	if buf <= 0 {
		buf = 8
	}
	wh := &watch{
		pin:       pin,
		edge:      edge,
		debounce:  debounce,
		lastLevel: pin.Get(),
		out:       make(chan core.GPIOEdgeEvent, buf),
	}

	// ISR handler: fast register read + non-blocking channel send.
	handler := func() {
		select {
		case w.isrQ <- isrEvent{key: key, level: pin.Get(), ts: time.Now()}:
		default:
			atomic.AddUint32(&w.drops, 1)
		}
	}
	if err := pin.SetIRQ(edge, handler); err != nil {
		return nil, nil, err
	}

	w.mu.Lock()
	if old, ok := w.inputs[key]; ok {
		_ = old.pin.ClearIRQ()
		close(old.out)
	}
	w.inputs[key] = wh
	w.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if cur, ok := w.inputs[key]; ok && cur == wh {
				_ = cur.pin.ClearIRQ()
				close(cur.out)
				delete(w.inputs, key)
			}
		})
	}
	return wh.out, cancel, nil
}

func (w *Worker) handleISR(ev isrEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wh := w.inputs[ev.key]
	if wh == nil {
		return
	}

	// Debounce: ignore edges closer than the window to the last accepted one.
	if !wh.lastEvent.IsZero() && ev.ts.Sub(wh.lastEvent) < wh.debounce {
		return
	}

	var e core.Edge
	switch {
	case !wh.lastLevel && ev.level:
		e = core.EdgeRising
	case wh.lastLevel && !ev.level:
		e = core.EdgeFalling
	}
	if e == core.EdgeNone || (wh.edge != core.EdgeBoth && wh.edge != e) {
		wh.lastLevel = ev.level
		return
	}

	select {
	case wh.out <- core.GPIOEdgeEvent{Edge: e, Level: ev.level, TS: ev.ts}:
	default:
		// drop to protect system if consumer is slow
	}
	wh.lastLevel = ev.level
	wh.lastEvent = ev.ts
}

func (w *Worker) ISRDrops() uint32 { return atomic.LoadUint32(&w.drops) }
