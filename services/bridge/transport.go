package bridge

import (
	"context"
	"fmt"
	"io"
	"sync"

	"pwmlight-go/types"
)

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// TransportFactory builds a transport from config/bridge.
type TransportFactory func(types.BridgeConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]TransportFactory{}
)

// RegisterTransport adds a transport under name, replacing any earlier one.
// The built-in "serial" (hosts) and "uart" (TinyGo) register themselves.
func RegisterTransport(name string, f TransportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg types.BridgeConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Transport]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Transport)
	}
	return f(cfg)
}
