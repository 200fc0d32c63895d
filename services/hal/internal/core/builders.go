package core

import (
	"context"
	"sort"
	"sync"
)

var (
	regMu    sync.RWMutex
	builders = map[string]Builder{}
)

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, in BuilderInput) (Device, error)

func (f BuilderFunc) Build(ctx context.Context, in BuilderInput) (Device, error) { return f(ctx, in) }

// RegisterBuilder is called from device packages' init functions. Device
// types are unique.
func RegisterBuilder(typ string, b Builder) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := builders[typ]; exists {
		panic("duplicate device builder: " + typ)
	}
	builders[typ] = b
}

// BuilderTypes lists the registered device types in order.
func BuilderTypes() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(builders))
	for typ := range builders {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

func lookupBuilder(typ string) (Builder, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	b, ok := builders[typ]
	return b, ok
}
