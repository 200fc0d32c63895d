// Package boot wires the services onto one bus in start-up order and blocks
// until the context ends or a reboot is requested.
package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pwmlight-go/bus"
	"pwmlight-go/services/bridge"
	"pwmlight-go/services/cloud"
	"pwmlight-go/services/config"
	"pwmlight-go/services/hal"
	"pwmlight-go/services/heartbeat"
	"pwmlight-go/services/light"
	"pwmlight-go/services/nvs"
	"pwmlight-go/services/reset"
	"pwmlight-go/types"
)

// DefaultFatalDelay is how long a fatal error stays visible before abort.
const DefaultFatalDelay = 5 * time.Second

type Options struct {
	Profile *config.Profile
	Flash   nvs.Flash

	// Platform overrides Profile.Platform when set.
	Platform hal.Platform

	// Bus is created when nil.
	Bus      *bus.Bus
	BusQueue int

	FatalDelay time.Duration
	// Abort runs after a fatal error; it defaults to Abort.
	Abort func()
}

type starter interface {
	Start(ctx context.Context, conn *bus.Connection) error
}

// Run boots the device. It returns the reboot reason, or "" when ctx ended.
// Errors are returned only after the fatal path has run.
func Run(ctx context.Context, opts Options) (string, error) {
	p := opts.Profile
	if p == nil {
		p = config.Default()
	}

	store, err := nvs.Init(opts.Flash)
	if err != nil {
		return "", fatal(ctx, opts, fmt.Errorf("nvs init: %w", err))
	}
	defer store.Close()

	id, created, err := nvs.NodeID(store)
	if err != nil {
		return "", fatal(ctx, opts, fmt.Errorf("node id: %w", err))
	}

	node, err := cloud.NewNode(id, p.Node.Name, p.Node.Type)
	if err != nil {
		return "", fatal(ctx, opts, fmt.Errorf("could not initialise node: %w", err))
	}
	node.Info.Model = p.Node.Model

	b := opts.Bus
	if b == nil {
		q := opts.BusQueue
		if q <= 0 {
			q = 16
		}
		b = bus.NewBus(q)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bootConn := b.NewConnection("boot")
	reboot := bootConn.Subscribe(reset.TopicReboot())
	defer bootConn.Unsubscribe(reboot)

	halOpts := hal.Options{
		Platform: hal.Platform(p.Platform),
		Plan:     p.Plan,
		GPIOChip: p.GPIOChip,
		PWMChip:  p.PWMChip,
	}
	if opts.Platform != "" {
		halOpts.Platform = opts.Platform
	}
	halConn := b.NewConnection("hal")
	go func() {
		if err := hal.Run(ctx, halConn, halOpts); err != nil {
			log.Error().Err(err).Str("platform", string(halOpts.Platform)).Msg("hal failed")
		}
	}()

	services := []struct {
		name string
		svc  starter
	}{
		{"cloud", cloud.New(node)},
		{"light", light.New(node)},
		{"reset", reset.New(store)},
		{"bridge", bridge.New()},
		{"heartbeat", heartbeat.New()},
		{"config", config.NewConfigService(p)},
	}
	for _, s := range services {
		if err := s.svc.Start(ctx, b.NewConnection(s.name)); err != nil {
			if ctx.Err() != nil {
				return "", nil
			}
			return "", fatal(ctx, opts, fmt.Errorf("start %s: %w", s.name, err))
		}
	}

	log.Info().
		Str("node", id).
		Bool("new_identity", created).
		Str("board", p.Board).
		Str("platform", string(halOpts.Platform)).
		Msg("device started")

	select {
	case <-ctx.Done():
		return "", nil
	case m := <-reboot.Channel():
		reason := "requested"
		if rr, ok := m.Payload.(types.RebootRequest); ok && rr.Reason != "" {
			reason = rr.Reason
		}
		log.Warn().Str("reason", reason).Msg("reboot requested")
		return reason, nil
	}
}

// fatal logs err, keeps it visible for the fatal delay and aborts.
func fatal(ctx context.Context, opts Options, err error) error {
	log.Error().Err(err).Msg("fatal: aborting")
	d := opts.FatalDelay
	if d == 0 {
		d = DefaultFatalDelay
	}
	t := time.NewTimer(d)
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	t.Stop()
	abort := opts.Abort
	if abort == nil {
		abort = Abort
	}
	abort()
	return err
}
