//go:build rp2040 || rp2350

package hal

import "pwmlight-go/services/hal/internal/platform"

func newProvider(opts Options) (platform.Provider, error) {
	switch opts.Platform {
	case "", PlatformRP2:
		return platform.NewRP2(opts.Plan), nil
	default:
		return nil, unsupported(opts.Platform)
	}
}
