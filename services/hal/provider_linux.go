//go:build linux && !tinygo

package hal

import "pwmlight-go/services/hal/internal/platform"

func newProvider(opts Options) (platform.Provider, error) {
	switch opts.Platform {
	case "", PlatformHost:
		return platform.NewHost(), nil
	case PlatformLinux:
		return platform.NewLinux(opts.GPIOChip, opts.PWMChip), nil
	default:
		return nil, unsupported(opts.Platform)
	}
}
