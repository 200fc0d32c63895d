//go:build !tinygo && !linux

package hal

import "pwmlight-go/services/hal/internal/platform"

func newProvider(opts Options) (platform.Provider, error) {
	switch opts.Platform {
	case "", PlatformHost:
		return platform.NewHost(), nil
	default:
		return nil, unsupported(opts.Platform)
	}
}
