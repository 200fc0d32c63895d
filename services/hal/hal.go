// services/hal/hal.go
package hal

import (
	"context"
	"fmt"

	"pwmlight-go/bus"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/services/hal/internal/platform"
	"pwmlight-go/types"

	// Device builders register themselves in init.
	_ "pwmlight-go/services/hal/devices/gpio_button"
	_ "pwmlight-go/services/hal/devices/pca9685_out"
	_ "pwmlight-go/services/hal/devices/pwm_out"
)

// Platform names the resource provider behind the HAL.
type Platform string

const (
	PlatformHost  Platform = "host"  // simulated pins, PWM and I2C
	PlatformLinux Platform = "linux" // sysfs PWM and GPIO cdev
	PlatformRP2   Platform = "rp2"   // TinyGo machine package
)

// Options select the platform and the board resources it may hand out.
type Options struct {
	Platform Platform
	Plan     types.BoardPlan
	GPIOChip string // linux only
	PWMChip  int    // linux only
}

// Run starts the HAL on conn and blocks until ctx is cancelled. Devices are
// created from the retained config/hal message.
func Run(ctx context.Context, conn *bus.Connection, opts Options) error {
	prov, err := newProvider(opts)
	if err != nil {
		return err
	}
	run(ctx, conn, prov, opts.Plan)
	return nil
}

func run(ctx context.Context, conn *bus.Connection, prov platform.Provider, plan types.BoardPlan) {
	reg := platform.NewRegistry(ctx, prov, plan)
	core.NewHAL(conn, reg).Run(ctx)
}

func unsupported(p Platform) error {
	return fmt.Errorf("hal: platform %q not available in this build", p)
}
