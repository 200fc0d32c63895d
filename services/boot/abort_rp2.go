//go:build tinygo && (rp2040 || rp2350)

package boot

import "machine"

// Abort resets the CPU after a fatal boot error.
var Abort = func() { machine.CPUReset() }

// Restart resets the CPU on a reboot request.
var Restart = func() { machine.CPUReset() }
