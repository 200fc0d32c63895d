//go:build !(tinygo && (rp2040 || rp2350))

package boot

import "os"

// Abort ends the process after a fatal boot error.
var Abort = func() { os.Exit(1) }

// Restart runs between boots. Hosts reboot in-process.
var Restart = func() {}
