// Firmware for the Raspberry Pi Pico board profile.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"pwmlight-go/services/boot"
	"pwmlight-go/services/config"
	"pwmlight-go/services/nvs"
)

const board = "pico"

func main() {
	// Allow USB CDC to enumerate before we log.
	time.Sleep(2 * time.Second)

	p, err := config.Load(board, "")
	if err != nil {
		println("config:", err.Error())
		boot.Abort()
		return
	}
	boot.SetupLogging(os.Stdout, p.Log.Level, p.Log.Format, false)

	flash := nvs.NewMemory(p.NVS.Pages)
	for {
		reason, err := boot.Run(context.Background(), boot.Options{
			Profile:  p,
			Flash:    flash,
			BusQueue: 8,
		})
		if err != nil {
			return
		}
		log.Warn().Str("reason", reason).Msg("restarting")
		boot.Restart()
	}
}
