// Command pwmlightd runs the light on a Linux host, either against sysfs PWM
// and GPIO character devices or fully simulated.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"pwmlight-go/services/boot"
	"pwmlight-go/services/config"
	"pwmlight-go/services/hal"
	"pwmlight-go/services/nvs"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to a board profile (overrides --board)")
	board := pflag.String("board", "host", "Embedded board profile")
	platform := pflag.String("platform", "", "Override the profile platform: host or linux")
	level := pflag.String("log-level", "", "Override the profile log level")
	jsonLogs := pflag.Bool("json", false, "Log JSON instead of console text")
	nvsPath := pflag.String("nvs", "", "Override the SQLite NVS path")
	pflag.Parse()

	p, err := config.Load(*board, *configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if *level != "" {
		p.Log.Level = *level
	}
	if *jsonLogs {
		p.Log.Format = "json"
	}
	if *nvsPath != "" {
		p.NVS.Path = *nvsPath
	}
	boot.SetupLogging(os.Stderr, p.Log.Level, p.Log.Format, true)

	log.Info().Str("board", p.Board).Str("config", *configPath).Msg("Starting pwmlightd")

	var flash nvs.Flash
	if p.NVS.Path != "" {
		flash = nvs.NewSQLite(p.NVS.Path)
	} else {
		flash = nvs.NewMemory(p.NVS.Pages)
	}

	ctx := signalContext()
	for {
		reason, err := boot.Run(ctx, boot.Options{
			Profile:  p,
			Flash:    flash,
			Platform: hal.Platform(*platform),
		})
		if err != nil || ctx.Err() != nil {
			return
		}
		log.Warn().Str("reason", reason).Msg("Rebooting")
		boot.Restart()
	}
}

func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
