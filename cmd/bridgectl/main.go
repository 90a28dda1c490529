package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/bridgectl/internal/bridge"
	"github.com/danmuck/bridgectl/internal/logging"
	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "cmd/bridgectl/config.toml", "service config path (missing file uses defaults)")
	check := flag.Bool("check", false, "validate the service config and exit")
	flag.Parse()

	cfg, err := loadServiceConfigIfPresent(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
	if *check {
		if _, err := bridge.BuildRegistry(cfg.Platforms); err != nil {
			fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("bridgectl: config ok (%s)\n", *path)
		return
	}

	logging.ConfigureRuntime()
	observability.InitLogger("bridgectl", cfg.BridgeID)

	svc, err := bridge.NewService(cfg, nil)
	if err != nil {
		log.Error().Err(err).Msg("bridge setup failed")
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		log.Error().Err(err).Msg("bridge stopped")
		os.Exit(1)
	}
}
