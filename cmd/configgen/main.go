package main

import (
	"flag"

	"github.com/danmuck/bridgectl/internal/config"
	"github.com/danmuck/bridgectl/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	kind := flag.String("kind", "bridge", "config kind: bridge|service")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing bridge config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()

	if *validate {
		if *kind != "bridge" {
			log.Fatal().Str("kind", *kind).Msg("only bridge configs validate here; use bridgectl -check for service configs")
		}
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		store, err := config.Open(path)
		if err != nil {
			log.Fatal().Err(err).Msg("validate failed")
		}
		cfg := store.Config()
		log.Info().
			Str("path", path).
			Int("platforms", len(cfg.Platforms)).
			Int("accessories", len(cfg.Accessories)).
			Msg("validated bridge config")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("write template failed")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}

func defaultPath(kind string) string {
	switch kind {
	case "service":
		return "cmd/bridgectl/config.toml"
	case "bridge":
		return "local/bridge.toml"
	default:
		log.Fatal().Str("kind", kind).Msg("unknown kind")
		return ""
	}
}
