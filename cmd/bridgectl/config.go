package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/bridgectl/internal/bridge"
)

type fileConfig struct {
	ID                string   `toml:"id"`
	HTTPAddr          string   `toml:"http_addr"`
	ControlAddr       string   `toml:"control_addr"`
	ConfigPath        string   `toml:"config_path"`
	ResponseDelay     string   `toml:"response_delay"`
	ResponseDelayMS   int64    `toml:"response_delay_ms"`
	TurnTimeout       string   `toml:"turn_timeout"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	CORSOrigins       []string `toml:"cors_origins"`
	Platforms         []string `toml:"platforms"`
	Controllers       []string `toml:"controllers"`
}

func loadServiceConfigIfPresent(path string) (bridge.ServiceConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return bridge.DefaultServiceConfig(), nil
	}
	return loadServiceConfig(path)
}

func loadServiceConfig(path string) (bridge.ServiceConfig, error) {
	cfg := bridge.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return bridge.ServiceConfig{}, fmt.Errorf("load bridge config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return bridge.ServiceConfig{}, fmt.Errorf("load bridge config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.BridgeID = id
		}
	}

	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}

	if meta.IsDefined("control_addr") {
		cfg.ControlAddr = strings.TrimSpace(raw.ControlAddr)
	}

	if meta.IsDefined("config_path") {
		cfg.ConfigPath = strings.TrimSpace(raw.ConfigPath)
	}

	if meta.IsDefined("response_delay") {
		d, err := parseDuration("response_delay", raw.ResponseDelay)
		if err != nil {
			return bridge.ServiceConfig{}, err
		}
		cfg.Session.ResponseDelay = d
	}

	if meta.IsDefined("response_delay_ms") {
		cfg.Session.ResponseDelay = time.Duration(raw.ResponseDelayMS) * time.Millisecond
	}

	if meta.IsDefined("turn_timeout") {
		d, err := parseDuration("turn_timeout", raw.TurnTimeout)
		if err != nil {
			return bridge.ServiceConfig{}, err
		}
		cfg.Session.TurnTimeout = d
	}

	if meta.IsDefined("heartbeat_interval") {
		d, err := parseDuration("heartbeat_interval", raw.HeartbeatInterval)
		if err != nil {
			return bridge.ServiceConfig{}, err
		}
		cfg.HeartbeatInterval = d
	}

	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}

	if meta.IsDefined("platforms") {
		cfg.Platforms = normalizeList(raw.Platforms)
	}

	if meta.IsDefined("controllers") {
		cfg.Controllers = normalizeList(raw.Controllers)
	}

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
