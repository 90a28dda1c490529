package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// targetsFile persists the bridges setupctl can drive.
type targetsFile struct {
	ControllerID string         `toml:"controller_id"`
	PollInterval string         `toml:"poll_interval"`
	PollAttempts int            `toml:"poll_attempts"`
	ClearScreen  bool           `toml:"clear_screen_after_response"`
	Targets      []targetConfig `toml:"targets"`
	pollEvery    time.Duration
}

// targetConfig binds a display name to a bridge HTTP endpoint.
type targetConfig struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	BridgeID string `toml:"bridge_id"`
}

func defaultTargets() targetsFile {
	return targetsFile{
		ControllerID: "setupctl",
		PollInterval: "150ms",
		PollAttempts: 20,
		Targets: []targetConfig{{
			Name:     "local-bridge",
			URL:      "http://127.0.0.1:8581",
			BridgeID: "bridge.local",
		}},
	}
}

// loadOrInitTargets reads path, writing the defaults first when it is missing.
func loadOrInitTargets(path string) (targetsFile, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := defaultTargets()
		if err := saveTargets(path, cfg); err != nil {
			return targetsFile{}, err
		}
		return cfg.normalized()
	}

	var cfg targetsFile
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return targetsFile{}, fmt.Errorf("load targets: %w", err)
	}
	return cfg.normalized()
}

func saveTargets(path string, cfg targetsFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	buf := strings.Builder{}
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(buf.String()), 0o644)
}

func (f targetsFile) normalized() (targetsFile, error) {
	def := defaultTargets()
	if strings.TrimSpace(f.ControllerID) == "" {
		f.ControllerID = def.ControllerID
	}
	if strings.TrimSpace(f.PollInterval) == "" {
		f.PollInterval = def.PollInterval
	}
	d, err := time.ParseDuration(strings.TrimSpace(f.PollInterval))
	if err != nil || d <= 0 {
		return targetsFile{}, fmt.Errorf("parse poll_interval %q: invalid duration", f.PollInterval)
	}
	f.pollEvery = d
	if f.PollAttempts <= 0 {
		f.PollAttempts = def.PollAttempts
	}

	targets := make([]targetConfig, 0, len(f.Targets))
	for _, t := range f.Targets {
		t.Name = strings.TrimSpace(t.Name)
		t.URL = strings.TrimSpace(t.URL)
		if t.Name == "" || t.URL == "" {
			continue
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return targetsFile{}, errors.New("targets file needs at least one target with name and url")
	}
	f.Targets = targets
	return f, nil
}
