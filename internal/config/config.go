package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/danmuck/bridgectl/internal/plugins"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidEntry = errors.New("config: invalid entry")

// BridgeConfig is the persisted bridge configuration.
type BridgeConfig struct {
	Bridge      BridgeInfo       `toml:"bridge"`
	Platforms   []map[string]any `toml:"platforms"`
	Accessories []map[string]any `toml:"accessories"`
}

type BridgeInfo struct {
	Name     string `toml:"name"`
	Username string `toml:"username"`
	Port     int    `toml:"port"`
	PIN      string `toml:"pin"`
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Bridge: BridgeInfo{
			Name:     "bridgectl",
			Username: "CC:22:3D:E3:CE:30",
			Port:     51826,
			PIN:      "031-45-154",
		},
	}
}

// Store keeps the bridge configuration in memory and on disk.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  BridgeConfig
}

// Open loads path, or starts from defaults when the file does not exist yet.
// An empty path keeps the store in memory only.
func Open(path string) (*Store, error) {
	s := &Store{path: strings.TrimSpace(path), cfg: DefaultBridgeConfig()}
	if s.path == "" {
		return s, nil
	}
	var cfg BridgeConfig
	err := loadToml(s.path, &cfg)
	switch {
	case err == nil:
		if err := ValidateBridgeConfig(cfg); err != nil {
			return nil, fmt.Errorf("config invalid (%s): %w", s.path, err)
		}
		s.cfg = cfg
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	return s, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateBridgeConfig(cfg BridgeConfig) error {
	if strings.TrimSpace(cfg.Bridge.Name) == "" {
		return fmt.Errorf("bridge config missing name")
	}
	for i, entry := range cfg.Platforms {
		if err := ValidateEntry(plugins.KindPlatform, entry); err != nil {
			return fmt.Errorf("platforms[%d] invalid: %w", i, err)
		}
	}
	for i, entry := range cfg.Accessories {
		if err := ValidateEntry(plugins.KindAccessory, entry); err != nil {
			return fmt.Errorf("accessories[%d] invalid: %w", i, err)
		}
	}
	return nil
}

// ValidateEntry checks that entry names its plugin under the kind's key.
func ValidateEntry(kind plugins.ConfigKind, entry map[string]any) error {
	key, err := entryKey(kind)
	if err != nil {
		return err
	}
	name, _ := entry[key].(string)
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidEntry, key)
	}
	return nil
}

func entryKey(kind plugins.ConfigKind) (string, error) {
	switch kind {
	case plugins.KindPlatform:
		return "platform", nil
	case plugins.KindAccessory:
		return "accessory", nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, kind)
	}
}

// Apply records one configuration change and persists the store.
//
// With replace set, the first entry of kind whose key equals pluginName is
// overwritten; otherwise, or when no entry matches, entry is appended.
func (s *Store) Apply(kind plugins.ConfigKind, pluginName string, replace bool, entry map[string]any) error {
	if entry == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	key, err := entryKey(kind)
	if err != nil {
		return err
	}
	entry = cloneMap(entry)
	if _, ok := entry[key]; !ok {
		entry[key] = pluginName
	}
	if err := ValidateEntry(kind, entry); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.cfg.Platforms
	if kind == plugins.KindAccessory {
		list = s.cfg.Accessories
	}
	list = upsert(list, key, pluginName, replace, entry)
	if kind == plugins.KindAccessory {
		s.cfg.Accessories = list
	} else {
		s.cfg.Platforms = list
	}
	observability.RecordConfigChange(string(kind), replace)
	return s.saveLocked()
}

func upsert(list []map[string]any, key, name string, replace bool, entry map[string]any) []map[string]any {
	if replace {
		for i, existing := range list {
			if v, _ := existing[key].(string); v == name {
				list[i] = entry
				return list
			}
		}
	}
	return append(list, entry)
}

// Config returns a deep copy of the current configuration.
func (s *Store) Config() BridgeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BridgeConfig{
		Bridge:      s.cfg.Bridge,
		Platforms:   cloneList(s.cfg.Platforms),
		Accessories: cloneList(s.cfg.Accessories),
	}
}

// Snapshot returns the configuration as a generic object, the shape plugins
// and the setup channel see.
func (s *Store) Snapshot() map[string]any {
	cfg := s.Config()
	return map[string]any{
		"bridge": map[string]any{
			"name":     cfg.Bridge.Name,
			"username": cfg.Bridge.Username,
			"port":     cfg.Bridge.Port,
			"pin":      cfg.Bridge.PIN,
		},
		"platforms":   toAnyList(cfg.Platforms),
		"accessories": toAnyList(cfg.Accessories),
	}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := toml.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("config encode failed: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config save failed (%s): %w", s.path, err)
	}
	tmp, err := os.CreateTemp(dir, ".bridge-*.toml")
	if err != nil {
		return fmt.Errorf("config save failed (%s): %w", s.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("config save failed (%s): %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("config save failed (%s): %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("config save failed (%s): %w", s.path, err)
	}
	return nil
}
