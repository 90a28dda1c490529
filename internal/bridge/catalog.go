package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/bridgectl/internal/plugins"
	"github.com/danmuck/bridgectl/internal/plugins/sample"
)

var ErrUnknownPlatform = errors.New("bridge: unknown builtin platform")

// BuiltinPlatforms lists the platform names the bridge binary can enable.
func BuiltinPlatforms() []string {
	return []string{sample.Name}
}

// BuildRegistry registers the named builtin platforms in the given order.
// Duplicates, blanks and "none" are skipped.
func BuildRegistry(names []string) (*plugins.Registry, error) {
	reg := plugins.NewRegistry()

	seen := make(map[string]struct{})
	for _, raw := range names {
		name := canonicalPlatform(raw)
		if name == "" || name == "none" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		switch name {
		case sample.Name:
			if err := reg.RegisterPlatform(sample.NewPlatform()); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, name)
		}
	}
	return reg, nil
}

func canonicalPlatform(raw string) string {
	name := strings.TrimSpace(raw)
	if strings.EqualFold(name, "sample") {
		return sample.Name
	}
	return name
}
