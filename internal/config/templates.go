package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "bridge":
		return bridgeTemplate, nil
	case "service":
		return serviceTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const bridgeTemplate = `[bridge]
name = "bridgectl"
username = "CC:22:3D:E3:CE:30"
port = 51826
pin = "031-45-154"

[[platforms]]
platform = "SamplePlatform"
name = "Living Room"
interval = 30
`

const serviceTemplate = `id = "bridge.local"
http_addr = "127.0.0.1:8581"
control_addr = "127.0.0.1:8582"
config_path = "local/bridge.toml"
response_delay = "100ms"
turn_timeout = "30s"
cors_origins = ["http://localhost:3000"]
platforms = ["SamplePlatform"]
controllers = []
`
