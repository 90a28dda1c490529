package session

import (
	"fmt"

	"github.com/danmuck/bridgectl/internal/plugins"
)

// Stage is the step a session is waiting in.
type Stage int

const (
	StageAwaitingNegotiate Stage = iota
	StageMainMenu
	StagePlatformSelection
	StageDelegated
	StageAccessoryMenu
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingNegotiate:
		return "awaiting_negotiate"
	case StageMainMenu:
		return "main_menu"
	case StagePlatformSelection:
		return "platform_selection"
	case StageDelegated:
		return "delegated"
	case StageAccessoryMenu:
		return "accessory_menu"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Controller identifies the controller behind a channel read or write.
// Transports pass nil when the access did not come from a controller.
type Controller struct {
	ID string
}

// ConfigSink receives the upward events of a setup session.
type ConfigSink interface {
	// NewConfig persists a configuration change produced by a plugin dialogue.
	NewConfig(kind plugins.ConfigKind, pluginName string, replace bool, config map[string]any)
	// RequestCurrentConfig fetches a snapshot of the bridge configuration.
	// done may be called synchronously or later from another goroutine.
	RequestCurrentConfig(done func(config map[string]any))
}

// Channel is the write/poll-read control point a transport serves.
type Channel interface {
	HandleWrite(payload []byte, ctl *Controller) error
	HandleRead(ctl *Controller) []byte
}

// Status is a point-in-time view of the manager's active session.
type Status struct {
	Active     bool   `json:"active"`
	SessionID  string `json:"session_id,omitempty"`
	Valid      bool   `json:"valid"`
	Stage      string `json:"stage,omitempty"`
	PluginName string `json:"plugin_name,omitempty"`
	TID        int    `json:"tid"`
}
