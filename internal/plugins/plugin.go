package plugins

import (
	"context"
	"errors"
	"strings"

	"github.com/danmuck/bridgectl/internal/protocol/envelope"
)

// ErrPluginHandler marks a failure raised inside a plugin's Configure.
var ErrPluginHandler = errors.New("plugins: handler failed")

// ConfigKind selects which section of the bridge configuration a change targets.
type ConfigKind string

const (
	KindPlatform  ConfigKind = "platform"
	KindAccessory ConfigKind = "accessory"
)

func (k ConfigKind) Valid() bool {
	return k == KindPlatform || k == KindAccessory
}

// ContextKeyLanguage holds the controller's preferred language.
const ContextKeyLanguage = "preferredLanguage"

// Context is the mutable bag a plugin keeps across the turns of one dialogue.
type Context map[string]any

func NewContext(language string) Context {
	return Context{ContextKeyLanguage: language}
}

func (c Context) Language() string {
	v, _ := c[ContextKeyLanguage].(string)
	return v
}

// String returns a string value stored under key.
func (c Context) String(key string) string {
	v, _ := c[key].(string)
	return strings.TrimSpace(v)
}

// Reply is one continuation call from a plugin.
//
// A non-nil Config ends the plugin's dialogue and requests persistence of
// Config under Kind; Response is ignored in that case. Otherwise Response is
// buffered for the controller's next poll.
type Reply struct {
	Response envelope.Body
	Kind     ConfigKind
	Replace  bool
	Config   map[string]any
}

// Show builds a reply presenting body.
func Show(body envelope.Body) Reply {
	return Reply{Response: body}
}

// Persist builds a reply that saves cfg and returns the controller to the main menu.
func Persist(kind ConfigKind, replace bool, cfg map[string]any) Reply {
	return Reply{Kind: kind, Replace: replace, Config: cfg}
}

// Responder is bound to exactly one setup session. Calls made after that
// session ended are dropped.
type Responder interface {
	Respond(Reply)
}

type ResponderFunc func(Reply)

func (f ResponderFunc) Respond(r Reply) { f(r) }

// Handler runs one plugin's configuration dialogue.
//
// The first call of a dialogue has req == nil so the plugin can emit its
// opening prompt. Later calls carry the controller's request verbatim,
// including a final Terminate. Handlers may call respond synchronously or
// from another goroutine, any number of times.
type Handler interface {
	Configure(ctx context.Context, pc Context, req *envelope.Request, respond Responder) error
}

type HandlerFunc func(ctx context.Context, pc Context, req *envelope.Request, respond Responder) error

func (f HandlerFunc) Configure(ctx context.Context, pc Context, req *envelope.Request, respond Responder) error {
	return f(ctx, pc, req, respond)
}

// Platform is a handler that knows its own registry name.
type Platform interface {
	Handler
	Name() string
}
