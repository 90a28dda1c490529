package plugins

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrHandlerExists = errors.New("plugins: handler already registered")
	ErrHandlerNil    = errors.New("plugins: handler is nil")
	ErrInvalidName   = errors.New("plugins: invalid platform name")
)

// Registry maps platform names to configuration handlers. Names enumerate in
// registration order, which the setup menu uses as its selection mapping.
type Registry struct {
	mu    sync.RWMutex
	order []string
	items map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Handler)}
}

// Register adds handler under name.
func (r *Registry) Register(name string, handler Handler) error {
	if handler == nil {
		return ErrHandlerNil
	}
	name = strings.TrimSpace(name)
	if !isValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %q", ErrHandlerExists, name)
	}
	r.items[name] = handler
	r.order = append(r.order, name)
	return nil
}

// RegisterPlatform adds p under its own name.
func (r *Registry) RegisterPlatform(p Platform) error {
	if p == nil {
		return ErrHandlerNil
	}
	return r.Register(p.Name(), p)
}

func (r *Registry) Resolve(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.items[name]
	return h, ok
}

// Names returns a copy of the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func isValidName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, c := range name {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}
