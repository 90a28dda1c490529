package session

import (
	"context"
	"sync"

	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/danmuck/bridgectl/internal/plugins"
	"github.com/danmuck/bridgectl/internal/protocol/envelope"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager owns one bridge's setup control channel and its single active session.
type Manager struct {
	cfg      Config
	registry *plugins.Registry
	sink     ConfigSink
	newID    func() string

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes request routing. Plugin code never runs under it.
	// mu guards active only.
	writeMu sync.Mutex
	mu      sync.Mutex
	active  *Session
}

var _ Channel = (*Manager)(nil)

// NewManager builds a manager for registry, reporting upward events to sink.
func NewManager(registry *plugins.Registry, sink ConfigSink, cfg Config) *Manager {
	if registry == nil {
		registry = plugins.NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg.WithDefaults(),
		registry: registry,
		sink:     sink,
		newID:    uuid.NewString,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// HandleRead returns the active session's readable response. It returns nil
// when there is no controller context or no active session.
func (m *Manager) HandleRead(ctl *Controller) []byte {
	if ctl == nil {
		return nil
	}
	sess := m.Active()
	if sess == nil {
		observability.RecordSetupRead(false)
		return nil
	}
	out := sess.LastResponse()
	observability.RecordSetupRead(out != nil)
	return out
}

// HandleWrite processes one channel write. The transport acknowledges the
// write regardless of the returned error, which only reports why a payload
// was dropped.
func (m *Manager) HandleWrite(payload []byte, ctl *Controller) error {
	if ctl == nil {
		return ErrNoController
	}
	req, err := envelope.DecodeRequest(payload)
	if err != nil {
		observability.RecordSetupWrite("", "decode_error")
		log.Warn().Err(err).Str("controller", ctl.ID).Int("bytes", len(payload)).Msg("setup write dropped")
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	sess := m.sessionFor(req, ctl)
	sess.HandleWrite(req)
	observability.RecordSetupWrite(string(req.Type), "ok")
	return nil
}

// sessionFor returns the active session when req names it, otherwise evicts
// it and installs a fresh one.
func (m *Manager) sessionFor(req envelope.Request, ctl *Controller) *Session {
	m.mu.Lock()
	cur := m.active
	if cur != nil && req.SID != "" && req.SID == cur.ID() && cur.Valid() {
		m.mu.Unlock()
		return cur
	}
	m.active = nil
	m.mu.Unlock()

	if cur != nil {
		log.Info().
			Err(ErrSessionMismatch).
			Str("sid", cur.ID()).
			Str("request_sid", req.SID).
			Msg("setup session superseded")
		cur.end(endEvicted)
	}

	sess := newSession(m.ctx, m.newID(), m.cfg, m.registry, m.sink, m.sessionEnded)
	m.mu.Lock()
	m.active = sess
	m.mu.Unlock()
	observability.RecordSessionEvent("created")
	log.Info().Str("sid", sess.ID()).Str("controller", ctl.ID).Msg("setup session created")
	return sess
}

// sessionEnded returns the manager to idle when its active session ends.
func (m *Manager) sessionEnded(s *Session, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

// Active returns the active session, or nil when idle.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) Status() Status {
	sess := m.Active()
	if sess == nil {
		return Status{}
	}
	return sess.status()
}

// Close ends the active session and cancels every plugin context.
func (m *Manager) Close() {
	if sess := m.Active(); sess != nil {
		sess.end(endClosed)
	}
	m.cancel()
}
