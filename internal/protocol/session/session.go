package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/danmuck/bridgectl/internal/plugins"
	"github.com/danmuck/bridgectl/internal/protocol/envelope"
	"github.com/rs/zerolog/log"
)

const (
	mainMenuTitle      = "Main Menu"
	platformsTitle     = "Platforms"
	notImplementedText = "Accessory management is not implemented yet."

	menuManagePlatform    = 0
	menuManageAccessories = 1
)

var mainMenuItems = []string{"Manage Platform", "Manage Accessories"}

// heroImage is a 1x1 transparent PNG shown on stub panels.
var heroImage, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=",
)

// End reasons reported to the manager and metrics.
const (
	endEvicted    = "evicted"
	endTerminated = "terminated"
	endFailed     = "failed"
	endExpired    = "expired"
	endClosed     = "closed"
)

// Session is one configuration conversation on the control channel.
type Session struct {
	id       string
	cfg      Config
	registry *plugins.Registry
	onEnd    func(*Session, string)

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	sink          ConfigSink
	closed        bool
	valid         bool
	tid           int
	language      string
	stage         Stage
	lastResponse  []byte
	deliverSeq    uint64
	deliverTimer  *time.Timer
	pluginName    string
	handler       plugins.Handler
	pluginCtx     plugins.Context
	binding       uint64
	bindCtx       context.Context
	bindCancel    context.CancelFunc
	lastTurn      chan struct{}
	platforms     []string
	currentConfig map[string]any
	turnSeq       uint64
	turnTimer     *time.Timer
}

func newSession(
	parent context.Context,
	id string,
	cfg Config,
	registry *plugins.Registry,
	sink ConfigSink,
	onEnd func(*Session, string),
) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:       id,
		cfg:      cfg,
		registry: registry,
		sink:     sink,
		onEnd:    onEnd,
		ctx:      ctx,
		cancel:   cancel,
		stage:    StageAwaitingNegotiate,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// TID is the transaction id the next response will carry.
func (s *Session) TID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tid
}

// LastResponse returns the currently readable response payload, if any.
func (s *Session) LastResponse() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResponse == nil {
		return nil
	}
	out := make([]byte, len(s.lastResponse))
	copy(out, s.lastResponse)
	return out
}

// CurrentConfig returns the last configuration snapshot fetched upward.
func (s *Session) CurrentConfig() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentConfig
}

func (s *Session) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Active:     true,
		SessionID:  s.id,
		Valid:      s.valid,
		Stage:      s.stage.String(),
		PluginName: s.pluginName,
		TID:        s.tid,
	}
}

// HandleWrite advances the stage machine with one decoded request.
func (s *Session) HandleWrite(req envelope.Request) {
	switch req.Type {
	case envelope.TypeNegotiate:
		s.negotiate(req)
	case envelope.TypeInterface:
		s.handleInterface(req)
	case envelope.TypeTerminate:
		s.terminate(req)
	}
}

func (s *Session) negotiate(req envelope.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delegated := s.handler != nil
	var old pluginTurn
	if delegated {
		old = s.turnLocked()
	}
	s.stopTurnLocked()
	s.unbindLocked()
	s.tid = req.TID + 1
	s.language = req.Language
	s.valid = true
	s.platforms = nil
	s.presentMainMenuLocked()
	tid := s.tid
	s.mu.Unlock()

	log.Info().
		Str("sid", s.id).
		Int("tid", tid).
		Str("language", req.Language).
		Msg("setup session negotiated")
	if delegated {
		s.forwardTerminate(old, envelope.Request{TID: req.TID, Type: envelope.TypeTerminate, SID: s.id})
	}
}

func (s *Session) handleInterface(req envelope.Request) {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		log.Debug().Str("sid", s.id).Int("tid", req.TID).Msg("setup interface before negotiate ignored")
		return
	}
	s.tid = req.TID + 1
	sel, hasSel := req.Selection()

	switch s.stage {
	case StageMainMenu:
		switch {
		case hasSel && sel == menuManagePlatform:
			s.platforms = s.registry.Names()
			s.stage = StagePlatformSelection
			s.bufferLocked(envelope.List{Title: platformsTitle, Items: s.platforms})
			s.mu.Unlock()
		case hasSel && sel == menuManageAccessories:
			s.stage = StageAccessoryMenu
			s.mu.Unlock()
			s.requestCurrentConfig()
		default:
			s.presentMainMenuLocked()
			s.mu.Unlock()
		}

	case StagePlatformSelection:
		if !hasSel || sel >= len(s.platforms) {
			log.Warn().Str("sid", s.id).Int("selection", sel).Int("platforms", len(s.platforms)).
				Msg("setup platform selection out of range")
			s.bufferLocked(envelope.List{Title: platformsTitle, Items: s.platforms})
			s.mu.Unlock()
			return
		}
		name := s.platforms[sel]
		handler, ok := s.registry.Resolve(name)
		if !ok {
			log.Warn().Str("sid", s.id).Str("plugin", name).Msg("setup platform no longer registered")
			s.bufferLocked(envelope.List{Title: platformsTitle, Items: s.platforms})
			s.mu.Unlock()
			return
		}
		s.bindLocked(name, handler)
		s.stage = StageDelegated
		s.queueTurnLocked(nil)
		s.mu.Unlock()
		log.Info().Str("sid", s.id).Str("plugin", name).Msg("setup delegated to plugin")

	case StageDelegated:
		s.queueTurnLocked(&req)
		s.mu.Unlock()

	case StageAccessoryMenu:
		s.presentMainMenuLocked()
		s.mu.Unlock()

	default:
		s.mu.Unlock()
	}
}

// terminate ends the session and, when a plugin holds the dialogue, forwards
// the Terminate to it once.
func (s *Session) terminate(req envelope.Request) {
	s.mu.Lock()
	delegated := s.valid && s.stage == StageDelegated && s.handler != nil
	var turn pluginTurn
	if delegated {
		turn = s.turnLocked()
	}
	s.mu.Unlock()

	s.end(endTerminated)
	if delegated {
		s.forwardTerminate(turn, req)
	}
}

// pluginTurn is the delegate binding captured for one Configure call.
type pluginTurn struct {
	name    string
	handler plugins.Handler
	pc      plugins.Context
	binding uint64
	ctx     context.Context
}

func (s *Session) turnLocked() pluginTurn {
	return pluginTurn{
		name:    s.pluginName,
		handler: s.handler,
		pc:      s.pluginCtx,
		binding: s.binding,
		ctx:     s.bindCtx,
	}
}

func (s *Session) bindLocked(name string, handler plugins.Handler) {
	s.unbindLocked()
	s.pluginName = name
	s.handler = handler
	s.pluginCtx = plugins.NewContext(s.language)
	s.bindCtx, s.bindCancel = context.WithCancel(s.ctx)
	s.lastTurn = nil
}

// queueTurnLocked schedules one Configure call for the current binding and
// arms the turn timeout. Calls for one binding run in order, each on its own
// goroutine.
func (s *Session) queueTurnLocked(req *envelope.Request) {
	turn := s.turnLocked()
	prev := s.lastTurn
	done := make(chan struct{})
	s.lastTurn = done
	s.armTurnLocked(turn.binding)
	go s.runTurn(turn, prev, done, req)
}

func (s *Session) runTurn(turn pluginTurn, prev <-chan struct{}, done chan<- struct{}, req *envelope.Request) {
	defer close(done)
	if prev != nil {
		select {
		case <-prev:
		case <-turn.ctx.Done():
			return
		}
	}
	if turn.ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := s.callHandler(turn.ctx, turn, req); err != nil {
		observability.RecordPluginTurn(turn.name, "error", time.Since(start))
		log.Warn().Err(err).Str("sid", s.id).Str("plugin", turn.name).Msg("setup plugin handler failed")
		s.failBinding(turn.binding)
		return
	}
	observability.RecordPluginTurn(turn.name, "ok", time.Since(start))
}

// failBinding ends the session if binding still holds the dialogue.
func (s *Session) failBinding(binding uint64) {
	s.mu.Lock()
	current := s.binding == binding
	s.mu.Unlock()
	if current {
		s.end(endFailed)
	}
}

// forwardTerminate hands a Terminate to a binding that has already been
// detached. The call gets its own context, bounded by the turn timeout, and
// any reply it makes is stale.
func (s *Session) forwardTerminate(turn pluginTurn, req envelope.Request) {
	base := context.WithoutCancel(turn.ctx)
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.cfg.TurnTimeout > 0 {
		ctx, cancel = context.WithTimeout(base, s.cfg.TurnTimeout)
	} else {
		ctx, cancel = context.WithCancel(base)
	}
	go func() {
		defer cancel()
		if err := s.callHandler(ctx, turn, &req); err != nil {
			log.Warn().Err(err).Str("sid", s.id).Str("plugin", turn.name).Msg("setup plugin terminate failed")
		}
	}()
}

// callHandler runs one Configure call, converting panics into ErrPluginHandler.
func (s *Session) callHandler(ctx context.Context, turn pluginTurn, req *envelope.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", plugins.ErrPluginHandler, turn.name, r)
		}
	}()
	respond := responder{s: s, binding: turn.binding}
	if err := turn.handler.Configure(ctx, turn.pc, req, respond); err != nil {
		return fmt.Errorf("%w: %s: %w", plugins.ErrPluginHandler, turn.name, err)
	}
	return nil
}

// responder is the continuation handed to a plugin. It carries the session
// and the binding it was issued for; replies for any other binding are stale.
type responder struct {
	s       *Session
	binding uint64
}

func (r responder) Respond(reply plugins.Reply) {
	r.s.respond(r.binding, reply)
}

func (s *Session) respond(binding uint64, reply plugins.Reply) {
	s.mu.Lock()
	if !s.valid || s.binding != binding || s.stage != StageDelegated {
		s.mu.Unlock()
		log.Debug().Str("sid", s.id).Err(ErrStaleSession).Msg("setup plugin reply dropped")
		return
	}

	if reply.Config != nil {
		kind := reply.Kind
		if kind == "" {
			kind = plugins.KindPlatform
		}
		if !kind.Valid() {
			s.mu.Unlock()
			log.Warn().Str("sid", s.id).Str("kind", string(kind)).Msg("setup plugin reply has unknown config kind")
			return
		}
		s.stopTurnLocked()
		name := s.pluginName
		sink := s.sink
		s.unbindLocked()
		s.stage = StageMainMenu
		s.mu.Unlock()

		log.Info().
			Str("sid", s.id).
			Str("plugin", name).
			Str("kind", string(kind)).
			Bool("replace", reply.Replace).
			Msg("setup plugin produced config")
		if sink != nil {
			sink.NewConfig(kind, name, reply.Replace, reply.Config)
		}

		s.mu.Lock()
		if s.valid && s.stage == StageMainMenu {
			s.presentMainMenuLocked()
		}
		s.mu.Unlock()
		return
	}

	if reply.Response != nil {
		s.stopTurnLocked()
		s.bufferLocked(reply.Response)
	}
	s.mu.Unlock()
}

func (s *Session) requestCurrentConfig() {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()

	done := func(cfg map[string]any) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.valid || s.stage != StageAccessoryMenu {
			return
		}
		s.currentConfig = cfg
		s.bufferLocked(envelope.Instruction{
			Title:          "Not Implemented",
			Detail:         accessoryDetail(cfg),
			HeroImage:      heroImage,
			ShowNextButton: true,
		})
	}
	if sink == nil {
		done(nil)
		return
	}
	sink.RequestCurrentConfig(done)
}

func accessoryDetail(cfg map[string]any) string {
	switch v := cfg["accessories"].(type) {
	case []any:
		return fmt.Sprintf("%s %d accessories configured.", notImplementedText, len(v))
	case []map[string]any:
		return fmt.Sprintf("%s %d accessories configured.", notImplementedText, len(v))
	default:
		return notImplementedText
	}
}

func (s *Session) presentMainMenuLocked() {
	s.stage = StageMainMenu
	items := make([]string, len(mainMenuItems))
	copy(items, mainMenuItems)
	s.bufferLocked(envelope.List{Title: mainMenuTitle, Items: items})
}

// bufferLocked stamps body with the session identity and schedules it to
// become the readable response. A newer response supersedes a pending one.
func (s *Session) bufferLocked(body envelope.Body) {
	payload, err := envelope.EncodeResponse(envelope.Response{TID: s.tid, SID: s.id, Body: body})
	if err != nil {
		log.Error().Err(err).Str("sid", s.id).Msg("setup response encode failed")
		return
	}

	s.deliverSeq++
	if s.deliverTimer != nil {
		s.deliverTimer.Stop()
		s.deliverTimer = nil
	}
	if s.cfg.ResponseDelay <= 0 {
		s.lastResponse = payload
		return
	}
	seq := s.deliverSeq
	s.deliverTimer = time.AfterFunc(s.cfg.ResponseDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.deliverSeq != seq {
			return
		}
		s.lastResponse = payload
		s.deliverTimer = nil
	})
}

func (s *Session) armTurnLocked(binding uint64) {
	s.stopTurnLocked()
	if s.cfg.TurnTimeout <= 0 {
		return
	}
	seq := s.turnSeq
	s.turnTimer = time.AfterFunc(s.cfg.TurnTimeout, func() {
		s.expire(seq, binding)
	})
}

func (s *Session) stopTurnLocked() {
	s.turnSeq++
	if s.turnTimer != nil {
		s.turnTimer.Stop()
		s.turnTimer = nil
	}
}

func (s *Session) expire(seq, binding uint64) {
	s.mu.Lock()
	if !s.valid || s.turnSeq != seq || s.binding != binding || s.handler == nil {
		s.mu.Unlock()
		return
	}
	s.turnTimer = nil
	turn := s.turnLocked()
	req := envelope.Request{TID: s.tid, Type: envelope.TypeTerminate, SID: s.id}
	s.mu.Unlock()

	log.Warn().
		Err(ErrTurnTimeout).
		Str("sid", s.id).
		Str("plugin", turn.name).
		Dur("timeout", s.cfg.TurnTimeout).
		Msg("setup plugin stalled, terminating session")
	s.end(endExpired)
	s.forwardTerminate(turn, req)
}

func (s *Session) unbindLocked() {
	s.binding++
	if s.bindCancel != nil {
		s.bindCancel()
		s.bindCancel = nil
	}
	s.bindCtx = nil
	s.pluginName = ""
	s.handler = nil
	s.pluginCtx = nil
}

// end invalidates the session once, detaches its sink and notifies the owner.
func (s *Session) end(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.valid = false
	s.sink = nil
	s.stopTurnLocked()
	s.unbindLocked()
	if s.deliverTimer != nil {
		s.deliverTimer.Stop()
		s.deliverTimer = nil
	}
	s.deliverSeq++
	s.mu.Unlock()

	s.cancel()
	observability.RecordSessionEvent(reason)
	log.Info().Str("sid", s.id).Str("reason", reason).Msg("setup session ended")
	if s.onEnd != nil {
		s.onEnd(s, reason)
	}
}
