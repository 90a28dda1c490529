package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/bridgectl/internal/plugins"
	"github.com/danmuck/bridgectl/internal/protocol/envelope"
)

var testController = &Controller{ID: "controller.test"}

type configEvent struct {
	kind    plugins.ConfigKind
	plugin  string
	replace bool
	config  map[string]any
}

// fakeSink records upward events. With deferCurrent set, RequestCurrentConfig
// parks its callback until releaseCurrent is called.
type fakeSink struct {
	mu           sync.Mutex
	events       []configEvent
	current      map[string]any
	requests     int
	deferCurrent bool
	parked       []func(map[string]any)
}

func (f *fakeSink) NewConfig(kind plugins.ConfigKind, pluginName string, replace bool, config map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, configEvent{kind: kind, plugin: pluginName, replace: replace, config: config})
}

func (f *fakeSink) RequestCurrentConfig(done func(map[string]any)) {
	f.mu.Lock()
	f.requests++
	if f.deferCurrent {
		f.parked = append(f.parked, done)
		f.mu.Unlock()
		return
	}
	cfg := f.current
	f.mu.Unlock()
	done(cfg)
}

func (f *fakeSink) releaseCurrent() {
	f.mu.Lock()
	parked := f.parked
	f.parked = nil
	cfg := f.current
	f.mu.Unlock()
	for _, done := range parked {
		done(cfg)
	}
}

func (f *fakeSink) configEvents() []configEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]configEvent, len(f.events))
	copy(out, f.events)
	return out
}

// scriptHandler records every Configure call and delegates to step.
type scriptHandler struct {
	mu      sync.Mutex
	calls   []*envelope.Request
	ctxs    []context.Context
	respond []plugins.Responder
	step    func(call int, pc plugins.Context, req *envelope.Request, respond plugins.Responder) error
}

func (h *scriptHandler) Configure(ctx context.Context, pc plugins.Context, req *envelope.Request, respond plugins.Responder) error {
	h.mu.Lock()
	call := len(h.calls)
	h.calls = append(h.calls, req)
	h.ctxs = append(h.ctxs, ctx)
	h.respond = append(h.respond, respond)
	step := h.step
	h.mu.Unlock()
	if step == nil {
		return nil
	}
	return step(call, pc, req, respond)
}

func (h *scriptHandler) recorded() []*envelope.Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*envelope.Request, len(h.calls))
	copy(out, h.calls)
	return out
}

func (h *scriptHandler) callCtx(i int) context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctxs[i]
}

// terminated reports whether the last recorded call was a Terminate.
func (h *scriptHandler) terminated(calls int) bool {
	got := h.recorded()
	return len(got) == calls && got[calls-1] != nil && got[calls-1].Type == envelope.TypeTerminate
}

func (h *scriptHandler) responder(i int) plugins.Responder {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.respond[i]
}

// dialogueStep asks for a name on the opening turn and persists it on the next.
func dialogueStep(call int, pc plugins.Context, req *envelope.Request, respond plugins.Responder) error {
	if req == nil {
		respond.Respond(plugins.Show(envelope.Input{Title: "Name", Items: []string{"Display Name"}}))
		return nil
	}
	if req.Type != envelope.TypeInterface {
		return nil
	}
	var answers []string
	if _, err := req.Field("response", &answers); err != nil {
		return err
	}
	if len(answers) == 0 {
		respond.Respond(plugins.Show(envelope.Input{Title: "Name", Items: []string{"Display Name"}}))
		return nil
	}
	respond.Respond(plugins.Persist(plugins.KindPlatform, true, map[string]any{
		"platform": "SamplePlatform",
		"name":     answers[0],
		"language": pc.Language(),
	}))
	return nil
}

type namedHandler struct {
	name    string
	handler plugins.Handler
}

func newTestManager(t *testing.T, cfg Config, sink ConfigSink, handlers ...namedHandler) *Manager {
	t.Helper()
	reg := plugins.NewRegistry()
	for _, h := range handlers {
		if err := reg.Register(h.name, h.handler); err != nil {
			t.Fatalf("register %s: %v", h.name, err)
		}
	}
	m := NewManager(reg, sink, cfg)
	t.Cleanup(m.Close)
	return m
}

func immediateConfig() Config {
	return Config{ResponseDelay: 0, TurnTimeout: 0}
}

func encodeRequest(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return []byte(base64.StdEncoding.EncodeToString(raw))
}

// mustWrite writes fields and waits for any plugin turn it queued.
func mustWrite(t *testing.T, m *Manager, fields map[string]any) {
	t.Helper()
	if err := m.HandleWrite(encodeRequest(t, fields), testController); err != nil {
		t.Fatalf("write %v: %v", fields, err)
	}
	settle(t, m.Active())
}

// settle waits until the last plugin turn queued on s has returned.
func settle(t *testing.T, s *Session) {
	t.Helper()
	if s == nil {
		return
	}
	s.mu.Lock()
	done := s.lastTurn
	s.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("plugin turn did not return")
	}
}

// writeWithin fails the test when HandleWrite does not return within d.
func writeWithin(t *testing.T, m *Manager, d time.Duration, fields map[string]any) {
	t.Helper()
	payload := encodeRequest(t, fields)
	errc := make(chan error, 1)
	go func() { errc <- m.HandleWrite(payload, testController) }()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("write %v: %v", fields, err)
		}
	case <-time.After(d):
		t.Fatalf("write %v still blocked after %s", fields, d)
	}
}

func mustRead(t *testing.T, m *Manager) envelope.Response {
	t.Helper()
	payload := m.HandleRead(testController)
	if payload == nil {
		t.Fatalf("expected buffered response")
	}
	resp, err := envelope.DecodeResponse(payload)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func negotiate(t *testing.T, m *Manager) envelope.Response {
	t.Helper()
	mustWrite(t, m, map[string]any{"tid": 0, "type": "Negotiate", "language": "en-US"})
	return mustRead(t, m)
}

func selectItem(t *testing.T, m *Manager, tid int, sid string, index int) {
	t.Helper()
	mustWrite(t, m, map[string]any{"tid": tid, "type": "Interface", "sid": sid, "selections": []int{index}})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
