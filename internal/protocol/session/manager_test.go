package session

import (
	"errors"
	"testing"

	"github.com/danmuck/bridgectl/internal/plugins"
	"github.com/danmuck/bridgectl/internal/protocol/envelope"
	"github.com/danmuck/bridgectl/internal/testutil/testlog"
)

func TestReadWithoutControllerIsIgnored(t *testing.T) {
	testlog.Start(t)
	m := newTestManager(t, immediateConfig(), &fakeSink{})
	negotiate(t, m)
	if m.HandleRead(nil) != nil {
		t.Fatalf("read without controller context must return nil")
	}
	if m.HandleRead(testController) == nil {
		t.Fatalf("controller read must return the buffered response")
	}
}

func TestWriteWithoutControllerIsIgnored(t *testing.T) {
	testlog.Start(t)
	m := newTestManager(t, immediateConfig(), &fakeSink{})
	err := m.HandleWrite(encodeRequest(t, map[string]any{"tid": 0, "type": "Negotiate"}), nil)
	if !errors.Is(err, ErrNoController) {
		t.Fatalf("expected ErrNoController, got %v", err)
	}
	if m.Active() != nil {
		t.Fatalf("write without controller must not create a session")
	}
}

func TestReadWhileIdleReturnsNil(t *testing.T) {
	testlog.Start(t)
	m := newTestManager(t, immediateConfig(), &fakeSink{})
	if m.HandleRead(testController) != nil {
		t.Fatalf("idle manager must return nil")
	}
	if m.Status().Active {
		t.Fatalf("idle status must be inactive")
	}
}

func TestMalformedWriteLeavesChannelUnchanged(t *testing.T) {
	testlog.Start(t)
	m := newTestManager(t, immediateConfig(), &fakeSink{})
	first := negotiate(t, m)
	sess := m.Active()
	before := m.HandleRead(testController)

	for _, payload := range [][]byte{
		[]byte("!!definitely not base64!!"),
		[]byte("e3RpZDo="),
		nil,
	} {
		err := m.HandleWrite(payload, testController)
		if !errors.Is(err, envelope.ErrProtocolDecode) {
			t.Fatalf("expected ErrProtocolDecode, got %v", err)
		}
	}
	if m.Active() != sess || !sess.Valid() {
		t.Fatalf("malformed writes must not touch the active session")
	}
	if string(m.HandleRead(testController)) != string(before) {
		t.Fatalf("buffered response changed after malformed writes")
	}
	if sess.ID() != first.SID {
		t.Fatalf("session identity changed")
	}
}

func TestMismatchedSessionIDEvictsActiveSession(t *testing.T) {
	testlog.Start(t)
	handler := &scriptHandler{}
	sink := &fakeSink{}
	m := newTestManager(t, immediateConfig(), sink, namedHandler{name: "SamplePlatform", handler: handler})
	sid := negotiate(t, m).SID
	selectItem(t, m, 1, sid, 0)
	selectItem(t, m, 2, sid, 0)
	old := m.Active()
	oldResponse := old.LastResponse()

	mustWrite(t, m, map[string]any{"tid": 0, "type": "Negotiate", "sid": "someone-else"})
	fresh := m.Active()
	if fresh == old || old.Valid() {
		t.Fatalf("mismatched sid must evict and invalidate the old session")
	}
	if fresh.ID() == sid || fresh.ID() == "someone-else" {
		t.Fatalf("new session must get a freshly generated sid, got %q", fresh.ID())
	}

	// The evicted plugin finishes its async work after the fact.
	late := handler.responder(0)
	late.Respond(plugins.Show(envelope.Instruction{Title: "late"}))
	late.Respond(plugins.Persist(plugins.KindPlatform, true, map[string]any{"platform": "SamplePlatform"}))

	if len(sink.configEvents()) != 0 {
		t.Fatalf("stale persist reached the bridge")
	}
	if string(old.LastResponse()) != string(oldResponse) {
		t.Fatalf("evicted session buffered a further response")
	}
	resp := mustRead(t, m)
	if resp.SID != fresh.ID() {
		t.Fatalf("read returned another session's response")
	}
	if _, ok := resp.Body.(envelope.List); !ok {
		t.Fatalf("unexpected body: %T", resp.Body)
	}
}

func TestAtMostOneValidSession(t *testing.T) {
	testlog.Start(t)
	m := newTestManager(t, immediateConfig(), &fakeSink{})
	var sessions []*Session
	for i := 0; i < 5; i++ {
		negotiate(t, m)
		sessions = append(sessions, m.Active())
	}
	valid := 0
	for _, s := range sessions {
		if s.Valid() {
			valid++
		}
	}
	if valid != 1 || !sessions[len(sessions)-1].Valid() {
		t.Fatalf("expected only the newest session valid, got %d valid", valid)
	}
}

func TestSessionIDStableAcrossSession(t *testing.T) {
	testlog.Start(t)
	m := newTestManager(t, immediateConfig(), &fakeSink{})
	sid := negotiate(t, m).SID
	selectItem(t, m, 1, sid, 1)
	selectItem(t, m, 2, sid, 0)
	if got := mustRead(t, m).SID; got != sid {
		t.Fatalf("sid mutated: %q -> %q", sid, got)
	}
}

func TestInterfaceBeforeNegotiateIsIgnored(t *testing.T) {
	testlog.Start(t)
	m := newTestManager(t, immediateConfig(), &fakeSink{})
	mustWrite(t, m, map[string]any{"tid": 3, "type": "Interface", "selections": []int{0}})
	sess := m.Active()
	if sess == nil || sess.Valid() || sess.Stage() != StageAwaitingNegotiate {
		t.Fatalf("unexpected session after premature interface: %+v", m.Status())
	}
	if m.HandleRead(testController) != nil {
		t.Fatalf("no response expected before negotiate")
	}
}

func TestStatusReportsActiveSession(t *testing.T) {
	testlog.Start(t)
	m := newTestManager(t, immediateConfig(), &fakeSink{}, namedHandler{name: "SamplePlatform", handler: &scriptHandler{step: dialogueStep}})
	sid := negotiate(t, m).SID
	selectItem(t, m, 1, sid, 0)
	selectItem(t, m, 2, sid, 0)

	status := m.Status()
	want := Status{Active: true, SessionID: sid, Valid: true, Stage: "delegated", PluginName: "SamplePlatform", TID: 3}
	if status != want {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestCloseEndsActiveSession(t *testing.T) {
	testlog.Start(t)
	m := newTestManager(t, immediateConfig(), &fakeSink{})
	negotiate(t, m)
	sess := m.Active()
	m.Close()
	if sess.Valid() || m.Active() != nil {
		t.Fatalf("close must end the active session")
	}
	select {
	case <-sess.ctx.Done():
	default:
		t.Fatalf("session context must be cancelled")
	}
}
