package bridge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/bridgectl/internal/auth"
	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/danmuck/bridgectl/internal/plugins/sample"
	"github.com/danmuck/bridgectl/internal/protocol/envelope"
	"github.com/danmuck/bridgectl/internal/testutil/testlog"
)

const testControllerID = "controller.http"

func post(t *testing.T, s *Service, controller string, payload []byte) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/setup/control", bytes.NewReader(payload))
	if controller != "" {
		req.Header.Set(observability.HeaderControllerID, controller)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr.Code
}

func poll(t *testing.T, s *Service, controller string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/setup/control", nil)
	if controller != "" {
		req.Header.Set(observability.HeaderControllerID, controller)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

// step writes fields and polls until the response to that write shows up.
func step(t *testing.T, s *Service, fields map[string]any) envelope.Response {
	t.Helper()
	if code := post(t, s, testControllerID, wire(t, fields)); code != http.StatusNoContent {
		t.Fatalf("write status=%d", code)
	}
	want := fields["tid"].(int) + 1
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr := poll(t, s, testControllerID)
		if rr.Code == http.StatusOK {
			if resp := decodeResponse(t, rr.Body.Bytes()); resp.TID == want {
				return resp
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("no response stamped tid=%d, last poll status=%d", want, rr.Code)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHTTPControlSamplePlatformFlow(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)

	menu := step(t, s, map[string]any{"tid": 0, "type": "Negotiate", "language": "en-US"})
	if menu.TID != 1 || menu.SID == "" {
		t.Fatalf("unexpected negotiate response: %+v", menu)
	}
	sid := menu.SID

	platforms := step(t, s, map[string]any{"tid": 1, "type": "Interface", "sid": sid, "selections": []int{0}})
	if got := envelope.Items(platforms.Body); len(got) != 1 || got[0] != sample.Name {
		t.Fatalf("unexpected platforms: %v", got)
	}

	prompt := step(t, s, map[string]any{"tid": 2, "type": "Interface", "sid": sid, "selections": []int{0}})
	if _, ok := prompt.Body.(envelope.Input); !ok {
		t.Fatalf("expected name prompt, got %T", prompt.Body)
	}

	intervals := step(t, s, map[string]any{"tid": 3, "type": "Interface", "sid": sid, "response": []string{"Garage"}})
	if _, ok := intervals.Body.(envelope.List); !ok {
		t.Fatalf("expected interval list, got %T", intervals.Body)
	}

	confirm := step(t, s, map[string]any{"tid": 4, "type": "Interface", "sid": sid, "selections": []int{2}})
	if _, ok := confirm.Body.(envelope.Instruction); !ok {
		t.Fatalf("expected confirmation, got %T", confirm.Body)
	}

	back := step(t, s, map[string]any{"tid": 5, "type": "Interface", "sid": sid})
	list, ok := back.Body.(envelope.List)
	if !ok || list.Title != "Main Menu" || back.TID != 6 || back.SID != sid {
		t.Fatalf("expected main menu after persist, got %+v", back)
	}

	got := s.Store().Config().Platforms
	if len(got) != 1 || got[0]["platform"] != sample.Name || got[0]["name"] != "Garage" || got[0]["interval"] != 60 {
		t.Fatalf("unexpected persisted platforms: %#v", got)
	}
}

func TestHTTPControlWithoutControllerIsIgnored(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)

	if code := post(t, s, "", wire(t, map[string]any{"tid": 0, "type": "Negotiate"})); code != http.StatusNoContent {
		t.Fatalf("write status=%d", code)
	}
	if s.Manager().Active() != nil {
		t.Fatalf("controller-less write must not open a session")
	}

	step(t, s, map[string]any{"tid": 0, "type": "Negotiate"})
	if rr := poll(t, s, ""); rr.Code != http.StatusNoContent || rr.Body.Len() != 0 {
		t.Fatalf("controller-less read must be empty, status=%d", rr.Code)
	}
}

func TestHTTPControlMalformedWriteIsAcknowledged(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)
	if code := post(t, s, testControllerID, []byte("not base64 !!")); code != http.StatusNoContent {
		t.Fatalf("write status=%d", code)
	}
	if rr := poll(t, s, testControllerID); rr.Code != http.StatusNoContent {
		t.Fatalf("expected empty poll, status=%d", rr.Code)
	}
}

func TestHTTPRoutes(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)

	cases := []struct {
		path   string
		status int
		key    string
	}{
		{path: "/health", status: http.StatusOK, key: "status"},
		{path: "/ready", status: http.StatusServiceUnavailable, key: "ready"},
		{path: "/platforms", status: http.StatusOK, key: "platforms"},
		{path: "/config", status: http.StatusOK, key: "bridge"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != tc.status {
			t.Fatalf("%s status=%d want %d", tc.path, rr.Code, tc.status)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s decode: %v", tc.path, err)
		}
		if _, ok := body[tc.key]; !ok {
			t.Fatalf("%s missing %q: %#v", tc.path, tc.key, body)
		}
	}

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte("bridgectl_http_requests_total")) {
		t.Fatalf("metrics status=%d", rr.Code)
	}
}

func TestHTTPControlAdmitsOnlyListedControllers(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)
	s.admit = auth.ForIDs([]string{testControllerID})

	if code := post(t, s, "intruder", wire(t, map[string]any{"tid": 0, "type": "Negotiate"})); code != http.StatusNoContent {
		t.Fatalf("write status=%d", code)
	}
	if s.Manager().Active() != nil {
		t.Fatalf("unlisted controller must not open a session")
	}

	step(t, s, map[string]any{"tid": 0, "type": "Negotiate"})
	if rr := poll(t, s, "intruder"); rr.Code != http.StatusNoContent {
		t.Fatalf("unlisted controller must not read, status=%d", rr.Code)
	}
}
