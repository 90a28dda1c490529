package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/bridgectl/internal/bridge"
	"github.com/danmuck/bridgectl/internal/plugins/sample"
	"github.com/danmuck/bridgectl/internal/protocol/session"
	"github.com/danmuck/bridgectl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func startBridge(t *testing.T) (*bridge.Service, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := bridge.DefaultServiceConfig()
	cfg.ConfigPath = filepath.Join(t.TempDir(), "bridge.toml")
	cfg.Session = session.Config{ResponseDelay: 0, TurnTimeout: 0}
	svc, err := bridge.NewService(cfg, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(func() {
		srv.Close()
		svc.Manager().Close()
	})
	return svc, srv
}

func writeTargets(t *testing.T, url string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.toml")
	content := `controller_id = "setupctl.test"
poll_interval = "5ms"
poll_attempts = 50

[[targets]]
name = "test"
url = "` + url + `"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write targets: %v", err)
	}
	return path
}

func TestAppConfiguresSamplePlatform(t *testing.T) {
	testlog.Start(t)
	svc, srv := startBridge(t)

	script := strings.Join([]string{
		"1",      // start setup session
		"1",      // Manage Platform
		"1",      // SamplePlatform
		"Garage", // display name
		"2",      // 30 seconds
		"",       // confirm
		"b",      // leave main menu
		"3",      // exit
	}, "\n") + "\n"
	var out bytes.Buffer
	app := NewApp(strings.NewReader(script), &out, writeTargets(t, srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Run(ctx); err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}

	got := svc.Store().Config().Platforms
	if len(got) != 1 || got[0]["platform"] != sample.Name || got[0]["name"] != "Garage" || got[0]["interval"] != 30 {
		t.Fatalf("unexpected persisted platforms: %#v\n%s", got, out.String())
	}
	if !strings.Contains(out.String(), "Polling Interval") {
		t.Fatalf("expected interval list in output:\n%s", out.String())
	}
	if svc.Manager().Status().Valid {
		t.Fatalf("backing out must terminate the session")
	}
}

func TestAppExitsOnEOF(t *testing.T) {
	testlog.Start(t)
	_, srv := startBridge(t)
	app := NewApp(strings.NewReader(""), &bytes.Buffer{}, writeTargets(t, srv.URL))
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestLoadOrInitTargetsWritesDefaults(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nested", "targets.toml")
	cfg, err := loadOrInitTargets(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Targets) != 1 || cfg.pollEvery != 150*time.Millisecond || cfg.ControllerID != "setupctl" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults must be persisted: %v", err)
	}
}

func TestLoadOrInitTargetsRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"no targets":   "controller_id = \"x\"\n",
		"bad interval": "poll_interval = \"soon\"\n[[targets]]\nname = \"a\"\nurl = \"http://x\"\n",
	}
	for name, content := range cases {
		path := filepath.Join(t.TempDir(), "targets.toml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := loadOrInitTargets(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestExchangeTimesOutWithoutResponse(t *testing.T) {
	testlog.Start(t)
	_, srv := startBridge(t)
	c := NewChannelClient(srv.URL, "", 5*time.Millisecond, 3)
	_, err := c.Exchange(context.Background(), map[string]any{"tid": 0, "type": "Negotiate"})
	if err == nil || !strings.Contains(err.Error(), "no response") {
		t.Fatalf("controller-less exchange must see no response, got %v", err)
	}
}
