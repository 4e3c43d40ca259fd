package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"schoolbell/internal/config"
)

const testConfig = `
logging:
  level: error
  console: false
scheduler:
  enabled: false
  timezone: UTC
storage:
  driver: memory
http:
  addr: 127.0.0.1:0
  jwt_secret: test-secret
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAppStartServeStop(t *testing.T) {
	a, err := NewApp(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	addr := a.HTTPAddr()
	if addr == "" {
		t.Fatal("no bound address")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if a.HTTPAddr() != "" {
		t.Fatal("listener still bound after Stop")
	}
}

func TestNewAppRejectsMissingSecret(t *testing.T) {
	body := strings.Replace(testConfig, "  jwt_secret: test-secret\n", "", 1)
	t.Setenv(config.EnvJWTSecret, "")
	if _, err := NewApp(writeConfig(t, body)); err == nil {
		t.Fatal("expected error without jwt secret")
	}
}

func TestApplyConfigTogglesScheduler(t *testing.T) {
	a, err := NewApp(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	oldCfg := a.cfgm.Get()
	next := *oldCfg
	next.Scheduler.Enabled = true
	a.applyConfig(ctx, oldCfg, &next)
	if snap := a.tick.Snapshot(); !snap.Enabled || !snap.Running {
		t.Fatalf("scheduler not running after enable: %+v", snap)
	}

	off := next
	off.Scheduler.Enabled = false
	a.applyConfig(ctx, &next, &off)
	if snap := a.tick.Snapshot(); snap.Running {
		t.Fatalf("scheduler still running after disable: %+v", snap)
	}
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		enabled bool
		wantErr bool
	}{
		{name: "default", in: config.StorageConfig{}, driver: "memory", enabled: true},
		{name: "none", in: config.StorageConfig{Driver: "none"}},
		{name: "file", in: config.StorageConfig{Driver: "file", Path: "bells.json"}, driver: "file", enabled: true},
		{name: "sqlite", in: config.StorageConfig{Driver: "sqlite", Path: "bells.db", BusyTimeout: "2s"}, driver: "sqlite", enabled: true},
		{name: "sqlite without path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "postgres", in: config.StorageConfig{Driver: "postgres", DSN: "postgres://x"}, driver: "postgres", enabled: true},
		{name: "unknown", in: config.StorageConfig{Driver: "mongo"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if enabled != tc.enabled || sc.Driver != tc.driver {
				t.Fatalf("got (%q, %v), want (%q, %v)", sc.Driver, enabled, tc.driver, tc.enabled)
			}
		})
	}
}

func TestRelaySinksChanged(t *testing.T) {
	base := &config.Config{Relay: &config.RelayConfig{
		Enabled:  true,
		Telegram: config.TelegramConfig{Enabled: true, Token: "t", Chats: map[string]int64{"s1": 1}},
	}}
	rateOnly := &config.Config{Relay: &config.RelayConfig{
		Enabled:    true,
		RatePerSec: 50,
		Telegram:   config.TelegramConfig{Enabled: true, Token: "t", Chats: map[string]int64{"s1": 1}},
	}}
	if relaySinksChanged(base, rateOnly) {
		t.Fatal("rate change reported as sink change")
	}
	chat := &config.Config{Relay: &config.RelayConfig{
		Enabled:  true,
		Telegram: config.TelegramConfig{Enabled: true, Token: "t", Chats: map[string]int64{"s1": 2}},
	}}
	if !relaySinksChanged(base, chat) {
		t.Fatal("chat change not detected")
	}
	if !relaySinksChanged(base, &config.Config{}) {
		t.Fatal("removing relay not detected")
	}
}
