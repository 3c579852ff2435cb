package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("QQRELAY_HOME", t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ButtonTimeout() != 10*time.Second {
		t.Errorf("ButtonTimeout = %v", cfg.ButtonTimeout())
	}
	if cfg.CapabilityTTL() != 270*time.Second {
		t.Errorf("CapabilityTTL = %v", cfg.CapabilityTTL())
	}
	if cfg.Gateway.MaxRetries != 10 {
		t.Errorf("MaxRetries = %d", cfg.Gateway.MaxRetries)
	}
	if cfg.Store.Driver != "file" || cfg.Store.Path == "" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if len(cfg.Gateway.Intents) != 2 {
		t.Errorf("intents = %v", cfg.Gateway.Intents)
	}
	if !cfg.ResumeEnabled() {
		t.Error("resume should default to enabled")
	}
}

func TestLoad_JSON5WithComments(t *testing.T) {
	path := writeConfig(t, `{
		// official bot
		bot: { app_id: "1024", client_secret: "s3cret", sandbox: true },
		delivery: { button_timeout_ms: 2500, fallback_to_host: true },
		gateway: { intents: ["interaction", "GROUP_AND_C2C_EVENT", "bogus"], resume: false },
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.AppID != "1024" || cfg.Bot.APIBase != SandboxAPIBase {
		t.Errorf("bot = %+v", cfg.Bot)
	}
	if cfg.ButtonTimeout() != 2500*time.Millisecond || !cfg.Delivery.FallbackToHost {
		t.Errorf("delivery = %+v", cfg.Delivery)
	}
	if got := cfg.Gateway.Intents; len(got) != 2 || got[0] != "INTERACTION" {
		t.Errorf("intents = %v", got)
	}
	if cfg.ResumeEnabled() {
		t.Error("resume: false not honored")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{bot: {app_id: "file-id", client_secret: "file-secret"}}`)
	t.Setenv("QQRELAY_CLIENT_SECRET", "env-secret")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.AppID != "file-id" || cfg.Bot.ClientSecret != "env-secret" {
		t.Errorf("bot = %+v", cfg.Bot)
	}
}

func TestLoad_RejectsBadDriver(t *testing.T) {
	path := writeConfig(t, `{store: {driver: "mongo"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown store driver")
	}
}

func TestLoad_WakeNeedsHost(t *testing.T) {
	path := writeConfig(t, `{wake: {enabled: true, mention_target: "10001"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when wake is enabled without a host adapter")
	}
}

func TestLoad_WakeNeedsTrustedSender(t *testing.T) {
	path := writeConfig(t, `{host: {onebot: {url: "http://127.0.0.1:3000"}}, wake: {enabled: true}}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "trusted_sender") {
		t.Fatalf("Load = %v, want trusted_sender error", err)
	}

	path = writeConfig(t, `{host: {onebot: {url: "http://127.0.0.1:3000"}}, wake: {enabled: true, trusted_sender: "HOST"}}`)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestSave_RoundTripsThroughLoad(t *testing.T) {
	t.Setenv("QQRELAY_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "sub", "config.json5")
	cfg := Default()
	cfg.Bot.AppID = "42"
	cfg.Server.Token = "tok"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Bot.AppID != "42" || got.Server.Token != "tok" {
		t.Errorf("loaded = %+v", got.Bot)
	}
}

func TestRedacted_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Bot.ClientSecret = "abcdefghijkl"
	cfg.Server.Token = "short"
	r := cfg.Redacted()
	if r.Bot.ClientSecret != "abcd***" || r.Server.Token != "***" {
		t.Errorf("redacted = %q %q", r.Bot.ClientSecret, r.Server.Token)
	}
	if cfg.Bot.ClientSecret != "abcdefghijkl" {
		t.Error("Redacted mutated the original")
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, `{log: {level: "info"}}`)
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 10 * time.Millisecond
	got := make(chan *Config, 4)
	w.OnReload(func(cfg *Config) { got <- cfg })
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte(`{log: {level: "debug"}}`), 0600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case cfg := <-got:
		if cfg.Log.Level != "debug" {
			t.Errorf("level = %q", cfg.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
	}
}
