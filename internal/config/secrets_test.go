package config

import (
	"path/filepath"
	"strings"
	"testing"
)

const testSecretKey = "0123456789abcdef0123456789abcdef"

func TestSealSecrets_LoadOpensThem(t *testing.T) {
	t.Setenv("QQRELAY_HOME", t.TempDir())
	cfg := Default()
	cfg.Bot.AppID = "1020"
	cfg.Bot.ClientSecret = "very-secret-value"
	cfg.Server.Token = "api-token"

	sealed, err := cfg.SealSecrets(testSecretKey)
	if err != nil {
		t.Fatalf("SealSecrets: %v", err)
	}
	if !strings.HasPrefix(sealed.Bot.ClientSecret, "aes-gcm:") || cfg.Bot.ClientSecret != "very-secret-value" {
		t.Fatalf("sealing mutated the source or did not seal: %q", sealed.Bot.ClientSecret)
	}

	path := filepath.Join(t.TempDir(), "config.json5")
	if err := Save(path, sealed); err != nil {
		t.Fatal(err)
	}

	t.Setenv(SecretKeyEnv, testSecretKey)
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Bot.ClientSecret != "very-secret-value" || got.Server.Token != "api-token" {
		t.Errorf("opened secrets = %q, %q", got.Bot.ClientSecret, got.Server.Token)
	}
}

func TestLoad_SealedWithoutKeyFails(t *testing.T) {
	t.Setenv("QQRELAY_HOME", t.TempDir())
	t.Setenv(SecretKeyEnv, "")
	path := writeConfig(t, `{bot: {client_secret: "aes-gcm:AAAA"}}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), SecretKeyEnv) {
		t.Errorf("err = %v, want missing key error", err)
	}
}
