package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cybercypher/setu-carddav/internal/vault"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SyncIntervalS != 900 || cfg.ServerPort != 5232 || cfg.UseTLS {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := &Config{GoogleClientID: "client-123", SyncIntervalS: 600, ServerPort: 9000, UseTLS: true}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.GoogleClientID != "client-123" || got.SyncIntervalS != 600 || got.ServerPort != 9000 || !got.UseTLS {
		t.Fatalf("unexpected round trip: %+v", got)
	}
}

func TestSaveNeverPersistsClientSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := &Config{GoogleClientID: "id", GoogleClientSecret: "shh"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := m["google_client_secret"]; present {
		t.Fatalf("client secret must not be persisted to config file")
	}
}

func TestLoadAndMigrateMovesSecretToVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	legacy := `{"google_client_id":"id","google_client_secret":"legacy-secret","sync_interval_secs":900,"server_port":5232,"use_tls":false}`
	if err := os.WriteFile(path, []byte(legacy), 0600); err != nil {
		t.Fatalf("seed legacy config: %v", err)
	}

	v := vault.NewFileVault(filepath.Join(t.TempDir(), "vault.json"))
	cfg, err := LoadAndMigrate(path, v)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if cfg.GoogleClientSecret != "" {
		t.Fatalf("secret should be cleared from in-memory config after migration")
	}

	secret, ok, err := v.Get(vault.KeyGoogleClientSecret)
	if err != nil || !ok || secret != "legacy-secret" {
		t.Fatalf("expected migrated secret in vault, got %q ok=%v err=%v", secret, ok, err)
	}

	raw, _ := os.ReadFile(path)
	var m map[string]any
	json.Unmarshal(raw, &m)
	if _, present := m["google_client_secret"]; present {
		t.Fatalf("rewritten config file must not retain the client secret")
	}
}

func TestHasCredentials(t *testing.T) {
	v := vault.NewFileVault(filepath.Join(t.TempDir(), "vault.json"))
	cfg := &Config{}

	if HasCredentials(cfg, v) {
		t.Fatalf("empty config/vault should report no credentials")
	}

	cfg.GoogleClientID = "id"
	if HasCredentials(cfg, v) {
		t.Fatalf("client id alone should not be enough")
	}

	_ = v.Set(vault.KeyOAuthToken, `{"access_token":"x"}`)
	if !HasCredentials(cfg, v) {
		t.Fatalf("client id + cached token should count as credentials")
	}
}
