// Package config loads and persists the JSON configuration file that
// controls the daemon, and migrates any legacy in-file secret out to
// the vault.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cybercypher/setu-carddav/internal/vault"
)

type Config struct {
	GoogleClientID string `json:"google_client_id"`
	SyncIntervalS  int    `json:"sync_interval_secs"`
	ServerPort     int    `json:"server_port"`
	UseTLS         bool   `json:"use_tls"`
	TLSCertFile    string `json:"tls_cert_file,omitempty"`
	TLSKeyFile     string `json:"tls_key_file,omitempty"`

	// GoogleClientSecret is only ever populated while reading a legacy
	// config file; Save never writes it back. load_and_migrate moves it
	// into the vault and rewrites the file without it.
	GoogleClientSecret string `json:"google_client_secret,omitempty"`
}

func defaults() *Config {
	return &Config{
		SyncIntervalS: 900,
		ServerPort:    5232,
		UseTLS:        false,
	}
}

// getenv mirrors the teacher's own env-override idiom: an environment
// variable, when set, overrides the on-disk default for that single
// field rather than replacing the config file entirely.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Path returns the platform's per-user config file location.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "setu", "config.json"), nil
}

// Load reads the config file at path, falling back to defaults for any
// field absent from an existing file, or to an all-defaults Config if
// the file does not exist yet.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, never including the
// deprecated client-secret field.
func Save(path string, cfg *Config) error {
	out := *cfg
	out.GoogleClientSecret = ""

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadAndMigrate loads the config at path and, if it still carries a
// legacy in-file client secret, moves it into v under
// vault.KeyGoogleClientSecret and rewrites the file without it.
func LoadAndMigrate(path string, v vault.Vault) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.GoogleClientSecret == "" {
		return cfg, nil
	}

	if err := v.Set(vault.KeyGoogleClientSecret, cfg.GoogleClientSecret); err != nil {
		return nil, err
	}
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	cfg.GoogleClientSecret = ""
	return cfg, nil
}

// HasCredentials reports whether enough state exists in cfg and v to
// attempt an authenticated sync: a client ID plus either a stored
// client secret or an already-cached OAuth token.
func HasCredentials(cfg *Config, v vault.Vault) bool {
	if cfg.GoogleClientID == "" {
		return false
	}
	if _, ok, _ := v.Get(vault.KeyGoogleClientSecret); ok {
		return true
	}
	_, ok, _ := v.Get(vault.KeyOAuthToken)
	return ok
}

// LogLevel resolves the effective log level: LOG_LEVEL env var first,
// then "info".
func LogLevel() string {
	return getenv("LOG_LEVEL", "info")
}
