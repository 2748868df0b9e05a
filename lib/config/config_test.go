// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Matchmaker.SafetyTimeout != 5*time.Second {
		t.Errorf("safety_timeout = %v, want 5s", cfg.Matchmaker.SafetyTimeout)
	}
	if cfg.Matchmaker.FailedPeerCooldown != 30*time.Second {
		t.Errorf("failed_peer_cooldown = %v, want 30s", cfg.Matchmaker.FailedPeerCooldown)
	}
	if !cfg.Chat.LegacyEditFallback {
		t.Error("legacy_edit_fallback should default to true")
	}
	if cfg.Chat.HistoryLimit != 200 {
		t.Errorf("history_limit = %d, want 200", cfg.Chat.HistoryLimit)
	}
	if err := cfg.Validate(false); err != nil {
		t.Errorf("Default().Validate(false) = %v", err)
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv(EnvVar, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when STRANGERS_CONFIG not set")
	}
	if !strings.HasPrefix(err.Error(), "STRANGERS_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadWithEnvVar(t *testing.T) {
	path := writeConfig(t, `
lobby:
  homeserver: https://matrix.example.org
  room: "#strangers:example.org"
  poll_interval: 500ms
`)
	t.Setenv(EnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Lobby.Homeserver != "https://matrix.example.org" {
		t.Errorf("homeserver = %q", cfg.Lobby.Homeserver)
	}
	if cfg.Lobby.PollInterval != 500*time.Millisecond {
		t.Errorf("poll_interval = %v, want 500ms", cfg.Lobby.PollInterval)
	}
	// Untouched fields keep their defaults.
	if cfg.Lobby.StaleAfter != 60*time.Second {
		t.Errorf("stale_after = %v, want default 60s", cfg.Lobby.StaleAfter)
	}
	if err := cfg.Validate(true); err != nil {
		t.Errorf("Validate(true) = %v", err)
	}
}

func TestLoadFileAllSections(t *testing.T) {
	path := writeConfig(t, `
environment: production
lobby:
  homeserver: https://hs.example
  room: "!abc:hs.example"
  guest: false
  username: alice
  password: hunter2
matchmaker:
  safety_timeout: 3s
chat:
  legacy_edit_fallback: false
ice:
  stun_urls: ["stun:stun.example:3478"]
  use_homeserver_turn: false
storage:
  path: ""
notifications:
  desktop: true
logging:
  level: debug
  format: json
profile:
  username: alice
  age: 30
  interests: [go, climbing]
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Environment != Production {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if cfg.Lobby.Guest {
		t.Error("guest should be false")
	}
	if cfg.Matchmaker.SafetyTimeout != 3*time.Second {
		t.Errorf("safety_timeout = %v", cfg.Matchmaker.SafetyTimeout)
	}
	if cfg.Chat.LegacyEditFallback {
		t.Error("legacy_edit_fallback should be false")
	}
	if len(cfg.ICE.STUNURLs) != 1 || cfg.ICE.STUNURLs[0] != "stun:stun.example:3478" {
		t.Errorf("stun_urls = %v", cfg.ICE.STUNURLs)
	}
	if cfg.Storage.Path != "" {
		t.Errorf("storage.path = %q, want empty", cfg.Storage.Path)
	}
	if !cfg.Notifications.Desktop {
		t.Error("desktop notifications should be enabled")
	}
	if cfg.Profile.Age != 30 || len(cfg.Profile.Interests) != 2 {
		t.Errorf("profile = %+v", cfg.Profile)
	}
	level, err := cfg.Logging.SlogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, %v", level, err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
lobby:
  homeserver: https://dev.example
  room: "#dev:dev.example"
logging:
  level: debug
production:
  lobby:
    homeserver: https://prod.example
  logging:
    level: warn
development:
  lobby:
    homeserver: https://never.example
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Lobby.Homeserver != "https://prod.example" {
		t.Errorf("homeserver = %q, want production override", cfg.Lobby.Homeserver)
	}
	if cfg.Lobby.Room != "#dev:dev.example" {
		t.Errorf("room = %q, base value should survive", cfg.Lobby.Room)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging.level = %q, want warn", cfg.Logging.Level)
	}
}

func TestOverrideCannotSwitchEnvironment(t *testing.T) {
	cfg, err := Parse([]byte(`
environment: development
development:
  environment: production
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Environment != Development {
		t.Errorf("environment = %q, want development", cfg.Environment)
	}
}

func TestStoragePathExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("STRANGERS_DATA", "")

	cfg, err := Parse([]byte(`storage: {path: "${STRANGERS_DATA:-/var/lib/strangers}/x.db"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Path != "/var/lib/strangers/x.db" {
		t.Errorf("storage.path = %q, want default branch", cfg.Storage.Path)
	}

	t.Setenv("STRANGERS_DATA", "/srv/data")
	cfg, err = Parse([]byte(`storage: {path: "${STRANGERS_DATA:-/var/lib/strangers}/x.db"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Path != "/srv/data/x.db" {
		t.Errorf("storage.path = %q, want env value", cfg.Storage.Path)
	}

	cfg, err = Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Path != "/home/tester/.local/share/strangers/strangers.db" {
		t.Errorf("default storage.path = %q", cfg.Storage.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*Config)
		requireLobby bool
		wantErr      string
	}{
		{"default demo", func(*Config) {}, false, ""},
		{"lobby missing homeserver", func(*Config) {}, true, "lobby.homeserver is required"},
		{"zero safety timeout", func(c *Config) { c.Matchmaker.SafetyTimeout = 0 }, false, "matchmaker.safety_timeout must be positive"},
		{"negative indicator", func(c *Config) { c.Chat.IndicatorTimeout = -time.Second }, false, "chat.indicator_timeout must be positive"},
		{"stale before heartbeat", func(c *Config) { c.Lobby.StaleAfter = c.Lobby.HeartbeatInterval }, false, "must exceed"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, false, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, false, "logging.format"},
		{"bad environment", func(c *Config) { c.Environment = "staging" }, false, "invalid environment"},
		{"login without password", func(c *Config) {
			c.Lobby.Homeserver = "https://hs"
			c.Lobby.Room = "#r:hs"
			c.Lobby.Guest = false
			c.Lobby.Username = "bob"
		}, true, "lobby.password are required"},
		{"login with access token", func(c *Config) {
			c.Lobby.Homeserver = "https://hs"
			c.Lobby.Room = "#r:hs"
			c.Lobby.Guest = false
			c.Lobby.AccessToken = "syt_token"
		}, true, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate(test.requireLobby)
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, test.wantErr)
			}
		})
	}
}

func TestEnsurePaths(t *testing.T) {
	cfg := Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "nested", "dir", "strangers.db")
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(cfg.Storage.Path)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strangers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}
