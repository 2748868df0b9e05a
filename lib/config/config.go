// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable read by Load.
const EnvVar = "STRANGERS_CONFIG"

// Environment selects which override section applies.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the complete client configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Lobby         LobbyConfig        `yaml:"lobby"`
	Matchmaker    MatchmakerConfig   `yaml:"matchmaker"`
	Chat          ChatConfig         `yaml:"chat"`
	ICE           ICEConfig          `yaml:"ice"`
	Storage       StorageConfig      `yaml:"storage"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
	Profile       ProfileConfig      `yaml:"profile"`

	// Per-environment sections, decoded over the base values.
	Development yaml.Node `yaml:"development,omitempty"`
	Production  yaml.Node `yaml:"production,omitempty"`
}

// LobbyConfig locates the Matrix room that carries presence, signaling
// and lobby broadcasts.
type LobbyConfig struct {
	// Homeserver is the base URL, e.g. https://matrix.example.org.
	Homeserver string `yaml:"homeserver"`

	// Room is a room alias (#strangers:example.org) or room ID.
	Room string `yaml:"room"`

	// Guest registers a throwaway guest account instead of logging in.
	Guest    bool   `yaml:"guest"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// AccessToken resumes an existing login instead of a password
	// login. The token is checked against the homeserver at startup.
	AccessToken string `yaml:"access_token"`

	// PollInterval is how often room state is read for presence and
	// signaling.
	PollInterval time.Duration `yaml:"poll_interval"`

	// HeartbeatInterval is how often this client refreshes its own
	// presence record.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// StaleAfter drops presence records whose heartbeat is older.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// MatchmakerConfig tunes random pairing.
type MatchmakerConfig struct {
	SafetyTimeout      time.Duration `yaml:"safety_timeout"`
	FailedPeerCooldown time.Duration `yaml:"failed_peer_cooldown"`
}

// ChatConfig tunes the main chat.
type ChatConfig struct {
	IndicatorTimeout   time.Duration `yaml:"indicator_timeout"`
	NoticeDuration     time.Duration `yaml:"notice_duration"`
	LegacyEditFallback bool          `yaml:"legacy_edit_fallback"`
	HistoryLimit       int           `yaml:"history_limit"`
}

// ICEConfig lists the STUN and TURN servers used for peer connections.
type ICEConfig struct {
	STUNURLs       []string `yaml:"stun_urls"`
	TURNURLs       []string `yaml:"turn_urls"`
	TURNUsername   string   `yaml:"turn_username"`
	TURNCredential string   `yaml:"turn_credential"`

	// UseHomeserverTURN fetches short-lived TURN credentials from the
	// lobby homeserver and appends them to the static servers.
	UseHomeserverTURN bool `yaml:"use_homeserver_turn"`
}

// StorageConfig locates the local database. An empty Path keeps
// everything in memory for the life of the process.
type StorageConfig struct {
	Path string `yaml:"path"`
}

type NotificationConfig struct {
	Desktop bool `yaml:"desktop"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// ProfileConfig is the profile advertised to other peers.
type ProfileConfig struct {
	Username  string   `yaml:"username"`
	Age       int      `yaml:"age"`
	Gender    string   `yaml:"gender"`
	Interests []string `yaml:"interests"`
	Location  string   `yaml:"location"`
}

// Default returns the configuration used before a file is applied.
func Default() *Config {
	return &Config{
		Environment: Development,
		Lobby: LobbyConfig{
			Guest:             true,
			PollInterval:      2 * time.Second,
			HeartbeatInterval: 20 * time.Second,
			StaleAfter:        60 * time.Second,
		},
		Matchmaker: MatchmakerConfig{
			SafetyTimeout:      5 * time.Second,
			FailedPeerCooldown: 30 * time.Second,
		},
		Chat: ChatConfig{
			IndicatorTimeout:   4 * time.Second,
			NoticeDuration:     5 * time.Second,
			LegacyEditFallback: true,
			HistoryLimit:       200,
		},
		ICE: ICEConfig{
			STUNURLs:          []string{"stun:stun.l.google.com:19302"},
			UseHomeserverTURN: true,
		},
		Storage: StorageConfig{
			Path: "${HOME}/.local/share/strangers/strangers.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads the file named by STRANGERS_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your strangers.yaml, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path on top of Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and applies the environment
// section and variable expansion.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() error {
	var section *yaml.Node
	switch c.Environment {
	case Development:
		section = &c.Development
	case Production:
		section = &c.Production
	default:
		return nil
	}
	if section.Kind == 0 {
		return nil
	}
	environment := c.Environment
	if err := section.Decode(c); err != nil {
		return fmt.Errorf("applying %s overrides: %w", environment, err)
	}
	// An override section cannot switch environments.
	c.Environment = environment
	return nil
}

func (c *Config) expandVariables() {
	c.Storage.Path = expandVars(c.Storage.Path)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration. requireLobby is true when the
// client will join a Matrix lobby rather than the in-memory demo.
func (c *Config) Validate(requireLobby bool) error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"lobby.poll_interval", c.Lobby.PollInterval},
		{"lobby.heartbeat_interval", c.Lobby.HeartbeatInterval},
		{"lobby.stale_after", c.Lobby.StaleAfter},
		{"matchmaker.safety_timeout", c.Matchmaker.SafetyTimeout},
		{"matchmaker.failed_peer_cooldown", c.Matchmaker.FailedPeerCooldown},
		{"chat.indicator_timeout", c.Chat.IndicatorTimeout},
		{"chat.notice_duration", c.Chat.NoticeDuration},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", d.name, d.value))
		}
	}
	if c.Lobby.StaleAfter > 0 && c.Lobby.StaleAfter <= c.Lobby.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("lobby.stale_after (%v) must exceed lobby.heartbeat_interval (%v)",
			c.Lobby.StaleAfter, c.Lobby.HeartbeatInterval))
	}
	if c.Chat.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("chat.history_limit must not be negative"))
	}

	if requireLobby {
		if c.Lobby.Homeserver == "" {
			errs = append(errs, fmt.Errorf("lobby.homeserver is required"))
		}
		if c.Lobby.Room == "" {
			errs = append(errs, fmt.Errorf("lobby.room is required"))
		}
		if !c.Lobby.Guest && c.Lobby.AccessToken == "" && (c.Lobby.Username == "" || c.Lobby.Password == "") {
			errs = append(errs, fmt.Errorf("lobby.username and lobby.password are required when lobby.guest is false and lobby.access_token is unset"))
		}
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// EnsurePaths creates the storage directory if a database path is set.
func (c *Config) EnsurePaths() error {
	if c.Storage.Path == "" {
		return nil
	}
	directory := filepath.Dir(c.Storage.Path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}
	return nil
}
