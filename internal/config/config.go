// ABOUTME: Configuration loading and parsing for coven-room
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied before a file is decoded.
const (
	DefaultServerURL = "ws://localhost:7880"
	DefaultRoomName  = "corelance-main-room"
	DefaultBaseURL   = "http://localhost:5000"
	DefaultTokenPath = "/api/livekit-token"
	DefaultAgentPath = "/api/agent"
	DefaultMicSettle = 500 * time.Millisecond
)

// Transport names.
const (
	TransportLiveKit = "livekit"
	TransportMemory  = "memory"
)

// CaptureSilence selects the generated-silence capture device.
const CaptureSilence = "silence"

// PlaybackDiscard reads received audio and drops it.
const PlaybackDiscard = "discard"

// Config represents the complete coven-room configuration
type Config struct {
	Room         RoomConfig         `yaml:"room" toml:"room"`
	Backend      BackendConfig      `yaml:"backend" toml:"backend"`
	Participants ParticipantsConfig `yaml:"participants" toml:"participants"`
	Media        MediaConfig        `yaml:"media" toml:"media"`
	Transcript   TranscriptConfig   `yaml:"transcript" toml:"transcript"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
}

// RoomConfig holds the media room connection settings
type RoomConfig struct {
	ServerURL string `yaml:"server_url" toml:"server_url"`
	Name      string `yaml:"name" toml:"name"`
	Identity  string `yaml:"identity" toml:"identity"`   // pinned identity; generated per process when empty
	Transport string `yaml:"transport" toml:"transport"` // "livekit" or "memory"
}

// BackendConfig holds the token and agent endpoint settings
type BackendConfig struct {
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	TokenPath string `yaml:"token_path" toml:"token_path"`
	AgentPath string `yaml:"agent_path" toml:"agent_path"`

	// Timeout bounds each HTTP request to the backend. Zero means none.
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// ParticipantsConfig holds participant classification settings
type ParticipantsConfig struct {
	// AgentMarkers are matched against identities that carry no explicit
	// role. Nil selects the defaults; an empty list disables the fallback.
	AgentMarkers []string `yaml:"agent_markers" toml:"agent_markers"`
}

// MediaConfig holds microphone and received-audio settings
type MediaConfig struct {
	MicSettle    time.Duration `yaml:"-" toml:"-"`
	MicSettleRaw string        `yaml:"mic_settle" toml:"mic_settle"`

	// Capture is "silence" or the path of an Ogg/Opus file to stream as
	// the microphone.
	Capture string `yaml:"capture" toml:"capture"`

	// Playback is "discard" or a directory where each subscribed remote
	// audio track is recorded as an Ogg/Opus file.
	Playback string `yaml:"playback" toml:"playback"`
}

// TranscriptConfig holds conversation transcript settings
type TranscriptConfig struct {
	// Path of the SQLite transcript. Empty selects DefaultTranscriptPath;
	// ":memory:" keeps the transcript for the life of the process only.
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Room: RoomConfig{
			ServerURL: DefaultServerURL,
			Name:      DefaultRoomName,
			Transport: TransportLiveKit,
		},
		Backend: BackendConfig{
			BaseURL:   DefaultBaseURL,
			TokenPath: DefaultTokenPath,
			AgentPath: DefaultAgentPath,
		},
		Media: MediaConfig{
			MicSettle: DefaultMicSettle,
			Capture:   CaptureSilence,
			Playback:  PlaybackDiscard,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist. Any other error is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Room.Name == "" {
		return fmt.Errorf("room.name is required")
	}

	if !slices.Contains([]string{TransportLiveKit, TransportMemory}, c.Room.Transport) {
		return fmt.Errorf("room.transport must be %q or %q", TransportLiveKit, TransportMemory)
	}

	if c.Room.Transport == TransportLiveKit {
		if c.Room.ServerURL == "" {
			return fmt.Errorf("room.server_url is required")
		}
		u, err := url.Parse(c.Room.ServerURL)
		if err != nil {
			return fmt.Errorf("room.server_url is not a valid URL: %w", err)
		}
		if !slices.Contains([]string{"ws", "wss", "http", "https"}, u.Scheme) {
			return fmt.Errorf("room.server_url must use ws, wss, http or https scheme")
		}
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https scheme")
	}

	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative")
	}
	if c.Media.MicSettle < 0 {
		return fmt.Errorf("media.mic_settle must not be negative")
	}
	if c.Media.Capture == "" {
		return fmt.Errorf("media.capture is required (%q or an .ogg file path)", CaptureSilence)
	}
	if c.Media.Playback == "" {
		return fmt.Errorf("media.playback is required (%q or a directory)", PlaybackDiscard)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\"")
	}

	return nil
}

// TokenURL returns the full token endpoint URL.
func (c *Config) TokenURL() string {
	return joinURL(c.Backend.BaseURL, c.Backend.TokenPath)
}

// AgentURL returns the full agent endpoint URL.
func (c *Config) AgentURL() string {
	return joinURL(c.Backend.BaseURL, c.Backend.AgentPath)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Backend.TimeoutRaw != "" {
		cfg.Backend.Timeout, err = time.ParseDuration(cfg.Backend.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.Backend.TimeoutRaw, err)
		}
	}

	if cfg.Media.MicSettleRaw != "" {
		cfg.Media.MicSettle, err = time.ParseDuration(cfg.Media.MicSettleRaw)
		if err != nil {
			return fmt.Errorf("parsing mic_settle %q: %w", cfg.Media.MicSettleRaw, err)
		}
	}

	return nil
}

// DefaultPath returns the path to the room config file.
// Priority: COVEN_ROOM_CONFIG env var > XDG_CONFIG_HOME/coven/room.yaml > ~/.config/coven/room.yaml
func DefaultPath() string {
	if envPath := os.Getenv("COVEN_ROOM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "room.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "room.yaml")
}

// TranscriptPath returns the configured transcript path or the default one.
func (c *Config) TranscriptPath() string {
	if c.Transcript.Path != "" {
		return c.Transcript.Path
	}
	return DefaultTranscriptPath()
}

// DefaultTranscriptPath returns room-transcript.db under the data directory.
func DefaultTranscriptPath() string {
	return filepath.Join(DataPath(), "room-transcript.db")
}

// DataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func DataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}
