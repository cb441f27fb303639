// Package config loads go-coach settings from an optional YAML file and the
// environment.
//
// Priority (highest to lowest): flags > environment > file > defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-coach/pkg/capture"
	"github.com/teslashibe/go-coach/pkg/connection"
)

// Environment variables.
const (
	EnvConfig        = "COACH_CONFIG"
	EnvAPIURL        = "COACH_API_URL"
	EnvWSURL         = "COACH_WS_URL"
	EnvLogLevel      = "COACH_LOG_LEVEL"
	EnvLogFile       = "COACH_LOG_FILE"
	EnvAudioTarget   = "COACH_AUDIO_TARGET"
	EnvAudioBackend  = "COACH_AUDIO_BACKEND"
	EnvAudioCodec    = "COACH_AUDIO_CODEC"
	EnvDBPath        = "COACH_DB_PATH"
	EnvDashboardPort = "COACH_DASHBOARD_PORT"
	EnvCoachEnabled  = "COACH_ENABLED"
	EnvClientID      = "COACH_CLIENT_ID"
	EnvClientSecret  = "COACH_CLIENT_SECRET"
	EnvTokenURL      = "COACH_TOKEN_URL"
)

// Config is the go-coach client configuration.
type Config struct {
	// APIURL is the backend REST root.
	APIURL string `yaml:"api_url"`

	// WSURL is the websocket base; the call ID is appended per session.
	// Empty derives it from APIURL.
	WSURL string `yaml:"ws_url"`

	LogLevel string `yaml:"log_level"`

	// LogFile receives logs while the TUI owns the terminal.
	LogFile string `yaml:"log_file"`

	// DBPath is the session archive. Empty uses the default location and
	// "off" disables archiving.
	DBPath string `yaml:"db_path"`

	// DashboardPort serves the web dashboard. 0 disables it.
	DashboardPort int `yaml:"dashboard_port"`

	CoachEnabled bool `yaml:"coach_enabled"`

	// UploadFinal uploads the whole recording after each call.
	UploadFinal bool `yaml:"upload_final"`

	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`

	Heartbeat time.Duration `yaml:"heartbeat"`

	Audio     capture.Config    `yaml:"audio"`
	Reconnect connection.Policy `yaml:"reconnect"`
	Auth      Auth              `yaml:"auth"`
}

// Auth holds OAuth2 client credentials for the backend.
type Auth struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether client credentials are configured.
func (a Auth) Enabled() bool {
	return a.ClientID != "" && a.TokenURL != ""
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIURL:          "http://localhost:8000",
		LogLevel:        "info",
		DashboardPort:   8090,
		CoachEnabled:    true,
		UploadFinal:     true,
		FinalizeTimeout: 10 * time.Second,
		Heartbeat:       30 * time.Second,
		Audio:           capture.DefaultConfig(),
		Reconnect:       connection.DefaultPolicy(),
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "go-coach", "config.yaml")
}

// Load reads the config file at path, or COACH_CONFIG, or the default
// location, then applies environment overrides. A missing file at the
// default location is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := true
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = DefaultPath()
		explicit = false
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from COACH_* environment variables.
func (c *Config) ApplyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(EnvAPIURL, &c.APIURL)
	setString(EnvWSURL, &c.WSURL)
	setString(EnvLogLevel, &c.LogLevel)
	setString(EnvLogFile, &c.LogFile)
	setString(EnvDBPath, &c.DBPath)
	setString(EnvClientID, &c.Auth.ClientID)
	setString(EnvClientSecret, &c.Auth.ClientSecret)
	setString(EnvTokenURL, &c.Auth.TokenURL)

	if v := os.Getenv(EnvAudioTarget); v != "" {
		c.Audio.Target = capture.Target(v)
	}
	if v := os.Getenv(EnvAudioBackend); v != "" {
		c.Audio.Backend = capture.Backend(v)
	}
	if v := os.Getenv(EnvAudioCodec); v != "" {
		c.Audio.Codec = capture.Codec(v)
	}
	if v := os.Getenv(EnvDashboardPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvDashboardPort, err)
		}
		c.DashboardPort = port
	}
	if v := os.Getenv(EnvCoachEnabled); v != "" {
		c.CoachEnabled = v != "false" && v != "0"
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: api_url must be an http(s) URL, got %q", c.APIURL)
	}
	if c.WSURL != "" {
		if err := connection.ValidateEndpoint(c.WSURL); err != nil {
			return fmt.Errorf("config: ws_url: %w", err)
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if c.DashboardPort < 0 || c.DashboardPort > 65535 {
		return fmt.Errorf("config: dashboard_port out of range: %d", c.DashboardPort)
	}
	if c.FinalizeTimeout <= 0 {
		return errors.New("config: finalize_timeout must be positive")
	}
	if c.Heartbeat <= 0 {
		return errors.New("config: heartbeat must be positive")
	}
	if c.Auth.ClientID != "" && c.Auth.TokenURL == "" {
		return errors.New("config: auth.token_url required with auth.client_id")
	}
	if err := c.Reconnect.Validate(); err != nil {
		return err
	}
	return c.Audio.Validate()
}

// WSBaseURL returns WSURL, or the /ws root of APIURL with the scheme
// switched to ws or wss.
func (c *Config) WSBaseURL() string {
	if c.WSURL != "" {
		return strings.TrimRight(c.WSURL, "/")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// ArchiveEnabled reports whether sessions are written to the archive.
func (c *Config) ArchiveEnabled() bool {
	return c.DBPath != "off"
}
