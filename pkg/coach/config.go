package coach

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-coach/pkg/capture"
)

// FinalizeFunc receives the retained recording when capture stops.
type FinalizeFunc func(ctx context.Context, callID string, rec *capture.Recording) error

// ArchiveFunc receives the final session once it has ended.
type ArchiveFunc func(ctx context.Context, s Session) error

// Config holds Controller configuration.
type Config struct {
	// WSBaseURL is joined with the call ID to form the session endpoint,
	// e.g. ws://localhost:8000/ws.
	WSBaseURL string

	// CallIDPrefix prefixes generated call IDs.
	CallIDPrefix string

	// FinalizeTimeout bounds the wait for call_completed after Stop.
	FinalizeTimeout time.Duration

	// HookTimeout bounds each finalize and archive hook call.
	HookTimeout time.Duration

	// Capture configures the audio pipeline.
	Capture capture.Config

	// CoachEnabled is the coaching flag for new sessions.
	CoachEnabled bool

	// UpdateBuffer is the per-subscriber channel capacity.
	UpdateBuffer int

	Logger    *slog.Logger
	Finalizer FinalizeFunc
	Archiver  ArchiveFunc
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		WSBaseURL:       "ws://localhost:8000/ws",
		CallIDPrefix:    "web_",
		FinalizeTimeout: 10 * time.Second,
		HookTimeout:     30 * time.Second,
		Capture:         capture.DefaultConfig(),
		CoachEnabled:    true,
		UpdateBuffer:    64,
		Logger:          slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.WSBaseURL == "" {
		return errors.New("coach: websocket base URL required")
	}
	if c.FinalizeTimeout <= 0 {
		return errors.New("coach: finalize timeout must be positive")
	}
	if c.UpdateBuffer <= 0 {
		return errors.New("coach: update buffer must be positive")
	}
	return c.Capture.Validate()
}

// Endpoint returns the websocket endpoint for a call.
func (c *Config) Endpoint(callID string) string {
	return strings.TrimRight(c.WSBaseURL, "/") + "/" + callID
}

// Option configures a Controller.
type Option func(*Config)

// WithWSBaseURL sets the websocket base URL.
func WithWSBaseURL(u string) Option {
	return func(c *Config) {
		c.WSBaseURL = u
	}
}

// WithCallIDPrefix sets the prefix of generated call IDs.
func WithCallIDPrefix(p string) Option {
	return func(c *Config) {
		c.CallIDPrefix = p
	}
}

// WithFinalizeTimeout sets how long Stop waits for the call summary.
func WithFinalizeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.FinalizeTimeout = d
	}
}

// WithHookTimeout bounds the finalize and archive hooks.
func WithHookTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HookTimeout = d
	}
}

// WithCapture sets the capture configuration.
func WithCapture(cfg capture.Config) Option {
	return func(c *Config) {
		c.Capture = cfg
	}
}

// WithCoachEnabled sets the initial coaching flag.
func WithCoachEnabled(enabled bool) Option {
	return func(c *Config) {
		c.CoachEnabled = enabled
	}
}

// WithUpdateBuffer sets the per-subscriber buffer.
func WithUpdateBuffer(n int) Option {
	return func(c *Config) {
		c.UpdateBuffer = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithFinalizer sets the hook that receives the retained recording.
func WithFinalizer(f FinalizeFunc) Option {
	return func(c *Config) {
		c.Finalizer = f
	}
}

// WithArchiver sets the hook that receives each ended session.
func WithArchiver(f ArchiveFunc) Option {
	return func(c *Config) {
		c.Archiver = f
	}
}
