package connection

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Config holds configuration for a Manager.
type Config struct {
	// Policy is the reconnect policy.
	Policy Policy

	// HeartbeatInterval is the period of the ping sent while open.
	// Zero disables the heartbeat.
	HeartbeatInterval time.Duration

	// HandshakeTimeout bounds each dial.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	// Header is sent with every websocket handshake.
	Header http.Header

	// Dialer overrides the websocket dialer.
	Dialer Dialer

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Policy:            DefaultPolicy(),
		HeartbeatInterval: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		EventBuffer:       64,
		Logger:            slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("connection: heartbeat_interval must not be negative, got %v", c.HeartbeatInterval)
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("connection: event_buffer must not be negative, got %d", c.EventBuffer)
	}
	return nil
}

// Option is a functional option for configuring a Manager.
type Option func(*Config)

// WithPolicy sets the reconnect policy.
func WithPolicy(p Policy) Option {
	return func(c *Config) {
		c.Policy = p
	}
}

// WithHeartbeat sets the ping interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = d
	}
}

// WithHandshakeTimeout sets the dial timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithWriteTimeout sets the per-frame write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}

// WithEventBuffer sets the Events channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Config) {
		c.EventBuffer = n
	}
}

// WithHeader sets headers sent with the handshake, e.g. Authorization.
func WithHeader(h http.Header) Option {
	return func(c *Config) {
		c.Header = h
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
