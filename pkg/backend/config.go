package backend

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds backend client configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// BaseURL is the REST root, e.g. http://localhost:8000.
	BaseURL string

	// OAuth2 client credentials. When ClientID and TokenURL are set every
	// request carries a bearer token.
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// Timeouts
	Timeout       time.Duration
	UploadTimeout time.Duration

	// Retry configuration for idempotent requests
	MaxRetries int
	RetryDelay time.Duration

	// HTTPClient replaces the shared client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "http://localhost:8000",
		Timeout:       30 * time.Second,
		UploadTimeout: 5 * time.Minute,
		MaxRetries:    2,
		RetryDelay:    500 * time.Millisecond,
		Logger:        slog.Default(),
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
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	return nil
}

// oauthEnabled reports whether client credentials are configured.
func (c *Config) oauthEnabled() bool {
	return c.ClientID != "" && c.TokenURL != ""
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithBaseURL sets the REST root.
func WithBaseURL(u string) Option {
	return func(c *Config) {
		c.BaseURL = u
	}
}

// WithClientCredentials enables OAuth2 client-credentials auth.
func WithClientCredentials(clientID, clientSecret, tokenURL string, scopes ...string) Option {
	return func(c *Config) {
		c.ClientID = clientID
		c.ClientSecret = clientSecret
		c.TokenURL = tokenURL
		c.Scopes = scopes
	}
}

// WithTimeout sets the timeout for regular requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithUploadTimeout sets the timeout for recording uploads.
func WithUploadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.UploadTimeout = d
	}
}

// WithRetry sets retry count and base delay.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
