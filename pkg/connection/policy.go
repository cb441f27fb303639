package connection

import (
	"fmt"
	"time"
)

// Policy is the reconnect configuration shared by every connection.
type Policy struct {
	// BaseDelay is the delay before the first reconnect attempt.
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// MaxAttempts is the number of consecutive failed attempts after which
	// the manager gives up.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// DefaultPolicy returns 1s base, 30s cap, 5 attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if d >= p.MaxDelay || d > p.MaxDelay/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether attempts has reached MaxAttempts.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.BaseDelay <= 0 {
		return fmt.Errorf("connection: base_delay must be positive, got %v", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("connection: max_delay %v is below base_delay %v", p.MaxDelay, p.BaseDelay)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("connection: max_attempts must not be negative, got %d", p.MaxAttempts)
	}
	return nil
}
