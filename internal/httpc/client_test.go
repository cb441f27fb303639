package httpc

import (
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	c := NewClient(5 * time.Second)
	if c.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", c.Timeout)
	}
	if c.Transport == nil {
		t.Fatal("expected a transport")
	}
}

func TestWithTimeoutSharesTransport(t *testing.T) {
	base := NewClient(DefaultTimeout)
	long := WithTimeout(base, 5*time.Minute)

	if long.Timeout != 5*time.Minute {
		t.Errorf("Timeout = %v", long.Timeout)
	}
	if base.Timeout != DefaultTimeout {
		t.Error("WithTimeout modified the original client")
	}
	if long.Transport != base.Transport {
		t.Error("transport should be shared")
	}
}
