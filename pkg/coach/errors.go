package coach

import "errors"

var (
	// ErrNotIdle is returned by Start while a session is already active.
	ErrNotIdle = errors.New("coach: session already active")

	// ErrNotRunning is returned when a command is posted after Run has
	// returned. Commands posted before Run starts wait for it.
	ErrNotRunning = errors.New("coach: controller not running")

	// ErrNilConn is returned by NewController without a connection.
	ErrNilConn = errors.New("coach: nil connection")

	// ErrNilCapturer is returned by NewController without a capturer.
	ErrNilCapturer = errors.New("coach: nil capturer")
)
