package tui

import "github.com/teslashibe/go-coach/pkg/coach"

// Key bindings.
const (
	keyStart  = "s"
	keyStop   = "x"
	keyCoach  = "c"
	keyQuit   = "q"
	keyCtrlC  = "ctrl+c"
	keyUp     = "up"
	keyDown   = "down"
	keyBottom = "end"
)

// UpdateMsg wraps a controller update.
type UpdateMsg struct {
	Update coach.Update
}

// UpdatesClosedMsg is sent when the controller's update stream ends.
type UpdatesClosedMsg struct{}

// CommandResultMsg reports the outcome of a start, stop or toggle.
type CommandResultMsg struct {
	Action string
	Err    error
}

// ClearTransientErrorMsg clears a transient error.
type ClearTransientErrorMsg struct{}
