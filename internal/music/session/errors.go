package session

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned for commands submitted after the session has
// been removed from the registry.
var ErrSessionClosed = errors.New("session closed")

// ValidationError rejects a command before any state mutation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ResolutionError reports a failed or timed out track resolution; the queue
// is unchanged.
type ResolutionError struct {
	Query string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %q: %v", e.Query, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ConnectionError reports a voice join or reconnect failure.
type ConnectionError struct {
	ChannelID string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("voice connection to channel %s failed: %v", e.ChannelID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PipelineError reports a transcoding or transport failure mid-track. It is
// reported once and the queue auto-advances.
type PipelineError struct {
	Title string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("playback of %q failed: %v", e.Title, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// StateConflictError reports a command that is invalid in the current state,
// e.g. pause with nothing playing. Never fatal.
type StateConflictError struct {
	Reason string
}

func (e *StateConflictError) Error() string { return e.Reason }
