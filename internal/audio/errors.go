package audio

import (
	"fmt"

	"github.com/google/uuid"
)

// AudioNotFoundError reports that a session has neither fragments nor a
// combined audio blob. It is fatal for the session.
type AudioNotFoundError struct {
	OrganizationID uuid.UUID
	SessionID      uuid.UUID
}

func (e *AudioNotFoundError) Error() string {
	return fmt.Sprintf("audio: no audio found for session %s (org %s)", e.SessionID, e.OrganizationID)
}

// StageError is a stage-aware assembly failure with optional command context.
type StageError struct {
	Stage    string
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

// Error formats the failure for logs and the session error message.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Command == "" {
		return fmt.Sprintf("audio: %s: %v", e.Stage, e.Err)
	}
	msg := fmt.Sprintf("audio: %s: %v (cmd=%s exit=%d)", e.Stage, e.Err, e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
