// Package session defines the persistent session record processed by the
// transcription pipeline, its status state machine, and the transient word
// and chunk types that flow between pipeline stages.
//
// A session starts in [StatusRecording] while audio fragments arrive and is
// handed to the pipeline by moving it to [StatusUploaded]. The pipeline claims it
// with an atomic conditional status update and then drives it forward through
// [StatusTranscribing] and [StatusSummarizing] to [StatusReady]. Any
// unrecoverable failure moves it to the absorbing [StatusError].
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the processing state of a session.
type Status string

const (
	// StatusRecording marks a session that is still receiving audio
	// fragments. The scheduler never picks it up.
	StatusRecording Status = "recording"

	// StatusUploaded marks a session whose audio is complete and which is
	// waiting to be claimed by a worker.
	StatusUploaded Status = "uploaded"

	// StatusTranscribing marks a claimed session whose audio is being
	// assembled or recognised.
	StatusTranscribing Status = "transcribing"

	// StatusSummarizing marks a session whose transcript is persisted and
	// whose chunks and summary are being produced.
	StatusSummarizing Status = "summarizing"

	// StatusReady is the successful terminal state.
	StatusReady Status = "ready"

	// StatusError is the absorbing failure state. Leaving it requires an
	// explicit resubmission by an operator.
	StatusError Status = "error"
)

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	switch s {
	case StatusRecording, StatusUploaded, StatusTranscribing, StatusSummarizing, StatusReady, StatusError:
		return true
	}
	return false
}

// IsTerminal reports whether s is [StatusReady] or [StatusError].
func (s Status) IsTerminal() bool {
	return s == StatusReady || s == StatusError
}

// CanTransition reports whether a session may move from s to next.
//
// Status only advances forward. The single exception is the transition to
// [StatusError], which is allowed from every non-terminal state. A
// transcribing session may be re-claimed in place (transcribing to
// transcribing) by the recovery loop.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusError {
		return true
	}
	switch s {
	case StatusRecording:
		return next == StatusUploaded
	case StatusUploaded:
		return next == StatusTranscribing
	case StatusTranscribing:
		return next == StatusTranscribing || next == StatusSummarizing
	case StatusSummarizing:
		return next == StatusReady
	}
	return false
}

// StructuredData is the machine-readable part of a session summary.
type StructuredData struct {
	ActionItems []string `json:"action_items"`
	Topics      []string `json:"topics"`
}

// Session is the persistent record of one recorded conversation.
type Session struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Status         Status

	// AudioURI is the object-storage reference of the canonical audio, set
	// once the assembled audio has been uploaded.
	AudioURI string

	// OperationName is the handle of the external long-running recognition
	// operation. Empty when no operation has been submitted (or after
	// finalize cleared it).
	OperationName string

	// OperationStartedAt records when OperationName was persisted.
	OperationStartedAt time.Time

	TranscriptPath          string
	RawResultsPath          string
	SecondaryTranscriptPath string

	// SummaryPrompt is the session-level override for the summary
	// instructions.
	SummaryPrompt string

	SummaryText      string
	StructuredData   StructuredData
	SummaryEmbedding []float32

	ErrorMessage string

	ProcessedParts int
	TotalParts     int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// String implements fmt.Stringer for log output.
func (s *Session) String() string {
	return fmt.Sprintf("session %s (org %s, %s)", s.ID, s.OrganizationID, s.Status)
}

// SummaryPrefs are the organization-level defaults for summaries.
type SummaryPrefs struct {
	Prompt      string   `json:"prompt"`
	Topics      []string `json:"topics"`
	ActionItems []string `json:"action_items"`
}

// Word is a single recognised word with its time offsets. Words are
// transient: they are consumed by the chunker and never persisted on their
// own.
type Word struct {
	Text  string
	Start time.Duration
	End   time.Duration

	// SpeakerTag is the diarization label assigned by the recogniser.
	// Zero means no label.
	SpeakerTag int
}

// Chunk is a time-bounded transcript segment with its embedding, used for
// retrieval. Chunks are append-only per session.
type Chunk struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	Content      string
	StartSeconds int
	EndSeconds   *int
	SpeakerTag   *string
	Embedding    []float32
	CreatedAt    time.Time
}

// SpeakerLabel formats a diarization tag the way it is stored on chunks.
func SpeakerLabel(tag int) string {
	return fmt.Sprintf("SPEAKER_%d", tag)
}
