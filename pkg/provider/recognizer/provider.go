// Package recognizer defines the Provider interface for asynchronous
// long-form speech recognition.
//
// Recognition of a full meeting takes minutes, so the primary path is split in
// two: [Provider.Submit] starts a long-running operation and returns its
// handle, and [Provider.Poll] checks on it later, possibly from a different
// process after a restart. [Provider.Recognize] is the blocking variant used
// as an inline fallback when submission of a storage reference fails.
//
// Implementations must be safe for concurrent use.
package recognizer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MrWong99/meetscribe/pkg/session"
)

var (
	// ErrUnrecognizedResponse is returned when a recognition response matches
	// none of the known response shapes.
	ErrUnrecognizedResponse = errors.New("recognizer: unrecognized response shape")

	// ErrOperationFailed is returned by Poll when the operation completed
	// with an error. The session cannot recover by polling again.
	ErrOperationFailed = errors.New("recognizer: operation failed")
)

// Encoding names the audio encoding of the submitted content.
type Encoding string

// EncodingLinear16 is uncompressed 16-bit signed little-endian PCM.
const EncodingLinear16 Encoding = "LINEAR16"

// Config holds recognition parameters.
type Config struct {
	LanguageCode               string
	EnableAutomaticPunctuation bool
	EnableWordTimeOffsets      bool
	EnableSpeakerDiarization   bool
	MinSpeakerCount            int
	MaxSpeakerCount            int
	SampleRateHertz            int
	Encoding                   Encoding
}

// DefaultConfig returns the configuration used for canonical session audio:
// en-US, punctuation, word offsets, and diarization for 2 to 6 speakers on
// 16 kHz LINEAR16 audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:               "en-US",
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		EnableSpeakerDiarization:   true,
		MinSpeakerCount:            2,
		MaxSpeakerCount:            6,
		SampleRateHertz:            16000,
		Encoding:                   EncodingLinear16,
	}
}

// Request describes audio to recognise. URI is a storage reference the
// provider can read directly. Content carries the audio inline. When both are
// set the provider picks whichever it supports, preferring URI.
type Request struct {
	URI     string
	Content []byte
	Config  Config
}

// Result is a completed recognition.
type Result struct {
	// Text is the first-alternative transcript of every result joined by a
	// single space.
	Text string

	// Words is the flattened first-alternative word list across all results.
	Words []session.Word

	// Raw is the provider's result array exactly as returned. It is persisted
	// as the session's raw results and later rendered into speaker turns.
	Raw json.RawMessage
}

// PollResult reports the state of a long-running operation.
type PollResult struct {
	// Done is true once the operation has finished.
	Done bool

	// Result is set when Done is true and the operation succeeded.
	Result *Result
}

// Provider is the abstraction over an asynchronous speech-recognition service.
type Provider interface {
	// Submit starts a long-running recognition and returns the operation
	// handle. The handle must be persisted by the caller before any further
	// work so that a crash cannot orphan the operation.
	Submit(ctx context.Context, req Request) (string, error)

	// Poll checks the operation named by handle. It returns
	// [ErrOperationFailed] when the operation finished with an error. Other
	// errors are transient and the caller may poll again.
	Poll(ctx context.Context, handle string) (*PollResult, error)

	// Recognize runs a recognition to completion and blocks until the result
	// is available or ctx is cancelled.
	Recognize(ctx context.Context, req Request) (*Result, error)
}
