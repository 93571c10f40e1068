// Package transcribe defines the Provider interface for the secondary
// transcription engine.
//
// The secondary engine runs alongside the primary recogniser on the same
// canonical audio and produces an independent, segment-level transcript. Its
// output is advisory: it is persisted next to the primary transcript and never
// drives the session status.
//
// Implementations must be safe for concurrent use.
package transcribe

import (
	"context"
	"strings"
)

// Word is a single word with timing in seconds.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// Segment is a contiguous span of recognised speech. Times are in seconds from
// the start of the audio.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Result is a complete secondary transcript. Its JSON encoding is the
// persisted .secondary.json document.
type Result struct {
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

// Text returns the trimmed segment texts joined by single spaces.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Provider transcribes a complete WAV recording.
type Provider interface {
	// Transcribe returns the transcript of wav, a RIFF/WAV container holding
	// 16-bit PCM audio.
	Transcribe(ctx context.Context, wav []byte) (*Result, error)
}
