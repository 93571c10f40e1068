package session

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// FragmentExtensions lists the container formats accepted for sequence
// numbered audio fragments.
var FragmentExtensions = []string{"webm", "ogg", "m4a"}

// CombinedExtensions lists, in lookup order, the container formats probed
// for a previously assembled single audio blob.
var CombinedExtensions = []string{"ogg", "webm", "m4a", "wav", "flac"}

// fragmentName matches a fragment file name relative to its session prefix.
var fragmentName = regexp.MustCompile(`^\d{6}\.(webm|ogg|m4a)$`)

// IsFragmentName reports whether name (relative to [FragmentPrefix]) is a
// sequence-numbered audio fragment.
func IsFragmentName(name string) bool {
	return fragmentName.MatchString(name)
}

// FragmentPrefix is the object-storage prefix holding a session's audio
// fragments, including the trailing slash.
func FragmentPrefix(org, id uuid.UUID) string {
	return fmt.Sprintf("audio/%s/%s/", org, id)
}

// FragmentPath returns the storage key of fragment seq. The zero-padded
// sequence number makes lexical order equal temporal order.
func FragmentPath(org, id uuid.UUID, seq int, ext string) string {
	return fmt.Sprintf("audio/%s/%s/%06d.%s", org, id, seq, ext)
}

// CombinedAudioPath returns the storage key of a single audio blob.
func CombinedAudioPath(org, id uuid.UUID, ext string) string {
	return fmt.Sprintf("audio/%s/%s.%s", org, id, ext)
}

// TranscriptPath returns the storage key of the plain transcript.
func TranscriptPath(org, id uuid.UUID) string {
	return fmt.Sprintf("transcripts/%s/%s.txt", org, id)
}

// RawResultsPath returns the storage key of the raw recognition results.
func RawResultsPath(org, id uuid.UUID) string {
	return fmt.Sprintf("transcripts/%s/%s.raw.json", org, id)
}

// SecondaryJSONPath returns the storage key of the secondary engine's
// structured output.
func SecondaryJSONPath(org, id uuid.UUID) string {
	return fmt.Sprintf("transcripts/%s/%s.secondary.json", org, id)
}

// SecondaryTextPath returns the storage key of the secondary engine's
// plain text output.
func SecondaryTextPath(org, id uuid.UUID) string {
	return fmt.Sprintf("transcripts/%s/%s.secondary.txt", org, id)
}

// SummaryPath returns the storage key of the cached summary JSON.
func SummaryPath(org, id uuid.UUID) string {
	return fmt.Sprintf("summaries/%s/%s.json", org, id)
}
