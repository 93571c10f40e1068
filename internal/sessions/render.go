package sessions

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/meetscribe/pkg/session"
)

// minSpeakerCoverage is the share of words that must carry a speaker tag
// before diarization is trusted.
const minSpeakerCoverage = 0.5

// turn is a run of consecutive words by one speaker.
type turn struct {
	speaker    int
	start, end time.Duration
	words      []string
}

// RenderSpeakerTurns formats words as one "[mm:ss-mm:ss] SPEAKER_n: text"
// line per speaker turn. It reports false when the words carry fewer than
// two speakers or too few tagged words to trust the diarization.
func RenderSpeakerTurns(words []session.Word) (string, bool) {
	tagged := make([]session.Word, 0, len(words))
	speakers := map[int]struct{}{}
	total := 0
	for _, w := range words {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		total++
		if w.SpeakerTag > 0 {
			tagged = append(tagged, w)
			speakers[w.SpeakerTag] = struct{}{}
		}
	}
	if total == 0 || len(speakers) < 2 || float64(len(tagged))/float64(total) < minSpeakerCoverage {
		return "", false
	}

	var turns []*turn
	for _, w := range tagged {
		if n := len(turns); n > 0 && turns[n-1].speaker == w.SpeakerTag {
			t := turns[n-1]
			t.end = w.End
			t.words = append(t.words, strings.TrimSpace(w.Text))
			continue
		}
		turns = append(turns, &turn{speaker: w.SpeakerTag, start: w.Start, end: w.End, words: []string{strings.TrimSpace(w.Text)}})
	}

	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s-%s] SPEAKER_%d: %s", clock(t.start), clock(t.end), t.speaker, strings.Join(t.words, " "))
	}
	return b.String(), true
}

// clock formats d as mm:ss, letting minutes grow past 59.
func clock(d time.Duration) string {
	total := max(int(d/time.Second), 0)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
