// Package chunker groups recognised words into bounded, coalesced transcript
// chunks for retrieval.
//
// Grouping is bounded by word count and elapsed duration only. Speaker
// changes never force a break, so a chunk may span several speakers; its
// speaker tag is that of the first labelled word.
package chunker

import (
	"math"
	"strings"
	"time"

	"github.com/MrWong99/meetscribe/pkg/session"
)

// Defaults for [Options].
const (
	DefaultMaxWords       = 75
	DefaultTargetDuration = 30 * time.Second
	DefaultMinChars       = 40
)

// Options bound the size of each chunk. Zero fields take the defaults.
type Options struct {
	// MaxWords closes a group before it would exceed this many words.
	MaxWords int

	// TargetDuration closes a group before the span from its first word's
	// start to its last word's end would exceed this duration.
	TargetDuration time.Duration

	// MinChars is the content length below which a group is merged into its
	// predecessor during coalescing.
	MinChars int
}

func (o Options) withDefaults() Options {
	if o.MaxWords <= 0 {
		o.MaxWords = DefaultMaxWords
	}
	if o.TargetDuration <= 0 {
		o.TargetDuration = DefaultTargetDuration
	}
	if o.MinChars <= 0 {
		o.MinChars = DefaultMinChars
	}
	return o
}

// Group is one emitted chunk, ready for embedding.
type Group struct {
	Content      string
	StartSeconds int
	EndSeconds   int
	SpeakerTag   *string
	WordCount    int
}

// group is the working representation before content is rendered.
type group struct {
	words []session.Word
}

func (g *group) span() time.Duration {
	if len(g.words) == 0 {
		return 0
	}
	return g.words[len(g.words)-1].End - g.words[0].Start
}

func (g *group) text() string {
	parts := make([]string, len(g.words))
	for i, w := range g.words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// Chunk groups words into chunks. Words with empty text are skipped. An empty
// input yields no chunks.
func Chunk(words []session.Word, opts Options) []Group {
	opts = opts.withDefaults()

	var (
		groups []*group
		cur    = &group{}
	)
	for _, w := range words {
		w.Text = strings.TrimSpace(w.Text)
		if w.Text == "" {
			continue
		}
		if len(cur.words) > 0 {
			tooMany := len(cur.words)+1 > opts.MaxWords
			tooLong := w.End-cur.words[0].Start > opts.TargetDuration
			if tooMany || tooLong {
				groups = append(groups, cur)
				cur = &group{}
			}
		}
		cur.words = append(cur.words, w)
	}
	if len(cur.words) > 0 {
		groups = append(groups, cur)
	}

	groups = coalesce(groups, opts.MinChars)

	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, render(g))
	}
	return out
}

// coalesce merges each group whose text is shorter than minChars into the
// group before it. A short leading group absorbs its successors until it
// reaches minChars, so only a sole group can remain short.
func coalesce(groups []*group, minChars int) []*group {
	var out []*group
	for _, g := range groups {
		if len(out) > 0 {
			prev := out[len(out)-1]
			if len(g.text()) < minChars || len(prev.text()) < minChars {
				prev.words = append(prev.words, g.words...)
				continue
			}
		}
		out = append(out, g)
	}
	return out
}

func render(g *group) Group {
	out := Group{
		Content:      g.text(),
		StartSeconds: roundSeconds(g.words[0].Start),
		EndSeconds:   roundSeconds(g.words[len(g.words)-1].End),
		WordCount:    len(g.words),
	}
	for _, w := range g.words {
		if w.SpeakerTag != 0 {
			label := session.SpeakerLabel(w.SpeakerTag)
			out.SpeakerTag = &label
			break
		}
	}
	return out
}

func roundSeconds(d time.Duration) int {
	return int(math.Round(d.Seconds()))
}
