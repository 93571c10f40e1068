// Package delta removes the part of a newly received transcript fragment that
// repeats the tail of the text already stored.
//
// Live capture clients resend overlapping windows of speech. The merger
// compares normalised tokens at the end of the existing text with those at
// the start of the incoming fragment and returns only the new suffix.
package delta

import (
	"strings"
	"unicode"
)

// Defaults for [Options].
const (
	DefaultMaxOverlapTokens = 50
	DefaultMinRatio         = 0.8
)

// Options tune overlap detection. Zero fields take the defaults.
type Options struct {
	// MaxOverlapTokens bounds how far back into the existing text the merger
	// looks for an overlap.
	MaxOverlapTokens int

	// MinRatio is the fraction of positionally equal tokens required for a
	// candidate overlap to be accepted.
	MinRatio float64
}

func (o Options) withDefaults() Options {
	if o.MaxOverlapTokens <= 0 {
		o.MaxOverlapTokens = DefaultMaxOverlapTokens
	}
	if o.MinRatio <= 0 {
		o.MinRatio = DefaultMinRatio
	}
	return o
}

// Result is the outcome of a merge.
type Result struct {
	// Delta is the portion of the incoming text not already present. It is
	// empty when the incoming text is fully contained in the overlap.
	Delta string

	// Overlapped is the number of leading incoming tokens that were dropped.
	Overlapped int
}

// Normalize lowercases s, strips sentence punctuation and collapses runs of
// whitespace into single spaces.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':':
			return -1
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func tokens(s string) []string {
	n := Normalize(s)
	if n == "" {
		return nil
	}
	return strings.Split(n, " ")
}

// Merge returns the part of incoming that does not overlap the tail of
// existing.
//
// Candidate overlap lengths are tried from the longest down to one token; the
// first whose positional match ratio reaches MinRatio wins. When no overlap is
// found incoming is returned unchanged.
func Merge(existing, incoming string, opts Options) Result {
	opts = opts.withDefaults()

	in := tokens(incoming)
	if len(in) == 0 {
		return Result{}
	}
	ex := tokens(existing)

	maxK := min(opts.MaxOverlapTokens, len(ex), len(in))
	for k := maxK; k >= 1; k-- {
		tail := ex[len(ex)-k:]
		matches := 0
		for i := range k {
			if tail[i] == in[i] {
				matches++
			}
		}
		if float64(matches)/float64(k) >= opts.MinRatio {
			return Result{Delta: dropTokens(incoming, k), Overlapped: k}
		}
	}
	return Result{Delta: incoming}
}

// dropTokens removes the first k normalised tokens of s and joins the
// remaining fields with single spaces. Fields that normalise to nothing, such
// as "...", are not counted, so the cut lands where the overlap ended. A
// remainder without any token is dropped as well.
func dropTokens(s string, k int) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if Normalize(f) == "" {
			continue
		}
		if k--; k == 0 {
			rest := strings.Join(fields[i+1:], " ")
			if Normalize(rest) == "" {
				return ""
			}
			return rest
		}
	}
	return ""
}
