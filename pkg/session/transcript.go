package session

import (
	"strings"
	"time"
)

// linePrefix starts every line of a stored transcript.
const linePrefix = "_TIMESTAMP_"

// timestampLayout is ISO-8601 in UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatLine renders one transcript line as "_TIMESTAMP_{iso}|{text}\n".
func FormatLine(ts time.Time, text string) string {
	return linePrefix + ts.UTC().Format(timestampLayout) + "|" + text + "\n"
}

// Line is one parsed transcript line.
type Line struct {
	// Timestamp is zero when the line had no parseable prefix.
	Timestamp time.Time
	Text      string
}

// ParseLines splits a stored transcript document into lines. Lines without
// the timestamp prefix are returned verbatim with a zero Timestamp. Blank
// lines are dropped.
func ParseLines(doc string) []Line {
	var out []Line
	for raw := range strings.SplitSeq(doc, "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if !strings.HasPrefix(raw, linePrefix) {
			out = append(out, Line{Text: raw})
			continue
		}
		rest := raw[len(linePrefix):]
		idx := strings.IndexByte(rest, '|')
		if idx < 0 {
			out = append(out, Line{Text: raw})
			continue
		}
		l := Line{Text: rest[idx+1:]}
		if ts, err := time.Parse(time.RFC3339Nano, rest[:idx]); err == nil {
			l.Timestamp = ts
		}
		out = append(out, l)
	}
	return out
}

// PlainText strips the timestamp prefixes from a stored transcript and
// returns the remaining text joined by newlines and trimmed.
func PlainText(doc string) string {
	lines := ParseLines(doc)
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, l.Text)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
