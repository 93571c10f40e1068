package summary

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/meetscribe/pkg/session"
)

// DefaultInstructions is used when neither the organization nor the session
// sets any summary preference.
const DefaultInstructions = "Focus on concrete information, decisions, and actionable items."

// denylist matches model replies that describe the transcript instead of
// summarising it.
var denylist = regexp.MustCompile(`(?i)(not enough|insufficient|cannot generate|does not contain enough|no meaningful|too short|brief and consists)`)

const mapPrompt = `You are an executive meeting summarizer. Analyze this transcript chunk and extract:

1. Key discussion points and decisions
2. Action items and commitments
3. Important topics/themes

USER PREFERENCES: %s

Provide a structured summary focusing on factual content, decisions made, and any action items mentioned.`

const combinePrompt = `You are summarizing a meeting. %s

USER PREFERENCES: %s

Create a final summary with:
1. Overall meeting summary (5-10 sentences)
2. Key action items (as a list)
3. Main topics discussed (as a list)

Use this exact JSON format:
{
  "summary": "Your summary here...",
  "action_items": ["Item 1", "Item 2"],
  "topics": ["Topic 1", "Topic 2"]
}`

// BuildInstructions joins the non-empty preference parts in order: the
// organization prompt, the session prompt (or custom, when set), emphasised
// topics and prioritised action items. With nothing set it returns
// [DefaultInstructions], or fallback when non-empty.
func BuildInstructions(prefs session.SummaryPrefs, sessionPrompt, custom, fallback string) string {
	var parts []string
	if p := strings.TrimSpace(prefs.Prompt); p != "" {
		parts = append(parts, p)
	}
	override := strings.TrimSpace(custom)
	if override == "" {
		override = strings.TrimSpace(sessionPrompt)
	}
	if override != "" {
		parts = append(parts, override)
	}
	if t := joinNonEmpty(prefs.Topics); t != "" {
		parts = append(parts, "Emphasize these topics: "+t)
	}
	if a := joinNonEmpty(prefs.ActionItems); a != "" {
		parts = append(parts, "Prioritize action items related to: "+a)
	}
	if len(parts) == 0 {
		if fallback = strings.TrimSpace(fallback); fallback != "" {
			return fallback
		}
		return DefaultInstructions
	}
	return strings.Join(parts, "\n")
}

func joinNonEmpty(items []string) string {
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	return strings.Join(kept, ", ")
}

// splitText cuts text into windows of size runes overlapping by overlap
// runes. The last window may be shorter.
func splitText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	step := size - overlap
	var out []string
	for start := 0; ; start += step {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			return out
		}
	}
}

// parseReply extracts the summary object from a model reply. Replies that
// carry no JSON object are taken as a plain-text summary.
func parseReply(content string) Result {
	var raw struct {
		Summary     string `json:"summary"`
		ActionItems []any  `json:"action_items"`
		Topics      []any  `json:"topics"`
	}
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end <= start || json.Unmarshal([]byte(content[start:end+1]), &raw) != nil {
		return Result{Summary: strings.TrimSpace(content)}.normalize()
	}
	return Result{
		Summary:     strings.TrimSpace(raw.Summary),
		ActionItems: stringItems(raw.ActionItems),
		Topics:      stringItems(raw.Topics),
	}.normalize()
}

// stringItems keeps list entries that are strings or render to non-empty
// text.
func stringItems(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		switch v := it.(type) {
		case string:
			s = v
		case nil:
			continue
		default:
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// clean collapses refusals and empty summaries to the empty result.
func clean(r Result) Result {
	if r.Summary == "" || denylist.MatchString(r.Summary) {
		return emptyResult()
	}
	return r
}
