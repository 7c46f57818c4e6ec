package detect

import (
	"regexp"
	"strings"
)

// Code fences and tables are a disproportionate source of false matches, so
// they are stripped before classification.

var (
	fenceRe     = regexp.MustCompile("(?s)```.*?```")
	separatorRe = regexp.MustCompile(`^[\s|+=-]+$`)
	numberedRe  = regexp.MustCompile(`^\d+[.)]\s`)
)

// StripNoise removes fenced code blocks and table-like lines from text.
func StripNoise(text string) string {
	text = fenceRe.ReplaceAllString(text, "")
	// An unterminated fence swallows the rest of the message.
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[:idx]
	}

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "|") {
			continue
		}
		if trimmed != "" && separatorRe.MatchString(trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// completionSignals are celebratory/terminal phrasings. Present in the most
// recent message, they veto any blocker classification for that message.
var completionSignals = []string{
	"✅",
	"✓",
	"🎉",
	"all complete",
	"all done",
	"all tasks complete",
	"task complete",
	"completed successfully",
	"successfully completed",
	"finished",
	"done!",
	"successfully",
}

// HasCompletionSignal reports whether text contains a completion phrasing.
func HasCompletionSignal(text string) bool {
	lower := strings.ToLower(text)
	for _, sig := range completionSignals {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// listHeadings are heading words that, followed by a colon, mark a message as
// quoted checklist/criteria content rather than the agent's own state.
var listHeadings = []string{
	"tasks",
	"criteria",
	"signals",
	"examples",
	"quantitative",
	"qualitative",
}

// IsListLike reports whether any line of text starts with a bullet or
// numbered-list marker, or a recognized heading followed by a colon.
// List-like messages are skipped entirely during end-of-session scanning.
func IsListLike(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") ||
			strings.HasPrefix(trimmed, "* ") ||
			strings.HasPrefix(trimmed, "• ") ||
			numberedRe.MatchString(trimmed) {
			return true
		}
		lower := strings.ToLower(trimmed)
		for _, h := range listHeadings {
			if strings.HasPrefix(lower, h+":") {
				return true
			}
		}
	}
	return false
}
