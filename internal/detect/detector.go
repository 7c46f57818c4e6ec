package detect

import (
	"strings"

	"github.com/joescharf/am/internal/models"
)

// DefaultLastN is how many trailing assistant messages CheckEvents scans.
const DefaultLastN = 2

// maxReasonLen bounds the extracted reason string, ellipsis included.
const maxReasonLen = 150

// reasonKeywords pick the sentence most likely to describe the blocker.
var reasonKeywords = []string{"need", "wait", "please", "blocked", "failed"}

// Detector combines the classifier with the signal filter and the strength
// policy that decides whether a candidate is worth reporting.
type Detector struct {
	classifier *Classifier
}

// NewDetector creates a detector over the built-in pattern table.
func NewDetector() *Detector {
	return &Detector{classifier: NewClassifier()}
}

// NewDetectorWith creates a detector over a custom classifier.
func NewDetectorWith(c *Classifier) *Detector {
	return &Detector{classifier: c}
}

// Detect classifies text and applies the strength policy: a candidate is
// reported only when the session already ended, when two or more patterns
// matched, or when the primary category is funding (rarely a false positive,
// expensive to miss). Returns nil when nothing strong enough matched.
func (d *Detector) Detect(text string, sessionEnded bool) *models.BlockerInfo {
	filtered := StripNoise(text)

	matches := d.classifier.Classify(filtered)
	if len(matches) == 0 {
		return nil
	}

	primary := matches[0].Category

	strong := sessionEnded || len(matches) >= 2 || primary == CategoryFundingNeeded
	if !strong {
		return nil
	}

	info := &models.BlockerInfo{
		Reason:      d.extractReason(filtered, primary),
		LastMessage: text,
	}

	seen := make(map[CategoryID]bool)
	for _, m := range matches {
		info.MatchedPatterns = append(info.MatchedPatterns, string(m.Category)+": "+m.Pattern)
		if seen[m.Category] {
			continue
		}
		seen[m.Category] = true
		for field, val := range d.classifier.Extract(m.Category, filtered) {
			if info.ExtractedContext == nil {
				info.ExtractedContext = make(map[string]string)
			}
			info.ExtractedContext[field] = val
		}
	}

	return info
}

// CheckEvents scans the last lastN assistant messages of a finished session,
// most recent first. A completion signal in the single most recent message
// vetoes everything: earlier ambiguous messages never override a later clean
// resolution. List-like messages are skipped, never promoted to a blocker.
func (d *Detector) CheckEvents(events []models.SessionEvent, lastN int) *models.BlockerInfo {
	if lastN <= 0 {
		lastN = DefaultLastN
	}

	msgs := models.AssistantMessages(events)
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs) > lastN {
		msgs = msgs[len(msgs)-lastN:]
	}

	if HasCompletionSignal(msgs[len(msgs)-1]) {
		return nil
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if IsListLike(msgs[i]) {
			continue
		}
		if info := d.Detect(msgs[i], true); info != nil {
			return info
		}
	}
	return nil
}

// extractReason scans sentence-segmented text for the first sentence carrying
// a blocker keyword, truncated to maxReasonLen. Falls back to the category's
// canned reason.
func (d *Detector) extractReason(text string, primary CategoryID) string {
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		for _, kw := range reasonKeywords {
			if strings.Contains(lower, kw) {
				return truncate(sentence, maxReasonLen)
			}
		}
	}
	return d.classifier.FallbackReason(primary)
}

// splitSentences splits on sentence terminators and newlines, discarding
// fragments shorter than 10 characters.
func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})

	var sentences []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) >= 10 {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// truncate shortens s to max runes, ellipsis included.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
