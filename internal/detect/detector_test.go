package detect

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/am/internal/models"
)

func assistantEvent(text string) models.SessionEvent {
	return models.SessionEvent{
		Type:      models.EventAssistantMessage,
		Text:      text,
		Timestamp: time.Now(),
	}
}

func TestDetect_SingleMatchNeedsSessionEnded(t *testing.T) {
	d := NewDetector()

	text := "Should I proceed with deleting the temp files?"

	// During a session a single non-funding match is not strong enough.
	assert.Nil(t, d.Detect(text, false))

	// After the session gave up, the same match is reportable.
	info := d.Detect(text, true)
	require.NotNil(t, info)
	assert.Len(t, info.MatchedPatterns, 1)
}

func TestDetect_TwoMatchesTriggerDuringSession(t *testing.T) {
	d := NewDetector()

	info := d.Detect("I am waiting for your approval. Please confirm the rollout plan.", false)
	require.NotNil(t, info)
	assert.GreaterOrEqual(t, len(info.MatchedPatterns), 2)
}

func TestDetect_FundingAlwaysStrong(t *testing.T) {
	d := NewDetector()

	info := d.Detect("Need 2 SOL to proceed, current balance 0.1 SOL", false)
	require.NotNil(t, info)
	assert.Equal(t, "2", info.ExtractedContext["needed"])
	assert.Equal(t, "0.1", info.ExtractedContext["current"])
	assert.True(t, strings.HasPrefix(info.MatchedPatterns[0], string(CategoryFundingNeeded)))
}

func TestDetect_CodeFenceSignalsIgnored(t *testing.T) {
	d := NewDetector()

	text := "Here is the test I added:\n```\nassert(\"waiting for your input\")\nassert(\"please confirm\")\n```\nRunning it now."
	assert.Nil(t, d.Detect(text, false))
}

func TestDetect_ReasonFromSentence(t *testing.T) {
	d := NewDetector()

	info := d.Detect("The deploy is stuck. I need your approval to push to production. Standing by.", true)
	require.NotNil(t, info)
	assert.Equal(t, "I need your approval to push to production", info.Reason)
}

func TestDetect_ReasonTruncated(t *testing.T) {
	d := NewDetector()

	long := "I need your approval because " + strings.Repeat("the rollout plan changed and ", 10) + "the window is closing"
	info := d.Detect(long, true)
	require.NotNil(t, info)
	assert.LessOrEqual(t, len([]rune(info.Reason)), 150)
	assert.True(t, strings.HasSuffix(info.Reason, "..."))
}

func TestDetect_ReasonFallsBackToCanned(t *testing.T) {
	d := NewDetector()

	// Matches rate_limited but no sentence carries a reason keyword.
	info := d.Detect("The provider returned 429 and rate-limits us hourly", true)
	require.NotNil(t, info)
	assert.Equal(t, "Agent hit a rate limit", info.Reason)
}

func TestCheckEvents_CompletionVetoesEarlierBlocker(t *testing.T) {
	d := NewDetector()

	events := []models.SessionEvent{
		assistantEvent("I am waiting for your approval. Please confirm before I continue."),
		assistantEvent("Never mind, the approval arrived. All tasks complete! ✅"),
	}

	assert.Nil(t, d.CheckEvents(events, 2))
}

func TestCheckEvents_ListLikeSkipped(t *testing.T) {
	d := NewDetector()

	events := []models.SessionEvent{
		assistantEvent("- Tasks where funding was needed: none"),
	}

	assert.Nil(t, d.CheckEvents(events, 2))
}

func TestCheckEvents_FundingScenario(t *testing.T) {
	d := NewDetector()

	events := []models.SessionEvent{
		assistantEvent("Need 2 SOL to proceed, current balance 0.1 SOL"),
	}

	info := d.CheckEvents(events, 2)
	require.NotNil(t, info)
	assert.True(t, strings.HasPrefix(info.MatchedPatterns[0], string(CategoryFundingNeeded)))
	assert.Equal(t, "2", info.ExtractedContext["needed"])
	assert.Equal(t, "0.1", info.ExtractedContext["current"])
}

func TestCheckEvents_MostRecentFirst(t *testing.T) {
	d := NewDetector()

	events := []models.SessionEvent{
		assistantEvent("Permission denied while pushing, I need your access token to retry."),
		assistantEvent("Still blocked: the push failed again and I am waiting for your token."),
	}

	info := d.CheckEvents(events, 2)
	require.NotNil(t, info)
	// The most recent message supplies the report, not the earlier one.
	assert.Equal(t, events[1].Text, info.LastMessage)
}

func TestCheckEvents_OnlyAssistantMessagesScanned(t *testing.T) {
	d := NewDetector()

	events := []models.SessionEvent{
		assistantEvent("I need your approval before I push. Please confirm."),
		{Type: models.EventToolResult, Text: "All tasks complete! ✅", Timestamp: time.Now()},
	}

	// The tool result is not an assistant message, so it cannot veto.
	info := d.CheckEvents(events, 2)
	require.NotNil(t, info)
}

func TestCheckEvents_Empty(t *testing.T) {
	d := NewDetector()
	assert.Nil(t, d.CheckEvents(nil, 2))
}
