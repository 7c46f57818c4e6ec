package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripNoise_CodeFences(t *testing.T) {
	text := "Before the fence.\n```go\nneed more SOL // not a real signal\n```\nAfter the fence."
	got := StripNoise(text)

	assert.Contains(t, got, "Before the fence.")
	assert.Contains(t, got, "After the fence.")
	assert.NotContains(t, got, "need more SOL")
}

func TestStripNoise_UnterminatedFence(t *testing.T) {
	text := "Real text here.\n```\nwaiting for your approval inside code"
	got := StripNoise(text)

	assert.Contains(t, got, "Real text here.")
	assert.NotContains(t, got, "waiting for your approval")
}

func TestStripNoise_TableLines(t *testing.T) {
	text := "Summary of results.\n| name | status |\n|------|--------|\n| a    | ok     |\nEnd of table."
	got := StripNoise(text)

	assert.Contains(t, got, "Summary of results.")
	assert.Contains(t, got, "End of table.")
	assert.NotContains(t, got, "| name |")
}

func TestStripNoise_SeparatorRows(t *testing.T) {
	text := "Header\n----------\nBody text"
	got := StripNoise(text)

	assert.Contains(t, got, "Header")
	assert.Contains(t, got, "Body text")
	assert.NotContains(t, got, "----------")
}

func TestHasCompletionSignal(t *testing.T) {
	assert.True(t, HasCompletionSignal("All tasks complete! 🎉"))
	assert.True(t, HasCompletionSignal("✅ Deployed the fix"))
	assert.True(t, HasCompletionSignal("The migration finished without errors"))
	assert.True(t, HasCompletionSignal("Everything was deployed successfully"))

	assert.False(t, HasCompletionSignal("I need your approval before continuing"))
	assert.False(t, HasCompletionSignal("Waiting for the deploy to start"))
}

func TestIsListLike_Bullets(t *testing.T) {
	assert.True(t, IsListLike("- Tasks where funding was needed: none"))
	assert.True(t, IsListLike("* first item\n* second item"))
	assert.True(t, IsListLike("1. do this\n2. do that"))
	assert.True(t, IsListLike("2) numbered with paren"))
}

func TestIsListLike_Headings(t *testing.T) {
	assert.True(t, IsListLike("Tasks: review the deploy"))
	assert.True(t, IsListLike("Criteria: agent must wait for approval"))
	assert.True(t, IsListLike("Some intro\nSignals: need, wait, blocked"))
}

func TestIsListLike_PlainText(t *testing.T) {
	assert.False(t, IsListLike("I am waiting for your approval to continue."))
	assert.False(t, IsListLike("The deploy failed because of permissions."))
}
