package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/am/internal/detect"
	"github.com/joescharf/am/internal/models"
	"github.com/joescharf/am/internal/oracle"
)

const interventionHistoryMessages = 5

const interventionSystemPrompt = `A coding agent mid-session just asked something that looks like it needs outside input.
Decide whether YOU can answer it right now so the agent keeps working without bothering the user.
Rule of thumb: simple yes/no procedural questions (proceed? overwrite? use the default?) are auto-answerable.
Anything requiring external resources, credentials, funds, or real-world waiting is NOT.
Return ONLY a JSON object with these fields:
- "can_auto_handle": boolean
- "auto_response": the exact text to inject as the agent's next input, only when can_auto_handle is true
- "reasoning": short explanation
No markdown fencing, no extra text.`

// Interventor runs the realtime check on single streaming messages.
// It is stricter than post-session detection: with no "session gave up"
// signal yet, only multi-pattern or funding candidates reach the oracle.
type Interventor struct {
	oracle   oracle.Oracle
	detector *detect.Detector
}

// NewInterventor creates an interventor backed by the given oracle.
func NewInterventor(o oracle.Oracle, d *detect.Detector) *Interventor {
	return &Interventor{oracle: o, detector: d}
}

// CheckRealtime inspects one streaming event. If it returns Intervened, the
// caller owns injecting Response into the live session — after re-checking
// that the session is still alive. On oracle failure it fails closed: the
// situation is deferred to end-of-session handling instead.
func (iv *Interventor) CheckRealtime(ctx context.Context, event models.SessionEvent, recentEvents []models.SessionEvent) models.InterventionResult {
	if event.Type != models.EventAssistantMessage {
		return models.InterventionResult{Reasoning: "not an assistant message"}
	}

	blocker := iv.detector.Detect(event.Text, false)
	if blocker == nil {
		return models.InterventionResult{Reasoning: "no strong blocker signal"}
	}

	prompt := buildInterventionPrompt(blocker, event.Text, recentEvents)

	raw, err := iv.oracle.Assess(ctx, interventionSystemPrompt, prompt)
	if err != nil {
		return models.InterventionResult{
			Reasoning: fmt.Sprintf("oracle call failed, deferring to end-of-session handling (%v)", err),
		}
	}

	var verdict struct {
		CanAutoHandle bool   `json:"can_auto_handle"`
		AutoResponse  string `json:"auto_response"`
		Reasoning     string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(oracle.StripFence(raw)), &verdict); err != nil {
		return models.InterventionResult{
			Reasoning: fmt.Sprintf("oracle reply was not valid JSON, deferring (%v)", err),
		}
	}

	if !verdict.CanAutoHandle || strings.TrimSpace(verdict.AutoResponse) == "" {
		return models.InterventionResult{Reasoning: verdict.Reasoning}
	}

	return models.InterventionResult{
		Intervened: true,
		Response:   verdict.AutoResponse,
		Reasoning:  verdict.Reasoning,
	}
}

func buildInterventionPrompt(blocker *models.BlockerInfo, messageText string, recentEvents []models.SessionEvent) string {
	var sb strings.Builder

	sb.WriteString("The agent just said:\n")
	sb.WriteString(truncateMessage(messageText, assessMessageMaxLen))
	sb.WriteString("\n\nDetected signal: ")
	sb.WriteString(blocker.Reason)
	sb.WriteString("\n")

	msgs := models.AssistantMessages(recentEvents)
	if len(msgs) > interventionHistoryMessages {
		msgs = msgs[len(msgs)-interventionHistoryMessages:]
	}
	if len(msgs) > 0 {
		sb.WriteString("\nRecent context (oldest first):\n")
		for i, m := range msgs {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, truncateMessage(m, assessMessageMaxLen))
		}
	}

	return sb.String()
}
