// Package triage implements the escalation layers above raw pattern matching:
// the post-session blocker assessment and the realtime intervention check on
// streaming messages. Both consult the judgment oracle and
// degrade to a safe local default when it is unavailable.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/am/internal/models"
	"github.com/joescharf/am/internal/oracle"
)

const (
	assessHistoryMessages = 10
	assessMessageMaxLen   = 500
)

const assessSystemPrompt = `You judge whether a coding agent's session is genuinely blocked on outside intervention.
A candidate blocker was detected by pattern matching; your job is to confirm or deny it.
False positives to watch for: the agent quoting a checklist or acceptance criteria, describing what WOULD block it, or having already finished the task.
Return ONLY a JSON object with these fields:
- "is_real_blocker": boolean
- "confidence": number between 0 and 1
- "reasoning": short explanation
- "can_auto_handle": boolean, true only if a simple response would unblock the agent
- "auto_response": the response text to send, only when can_auto_handle is true
No markdown fencing, no extra text.`

// Assessor confirms or denies a detected blocker via the judgment oracle.
type Assessor struct {
	oracle oracle.Oracle
}

// NewAssessor creates an assessor backed by the given oracle.
func NewAssessor(o oracle.Oracle) *Assessor {
	return &Assessor{oracle: o}
}

// AssessBlocker submits the blocker plus recent history to the oracle. On
// oracle failure it fails open: a real blocker must never be dropped because
// the judgment collaborator was unreachable.
func (a *Assessor) AssessBlocker(ctx context.Context, blocker *models.BlockerInfo, recentEvents []models.SessionEvent, sessionStatus string) models.BlockerAssessment {
	prompt := buildAssessPrompt(blocker, recentEvents, sessionStatus)

	raw, err := a.oracle.Assess(ctx, assessSystemPrompt, prompt)
	if err != nil {
		return failOpen(fmt.Sprintf("oracle call failed (%v)", err))
	}

	var assessment models.BlockerAssessment
	if err := json.Unmarshal([]byte(oracle.StripFence(raw)), &assessment); err != nil {
		return failOpen(fmt.Sprintf("oracle reply was not valid JSON (%v)", err))
	}

	if assessment.Confidence < 0 {
		assessment.Confidence = 0
	}
	if assessment.Confidence > 1 {
		assessment.Confidence = 1
	}
	return assessment
}

// failOpen is the conservative default when no judgment is available.
func failOpen(note string) models.BlockerAssessment {
	return models.BlockerAssessment{
		IsRealBlocker: true,
		Confidence:    0.5,
		Reasoning:     "assessment fallback: " + note,
	}
}

func buildAssessPrompt(blocker *models.BlockerInfo, recentEvents []models.SessionEvent, sessionStatus string) string {
	var sb strings.Builder

	sb.WriteString("Detected blocker reason: ")
	sb.WriteString(blocker.Reason)
	sb.WriteString("\n")

	if len(blocker.MatchedPatterns) > 0 {
		sb.WriteString("Matched patterns: ")
		sb.WriteString(strings.Join(blocker.MatchedPatterns, "; "))
		sb.WriteString("\n")
	}
	if len(blocker.ExtractedContext) > 0 {
		sb.WriteString("Extracted fields:\n")
		for k, v := range blocker.ExtractedContext {
			fmt.Fprintf(&sb, "  %s: %s\n", k, v)
		}
	}

	sb.WriteString("Session status: ")
	sb.WriteString(sessionStatus)
	sb.WriteString("\n\nRecent assistant messages (oldest first):\n")

	msgs := models.AssistantMessages(recentEvents)
	if len(msgs) > assessHistoryMessages {
		msgs = msgs[len(msgs)-assessHistoryMessages:]
	}
	for i, m := range msgs {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, truncateMessage(m, assessMessageMaxLen))
	}

	sb.WriteString("\nLast message flagged:\n")
	sb.WriteString(truncateMessage(blocker.LastMessage, assessMessageMaxLen))

	return sb.String()
}

func truncateMessage(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
