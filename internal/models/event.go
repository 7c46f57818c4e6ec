package models

import "time"

// EventType identifies the kind of a session event.
type EventType string

const (
	EventAssistantMessage EventType = "assistant_message"
	EventUserMessage      EventType = "user_message"
	EventToolUse          EventType = "tool_use"
	EventToolResult       EventType = "tool_result"
	EventSystem           EventType = "system"
	EventError            EventType = "error"
)

// SessionEvent is one immutable record in a session's append-only event stream.
type SessionEvent struct {
	Type      EventType
	Text      string
	Timestamp time.Time
}

// AssistantMessages returns the text of assistant messages in events, oldest first.
func AssistantMessages(events []SessionEvent) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == EventAssistantMessage && ev.Text != "" {
			out = append(out, ev.Text)
		}
	}
	return out
}
