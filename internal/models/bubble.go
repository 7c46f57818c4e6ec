package models

import "time"

// BubbleStatus represents the lifecycle state of a session's status card.
type BubbleStatus string

const (
	BubbleStatusRunning   BubbleStatus = "running"
	BubbleStatusWaiting   BubbleStatus = "waiting"
	BubbleStatusBlocked   BubbleStatus = "blocked"
	BubbleStatusCompleted BubbleStatus = "completed"
	BubbleStatusFailed    BubbleStatus = "failed"
)

// Terminal reports whether no further live updates will occur for this status.
func (s BubbleStatus) Terminal() bool {
	return s == BubbleStatusCompleted || s == BubbleStatusFailed
}

// Bubble is one chat-visible status card bound to an agent session. The resume
// token is the only handle that survives process exit: once the in-memory
// session record is gone, it is the sole way to reattach to the underlying
// history.
type Bubble struct {
	ID          string
	SessionID   string
	ResumeToken string
	ProjectName string
	WorkingDir  string
	ChatID      int64
	ThreadID    int64
	MessageID   int64
	Status      BubbleStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
