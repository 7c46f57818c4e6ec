// Package sessions owns the in-memory registry of live agent sessions and
// drives the detection pipeline over their event streams: the realtime
// intervention check on streaming assistant messages, and the end-of-session
// blocker scan plus oracle assessment once a session exits.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/joescharf/am/internal/detect"
	"github.com/joescharf/am/internal/models"
	"github.com/joescharf/am/internal/triage"
)

// ProcessHandle is the external agent-process collaborator: input injection,
// cancellation and state queries against the underlying CLI process.
type ProcessHandle interface {
	SendInput(sessionID, text string) bool
	Cancel(sessionID string) bool
	State(sessionID string) string
}

// Notifier delivers session outcomes to the chat transport.
type Notifier interface {
	SessionBlocked(ctx context.Context, bubble *models.Bubble, blocker *models.BlockerInfo, assessment models.BlockerAssessment)
	SessionCompleted(ctx context.Context, bubble *models.Bubble)
	InterventionIssued(ctx context.Context, bubble *models.Bubble, response string)
}

// Session is one live session's record. Events are appended and scanned in
// arrival order; "most recent message" semantics depend on it.
type Session struct {
	ID          string
	ResumeToken string
	Bubble      *models.Bubble

	mu     sync.Mutex
	events []models.SessionEvent
}

// Append adds an event to the session's stream.
func (s *Session) Append(ev models.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a snapshot copy of the event stream.
func (s *Session) Events() []models.SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SessionEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Manager tracks live sessions and runs the escalation pipeline over them.
type Manager struct {
	mu   sync.RWMutex
	live map[string]*Session

	handle      ProcessHandle
	detector    *detect.Detector
	assessor    *triage.Assessor
	interventor *triage.Interventor
	notifier    Notifier
	lastN       int
}

// NewManager creates a sessions manager. lastN controls how many trailing
// assistant messages the end-of-session scan considers (0 means the default).
func NewManager(handle ProcessHandle, d *detect.Detector, a *triage.Assessor, iv *triage.Interventor, n Notifier, lastN int) *Manager {
	if lastN <= 0 {
		lastN = detect.DefaultLastN
	}
	return &Manager{
		live:        make(map[string]*Session),
		handle:      handle,
		detector:    d,
		assessor:    a,
		interventor: iv,
		notifier:    n,
		lastN:       lastN,
	}
}

// Register adds a started or resumed session to the live set.
func (m *Manager) Register(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[sess.ID] = sess
}

// Get returns a live session, or nil.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live[sessionID]
}

// IsLive reports whether the session is still in the live set.
func (m *Manager) IsLive(sessionID string) bool {
	return m.Get(sessionID) != nil
}

// SendInput forwards text into a live session's input stream. Returns false
// when the session is gone or the process rejected the write.
func (m *Manager) SendInput(sessionID, text string) bool {
	if !m.IsLive(sessionID) {
		return false
	}
	return m.handle.SendInput(sessionID, text)
}

// Cancel cancels a live session's process and removes it from the live set.
func (m *Manager) Cancel(sessionID string) bool {
	sess := m.Get(sessionID)
	if sess == nil {
		return false
	}
	ok := m.handle.Cancel(sessionID)
	m.mu.Lock()
	delete(m.live, sessionID)
	m.mu.Unlock()
	return ok
}

// HandleEvent processes one event from a session's stream: appends it in
// order, then runs the realtime intervention check on assistant messages.
// Called from the session's single consumer goroutine, so the oracle call
// naturally blocks further work on this session while in flight.
func (m *Manager) HandleEvent(ctx context.Context, sessionID string, event models.SessionEvent) {
	sess := m.Get(sessionID)
	if sess == nil {
		return
	}
	sess.Append(event)

	if event.Type != models.EventAssistantMessage {
		return
	}

	res := m.interventor.CheckRealtime(ctx, event, sess.Events())
	if !res.Intervened {
		return
	}

	// The session may have been cancelled while the oracle call was in
	// flight; the response must not be delivered to a channel that no
	// longer exists.
	if !m.IsLive(sessionID) {
		return
	}
	if !m.handle.SendInput(sessionID, res.Response) {
		return
	}

	sess.Append(models.SessionEvent{
		Type:      models.EventUserMessage,
		Text:      res.Response,
		Timestamp: time.Now().UTC(),
	})
	if m.notifier != nil && sess.Bubble != nil {
		m.notifier.InterventionIssued(ctx, sess.Bubble, res.Response)
	}
}

// HandleExit runs the end-of-session pipeline: the pattern scan over the
// trailing messages, then the oracle assessment of any candidate.
// The session leaves the live set before any oracle call, so concurrent
// replies route to reconstruction rather than a dead input channel.
func (m *Manager) HandleExit(ctx context.Context, sessionID, status string) {
	sess := m.Get(sessionID)
	if sess == nil {
		return
	}

	m.mu.Lock()
	delete(m.live, sessionID)
	m.mu.Unlock()

	events := sess.Events()
	bubble := sess.Bubble

	blocker := m.detector.CheckEvents(events, m.lastN)
	if blocker == nil {
		m.finish(ctx, bubble)
		return
	}

	assessment := m.assessor.AssessBlocker(ctx, blocker, events, status)
	if !assessment.IsRealBlocker {
		m.finish(ctx, bubble)
		return
	}

	if bubble != nil {
		bubble.Status = models.BubbleStatusBlocked
		bubble.UpdatedAt = time.Now().UTC()
		if m.notifier != nil {
			m.notifier.SessionBlocked(ctx, bubble, blocker, assessment)
		}
	}
}

func (m *Manager) finish(ctx context.Context, bubble *models.Bubble) {
	if bubble == nil {
		return
	}
	bubble.Status = models.BubbleStatusCompleted
	bubble.UpdatedAt = time.Now().UTC()
	if m.notifier != nil {
		m.notifier.SessionCompleted(ctx, bubble)
	}
}
