// Package router maps chat replies back to the running or exited session they
// belong to. A reply either forwards directly into a live session, or is
// rebuilt into an orchestration request that resumes the dormant session by
// its stored resume token.
package router

import (
	"sync"

	"github.com/joescharf/am/internal/models"
)

type bubbleKey struct {
	ChatID    int64
	MessageID int64
}

// Registry is the lifetime-scoped owner of the bubble index and the forced
// resume-token lookup. One instance per running process; all accessors are
// safe for concurrent use, and writes are atomic per key.
type Registry struct {
	mu        sync.RWMutex
	byMessage map[bubbleKey]*models.Bubble
	bySession map[string]*models.Bubble
	forced    map[int64]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byMessage: make(map[bubbleKey]*models.Bubble),
		bySession: make(map[string]*models.Bubble),
		forced:    make(map[int64]string),
	}
}

// Track indexes a bubble by its chat message identity and session ID.
// Re-tracking the same key overwrites (last writer wins per key).
func (r *Registry) Track(b *models.Bubble) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMessage[bubbleKey{ChatID: b.ChatID, MessageID: b.MessageID}] = b
	if b.SessionID != "" {
		r.bySession[b.SessionID] = b
	}
}

// Lookup returns the bubble bound to a chat message, or nil.
func (r *Registry) Lookup(chatID, messageID int64) *models.Bubble {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byMessage[bubbleKey{ChatID: chatID, MessageID: messageID}]
}

// LookupSession returns the bubble bound to a session ID, or nil.
func (r *Registry) LookupSession(sessionID string) *models.Bubble {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySession[sessionID]
}

// Remove drops a bubble from both indexes.
func (r *Registry) Remove(b *models.Bubble) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byMessage, bubbleKey{ChatID: b.ChatID, MessageID: b.MessageID})
	delete(r.bySession, b.SessionID)
}

// ForceToken records an authoritative resume token for a chat. The
// orchestrating oracle's tool layer must honor this value over anything it
// infers on its own, so a human's "continue my exact session" is never
// silently redirected to a fresh session.
func (r *Registry) ForceToken(chatID int64, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forced[chatID] = token
}

// ForcedToken returns the forced token for a chat, if any.
func (r *Registry) ForcedToken(chatID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.forced[chatID]
	return t, ok
}

// ClearForced drops the forced token for a chat once it has been consumed.
func (r *Registry) ClearForced(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.forced, chatID)
}
