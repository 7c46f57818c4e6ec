package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/joescharf/am/internal/models"
)

// OutcomeKind tags what happened to a chat reply.
type OutcomeKind int

const (
	// OutcomeNotSession means the reply is unrelated to any session and
	// should fall through to normal message handling.
	OutcomeNotSession OutcomeKind = iota
	// OutcomeDirect means the reply was forwarded into a live session.
	OutcomeDirect
	// OutcomeOrchestrate means a reconstruction request was built and must
	// be handed to the orchestrating oracle.
	OutcomeOrchestrate
)

// OrchestrationRequest names the resume action for the orchestrating oracle.
type OrchestrationRequest struct {
	Action      string
	ProjectName string
	WorkingDir  string
	Task        string
	ResumeToken string
	ChatID      int64
	ThreadID    int64
}

// Text renders the request as the orchestration prompt text.
func (req *OrchestrationRequest) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Action: %s\n", req.Action)
	if req.ProjectName != "" {
		fmt.Fprintf(&sb, "Project: %s\n", req.ProjectName)
	}
	if req.WorkingDir != "" {
		fmt.Fprintf(&sb, "Working directory: %s\n", req.WorkingDir)
	}
	fmt.Fprintf(&sb, "Resume token: %s\n", req.ResumeToken)
	fmt.Fprintf(&sb, "Task: %s\n", req.Task)
	return sb.String()
}

// Result is the tagged outcome of handling one reply.
type Result struct {
	Kind    OutcomeKind
	Request *OrchestrationRequest
	Note    string
}

// SessionWriter is the live-session surface the router needs: a liveness
// check and a direct input write. Implemented by the sessions manager.
type SessionWriter interface {
	IsLive(sessionID string) bool
	SendInput(sessionID, text string) bool
}

// Router resolves chat replies to sessions.
type Router struct {
	registry *Registry
	sessions SessionWriter
}

// New creates a router over the given registry and session surface.
func New(reg *Registry, sessions SessionWriter) *Router {
	return &Router{registry: reg, sessions: sessions}
}

// HandleReply routes one chat reply bound to a prior message. repliedText is
// the stored text of the original message, used only for the textual fallback
// when the bubble index no longer knows the message.
func (r *Router) HandleReply(ctx context.Context, chatID, replyToMessageID int64, text, repliedText string) Result {
	bubble := r.registry.Lookup(chatID, replyToMessageID)

	if bubble == nil {
		// The router no longer indexes this message; recover identity from
		// the rendered status text itself.
		ref, ok := ExtractSessionRef(repliedText)
		if !ok {
			return Result{Kind: OutcomeNotSession, Note: "no session reference in replied message"}
		}
		return r.orchestrate(chatID, 0, ref.ResumeToken, ref.ProjectName, "", text)
	}

	if r.sessions.IsLive(bubble.SessionID) {
		if r.sessions.SendInput(bubble.SessionID, text) {
			return Result{Kind: OutcomeDirect, Note: "forwarded to live session"}
		}
		// The session exited between the liveness check and the write; fall
		// back to reconstruction instead of reporting an error.
	}

	// The bubble already carries the identity; never re-parse text here, and
	// always force the bubble's own token.
	return r.orchestrate(bubble.ChatID, bubble.ThreadID, bubble.ResumeToken, bubble.ProjectName, bubble.WorkingDir, text)
}

// orchestrate forces the resume token for this chat and builds the resume
// request. Forcing exists because the oracle otherwise infers a token from
// its own reasoning and could pick a different (wrong) one.
func (r *Router) orchestrate(chatID, threadID int64, token, projectName, workingDir, task string) Result {
	r.registry.ForceToken(chatID, token)

	req := &OrchestrationRequest{
		Action:      "resume",
		ProjectName: projectName,
		WorkingDir:  workingDir,
		Task:        task,
		ResumeToken: token,
		ChatID:      chatID,
		ThreadID:    threadID,
	}
	return Result{Kind: OutcomeOrchestrate, Request: req}
}

// TrackBubble indexes a (new or resumed) session's status card.
func (r *Router) TrackBubble(b *models.Bubble) {
	r.registry.Track(b)
}
