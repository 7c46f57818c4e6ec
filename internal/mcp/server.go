package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/am/internal/detect"
	"github.com/joescharf/am/internal/health"
	"github.com/joescharf/am/internal/models"
	"github.com/joescharf/am/internal/store"
	"github.com/joescharf/am/internal/triage"
)

// Server exposes the detection pipeline and session data as MCP tools, so an
// orchestrating agent can consult them directly.
type Server struct {
	store    store.Store
	detector *detect.Detector
	assessor *triage.Assessor
	scorer   *health.Scorer
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, d *detect.Detector, a *triage.Assessor) *Server {
	return &Server{
		store:    s,
		detector: d,
		assessor: a,
		scorer:   health.NewScorer(),
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("am", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.detectBlockerTool())
	srv.AddTool(s.checkSessionTool())
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.sessionHealthTool())
	srv.AddTool(s.listProjectsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// am_detect_blocker
func (s *Server) detectBlockerTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("am_detect_blocker",
		mcp.WithDescription("Classify agent output text for blocker signals. Returns the blocker reason, matched patterns, and extracted fields, or detected=false."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Assistant message text to classify")),
		mcp.WithBoolean("session_ended", mcp.Description("Whether the session has already exited (relaxes the strength policy)")),
	)
	return tool, s.handleDetectBlocker
}

func (s *Server) handleDetectBlocker(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	sessionEnded := request.GetBool("session_ended", false)

	info := s.detector.Detect(text, sessionEnded)
	if info == nil {
		return mcp.NewToolResultText(`{"detected": false}`), nil
	}

	out := map[string]any{
		"detected":          true,
		"reason":            info.Reason,
		"matched_patterns":  info.MatchedPatterns,
		"extracted_context": info.ExtractedContext,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// am_check_session
func (s *Server) checkSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("am_check_session",
		mcp.WithDescription("Scan a session's recent events for a blocker and assess whether it is real. Returns blocker info plus the assessment verdict."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithNumber("last_n", mcp.Description("How many trailing assistant messages to scan (default 2)")),
	)
	return tool, s.handleCheckSession
}

func (s *Server) handleCheckSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	lastN := request.GetInt("last_n", detect.DefaultLastN)

	events, err := s.store.ListEvents(ctx, sessionID, 100)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load events: %v", err)), nil
	}

	blocker := s.detector.CheckEvents(events, lastN)
	if blocker == nil {
		return mcp.NewToolResultText(`{"blocked": false}`), nil
	}

	status := "exited"
	if b, err := s.store.GetBubbleBySession(ctx, sessionID); err == nil {
		status = string(b.Status)
	}
	assessment := s.assessor.AssessBlocker(ctx, blocker, events, status)

	out := map[string]any{
		"blocked":           true,
		"reason":            blocker.Reason,
		"matched_patterns":  blocker.MatchedPatterns,
		"extracted_context": blocker.ExtractedContext,
		"assessment":        assessment,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// am_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("am_list_sessions",
		mcp.WithDescription("List tracked session status cards. Returns a JSON array with session_id, resume_token, project, status, and chat identity."),
		mcp.WithNumber("limit", mcp.Description("Max entries to return (default 50)")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 50)

	bubbles, err := s.store.ListBubbles(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	type bubbleOut struct {
		SessionID   string `json:"session_id"`
		ResumeToken string `json:"resume_token"`
		Project     string `json:"project"`
		WorkingDir  string `json:"working_dir"`
		ChatID      int64  `json:"chat_id"`
		MessageID   int64  `json:"message_id"`
		Status      string `json:"status"`
	}

	out := make([]bubbleOut, len(bubbles))
	for i, b := range bubbles {
		out[i] = bubbleOut{
			SessionID:   b.SessionID,
			ResumeToken: b.ResumeToken,
			Project:     b.ProjectName,
			WorkingDir:  b.WorkingDir,
			ChatID:      b.ChatID,
			MessageID:   b.MessageID,
			Status:      string(b.Status),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// am_session_health
func (s *Server) sessionHealthTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("am_session_health",
		mcp.WithDescription("Compute a liveliness score (0-100) for a session from event recency, event rate, and blocker history."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	)
	return tool, s.handleSessionHealth
}

func (s *Server) handleSessionHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	events, err := s.store.ListEvents(ctx, sessionID, 200)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load events: %v", err)), nil
	}

	status := models.BubbleStatusRunning
	if b, err := s.store.GetBubbleBySession(ctx, sessionID); err == nil {
		status = b.Status
	}

	blockerCount := 0
	for _, ev := range events {
		if ev.Type == models.EventAssistantMessage && s.detector.Detect(ev.Text, false) != nil {
			blockerCount++
		}
	}

	score := s.scorer.Score(events, blockerCount, status)
	data, err := json.Marshal(map[string]any{
		"session_id":      sessionID,
		"total":           score.Total,
		"event_recency":   score.EventRecency,
		"event_rate":      score.EventRate,
		"blocker_burden":  score.BlockerBurden,
		"status_standing": score.StatusStanding,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal score: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// am_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("am_list_projects",
		mcp.WithDescription("List registered projects. Returns a JSON array of projects with id, name, path, and description."),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}

	type projectOut struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Path        string `json:"path"`
		Description string `json:"description"`
	}

	out := make([]projectOut, len(projects))
	for i, p := range projects {
		out[i] = projectOut{ID: p.ID, Name: p.Name, Path: p.Path, Description: p.Description}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal projects: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
