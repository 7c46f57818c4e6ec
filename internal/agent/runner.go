// Package agent runs the external claude CLI as monitored sessions: spawn or
// resume a process, decode its line-stream JSON output into session events,
// and push them to the watcher through a callback.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/joescharf/am/internal/models"
)

// StartParams configures a new or resumed agent process.
type StartParams struct {
	Task        string
	WorkingDir  string
	Model       string
	ResumeToken string // empty means start a fresh session
}

// StartResult reports the outcome of starting a session.
type StartResult struct {
	Success     bool
	SessionID   string
	ResumeToken string
	Error       string
}

// EventHandler receives each decoded event, in arrival order, from the
// session's single reader goroutine.
type EventHandler func(sessionID string, ev models.SessionEvent)

// ExitHandler is called once, after the process exits and the event stream
// is drained.
type ExitHandler func(sessionID string, err error)

// process is one running CLI process and its stdin pipe.
type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu       sync.Mutex
	stateStr string
}

// Runner spawns and tracks claude CLI processes.
type Runner struct {
	binary string

	mu    sync.Mutex
	procs map[string]*process

	onEvent EventHandler
	onExit  ExitHandler
}

// NewRunner creates a runner invoking the given binary (normally "claude").
func NewRunner(binary string, onEvent EventHandler, onExit ExitHandler) *Runner {
	if binary == "" {
		binary = "claude"
	}
	return &Runner{
		binary:  binary,
		procs:   make(map[string]*process),
		onEvent: onEvent,
		onExit:  onExit,
	}
}

// streamLine is the CLI's stream-json line shape (the subset we consume).
type streamLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Result  string `json:"result,omitempty"`
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// Start spawns (or resumes, when params.ResumeToken is set) an agent process
// and begins streaming its events. The returned session ID identifies the
// process for SendInput/Cancel/State.
func (r *Runner) Start(ctx context.Context, params StartParams) StartResult {
	sessionID := ulid.Make().String()

	args := []string{"-p", "--output-format", "stream-json", "--input-format", "stream-json", "--verbose"}
	if params.Model != "" {
		args = append(args, "--model", params.Model)
	}

	token := params.ResumeToken
	if token != "" {
		args = append(args, "--resume", token)
	} else {
		token = uuid.NewString()
		args = append(args, "--session-id", token)
	}

	cmd := exec.CommandContext(ctx, r.binary, args...)
	if params.WorkingDir != "" {
		cmd.Dir = params.WorkingDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return StartResult{Error: fmt.Sprintf("stdin pipe: %v", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return StartResult{Error: fmt.Sprintf("stdout pipe: %v", err)}
	}

	if err := cmd.Start(); err != nil {
		return StartResult{Error: fmt.Sprintf("start %s: %v", r.binary, err)}
	}

	p := &process{cmd: cmd, stdin: stdin, stateStr: "running"}
	r.mu.Lock()
	r.procs[sessionID] = p
	r.mu.Unlock()

	// Single reader goroutine per session keeps events strictly in order.
	go r.consume(sessionID, p, stdout)

	if params.Task != "" {
		if !r.SendInput(sessionID, params.Task) {
			return StartResult{Error: "failed to write initial task", SessionID: sessionID, ResumeToken: token}
		}
	}

	return StartResult{Success: true, SessionID: sessionID, ResumeToken: token}
}

func (r *Runner) consume(sessionID string, p *process, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg streamLine
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}

		ev, ok := decodeEvent(msg)
		if !ok {
			continue
		}
		if r.onEvent != nil {
			r.onEvent(sessionID, ev)
		}
	}

	err := p.cmd.Wait()

	p.mu.Lock()
	p.stateStr = "exited"
	p.mu.Unlock()

	r.mu.Lock()
	delete(r.procs, sessionID)
	r.mu.Unlock()

	if r.onExit != nil {
		r.onExit(sessionID, err)
	}
}

func decodeEvent(msg streamLine) (models.SessionEvent, bool) {
	now := time.Now().UTC()
	switch msg.Type {
	case "assistant":
		var text string
		for _, block := range msg.Message.Content {
			if block.Type == "text" && block.Text != "" {
				text = block.Text
				break
			}
		}
		if text == "" {
			return models.SessionEvent{}, false
		}
		return models.SessionEvent{Type: models.EventAssistantMessage, Text: text, Timestamp: now}, true
	case "result":
		return models.SessionEvent{Type: models.EventSystem, Text: msg.Result, Timestamp: now}, true
	case "system":
		return models.SessionEvent{Type: models.EventSystem, Text: msg.Subtype, Timestamp: now}, true
	default:
		return models.SessionEvent{}, false
	}
}

// SendInput writes a user message line into the process's stdin stream.
// Returns false when the session is gone or the write failed.
func (r *Runner) SendInput(sessionID, text string) bool {
	r.mu.Lock()
	p := r.procs[sessionID]
	r.mu.Unlock()
	if p == nil {
		return false
	}

	line := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]string{
				{"type": "text", "text": text},
			},
		},
	}
	data, err := json.Marshal(line)
	if err != nil {
		return false
	}
	data = append(data, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.stdin.Write(data)
	return err == nil
}

// Cancel kills the process for a session.
func (r *Runner) Cancel(sessionID string) bool {
	r.mu.Lock()
	p := r.procs[sessionID]
	r.mu.Unlock()
	if p == nil {
		return false
	}
	_ = p.stdin.Close()
	return p.cmd.Process.Kill() == nil
}

// State reports "running" or "exited" for a session; unknown sessions are
// "exited".
func (r *Runner) State(sessionID string) string {
	r.mu.Lock()
	p := r.procs[sessionID]
	r.mu.Unlock()
	if p == nil {
		return "exited"
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateStr
}
