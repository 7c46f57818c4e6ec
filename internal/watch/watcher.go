// Package watch is the daemon loop: it long-polls Telegram for replies,
// routes them into running sessions or rebuilds resume requests for dead
// ones, spawns agent processes, and keeps the per-session status cards
// edited as sessions progress, block, and complete.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/am/internal/agent"
	"github.com/joescharf/am/internal/detect"
	"github.com/joescharf/am/internal/models"
	"github.com/joescharf/am/internal/output"
	"github.com/joescharf/am/internal/router"
	"github.com/joescharf/am/internal/sessions"
	"github.com/joescharf/am/internal/store"
	"github.com/joescharf/am/internal/telegram"
	"github.com/joescharf/am/internal/triage"

	"github.com/oklog/ulid/v2"
)

// BotAPI is the chat transport surface the watcher needs.
type BotAPI interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID, threadID int64, text string, buttons []telegram.InlineButton) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
}

// ProcessRunner abstracts the agent runner for tests.
type ProcessRunner interface {
	Start(ctx context.Context, params agent.StartParams) agent.StartResult
	SendInput(sessionID, text string) bool
	Cancel(sessionID string) bool
	State(sessionID string) string
}

// Config carries the watcher's runtime settings.
type Config struct {
	ChatID      int64
	AgentBinary string
	AgentModel  string
	LastN       int
	PollSec     int
}

// Watcher owns the daemon's moving parts and the poll loop.
type Watcher struct {
	bot      BotAPI
	store    store.Store
	runner   ProcessRunner
	procs    agent.ProcessDetector
	manager  *sessions.Manager
	registry *router.Registry
	router   *router.Router
	cfg      Config
	ui       *output.UI
}

// New wires a watcher. The runner is created here so its event callbacks can
// feed the manager; sessions and chat output close the loop through the
// watcher's Notifier implementation.
func New(bot BotAPI, st store.Store, d *detect.Detector, a *triage.Assessor, iv *triage.Interventor, ui *output.UI, cfg Config) *Watcher {
	w := newWatcher(bot, st, ui, cfg)
	runner := agent.NewRunner(cfg.AgentBinary, w.onAgentEvent, w.onAgentExit)
	w.attach(runner, d, a, iv)
	return w
}

func newWatcher(bot BotAPI, st store.Store, ui *output.UI, cfg Config) *Watcher {
	if cfg.PollSec <= 0 {
		cfg.PollSec = 50
	}
	return &Watcher{
		bot:      bot,
		store:    st,
		procs:    &agent.OSProcessDetector{},
		registry: router.NewRegistry(),
		cfg:      cfg,
		ui:       ui,
	}
}

// attach completes wiring once the runner exists; split out so tests can
// substitute a fake process runner.
func (w *Watcher) attach(runner ProcessRunner, d *detect.Detector, a *triage.Assessor, iv *triage.Interventor) {
	w.runner = runner
	w.manager = sessions.NewManager(runner, d, a, iv, w, w.cfg.LastN)
	w.router = router.New(w.registry, w.manager)
}

// Manager exposes the sessions manager for command-layer queries.
func (w *Watcher) Manager() *sessions.Manager { return w.manager }

// Run restores persisted bubbles into the reply index, then polls for chat
// updates until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.restoreBubbles(ctx); err != nil {
		return fmt.Errorf("restore bubbles: %w", err)
	}

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := w.bot.GetUpdates(ctx, offset, w.cfg.PollSec)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.ui.Warning("poll failed: %v", err)
			time.Sleep(3 * time.Second)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			w.handleUpdate(ctx, u)
		}
	}
}

// restoreBubbles reloads status cards from the store so replies to messages
// sent before a restart still resolve without the textual fallback. Bubbles
// stored as running are reconciled against actual processes: the agent that
// was running under the previous daemon is gone unless something in its
// working directory still is.
func (w *Watcher) restoreBubbles(ctx context.Context) error {
	bubbles, err := w.store.ListBubbles(ctx, 200)
	if err != nil {
		return err
	}
	for _, b := range bubbles {
		if b.Status.Terminal() {
			continue
		}
		if b.Status == models.BubbleStatusRunning && !w.procs.IsClaudeRunning(b.WorkingDir) {
			b.Status = models.BubbleStatusWaiting
			b.UpdatedAt = time.Now().UTC()
			if err := w.store.SaveBubble(ctx, b); err != nil {
				w.ui.VerboseLog("persist bubble: %v", err)
			}
		}
		w.router.TrackBubble(b)
	}
	return nil
}

func (w *Watcher) handleUpdate(ctx context.Context, u telegram.Update) {
	if u.Message == nil || u.Message.ReplyToMessage == nil {
		return
	}
	msg := u.Message
	if w.cfg.ChatID != 0 && msg.Chat.ID != w.cfg.ChatID {
		return
	}

	res := w.router.HandleReply(ctx, msg.Chat.ID, msg.ReplyToMessage.MessageID, msg.Text, msg.ReplyToMessage.Text)
	switch res.Kind {
	case router.OutcomeDirect:
		w.ui.VerboseLog("reply forwarded into live session")
	case router.OutcomeOrchestrate:
		w.resume(ctx, res.Request)
	default:
		w.ui.VerboseLog("reply ignored: %s", res.Note)
	}
}

// StartSession launches a fresh agent session for a project task and posts
// its status card.
func (w *Watcher) StartSession(ctx context.Context, projectName, workingDir, task string) (*models.Bubble, error) {
	return w.launch(ctx, agent.StartParams{
		Task:       task,
		WorkingDir: workingDir,
		Model:      w.cfg.AgentModel,
	}, projectName, w.cfg.ChatID, 0)
}

// resume relaunches a dormant session from an orchestration request. The
// forced token for the chat is authoritative; the request carries the same
// value, but the registry is consulted so a late ForceToken write wins.
func (w *Watcher) resume(ctx context.Context, req *router.OrchestrationRequest) {
	token := req.ResumeToken
	if forced, ok := w.registry.ForcedToken(req.ChatID); ok {
		token = forced
	}

	_, err := w.launch(ctx, agent.StartParams{
		Task:        req.Task,
		WorkingDir:  req.WorkingDir,
		Model:       w.cfg.AgentModel,
		ResumeToken: token,
	}, req.ProjectName, req.ChatID, req.ThreadID)
	w.registry.ClearForced(req.ChatID)
	if err != nil {
		w.ui.Error("resume failed: %v", err)
		_, _ = w.bot.SendMessage(ctx, req.ChatID, req.ThreadID,
			fmt.Sprintf("⚠ could not resume %s: %v", req.ProjectName, err), nil)
	}
}

func (w *Watcher) launch(ctx context.Context, params agent.StartParams, projectName string, chatID, threadID int64) (*models.Bubble, error) {
	res := w.runner.Start(ctx, params)
	if !res.Success {
		return nil, fmt.Errorf("start agent: %s", res.Error)
	}

	now := time.Now().UTC()
	bubble := &models.Bubble{
		ID:          ulid.Make().String(),
		SessionID:   res.SessionID,
		ResumeToken: res.ResumeToken,
		ProjectName: projectName,
		WorkingDir:  params.WorkingDir,
		ChatID:      chatID,
		ThreadID:    threadID,
		Status:      models.BubbleStatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	msgID, err := w.bot.SendMessage(ctx, bubble.ChatID, threadID, RenderBubble(bubble, params.Task), nil)
	if err != nil {
		w.ui.Warning("status card send failed: %v", err)
	} else {
		bubble.MessageID = msgID
	}

	w.router.TrackBubble(bubble)
	if err := w.store.SaveBubble(ctx, bubble); err != nil {
		w.ui.Warning("persist bubble: %v", err)
	}

	sess := &sessions.Session{ID: res.SessionID, ResumeToken: res.ResumeToken, Bubble: bubble}
	w.manager.Register(sess)

	w.ui.Info("session %s started for %s", res.SessionID, projectName)
	return bubble, nil
}

// onAgentEvent feeds runner events to the manager and the event log.
func (w *Watcher) onAgentEvent(sessionID string, ev models.SessionEvent) {
	ctx := context.Background()
	if err := w.store.AppendEvent(ctx, sessionID, ev); err != nil {
		w.ui.VerboseLog("persist event: %v", err)
	}
	w.manager.HandleEvent(ctx, sessionID, ev)
}

// onAgentExit drives the end-of-session scan.
func (w *Watcher) onAgentExit(sessionID string, err error) {
	status := "exited"
	if err != nil {
		status = "failed"
	}
	w.manager.HandleExit(context.Background(), sessionID, status)
}

// ---------------------------------------------------------------------------
// sessions.Notifier
// ---------------------------------------------------------------------------

// SessionBlocked repaints the status card with the blocker verdict.
func (w *Watcher) SessionBlocked(ctx context.Context, bubble *models.Bubble, blocker *models.BlockerInfo, assessment models.BlockerAssessment) {
	var sb strings.Builder
	sb.WriteString(RenderBubble(bubble, blocker.Reason))
	fmt.Fprintf(&sb, "\nconfidence: %.2f", assessment.Confidence)
	if assessment.Reasoning != "" {
		fmt.Fprintf(&sb, "\n%s", assessment.Reasoning)
	}
	w.updateCard(ctx, bubble, sb.String())
	w.ui.Warning("session %s blocked: %s", bubble.SessionID, blocker.Reason)
}

// SessionCompleted repaints the status card as done.
func (w *Watcher) SessionCompleted(ctx context.Context, bubble *models.Bubble) {
	w.updateCard(ctx, bubble, RenderBubble(bubble, "finished"))
	w.ui.Success("session %s completed", bubble.SessionID)
}

// InterventionIssued notes an auto-answer on the card's thread.
func (w *Watcher) InterventionIssued(ctx context.Context, bubble *models.Bubble, response string) {
	_, _ = w.bot.SendMessage(ctx, bubble.ChatID, bubble.ThreadID,
		fmt.Sprintf("auto-answered %s: %s", bubble.ProjectName, response), nil)
}

func (w *Watcher) updateCard(ctx context.Context, bubble *models.Bubble, text string) {
	if bubble.MessageID != 0 {
		if err := w.bot.EditMessageText(ctx, bubble.ChatID, bubble.MessageID, text); err != nil {
			w.ui.VerboseLog("edit status card: %v", err)
		}
	}
	if err := w.store.SaveBubble(ctx, bubble); err != nil {
		w.ui.VerboseLog("persist bubble: %v", err)
	}
}

// statusEmoji maps a bubble status to its card marker.
func statusEmoji(status models.BubbleStatus) string {
	switch status {
	case models.BubbleStatusRunning:
		return "🟢"
	case models.BubbleStatusWaiting:
		return "🟡"
	case models.BubbleStatusBlocked, models.BubbleStatusFailed:
		return "🔴"
	case models.BubbleStatusCompleted:
		return "✅"
	default:
		return "⚪"
	}
}

// RenderBubble produces the status card text. The header, ctx marker, and
// resume hint are load-bearing: replies to cards the index has forgotten are
// recovered by parsing exactly these three lines.
func RenderBubble(b *models.Bubble, note string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s — %s\n", statusEmoji(b.Status), b.ProjectName, b.Status)
	if note != "" {
		fmt.Fprintf(&sb, "ctx: %s\n", note)
	}
	fmt.Fprintf(&sb, "claude --resume %s", b.ResumeToken)
	return sb.String()
}
