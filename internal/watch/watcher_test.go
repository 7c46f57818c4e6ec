package watch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/am/internal/agent"
	"github.com/joescharf/am/internal/detect"
	"github.com/joescharf/am/internal/models"
	"github.com/joescharf/am/internal/oracle"
	"github.com/joescharf/am/internal/output"
	"github.com/joescharf/am/internal/router"
	"github.com/joescharf/am/internal/telegram"
	"github.com/joescharf/am/internal/triage"
)

const testToken = "123e4567-e89b-12d3-a456-426614174000"

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type sentMessage struct {
	ChatID int64
	Text   string
}

type fakeBot struct {
	mu     sync.Mutex
	nextID int64
	sent   []sentMessage
	edits  []sentMessage
}

func (b *fakeBot) GetUpdates(_ context.Context, _ int64, _ int) ([]telegram.Update, error) {
	return nil, nil
}

func (b *fakeBot) SendMessage(_ context.Context, chatID, _ int64, text string, _ []telegram.InlineButton) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.sent = append(b.sent, sentMessage{ChatID: chatID, Text: text})
	return b.nextID, nil
}

func (b *fakeBot) EditMessageText(_ context.Context, chatID, _ int64, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edits = append(b.edits, sentMessage{ChatID: chatID, Text: text})
	return nil
}

type fakeRunner struct {
	mu     sync.Mutex
	starts []agent.StartParams
	inputs []string
	nextID int
}

func (r *fakeRunner) Start(_ context.Context, params agent.StartParams) agent.StartResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.starts = append(r.starts, params)
	token := params.ResumeToken
	if token == "" {
		token = testToken
	}
	return agent.StartResult{
		Success:     true,
		SessionID:   fmt.Sprintf("sess-%d", r.nextID),
		ResumeToken: token,
	}
}

func (r *fakeRunner) SendInput(_, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, text)
	return true
}

func (r *fakeRunner) Cancel(_ string) bool  { return true }
func (r *fakeRunner) State(_ string) string { return "running" }

// memStore is an in-memory store.Store for watcher tests.
type memStore struct {
	mu      sync.Mutex
	bubbles []*models.Bubble
	events  map[string][]models.SessionEvent
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string][]models.SessionEvent)}
}

func (m *memStore) CreateProject(_ context.Context, _ *models.Project) error { return nil }
func (m *memStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	return nil, fmt.Errorf("project not found: %s", id)
}
func (m *memStore) GetProjectByName(_ context.Context, name string) (*models.Project, error) {
	return nil, fmt.Errorf("project not found: %s", name)
}
func (m *memStore) ListProjects(_ context.Context) ([]*models.Project, error) { return nil, nil }
func (m *memStore) UpdateProject(_ context.Context, _ *models.Project) error  { return nil }
func (m *memStore) DeleteProject(_ context.Context, _ string) error           { return nil }

func (m *memStore) SaveBubble(_ context.Context, b *models.Bubble) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.bubbles {
		if existing.ResumeToken == b.ResumeToken {
			m.bubbles[i] = b
			return nil
		}
	}
	m.bubbles = append(m.bubbles, b)
	return nil
}
func (m *memStore) GetBubble(_ context.Context, id string) (*models.Bubble, error) {
	return nil, fmt.Errorf("bubble not found: %s", id)
}
func (m *memStore) GetBubbleByMessage(_ context.Context, _, _ int64) (*models.Bubble, error) {
	return nil, fmt.Errorf("not found")
}
func (m *memStore) GetBubbleBySession(_ context.Context, _ string) (*models.Bubble, error) {
	return nil, fmt.Errorf("not found")
}
func (m *memStore) ListBubbles(_ context.Context, _ int) ([]*models.Bubble, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Bubble(nil), m.bubbles...), nil
}

func (m *memStore) AppendEvent(_ context.Context, sessionID string, ev models.SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[sessionID] = append(m.events[sessionID], ev)
	return nil
}
func (m *memStore) ListEvents(_ context.Context, sessionID string, _ int) ([]models.SessionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[sessionID], nil
}

func (m *memStore) Migrate(_ context.Context) error { return nil }
func (m *memStore) Close() error                    { return nil }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestWatcher(t *testing.T) (*Watcher, *fakeBot, *fakeRunner, *memStore) {
	t.Helper()

	bot := &fakeBot{}
	runner := &fakeRunner{}
	st := newMemStore()

	ui := output.New()
	ui.Out = &discard{}
	ui.ErrOut = &discard{}

	d := detect.NewDetector()
	o := oracle.NewHeuristicOracle()

	w := newWatcher(bot, st, ui, Config{ChatID: 100})
	w.procs = fakeProcs{}
	w.attach(runner, d, triage.NewAssessor(o), triage.NewInterventor(o, d))
	return w, bot, runner, st
}

// fakeProcs reports no live agent processes.
type fakeProcs struct{}

func (fakeProcs) IsClaudeRunning(string) bool { return false }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestStartSession_PostsCardAndRegisters(t *testing.T) {
	w, bot, runner, st := newTestWatcher(t)
	ctx := context.Background()

	bubble, err := w.StartSession(ctx, "myapp", "/tmp/myapp", "fix the tests")
	require.NoError(t, err)
	require.NotNil(t, bubble)

	require.Len(t, runner.starts, 1)
	assert.Empty(t, runner.starts[0].ResumeToken, "fresh session must not carry a resume token")

	require.Len(t, bot.sent, 1)
	assert.Contains(t, bot.sent[0].Text, "myapp")
	assert.Contains(t, bot.sent[0].Text, "claude --resume "+testToken)
	assert.Equal(t, bot.nextID, bubble.MessageID)

	assert.True(t, w.manager.IsLive(bubble.SessionID))

	saved, err := st.ListBubbles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, models.BubbleStatusRunning, saved[0].Status)
}

func TestRenderBubble_RoundTripsThroughExtraction(t *testing.T) {
	b := &models.Bubble{
		ProjectName: "myapp",
		ResumeToken: testToken,
		Status:      models.BubbleStatusRunning,
	}

	text := RenderBubble(b, "fix the tests")
	ref, ok := router.ExtractSessionRef(text)
	require.True(t, ok, "card text must carry a recoverable session reference")
	assert.Equal(t, testToken, ref.ResumeToken)
	assert.Equal(t, "fix the tests", ref.ProjectName, "ctx marker wins over the header")

	// Without the ctx marker the header line provides the project name.
	ref, ok = router.ExtractSessionRef(RenderBubble(b, ""))
	require.True(t, ok)
	assert.Equal(t, "myapp", ref.ProjectName)
}

func TestHandleUpdate_ReplyForwardsToLiveSession(t *testing.T) {
	w, _, runner, _ := newTestWatcher(t)
	ctx := context.Background()

	bubble, err := w.StartSession(ctx, "myapp", "/tmp/myapp", "task")
	require.NoError(t, err)

	w.handleUpdate(ctx, telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 50,
			Chat:      telegram.Chat{ID: 100},
			Text:      "yes, go ahead",
			ReplyToMessage: &telegram.Message{
				MessageID: bubble.MessageID,
				Text:      "old card text",
			},
		},
	})

	require.Len(t, runner.inputs, 1)
	assert.Equal(t, "yes, go ahead", runner.inputs[0])
	assert.Len(t, runner.starts, 1, "no new session should be spawned")
}

func TestHandleUpdate_ForgottenCardResumesFromText(t *testing.T) {
	w, _, runner, _ := newTestWatcher(t)
	ctx := context.Background()

	cardText := "🟢 myapp — running\nctx: fix the tests\nclaude --resume " + testToken

	w.handleUpdate(ctx, telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 51,
			Chat:      telegram.Chat{ID: 100},
			Text:      "please continue",
			ReplyToMessage: &telegram.Message{
				MessageID: 999, // never tracked
				Text:      cardText,
			},
		},
	})

	require.Len(t, runner.starts, 1)
	assert.Equal(t, testToken, runner.starts[0].ResumeToken)
	assert.Equal(t, "please continue", runner.starts[0].Task)
}

func TestHandleUpdate_WrongChatIgnored(t *testing.T) {
	w, _, runner, _ := newTestWatcher(t)
	ctx := context.Background()

	w.handleUpdate(ctx, telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 52,
			Chat:      telegram.Chat{ID: 200},
			Text:      "continue",
			ReplyToMessage: &telegram.Message{
				MessageID: 999,
				Text:      "claude --resume " + testToken,
			},
		},
	})

	assert.Empty(t, runner.starts)
	assert.Empty(t, runner.inputs)
}

func TestHandleUpdate_NonReplyIgnored(t *testing.T) {
	w, _, runner, _ := newTestWatcher(t)

	w.handleUpdate(context.Background(), telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 53,
			Chat:      telegram.Chat{ID: 100},
			Text:      "hello",
		},
	})

	assert.Empty(t, runner.starts)
	assert.Empty(t, runner.inputs)
}

func TestRestoreBubbles_SkipsTerminal(t *testing.T) {
	w, _, runner, st := newTestWatcher(t)
	ctx := context.Background()

	live := &models.Bubble{
		ID: "b1", SessionID: "sess-live", ResumeToken: testToken,
		ProjectName: "myapp", ChatID: 100, MessageID: 10,
		Status: models.BubbleStatusRunning,
	}
	done := &models.Bubble{
		ID: "b2", SessionID: "sess-done", ResumeToken: "123e4567-e89b-12d3-a456-426614174999",
		ProjectName: "site", ChatID: 100, MessageID: 11,
		Status: models.BubbleStatusCompleted,
	}
	require.NoError(t, st.SaveBubble(ctx, live))
	require.NoError(t, st.SaveBubble(ctx, done))

	require.NoError(t, w.restoreBubbles(ctx))

	// With no matching process, the stored running bubble is downgraded.
	saved, err := st.ListBubbles(ctx, 10)
	require.NoError(t, err)
	for _, b := range saved {
		if b.SessionID == "sess-live" {
			assert.Equal(t, models.BubbleStatusWaiting, b.Status)
		}
	}

	// A reply to the restored card reconstructs by its stored token even
	// though this process never ran the session.
	w.handleUpdate(ctx, telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 54,
			Chat:      telegram.Chat{ID: 100},
			Text:      "keep going",
			ReplyToMessage: &telegram.Message{
				MessageID: 10,
				Text:      "",
			},
		},
	})
	require.Len(t, runner.starts, 1)
	assert.Equal(t, testToken, runner.starts[0].ResumeToken)

	// The completed card was not restored; with no recoverable text the
	// reply falls through.
	w.handleUpdate(ctx, telegram.Update{
		UpdateID: 2,
		Message: &telegram.Message{
			MessageID: 55,
			Chat:      telegram.Chat{ID: 100},
			Text:      "keep going",
			ReplyToMessage: &telegram.Message{
				MessageID: 11,
				Text:      "",
			},
		},
	})
	assert.Len(t, runner.starts, 1)
}

func TestSessionBlocked_EditsCard(t *testing.T) {
	w, bot, _, _ := newTestWatcher(t)
	ctx := context.Background()

	bubble, err := w.StartSession(ctx, "myapp", "/tmp/myapp", "task")
	require.NoError(t, err)

	bubble.Status = models.BubbleStatusBlocked
	w.SessionBlocked(ctx, bubble,
		&models.BlockerInfo{Reason: "needs funding to continue"},
		models.BlockerAssessment{IsRealBlocker: true, Confidence: 0.9, Reasoning: "funding request detected"},
	)

	require.Len(t, bot.edits, 1)
	assert.Contains(t, bot.edits[0].Text, "needs funding to continue")
	assert.Contains(t, bot.edits[0].Text, "0.90")
	assert.Contains(t, bot.edits[0].Text, "claude --resume "+testToken)
}
