package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/am/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access through Go's pool, preventing "database is
	// locked" errors from concurrent sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, path, description, default_task, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Path, p.Description, p.DefaultTask, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

const projectCols = `id, name, path, description, default_task, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	p := &models.Project{}
	err := row.Scan(&p.ID, &p.Name, &p.Path, &p.Description, &p.DefaultTask, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectCols+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=?, path=?, description=?, default_task=?, updated_at=? WHERE id=?`,
		p.Name, p.Path, p.Description, p.DefaultTask, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", p.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", id)
	}
	return nil
}

// --- Bubbles ---

const bubbleCols = `id, session_id, resume_token, project_name, working_dir, chat_id, thread_id, message_id, status, created_at, updated_at`

func scanBubble(row interface{ Scan(...any) error }) (*models.Bubble, error) {
	b := &models.Bubble{}
	err := row.Scan(&b.ID, &b.SessionID, &b.ResumeToken, &b.ProjectName, &b.WorkingDir,
		&b.ChatID, &b.ThreadID, &b.MessageID, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// SaveBubble inserts or replaces a bubble by resume token, the one identity
// that must survive across process restarts.
func (s *SQLiteStore) SaveBubble(ctx context.Context, b *models.Bubble) error {
	if b.ID == "" {
		b.ID = newULID()
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bubbles (`+bubbleCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resume_token) DO UPDATE SET
			session_id=excluded.session_id,
			project_name=excluded.project_name,
			working_dir=excluded.working_dir,
			chat_id=excluded.chat_id,
			thread_id=excluded.thread_id,
			message_id=excluded.message_id,
			status=excluded.status,
			updated_at=excluded.updated_at`,
		b.ID, b.SessionID, b.ResumeToken, b.ProjectName, b.WorkingDir,
		b.ChatID, b.ThreadID, b.MessageID, b.Status, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save bubble: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBubble(ctx context.Context, id string) (*models.Bubble, error) {
	b, err := scanBubble(s.db.QueryRowContext(ctx,
		`SELECT `+bubbleCols+` FROM bubbles WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bubble not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bubble: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) GetBubbleByMessage(ctx context.Context, chatID, messageID int64) (*models.Bubble, error) {
	b, err := scanBubble(s.db.QueryRowContext(ctx,
		`SELECT `+bubbleCols+` FROM bubbles WHERE chat_id = ? AND message_id = ?`, chatID, messageID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bubble not found for message %d/%d", chatID, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("get bubble by message: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) GetBubbleBySession(ctx context.Context, sessionID string) (*models.Bubble, error) {
	b, err := scanBubble(s.db.QueryRowContext(ctx,
		`SELECT `+bubbleCols+` FROM bubbles WHERE session_id = ? ORDER BY updated_at DESC LIMIT 1`, sessionID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bubble not found for session: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get bubble by session: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) ListBubbles(ctx context.Context, limit int) ([]*models.Bubble, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bubbleCols+` FROM bubbles ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list bubbles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bubbles []*models.Bubble
	for rows.Next() {
		b, err := scanBubble(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bubble: %w", err)
		}
		bubbles = append(bubbles, b)
	}
	return bubbles, rows.Err()
}

// --- Session events ---

func (s *SQLiteStore) AppendEvent(ctx context.Context, sessionID string, ev models.SessionEvent) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (id, session_id, type, text, timestamp) VALUES (?, ?, ?, ?, ?)`,
		newULID(), sessionID, string(ev.Type), ev.Text, ts,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent limit events for a session, in arrival
// order (oldest of the window first).
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]models.SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, text, timestamp FROM session_events
		WHERE session_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []models.SessionEvent
	for rows.Next() {
		var ev models.SessionEvent
		var typ string
		if err := rows.Scan(&typ, &ev.Text, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = models.EventType(typ)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into arrival order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
