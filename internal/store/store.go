package store

import (
	"context"

	"github.com/joescharf/am/internal/models"
)

// Store defines the persistence interface for am. The live indexes stay in
// memory; the store is the durable shadow that survives restarts, keeping
// resume tokens and status-card text recoverable.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Bubbles
	SaveBubble(ctx context.Context, b *models.Bubble) error
	GetBubble(ctx context.Context, id string) (*models.Bubble, error)
	GetBubbleByMessage(ctx context.Context, chatID, messageID int64) (*models.Bubble, error)
	GetBubbleBySession(ctx context.Context, sessionID string) (*models.Bubble, error)
	ListBubbles(ctx context.Context, limit int) ([]*models.Bubble, error)

	// Session events
	AppendEvent(ctx context.Context, sessionID string, ev models.SessionEvent) error
	ListEvents(ctx context.Context, sessionID string, limit int) ([]models.SessionEvent, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
