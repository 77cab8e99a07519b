package services

import (
	"context"

	"kno-canvas/internal/models"
)

/*
LEARNING: GO INTERFACE BEST PRACTICE

"Accept interfaces, return structs" - Rob Pike

Interfaces are defined where they are USED, not where implemented. The
repository package has two implementations of each store (gorm/Postgres and
SQLite); neither knows these interfaces exist, and both satisfy them.
*/

// NoteRepository defines what the library needs from note storage.
type NoteRepository interface {
	Create(ctx context.Context, in *models.NoteCreate) (*models.Note, error)
	Upsert(ctx context.Context, note *models.Note) error
	GetByID(ctx context.Context, id string) (*models.Note, error)
	List(ctx context.Context, kind models.NoteKind, limit, offset int) ([]*models.Note, error)
	RandomCandidate(ctx context.Context, excludeID string) (*models.Note, error)
}

// LinkRepository defines what the library needs from link storage.
type LinkRepository interface {
	UpsertLink(ctx context.Context, sourceID, targetID, linkType string) error
	GetGraphNode(ctx context.Context, noteID string) (*models.GraphNode, error)
}

// QueueGauge receives the library queue depth after every change.
type QueueGauge interface {
	LibraryQueueDepth(n int)
}
