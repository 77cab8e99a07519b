package api

import (
	"context"

	"kno-canvas/internal/models"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

This package (api/handlers) is the CONSUMER of services, so service interfaces live HERE.

The handler doesn't care whether notes live in Postgres or SQLite, or
whether the generator is remote or offline. It declares only the methods it
calls, which keeps handler tests free of databases and networks.
*/

// NoteLibrary defines what handlers need from the library service.
type NoteLibrary interface {
	CreateNote(ctx context.Context, in *models.NoteCreate) (*models.Note, error)
	GetNote(ctx context.Context, id string) (*models.Note, error)
	ListNotes(ctx context.Context, kind models.NoteKind, limit, offset int) ([]*models.Note, error)
	NoteLinks(ctx context.Context, id string) (*models.GraphNode, error)
}

// BreakerState reports the generator circuit breaker for the health check.
type BreakerState interface {
	State() string
}
