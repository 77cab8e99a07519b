package canvas

import (
	"context"
	"errors"
	"time"

	"kno-canvas/internal/models"
)

// ErrItemNotFound is returned by resolvers when a referenced library or
// inbox item no longer exists.
var ErrItemNotFound = errors.New("item not found")

// Generation is the result of one generator call.
type Generation struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Generator produces a titled text from a prompt. It may fail or time out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Generation, error)
}

// Critic runs a logic scan over a node's text.
type Critic interface {
	Critique(ctx context.Context, text string) (*models.Critique, error)
}

// LibraryNote is a derived insight written back into the note library,
// keyed by the id of the canvas node that produced it.
type LibraryNote struct {
	ID            string
	Kind          models.NoteKind
	Title         string
	Content       string
	SourceNoteIDs []string
}

// Library accepts derived insights. Publish must not block the caller for
// long; implementations queue and write in the background.
type Library interface {
	Publish(ctx context.Context, note LibraryNote)
}

// ExternalItem is a library note or inbox signal as seen from the canvas.
type ExternalItem struct {
	ID      string
	Title   string
	Summary []string
}

// ItemResolver looks up the current title and summary of a dragged item.
type ItemResolver interface {
	Resolve(ctx context.Context, kind PayloadType, id string) (ExternalItem, error)
}

// CandidateSource picks a random library item for Spark, never the one
// with excludeID.
type CandidateSource interface {
	RandomCandidate(ctx context.Context, excludeID string) (ExternalItem, bool, error)
}

// DetailOpener shows the detail view of a library note.
type DetailOpener interface {
	OpenDetail(noteID string)
}

// Recorder receives engine metrics.
type Recorder interface {
	CommitRecorded()
	SynthesisFinished(operator string, outcome string, elapsed time.Duration)
	PersistFailed()
}

type nopRecorder struct{}

func (nopRecorder) CommitRecorded()                                 {}
func (nopRecorder) SynthesisFinished(string, string, time.Duration) {}
func (nopRecorder) PersistFailed()                                  {}
