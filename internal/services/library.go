package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"kno-canvas/internal/canvas"
	"kno-canvas/internal/models"
	"kno-canvas/internal/repository"
)

/*
LEARNING: LIBRARY WORKER POOL

Derived insights leave the canvas as soon as a synthesis completes, but the
engine must never wait on a database. Publish drops a job on a buffered
channel and returns; a fixed set of workers drains it.

  engine ──Publish──▶ [ jobs (bounded) ] ──▶ worker 0 ──▶ notes + links
                                        └──▶ worker 1 ──▶ notes + links

A full queue applies backpressure to the caller (the completion goroutine,
never the engine lock). Shutdown stops accepting jobs, lets the workers
drain what is queued, then returns.
*/

// LibraryService writes derived insights back into the note library and
// answers the canvas's lookups into it.
type LibraryService struct {
	notes  NoteRepository
	links  LinkRepository
	gauge  QueueGauge
	logger *zap.Logger

	jobs    chan canvas.LibraryNote
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	// closed guards jobs against sends after Shutdown closes it.
	mu     sync.RWMutex
	closed bool
}

// NewLibraryService creates the service; call Start to run the workers.
func NewLibraryService(notes NoteRepository, links LinkRepository, gauge QueueGauge, logger *zap.Logger, numWorkers, queueSize int) *LibraryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LibraryService{
		notes:   notes,
		links:   links,
		gauge:   gauge,
		logger:  logger,
		jobs:    make(chan canvas.LibraryNote, queueSize),
		workers: numWorkers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *LibraryService) Start() {
	s.logger.Info("🔧 Starting library worker pool", zap.Int("workers", s.workers))
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *LibraryService) worker(id int) {
	defer s.wg.Done()
	for job := range s.jobs {
		s.reportDepth()
		if err := s.write(s.ctx, job); err != nil {
			s.logger.Warn("library write failed",
				zap.Int("worker", id), zap.String("note_id", job.ID), zap.Error(err))
			continue
		}
		s.logger.Debug("library note written", zap.Int("worker", id), zap.String("note_id", job.ID))
	}
}

// Publish queues a derived note. It implements canvas.Library.
func (s *LibraryService) Publish(ctx context.Context, note canvas.LibraryNote) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("library closed, dropping note", zap.String("note_id", note.ID))
		return
	}
	select {
	case s.jobs <- note:
		s.reportDepth()
	case <-ctx.Done():
		s.logger.Warn("library publish abandoned", zap.String("note_id", note.ID), zap.Error(ctx.Err()))
	}
}

// write upserts the note under the canvas node's id, then records one
// provenance link per source note.
func (s *LibraryService) write(ctx context.Context, job canvas.LibraryNote) error {
	note := &models.Note{
		ID:      job.ID,
		Kind:    job.Kind,
		Title:   job.Title,
		Content: job.Content,
	}
	if err := s.notes.Upsert(ctx, note); err != nil {
		return err
	}
	for _, src := range job.SourceNoteIDs {
		if src == "" || src == job.ID {
			continue
		}
		if err := s.links.UpsertLink(ctx, src, job.ID, models.LinkTypeProvenance); err != nil {
			return fmt.Errorf("failed to link %s to %s: %w", src, job.ID, err)
		}
	}
	return nil
}

func (s *LibraryService) reportDepth() {
	if s.gauge != nil {
		s.gauge.LibraryQueueDepth(len(s.jobs))
	}
}

// QueueLength returns the number of notes waiting to be written.
func (s *LibraryService) QueueLength() int {
	return len(s.jobs)
}

// Shutdown stops accepting notes and waits for queued ones to be written.
func (s *LibraryService) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
	s.logger.Info("✓ Library worker pool stopped")
}

// Resolve looks up a dragged library note or inbox signal. It implements
// canvas.ItemResolver.
func (s *LibraryService) Resolve(ctx context.Context, kind canvas.PayloadType, id string) (canvas.ExternalItem, error) {
	note, err := s.notes.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return canvas.ExternalItem{}, fmt.Errorf("%w: %s", canvas.ErrItemNotFound, id)
	}
	if err != nil {
		return canvas.ExternalItem{}, err
	}
	isSignal := note.Kind == models.NoteKindSignal
	if (kind == canvas.PayloadSignal) != isSignal {
		return canvas.ExternalItem{}, fmt.Errorf("%w: %s is not a %s", canvas.ErrItemNotFound, id, kind)
	}
	return toItem(note), nil
}

// RandomCandidate implements canvas.CandidateSource.
func (s *LibraryService) RandomCandidate(ctx context.Context, excludeID string) (canvas.ExternalItem, bool, error) {
	note, err := s.notes.RandomCandidate(ctx, excludeID)
	if err != nil {
		return canvas.ExternalItem{}, false, err
	}
	if note == nil {
		return canvas.ExternalItem{}, false, nil
	}
	return toItem(note), true, nil
}

func toItem(note *models.Note) canvas.ExternalItem {
	summary := note.Summary
	if len(summary) == 0 && strings.TrimSpace(note.Content) != "" {
		summary = []string{note.Content}
	}
	return canvas.ExternalItem{ID: note.ID, Title: note.Title, Summary: summary}
}

// CreateNote stores a note and links it to every [[note-id]] its content
// mentions. A reference that cannot be linked is logged and skipped.
func (s *LibraryService) CreateNote(ctx context.Context, in *models.NoteCreate) (*models.Note, error) {
	note, err := s.notes.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	for _, ref := range repository.ReferencedNoteIDs(in.Content) {
		if ref == note.ID {
			continue
		}
		if err := s.links.UpsertLink(ctx, note.ID, ref, models.LinkTypeReference); err != nil {
			s.logger.Warn("failed to link reference",
				zap.String("note_id", note.ID), zap.String("ref", ref), zap.Error(err))
		}
	}
	return note, nil
}

func (s *LibraryService) GetNote(ctx context.Context, id string) (*models.Note, error) {
	return s.notes.GetByID(ctx, id)
}

func (s *LibraryService) ListNotes(ctx context.Context, kind models.NoteKind, limit, offset int) ([]*models.Note, error) {
	return s.notes.List(ctx, kind, limit, offset)
}

// NoteLinks returns a note with its incoming and outgoing provenance.
func (s *LibraryService) NoteLinks(ctx context.Context, id string) (*models.GraphNode, error) {
	return s.links.GetGraphNode(ctx, id)
}
