package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kno-canvas/internal/models"
)

// NoteRepositoryImpl handles library notes using GORM
// Learning: This is the IMPLEMENTATION. It doesn't know about any interface.
// The services package will declare the interface it needs.
type NoteRepositoryImpl struct {
	db *gorm.DB
}

// NewNoteRepository creates a new note repository
// Returns concrete type - "Accept interfaces, return structs"
func NewNoteRepository(db *gorm.DB) *NoteRepositoryImpl {
	return &NoteRepositoryImpl{db: db}
}

// Create inserts a new note. The KSUID is generated in the BeforeCreate hook.
func (r *NoteRepositoryImpl) Create(ctx context.Context, in *models.NoteCreate) (*models.Note, error) {
	note := noteFromCreate(in)
	if err := r.db.WithContext(ctx).Create(note).Error; err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	return note, nil
}

// Upsert writes a note under its own id, replacing title, content and kind
// if the row exists. Derived notes are written this way.
func (r *NoteRepositoryImpl) Upsert(ctx context.Context, note *models.Note) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "title", "content", "updated_at"}),
		}).
		Create(note).Error
	if err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", note.ID, err)
	}
	return nil
}

// GetByID retrieves a note. Soft-deleted notes are excluded.
func (r *NoteRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Note, error) {
	var note models.Note
	err := r.db.WithContext(ctx).First(&note, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: note %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return &note, nil
}

// List returns notes newest first, optionally of one kind.
// Learning: KSUID is time-ordered, so sorting by ID = sorting by creation time
// for hand-made notes; derived notes sort by created_at.
func (r *NoteRepositoryImpl) List(ctx context.Context, kind models.NoteKind, limit, offset int) ([]*models.Note, error) {
	var notes []*models.Note
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return notes, nil
}

// RandomCandidate picks any note other than excludeID, or nil when the
// library has nothing else.
func (r *NoteRepositoryImpl) RandomCandidate(ctx context.Context, excludeID string) (*models.Note, error) {
	var note models.Note
	err := r.db.WithContext(ctx).
		Where("id <> ? AND kind <> ?", excludeID, models.NoteKindSignal).
		Order("RANDOM()").
		First(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick candidate note: %w", err)
	}
	return &note, nil
}

// Delete soft-deletes a note.
// Learning: GORM sets DeletedAt instead of removing the row.
func (r *NoteRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Note{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete note: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: note %s", ErrNotFound, id)
	}
	return nil
}

func noteFromCreate(in *models.NoteCreate) *models.Note {
	kind := in.Kind
	if kind == "" {
		kind = models.NoteKindNote
	}
	return &models.Note{
		Kind:      kind,
		Title:     in.Title,
		Content:   in.Content,
		Summary:   in.Summary,
		Tags:      in.Tags,
		SourceURL: in.SourceURL,
	}
}
