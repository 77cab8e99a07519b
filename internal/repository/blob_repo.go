package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kno-canvas/internal/models"
)

/*
LEARNING: KEYED BLOB PERSISTENCE

The canvas does not need relational tables for its nodes and edges: it
always loads and saves a whole document at once. One row per key is enough:

  kno_canvases        → the active document list
  kno_canvas_trash    → the trashed document list
  kno_canvas_<id>     → nodes, edges and viewport of one document

Saves are upserts, so writing the same key twice simply replaces the value.
*/

// BlobRepositoryImpl stores canvas blobs in Postgres.
type BlobRepositoryImpl struct {
	db *gorm.DB
}

func NewBlobRepository(db *gorm.DB) *BlobRepositoryImpl {
	return &BlobRepositoryImpl{db: db}
}

// Load returns the value under key; found is false for a key never saved.
func (r *BlobRepositoryImpl) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var blob models.Blob
	err := r.db.WithContext(ctx).First(&blob, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load blob %s: %w", key, err)
	}
	return []byte(blob.Value), true, nil
}

// Save upserts value under key.
func (r *BlobRepositoryImpl) Save(ctx context.Context, key string, value []byte) error {
	blob := &models.Blob{Key: key, Value: string(value)}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(blob).Error
	if err != nil {
		return fmt.Errorf("failed to save blob %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *BlobRepositoryImpl) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Delete(&models.Blob{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys with the given prefix, for maintenance tooling.
func (r *BlobRepositoryImpl) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).
		Model(&models.Blob{}).
		Where("key LIKE ?", prefix+"%").
		Order("key ASC").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list blob keys: %w", err)
	}
	return keys, nil
}
