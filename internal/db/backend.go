package db

import (
	"context"

	"go.uber.org/zap"

	"kno-canvas/internal/canvas"
	"kno-canvas/internal/config"
	"kno-canvas/internal/repository"
	"kno-canvas/internal/services"
)

// Backend bundles whichever store STORE_DRIVER picked.
type Backend struct {
	Blobs canvas.Store
	Notes services.NoteRepository
	Links services.LinkRepository
	close func() error
}

// Open connects the configured backend: Postgres through gorm, or a local
// SQLite file.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	if cfg.StoreDriver == "postgres" {
		database, err := NewGorm(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Blobs: repository.NewBlobRepository(database.DB),
			Notes: repository.NewNoteRepository(database.DB),
			Links: repository.NewLinkRepository(database.DB),
			close: database.Close,
		}, nil
	}

	sqlDB, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	logger.Info("✓ SQLite store opened", zap.String("path", cfg.SQLitePath))
	return &Backend{
		Blobs: repository.NewSQLiteBlobStore(sqlDB),
		Notes: repository.NewSQLiteNoteRepository(sqlDB),
		Links: repository.NewSQLiteLinkRepository(sqlDB),
		close: sqlDB.Close,
	}, nil
}

func (b *Backend) Close() error {
	return b.close()
}
