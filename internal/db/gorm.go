package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kno-canvas/internal/config"
	"kno-canvas/internal/models"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm connects to Postgres and migrates the canvas store, library notes
// and provenance links.
// Learning: DB_DRIVER=pgx lets gorm open its bundled pgx driver; "postgres"
// opens a database/sql pool on lib/pq and hands the connection to gorm.
func NewGorm(cfg *config.Config, log *zap.Logger) (*GormDB, error) {
	dsn := cfg.DatabaseURL()

	level := logger.Warn
	if !cfg.IsProduction() {
		level = logger.Info
	}
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(level)}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open lib/pq connection: %w", err)
		}
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	default:
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Blob{},
		&models.Note{},
		&models.Link{},
	); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("✓ Database connected and migrated successfully", zap.String("driver", cfg.DBDriver))

	return &GormDB{db}, nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
