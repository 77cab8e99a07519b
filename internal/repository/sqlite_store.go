package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	_ "modernc.org/sqlite"

	"kno-canvas/internal/models"
)

/*
LEARNING: A SINGLE-FILE STORE

For one user on one machine a database server is overkill. modernc.org/sqlite
is SQLite compiled to pure Go, so the binary needs no cgo and the whole
workspace (canvases, library notes, links) lives in one file next to it.

The three repositories below mirror the Postgres ones method for method, so
the services package cannot tell which store it was given.
*/

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS canvas_blobs (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL DEFAULT 'note',
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	summary    TEXT NOT NULL DEFAULT '[]',
	tags       TEXT NOT NULL DEFAULT '[]',
	source_url TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_notes_kind ON notes(kind);
CREATE TABLE IF NOT EXISTS links (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	link_type  TEXT NOT NULL DEFAULT 'reference',
	created_at INTEGER NOT NULL,
	UNIQUE (source_id, target_id)
);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_id);
`

// OpenSQLite opens (creating if needed) the database file at path and
// applies the schema.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return db, nil
}

// SQLiteBlobStore stores canvas blobs in SQLite.
type SQLiteBlobStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteBlobStore(db *sql.DB) *SQLiteBlobStore {
	return &SQLiteBlobStore{db: db, now: time.Now}
}

func (s *SQLiteBlobStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM canvas_blobs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load blob %s: %w", key, err)
	}
	return []byte(value), true, nil
}

func (s *SQLiteBlobStore) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canvas_blobs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save blob %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteBlobStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM canvas_blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteBlobStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM canvas_blobs WHERE key LIKE ? ORDER BY key ASC`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list blob keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan blob key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SQLiteNoteRepository is the SQLite counterpart of NoteRepositoryImpl.
type SQLiteNoteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteNoteRepository(db *sql.DB) *SQLiteNoteRepository {
	return &SQLiteNoteRepository{db: db, now: time.Now}
}

const noteColumns = `id, kind, title, content, summary, tags, source_url, created_at, updated_at`

func (r *SQLiteNoteRepository) Create(ctx context.Context, in *models.NoteCreate) (*models.Note, error) {
	note := noteFromCreate(in)
	note.ID = ksuid.New().String()
	if err := r.insert(ctx, note, false); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	return note, nil
}

func (r *SQLiteNoteRepository) Upsert(ctx context.Context, note *models.Note) error {
	if note.ID == "" {
		note.ID = ksuid.New().String()
	}
	if err := r.insert(ctx, note, true); err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", note.ID, err)
	}
	return nil
}

func (r *SQLiteNoteRepository) insert(ctx context.Context, note *models.Note, upsert bool) error {
	now := r.now()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now
	if note.Kind == "" {
		note.Kind = models.NoteKindNote
	}
	summary, err := json.Marshal(nonNil(note.Summary))
	if err != nil {
		return err
	}
	tags, err := json.Marshal(nonNil(note.Tags))
	if err != nil {
		return err
	}

	query := `INSERT INTO notes (` + noteColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if upsert {
		query += ` ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, title = excluded.title,
			content = excluded.content, updated_at = excluded.updated_at, deleted_at = NULL`
	}
	_, err = r.db.ExecContext(ctx, query,
		note.ID, string(note.Kind), note.Title, note.Content, string(summary), string(tags),
		note.SourceURL, note.CreatedAt.UnixNano(), note.UpdatedAt.UnixNano())
	return err
}

func (r *SQLiteNoteRepository) GetByID(ctx context.Context, id string) (*models.Note, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ? AND deleted_at IS NULL`, id)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: note %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return note, nil
}

func (r *SQLiteNoteRepository) List(ctx context.Context, kind models.NoteKind, limit, offset int) ([]*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE deleted_at IS NULL`
	args := []any{}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

func (r *SQLiteNoteRepository) RandomCandidate(ctx context.Context, excludeID string) (*models.Note, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes
		 WHERE deleted_at IS NULL AND id <> ? AND kind <> ?
		 ORDER BY RANDOM() LIMIT 1`, excludeID, string(models.NoteKindSignal))
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick candidate note: %w", err)
	}
	return note, nil
}

func (r *SQLiteNoteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notes SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, r.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: note %s", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*models.Note, error) {
	var (
		note             models.Note
		kind             string
		summary, tags    string
		created, updated int64
	)
	if err := row.Scan(&note.ID, &kind, &note.Title, &note.Content, &summary, &tags,
		&note.SourceURL, &created, &updated); err != nil {
		return nil, err
	}
	note.Kind = models.NoteKind(kind)
	note.CreatedAt = time.Unix(0, created).UTC()
	note.UpdatedAt = time.Unix(0, updated).UTC()
	if err := json.Unmarshal([]byte(summary), &note.Summary); err != nil {
		return nil, fmt.Errorf("bad summary on note %s: %w", note.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &note.Tags); err != nil {
		return nil, fmt.Errorf("bad tags on note %s: %w", note.ID, err)
	}
	return &note, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// SQLiteLinkRepository is the SQLite counterpart of LinkRepositoryImpl.
type SQLiteLinkRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteLinkRepository(db *sql.DB) *SQLiteLinkRepository {
	return &SQLiteLinkRepository{db: db, now: time.Now}
}

func (r *SQLiteLinkRepository) UpsertLink(ctx context.Context, sourceID, targetID, linkType string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO links (id, source_id, target_id, link_type, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id) DO NOTHING`,
		ksuid.New().String(), sourceID, targetID, linkType, r.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

func (r *SQLiteLinkRepository) DeleteLink(ctx context.Context, sourceID, targetID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM links WHERE source_id = ? AND target_id = ?`, sourceID, targetID)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: link %s -> %s", ErrNotFound, sourceID, targetID)
	}
	return nil
}

func (r *SQLiteLinkRepository) GetOutgoingLinks(ctx context.Context, sourceID string) ([]*models.Link, error) {
	return r.query(ctx, `source_id = ?`, sourceID)
}

func (r *SQLiteLinkRepository) GetIncomingLinks(ctx context.Context, targetID string) ([]*models.Link, error) {
	return r.query(ctx, `target_id = ?`, targetID)
}

func (r *SQLiteLinkRepository) GetGraphNode(ctx context.Context, noteID string) (*models.GraphNode, error) {
	var title string
	err := r.db.QueryRowContext(ctx,
		`SELECT title FROM notes WHERE id = ? AND deleted_at IS NULL`, noteID).Scan(&title)
	if err != nil {
		return nil, fmt.Errorf("%w: note %s", ErrNotFound, noteID)
	}
	outgoing, err := r.GetOutgoingLinks(ctx, noteID)
	if err != nil {
		return nil, err
	}
	incoming, err := r.GetIncomingLinks(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return buildGraphNode(noteID, title, outgoing, incoming), nil
}

func (r *SQLiteLinkRepository) query(ctx context.Context, where string, arg string) ([]*models.Link, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source_id, target_id, link_type, created_at FROM links WHERE `+where+` ORDER BY created_at ASC`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var links []*models.Link
	for rows.Next() {
		var (
			link    models.Link
			created int64
		)
		if err := rows.Scan(&link.ID, &link.SourceID, &link.TargetID, &link.LinkType, &created); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		link.CreatedAt = time.Unix(0, created).UTC()
		link.UpdatedAt = link.CreatedAt
		links = append(links, &link)
	}
	return links, rows.Err()
}
