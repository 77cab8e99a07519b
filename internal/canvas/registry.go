package canvas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kno-canvas/internal/models"
)

var (
	ErrDocumentNotFound = errors.New("canvas document not found")
	ErrNotInTrash       = errors.New("canvas document is not in the trash")
)

// DefaultDocumentTitle names documents created or renamed without a title.
const DefaultDocumentTitle = "Untitled Canvas"

// Registry keeps the active and trashed canvas documents. Both lists are
// persisted, newest first, each under its own key.
type Registry struct {
	mu       sync.RWMutex
	active   []models.CanvasDocument
	trash    []models.CanvasDocument
	selected string

	persistence *Persistence
	logger      *zap.Logger
	now         func() time.Time
	newID       func(prefix string) string
}

func NewRegistry(p *Persistence, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		persistence: p,
		logger:      logger,
		now:         time.Now,
		newID:       newKSUID,
	}
}

// Load reads both lists from the store.
func (r *Registry) Load(ctx context.Context) error {
	var active, trash []models.CanvasDocument
	if _, err := r.persistence.Load(ctx, DocumentsKey, &active); err != nil {
		return fmt.Errorf("failed to load canvas list: %w", err)
	}
	if _, err := r.persistence.Load(ctx, TrashKey, &trash); err != nil {
		return fmt.Errorf("failed to load canvas trash: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = active
	r.trash = trash
	if r.indexOf(r.active, r.selected) < 0 {
		r.selected = ""
		if len(r.active) > 0 {
			r.selected = r.active[0].ID
		}
	}
	return nil
}

func (r *Registry) List() []models.CanvasDocument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.CanvasDocument(nil), r.active...)
}

func (r *Registry) Trash() []models.CanvasDocument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.CanvasDocument(nil), r.trash...)
}

// Get returns an active document.
func (r *Registry) Get(id string) (models.CanvasDocument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexOf(r.active, id)
	if i < 0 {
		return models.CanvasDocument{}, false
	}
	return r.active[i], true
}

func (r *Registry) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// Create prepends a new empty document and selects it.
func (r *Registry) Create(title string) models.CanvasDocument {
	doc := models.CanvasDocument{
		ID:           r.newID("canvas"),
		Title:        cleanTitle(title),
		LastModified: r.now(),
	}
	r.persistence.SaveAsync(StateKey(doc.ID), models.CanvasState{
		Nodes:    []models.CanvasNode{},
		Edges:    []models.CanvasEdge{},
		Viewport: DefaultViewport(),
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = append([]models.CanvasDocument{doc}, r.active...)
	r.selected = doc.ID
	r.saveLocked()
	return doc
}

func (r *Registry) Rename(id, title string) (models.CanvasDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(r.active, id)
	if i < 0 {
		return models.CanvasDocument{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	r.active = cloneDocs(r.active)
	r.active[i].Title = cleanTitle(title)
	r.active[i].LastModified = r.now()
	r.saveLocked()
	return r.active[i], nil
}

// Select makes an active document the selected one.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(r.active, id) < 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	r.selected = id
	return nil
}

// MoveToTrash soft-deletes an active document. If it was selected, the
// next active document becomes selected.
func (r *Registry) MoveToTrash(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(r.active, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	doc := r.active[i]
	r.active = removeAt(r.active, i)
	r.trash = append([]models.CanvasDocument{doc}, r.trash...)
	if r.selected == id {
		r.selected = ""
		if len(r.active) > 0 {
			r.selected = r.active[0].ID
		}
	}
	r.saveLocked()
	return nil
}

// Restore moves a trashed document back to the front of the active list.
func (r *Registry) Restore(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(r.trash, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotInTrash, id)
	}
	doc := r.trash[i]
	r.trash = removeAt(r.trash, i)
	r.active = append([]models.CanvasDocument{doc}, r.active...)
	r.saveLocked()
	return nil
}

// DeleteForever removes a trashed document and its state. It is only
// valid from the trash and cannot be undone.
func (r *Registry) DeleteForever(ctx context.Context, id string) error {
	r.mu.Lock()
	i := r.indexOf(r.trash, id)
	if i < 0 {
		r.mu.Unlock()
		if r.indexOf(r.List(), id) >= 0 {
			return fmt.Errorf("%w: %s", ErrNotInTrash, id)
		}
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	r.trash = removeAt(r.trash, i)
	r.saveLocked()
	r.mu.Unlock()

	if err := r.persistence.Delete(ctx, StateKey(id)); err != nil {
		r.logger.Warn("failed to delete canvas state", zap.String("document_id", id), zap.Error(err))
	}
	return nil
}

// Touch records a commit on a document.
func (r *Registry) Touch(id string, at time.Time, nodeCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(r.active, id)
	if i < 0 {
		return
	}
	r.active = cloneDocs(r.active)
	r.active[i].LastModified = at
	r.active[i].NodeCount = nodeCount
	r.saveLocked()
}

func (r *Registry) saveLocked() {
	r.persistence.SaveAsync(DocumentsKey, cloneDocs(r.active))
	r.persistence.SaveAsync(TrashKey, cloneDocs(r.trash))
}

func (r *Registry) indexOf(docs []models.CanvasDocument, id string) int {
	for i, d := range docs {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultDocumentTitle
	}
	return title
}

func cloneDocs(docs []models.CanvasDocument) []models.CanvasDocument {
	out := make([]models.CanvasDocument, len(docs))
	copy(out, docs)
	return out
}

func removeAt(docs []models.CanvasDocument, i int) []models.CanvasDocument {
	out := make([]models.CanvasDocument, 0, len(docs)-1)
	out = append(out, docs[:i]...)
	return append(out, docs[i+1:]...)
}
