package canvas

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kno-canvas/internal/models"
)

// Workspace keeps the registry and the engine in step: selecting a document
// activates it, trashing the open one closes it, and every commit bumps the
// document's lastModified.
type Workspace struct {
	registry    *Registry
	engine      *Engine
	persistence *Persistence
	logger      *zap.Logger
	unsubscribe func()
}

func NewWorkspace(registry *Registry, engine *Engine, p *Persistence, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Workspace{registry: registry, engine: engine, persistence: p, logger: logger}
	w.unsubscribe = engine.Subscribe(func(ev Event) {
		if ev.Kind == EventCommitted && ev.DocumentID != "" {
			registry.Touch(ev.DocumentID, ev.At, ev.NodeCount)
		}
	})
	return w
}

func (w *Workspace) Registry() *Registry {
	return w.registry
}

func (w *Workspace) Engine() *Engine {
	return w.engine
}

// Open loads the registry and activates the selected document, creating
// one when the registry is empty.
func (w *Workspace) Open(ctx context.Context) error {
	if err := w.registry.Load(ctx); err != nil {
		return err
	}
	id := w.registry.Selected()
	if id == "" {
		id = w.registry.Create("").ID
		w.logger.Info("created initial canvas", zap.String("document_id", id))
	}
	return w.engine.Activate(ctx, id)
}

func (w *Workspace) Select(ctx context.Context, id string) error {
	if err := w.registry.Select(id); err != nil {
		return err
	}
	if w.engine.DocumentID() == id {
		return nil
	}
	return w.engine.Activate(ctx, id)
}

func (w *Workspace) Create(ctx context.Context, title string) (models.CanvasDocument, error) {
	doc := w.registry.Create(title)
	if err := w.engine.Activate(ctx, doc.ID); err != nil {
		return doc, err
	}
	return doc, nil
}

func (w *Workspace) Rename(id, title string) (models.CanvasDocument, error) {
	return w.registry.Rename(id, title)
}

// MoveToTrash trashes a document; if it was open, the next selected
// document is opened in its place.
func (w *Workspace) MoveToTrash(ctx context.Context, id string) error {
	if err := w.registry.MoveToTrash(id); err != nil {
		return err
	}
	if w.engine.DocumentID() != id {
		return nil
	}
	w.engine.Deactivate()
	if next := w.registry.Selected(); next != "" {
		return w.engine.Activate(ctx, next)
	}
	return nil
}

func (w *Workspace) Restore(id string) error {
	return w.registry.Restore(id)
}

func (w *Workspace) DeleteForever(ctx context.Context, id string) error {
	return w.registry.DeleteForever(ctx, id)
}

// Document returns a document with its state. The open document is read
// from the engine; any other from the store.
func (w *Workspace) Document(ctx context.Context, id string) (models.CanvasDocument, error) {
	doc, ok := w.registry.Get(id)
	if !ok {
		return models.CanvasDocument{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if w.engine.DocumentID() == id {
		state := w.engine.State()
		doc.State = &state
		return doc, nil
	}
	state := models.CanvasState{Viewport: DefaultViewport()}
	if _, err := w.persistence.Load(ctx, StateKey(id), &state); err != nil {
		return models.CanvasDocument{}, err
	}
	snap, _ := Sanitize(Snapshot{Nodes: state.Nodes, Edges: state.Edges})
	state.Nodes, state.Edges = snap.Nodes, snap.Edges
	doc.State = &state
	return doc, nil
}

// Close detaches from the engine.
func (w *Workspace) Close() {
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
}
