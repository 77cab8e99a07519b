package canvas

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"kno-canvas/internal/models"
)

const (
	newNoteTitle = "New Note"

	// New and dropped nodes are centred on the target point using the
	// default card footprint.
	cardHalfWidth  = 125.0
	cardHalfHeight = 75.0

	arrangeSpacingX = 350.0
	arrangeSpacingY = 300.0

	injectOffsetX  = 100.0
	injectSpacingY = 220.0
)

// ArrangedViewport is where the viewport lands after AutoArrange.
var ArrangedViewport = models.Viewport{X: 50, Y: 50, Zoom: 0.8}

// AddNote creates an empty note at the centre of a screenW x screenH
// surface and opens it for editing.
func (e *Engine) AddNote(screenW, screenH float64) (string, error) {
	var id string
	err := e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		c := ScreenToWorld(e.viewport, models.Point{X: screenW / 2, Y: screenH / 2})
		id = e.newID("node")
		node := models.CanvasNode{
			ID:    id,
			Type:  models.NodeNote,
			X:     c.X - cardHalfWidth,
			Y:     c.Y - cardHalfHeight,
			Width: DefaultNodeWidth,
			Title: newNoteTitle,
		}
		if err := e.store.AddNode(node); err != nil {
			return err
		}
		e.commit()
		e.beginEdit(node)
		return nil
	})
	return id, err
}

type PayloadType string

const (
	PayloadLink   PayloadType = "LINK"
	PayloadSignal PayloadType = "signal"
)

// DragPayload is what an external panel attaches to a drag.
type DragPayload struct {
	Type  PayloadType `json:"type" validate:"required,oneof=LINK signal"`
	ID    string      `json:"id" validate:"required"`
	Title string      `json:"title"`
}

// Drop creates a node bound to a dragged library note or inbox signal at a
// screen point. The item is resolved first so the node shows its current
// title and summary; an item that no longer exists makes the drop inert.
func (e *Engine) Drop(ctx context.Context, payload DragPayload, at models.Point) (string, error) {
	if e.resolver == nil {
		return "", nil
	}
	item, err := e.resolver.Resolve(ctx, payload.Type, payload.ID)
	if errors.Is(err, ErrItemNotFound) {
		e.logger.Debug("dropped item no longer exists",
			zap.String("type", string(payload.Type)), zap.String("id", payload.ID))
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve dropped %s %s: %w", payload.Type, payload.ID, err)
	}

	title := item.Title
	if title == "" {
		title = payload.Title
	}
	if title == "" {
		title = "Untitled"
	}

	var id string
	err = e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		w := ScreenToWorld(e.viewport, at)
		id = e.newID("node")
		if err := e.store.AddNode(models.CanvasNode{
			ID:      id,
			Type:    models.NodeNote,
			X:       w.X - cardHalfWidth,
			Y:       w.Y - cardHalfHeight,
			Width:   DefaultNodeWidth,
			Title:   title,
			Content: strings.Join(item.Summary, "\n\n"),
			NoteID:  item.ID,
		}); err != nil {
			return err
		}
		e.commit()
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Inject adds nodes produced outside the canvas (a neural dump, an answered
// question) in one commit. With a parent they are stacked to its right and
// linked from it with edges of edgeType.
func (e *Engine) Inject(nodes []models.CanvasNode, parentID string, edgeType models.EdgeType) ([]string, error) {
	if edgeType == "" {
		edgeType = models.EdgeNeural
	}
	var ids []string
	err := e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		parent, hasParent := e.store.Node(parentID)
		if parentID != "" && !hasParent {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, parentID)
		}
		for i, n := range nodes {
			if n.ID == "" || e.store.Has(n.ID) {
				n.ID = e.newID("node")
			}
			if n.Type == "" {
				n.Type = models.NodeNote
			}
			n.IsThinking = false
			if hasParent {
				n.X = parent.X + parent.Width + injectOffsetX
				n.Y = parent.Y + float64(i)*injectSpacingY
			}
			if err := e.store.AddNode(n); err != nil {
				return err
			}
			if hasParent {
				if err := e.store.AddEdge(models.CanvasEdge{
					ID:     e.newID("e"),
					Source: parent.ID,
					Target: n.ID,
					Type:   edgeType,
				}); err != nil {
					return err
				}
			}
			ids = append(ids, n.ID)
		}
		if len(ids) > 0 {
			e.commit()
		}
		return nil
	})
	return ids, err
}

// AutoArrange lays every node out on a square-ish grid in store order and
// resets the viewport to frame it.
func (e *Engine) AutoArrange() error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		nodes := e.store.Nodes()
		if len(nodes) == 0 {
			return nil
		}
		cols := int(math.Ceil(math.Sqrt(float64(len(nodes)))))
		for i, n := range nodes {
			x := float64(i%cols) * arrangeSpacingX
			y := float64(i/cols) * arrangeSpacingY
			_ = e.store.UpdateNode(n.ID, func(n *models.CanvasNode) {
				n.X, n.Y = x, y
			})
		}
		e.viewport = ArrangedViewport
		e.commit()
		return nil
	})
}
