package canvas

import (
	"fmt"
	"math"

	"kno-canvas/internal/models"
)

// DragThreshold is the screen distance, in pixels, past which a press on a
// node counts as a drag rather than a click.
const DragThreshold = 5.0

// Mode is the state of the pointer interaction state machine.
type Mode int

const (
	ModeIdle Mode = iota
	ModePanning
	ModeDraggingNode
	ModeResizingNode
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModePanning:
		return "panning"
	case ModeDraggingNode:
		return "dragging_node"
	case ModeResizingNode:
		return "resizing_node"
	default:
		return "unknown"
	}
}

// Tool selects what a press on a node does.
type Tool string

const (
	ToolSelect Tool = "select"
	ToolPan    Tool = "pan" // every press pans, nodes included
)

type PointerTarget string

const (
	TargetBackground   PointerTarget = "background"
	TargetNode         PointerTarget = "node"
	TargetResizeHandle PointerTarget = "resize_handle"
)

// PointerEvent is a pointer press, move or release in screen coordinates.
type PointerEvent struct {
	Target      PointerTarget `json:"target" validate:"omitempty,oneof=background node resize_handle"`
	NodeID      string        `json:"node_id"`
	X           float64       `json:"x"`
	Y           float64       `json:"y"`
	PointerID   int           `json:"pointer_id"`
	MultiSelect bool          `json:"multi_select"`
}

func (p PointerEvent) point() models.Point {
	return models.Point{X: p.X, Y: p.Y}
}

// gesture is the captured state of the interaction in progress. Once a
// press starts a gesture, moves and the release are routed to it whatever
// is under the pointer.
type gesture struct {
	mode         Mode
	nodeID       string
	pointerID    int
	startPointer models.Point
	lastPointer  models.Point
	startNode    models.Point
	startWidth   float64
	hasDragged   bool
	wasSelected  bool
	changed      bool
}

// EditDraft is the inline title/content editor of one node.
type EditDraft struct {
	NodeID  string `json:"node_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (e *Engine) SetTool(t Tool) error {
	return e.update(func() error {
		if t != ToolSelect && t != ToolPan {
			return fmt.Errorf("unknown tool %q", t)
		}
		e.tool = t
		e.changed()
		return nil
	})
}

// PointerDown starts panning, dragging or resizing. A press while another
// gesture is active is ignored.
func (e *Engine) PointerDown(ev PointerEvent) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		if e.gesture.mode != ModeIdle {
			return nil
		}
		if e.edit != nil && !(ev.Target == TargetNode && ev.NodeID == e.edit.NodeID) {
			e.commitEdit()
		}

		target := ev.Target
		if target == "" || e.tool == ToolPan {
			target = TargetBackground
		}
		p := ev.point()

		if target == TargetBackground {
			if len(e.selection) > 0 {
				e.selection = map[string]struct{}{}
			}
			e.gesture = gesture{mode: ModePanning, pointerID: ev.PointerID, startPointer: p, lastPointer: p}
			e.changed()
			return nil
		}

		node, ok := e.store.Node(ev.NodeID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, ev.NodeID)
		}

		if target == TargetResizeHandle && len(e.selection) == 1 && e.isSelected(node.ID) {
			e.gesture = gesture{
				mode:         ModeResizingNode,
				nodeID:       node.ID,
				pointerID:    ev.PointerID,
				startPointer: p,
				startWidth:   node.Width,
			}
			e.changed()
			return nil
		}

		wasSelected := e.isSelected(node.ID)
		if !wasSelected {
			if !ev.MultiSelect {
				e.selection = map[string]struct{}{}
			}
			e.selection[node.ID] = struct{}{}
		}
		e.gesture = gesture{
			mode:         ModeDraggingNode,
			nodeID:       node.ID,
			pointerID:    ev.PointerID,
			startPointer: p,
			startNode:    models.Point{X: node.X, Y: node.Y},
			wasSelected:  wasSelected,
		}
		e.changed()
		return nil
	})
}

// PointerMove advances the active gesture. Node mutations here are
// transient: nothing is committed until release.
func (e *Engine) PointerMove(ev PointerEvent) error {
	return e.update(func() error {
		g := &e.gesture
		if g.mode == ModeIdle || ev.PointerID != g.pointerID {
			return nil
		}
		p := ev.point()

		switch g.mode {
		case ModePanning:
			e.viewport = Pan(e.viewport, p.X-g.lastPointer.X, p.Y-g.lastPointer.Y)
			g.lastPointer = p
			e.changed()

		case ModeDraggingNode:
			dx, dy := p.X-g.startPointer.X, p.Y-g.startPointer.Y
			if math.Hypot(dx, dy) > DragThreshold {
				g.hasDragged = true
			}
			x := g.startNode.X + dx/e.viewport.Zoom
			y := g.startNode.Y + dy/e.viewport.Zoom
			if err := e.store.UpdateNode(g.nodeID, func(n *models.CanvasNode) {
				n.X, n.Y = x, y
			}); err != nil {
				// The node went away mid-gesture, e.g. a failed synthesis
				// rolled back the placeholder being dragged.
				e.endGesture()
				return nil
			}
			g.changed = x != g.startNode.X || y != g.startNode.Y
			e.changed()

		case ModeResizingNode:
			width := math.Max(MinNodeWidth, g.startWidth+(p.X-g.startPointer.X)/e.viewport.Zoom)
			if err := e.store.UpdateNode(g.nodeID, func(n *models.CanvasNode) {
				n.Width = width
			}); err != nil {
				e.endGesture()
				return nil
			}
			g.changed = width != g.startWidth
			e.changed()
		}
		return nil
	})
}

// PointerUp ends the active gesture and commits its net effect once.
func (e *Engine) PointerUp(ev PointerEvent) error {
	return e.update(func() error {
		if e.gesture.mode == ModeIdle || ev.PointerID != e.gesture.pointerID {
			return nil
		}
		g := e.gesture
		e.gesture = gesture{}
		e.changed()

		if g.mode == ModeDraggingNode && !g.hasDragged && g.wasSelected {
			delete(e.selection, g.nodeID)
		}
		if g.changed || e.deferredCommit {
			e.commit()
		}
		return nil
	})
}

// PointerCancel ends the active gesture the same way a release does.
func (e *Engine) PointerCancel(ev PointerEvent) error {
	return e.PointerUp(ev)
}

func (e *Engine) endGesture() {
	e.gesture = gesture{}
	if e.deferredCommit {
		e.commit()
	}
	e.changed()
}

// DeleteSelection handles Delete/Backspace: every selected node goes, with
// its edges, in one commit. It does nothing while a text field has focus.
func (e *Engine) DeleteSelection(textFocused bool) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		if textFocused || e.edit != nil || len(e.selection) == 0 || e.gesture.mode != ModeIdle {
			return nil
		}
		for _, id := range e.selectedIDsLocked() {
			e.removeNode(id)
		}
		e.selection = map[string]struct{}{}
		e.commit()
		return nil
	})
}

// DeleteNode removes a single node and the edges touching it.
func (e *Engine) DeleteNode(id string) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		if !e.store.Has(id) {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		if e.gesture.nodeID == id {
			e.gesture = gesture{}
		}
		e.removeNode(id)
		delete(e.selection, id)
		e.commit()
		return nil
	})
}

// removeNode deletes a node and keeps it on the recently deleted list.
func (e *Engine) removeNode(id string) {
	node, _, ok := e.store.RemoveNode(id)
	if !ok {
		return
	}
	delete(e.critiqueVisible, id)
	if e.edit != nil && e.edit.NodeID == id {
		e.edit = nil
	}
	if node.IsThinking {
		return
	}
	e.deleted = append([]models.CanvasNode{node}, e.deleted...)
	if len(e.deleted) > RecentlyDeletedLimit {
		e.deleted = e.deleted[:RecentlyDeletedLimit]
	}
}

// RestoreDeleted puts a recently deleted node back. Its edges stay gone.
func (e *Engine) RestoreDeleted(id string) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		for i, n := range e.deleted {
			if n.ID != id {
				continue
			}
			e.deleted = append(e.deleted[:i:i], e.deleted[i+1:]...)
			if e.store.Has(id) {
				e.changed()
				return nil
			}
			if err := e.store.AddNode(n); err != nil {
				return err
			}
			e.commit()
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	})
}

// DoubleClick opens the library detail of a bound node, or starts editing
// an unbound one.
func (e *Engine) DoubleClick(id string) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		node, ok := e.store.Node(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		if node.NoteID != "" {
			e.emit(Event{Kind: EventOpenDetail, NodeID: node.ID, NoteID: node.NoteID})
			return nil
		}
		e.beginEdit(node)
		return nil
	})
}

func (e *Engine) BeginEdit(id string) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		node, ok := e.store.Node(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		e.beginEdit(node)
		return nil
	})
}

func (e *Engine) beginEdit(node models.CanvasNode) {
	if e.edit != nil && e.edit.NodeID != node.ID {
		e.commitEdit()
	}
	e.edit = &EditDraft{NodeID: node.ID, Title: node.Title, Content: node.Content}
	e.changed()
}

// UpdateDraft changes the draft text. Keystrokes never reach history.
func (e *Engine) UpdateDraft(title, content string) error {
	return e.update(func() error {
		if e.edit == nil {
			return nil
		}
		e.edit.Title = title
		e.edit.Content = content
		e.changed()
		return nil
	})
}

// CommitEdit writes the draft into its node as one history entry.
func (e *Engine) CommitEdit() error {
	return e.update(func() error {
		e.commitEdit()
		return nil
	})
}

func (e *Engine) commitEdit() {
	d := e.edit
	if d == nil {
		return
	}
	e.edit = nil
	e.changed()
	node, ok := e.store.Node(d.NodeID)
	if !ok || (node.Title == d.Title && node.Content == d.Content) {
		return
	}
	_ = e.store.UpdateNode(d.NodeID, func(n *models.CanvasNode) {
		n.Title = d.Title
		n.Content = d.Content
	})
	e.commit()
}

func (e *Engine) CancelEdit() error {
	return e.update(func() error {
		if e.edit != nil {
			e.edit = nil
			e.changed()
		}
		return nil
	})
}
