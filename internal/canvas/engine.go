package canvas

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"kno-canvas/internal/models"
)

var (
	ErrNoActiveDocument  = errors.New("no canvas document is active")
	ErrInteractionActive = errors.New("a pointer interaction is in progress")
)

// DefaultGenerationTimeout bounds one generator or critic call.
const DefaultGenerationTimeout = 60 * time.Second

// RecentlyDeletedLimit caps the in-memory list of deleted nodes.
const RecentlyDeletedLimit = 20

var tracer = otel.Tracer("kno-canvas/canvas")

// Engine owns the open canvas: nodes, edges, selection, viewport and
// history. Every exported method is safe for concurrent use; state changes
// happen under one mutex and listeners are notified after it is released.
type Engine struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	docID      string
	active     bool
	activation uint64
	revision   uint64

	store     *NodeStore
	history   *History
	selection map[string]struct{}
	viewport  models.Viewport
	pinch     Pinch
	tool      Tool
	gesture   gesture
	edit      *EditDraft
	deleted   []models.CanvasNode

	critiqueVisible map[string]bool
	scanning        map[string]bool
	inflight        map[string]OperatorKind

	// applyingHistory is set while undo/redo restores a snapshot; commits
	// requested during that window do not push history.
	applyingHistory bool
	// deferredCommit holds a commit requested while a drag or resize was in
	// flight; it is taken when the gesture ends.
	deferredCommit bool

	pending []Event
	dirty   bool

	lmu          sync.RWMutex
	listeners    map[int]Listener
	nextListener int

	persistence *Persistence
	generator   Generator
	critic      Critic
	library     Library
	resolver    ItemResolver
	candidates  CandidateSource
	recorder    Recorder
	logger      *zap.Logger

	historyLimit      int
	generationTimeout time.Duration
	now               func() time.Time
	newID             func(prefix string) string
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithPersistence(p *Persistence) Option {
	return func(e *Engine) { e.persistence = p }
}

func WithGenerator(g Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithCritic sets the logic-scan backend. Without one, a generator that
// also implements Critic is used.
func WithCritic(c Critic) Option {
	return func(e *Engine) { e.critic = c }
}

func WithLibrary(l Library) Option {
	return func(e *Engine) { e.library = l }
}

func WithResolver(r ItemResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

func WithCandidates(c CandidateSource) Option {
	return func(e *Engine) { e.candidates = c }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithDetailOpener forwards open-detail requests to o.
func WithDetailOpener(o DetailOpener) Option {
	return func(e *Engine) {
		e.subscribeLocked(func(ev Event) {
			if ev.Kind == EventOpenDetail {
				o.OpenDetail(ev.NoteID)
			}
		})
	}
}

func WithHistoryLimit(limit int) Option {
	return func(e *Engine) { e.historyLimit = limit }
}

func WithGenerationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.generationTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func(prefix string) string) Option {
	return func(e *Engine) { e.newID = newID }
}

func newKSUID(prefix string) string {
	return prefix + "-" + ksuid.New().String()
}

func New(opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ctx:               ctx,
		cancel:            cancel,
		store:             NewNodeStore(),
		selection:         map[string]struct{}{},
		viewport:          DefaultViewport(),
		tool:              ToolSelect,
		critiqueVisible:   map[string]bool{},
		scanning:          map[string]bool{},
		inflight:          map[string]OperatorKind{},
		listeners:         map[int]Listener{},
		recorder:          nopRecorder{},
		logger:            zap.NewNop(),
		generationTimeout: DefaultGenerationTimeout,
		now:               time.Now,
		newID:             newKSUID,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.critic == nil {
		if c, ok := e.generator.(Critic); ok {
			e.critic = c
		}
	}
	e.history = NewHistory(e.historyLimit)
	return e
}

// Close abandons in-flight generations and waits for their goroutines.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until every in-flight generation and scan has settled.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Subscribe registers a listener and returns a function removing it.
func (e *Engine) Subscribe(l Listener) func() {
	id := e.subscribeLocked(l)
	return func() {
		e.lmu.Lock()
		delete(e.listeners, id)
		e.lmu.Unlock()
	}
}

func (e *Engine) subscribeLocked(l Listener) int {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = l
	return id
}

func (e *Engine) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	e.lmu.RLock()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.listeners[id])
	}
	e.lmu.RUnlock()

	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

// update runs fn under the engine lock and then publishes queued events.
func (e *Engine) update(fn func() error) error {
	e.mu.Lock()
	err := fn()
	if e.dirty {
		e.dirty = false
		e.pending = append(e.pending, e.event(EventStateChanged))
	}
	events := e.pending
	e.pending = nil
	e.mu.Unlock()
	e.publish(events)
	return err
}

func (e *Engine) event(kind EventKind) Event {
	return Event{Kind: kind, DocumentID: e.docID, Revision: e.revision, At: e.now()}
}

func (e *Engine) emit(ev Event) {
	ev.DocumentID = e.docID
	ev.Revision = e.revision
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.pending = append(e.pending, ev)
}

// changed marks the visible state as modified.
func (e *Engine) changed() {
	e.revision++
	e.dirty = true
}

func (e *Engine) requireActive() error {
	if !e.active {
		return ErrNoActiveDocument
	}
	return nil
}

// commit captures the store as one history entry and persists it.
func (e *Engine) commit() {
	e.changed()
	if e.applyingHistory {
		return
	}
	if e.gesture.mode == ModeDraggingNode || e.gesture.mode == ModeResizingNode {
		e.deferredCommit = true
		return
	}
	e.deferredCommit = false
	snap := e.store.Snapshot()
	e.history.Push(snap)
	e.recorder.CommitRecorded()
	e.persist(snap)
	ev := e.event(EventCommitted)
	ev.NodeCount = len(snap.Nodes)
	e.pending = append(e.pending, ev)
}

// persist writes the snapshot without touching history.
func (e *Engine) persist(snap Snapshot) {
	if e.persistence == nil || !e.active {
		return
	}
	e.persistence.SaveAsync(StateKey(e.docID), models.CanvasState{
		Nodes:    snap.Nodes,
		Edges:    snap.Edges,
		Viewport: e.viewport,
	})
}

// Activate loads a document and makes it the open canvas. The load is
// awaited so the engine never shows or saves an empty stand-in for content
// that has not arrived yet.
func (e *Engine) Activate(ctx context.Context, docID string) error {
	e.mu.Lock()
	e.activation++
	ticket := e.activation
	e.mu.Unlock()

	state := models.CanvasState{Viewport: DefaultViewport()}
	if e.persistence != nil {
		found, err := e.persistence.Load(ctx, StateKey(docID), &state)
		if err != nil {
			return fmt.Errorf("failed to load canvas %s: %w", docID, err)
		}
		if !found {
			state = models.CanvasState{Viewport: DefaultViewport()}
		}
	}

	snap, pruned := Sanitize(Snapshot{Nodes: state.Nodes, Edges: state.Edges})
	if pruned > 0 {
		e.logger.Warn("pruned dangling edges on load",
			zap.String("document_id", docID), zap.Int("pruned", pruned))
	}

	return e.update(func() error {
		if ticket != e.activation {
			// A newer activation started while this one was loading.
			return nil
		}
		if e.active && e.docID != docID {
			e.persist(e.store.Snapshot())
			e.emit(Event{Kind: EventDeactivated})
		}
		e.resetLocked()
		e.docID = docID
		e.active = true
		e.store.Replace(snap)
		e.history.Reset(snap)
		e.viewport = normalize(state.Viewport)
		e.changed()
		ev := e.event(EventActivated)
		ev.NodeCount = len(snap.Nodes)
		e.pending = append(e.pending, ev)
		return nil
	})
}

// Deactivate closes the open canvas, saving its viewport. Generations still
// in flight will find no placeholder and be discarded.
func (e *Engine) Deactivate() {
	_ = e.update(func() error {
		if !e.active {
			return nil
		}
		e.activation++
		e.persist(e.store.Snapshot())
		e.emit(Event{Kind: EventDeactivated})
		e.resetLocked()
		e.store.Replace(Snapshot{})
		e.history.Clear()
		e.active = false
		e.docID = ""
		e.changed()
		return nil
	})
}

func (e *Engine) resetLocked() {
	e.selection = map[string]struct{}{}
	e.gesture = gesture{}
	e.pinch.End()
	e.edit = nil
	e.deleted = nil
	e.critiqueVisible = map[string]bool{}
	e.scanning = map[string]bool{}
	e.inflight = map[string]OperatorKind{}
	e.deferredCommit = false
	e.viewport = DefaultViewport()
}

// DocumentID returns the id of the open canvas, or "" when none is open.
func (e *Engine) DocumentID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docID
}

// Snapshot returns the current nodes and edges in stable store order.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Snapshot()
}

// State returns the open canvas as a persistable value.
func (e *Engine) State() models.CanvasState {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.store.Snapshot()
	return models.CanvasState{Nodes: snap.Nodes, Edges: snap.Edges, Viewport: e.viewport}
}

// View is everything a renderer needs to draw the canvas.
type View struct {
	DocumentID      string                `json:"document_id"`
	Revision        uint64                `json:"revision"`
	Nodes           []models.CanvasNode   `json:"nodes"`
	Edges           []models.CanvasEdge   `json:"edges"`
	Viewport        models.Viewport       `json:"viewport"`
	Selection       []string              `json:"selection"`
	Mode            string                `json:"mode"`
	Tool            Tool                  `json:"tool"`
	Editing         *EditDraft            `json:"editing,omitempty"`
	RecentlyDeleted []models.CanvasNode   `json:"recently_deleted"`
	CritiqueVisible []string              `json:"critique_visible"`
	Scanning        []string              `json:"scanning"`
	Operators       map[OperatorKind]bool `json:"operators"`
	CanUndo         bool                  `json:"can_undo"`
	CanRedo         bool                  `json:"can_redo"`
	HistoryCursor   int                   `json:"history_cursor"`
	HistoryLength   int                   `json:"history_length"`
}

func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.store.Snapshot()
	v := View{
		DocumentID:      e.docID,
		Revision:        e.revision,
		Nodes:           snap.Nodes,
		Edges:           snap.Edges,
		Viewport:        e.viewport,
		Selection:       e.selectedIDsLocked(),
		Mode:            e.gesture.mode.String(),
		Tool:            e.tool,
		RecentlyDeleted: append([]models.CanvasNode(nil), e.deleted...),
		CritiqueVisible: sortedKeys(e.critiqueVisible),
		Scanning:        sortedKeys(e.scanning),
		Operators:       map[OperatorKind]bool{},
		CanUndo:         e.history.CanUndo(),
		CanRedo:         e.history.CanRedo(),
		HistoryCursor:   e.history.Cursor(),
		HistoryLength:   e.history.Len(),
	}
	if e.edit != nil {
		d := *e.edit
		v.Editing = &d
	}
	for kind := range operators {
		v.Operators[kind] = e.canRunLocked(kind)
	}
	return v
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k, ok := range m {
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Undo restores the previous history entry.
func (e *Engine) Undo() error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		if e.gesture.mode != ModeIdle {
			return ErrInteractionActive
		}
		entry, ok := e.history.Undo()
		if !ok {
			return nil
		}
		e.applyHistory(entry)
		return nil
	})
}

// Redo re-applies the next history entry.
func (e *Engine) Redo() error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		if e.gesture.mode != ModeIdle {
			return ErrInteractionActive
		}
		entry, ok := e.history.Redo()
		if !ok {
			return nil
		}
		e.applyHistory(entry)
		return nil
	})
}

func (e *Engine) applyHistory(entry HistoryEntry) {
	e.applyingHistory = true
	defer func() { e.applyingHistory = false }()

	e.edit = nil
	e.store.Replace(entry)
	e.settleOrphanPlaceholders()
	for id := range e.selection {
		if !e.store.Has(id) {
			delete(e.selection, id)
		}
	}
	for id := range e.critiqueVisible {
		if !e.store.Has(id) {
			delete(e.critiqueVisible, id)
		}
	}
	e.persist(e.store.Snapshot())
	e.changed()
	e.emit(Event{Kind: EventHistoryApplied})
}

// settleOrphanPlaceholders clears thinking flags restored from history for
// generations that are no longer running.
func (e *Engine) settleOrphanPlaceholders() {
	for _, n := range e.store.Nodes() {
		if !n.IsThinking {
			continue
		}
		if _, running := e.inflight[n.ID]; running {
			continue
		}
		if len(n.SynthesisHistory) == 0 {
			e.store.RemoveNode(n.ID)
			continue
		}
		_ = e.store.UpdateNode(n.ID, func(n *models.CanvasNode) {
			last := n.SynthesisHistory[len(n.SynthesisHistory)-1]
			n.IsThinking = false
			n.Title, n.Content = last.Title, last.Content
			n.HistoryIndex = len(n.SynthesisHistory) - 1
		})
	}
}

// Pan moves the viewport by a screen delta.
func (e *Engine) Pan(dx, dy float64) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		e.viewport = Pan(e.viewport, dx, dy)
		e.changed()
		return nil
	})
}

// ZoomAt zooms by ratio around a screen anchor.
func (e *Engine) ZoomAt(anchor models.Point, ratio float64) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		e.viewport = ZoomAt(e.viewport, anchor, ratio)
		e.changed()
		return nil
	})
}

func (e *Engine) Wheel(in WheelInput) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		e.viewport = Wheel(e.viewport, in)
		e.changed()
		return nil
	})
}

func (e *Engine) PinchStart() error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		e.pinch.Begin(e.viewport)
		return nil
	})
}

func (e *Engine) PinchUpdate(anchor models.Point, scale float64) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		e.viewport = e.pinch.Update(e.viewport, anchor, scale)
		e.changed()
		return nil
	})
}

func (e *Engine) PinchEnd() error {
	return e.update(func() error {
		e.pinch.End()
		return nil
	})
}

// SetViewport replaces the viewport; zoom is clamped.
func (e *Engine) SetViewport(v models.Viewport) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		e.viewport = normalize(v)
		e.changed()
		return nil
	})
}

// Select replaces the selection, or adds to it when additive is set.
func (e *Engine) Select(ids []string, additive bool) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		for _, id := range ids {
			if !e.store.Has(id) {
				return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
			}
		}
		if !additive {
			e.selection = map[string]struct{}{}
		}
		for _, id := range ids {
			e.selection[id] = struct{}{}
		}
		e.changed()
		return nil
	})
}

func (e *Engine) ClearSelection() error {
	return e.update(func() error {
		if len(e.selection) == 0 {
			return nil
		}
		e.selection = map[string]struct{}{}
		e.changed()
		return nil
	})
}

func (e *Engine) isSelected(id string) bool {
	_, ok := e.selection[id]
	return ok
}

// selectedIDsLocked returns the selection in store order.
func (e *Engine) selectedIDsLocked() []string {
	ids := make([]string, 0, len(e.selection))
	for _, n := range e.store.Nodes() {
		if e.isSelected(n.ID) {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

func (e *Engine) selectedNodesLocked() []models.CanvasNode {
	nodes := make([]models.CanvasNode, 0, len(e.selection))
	for _, n := range e.store.Nodes() {
		if e.isSelected(n.ID) {
			nodes = append(nodes, n)
		}
	}
	return nodes
}
