package canvas

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kno-canvas/internal/models"
)

const testDocID = "doc-1"

// sequentialIDs hands out predictable ids.
type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialIDs) next(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", prefix, s.n)
}

// gatedGenerator blocks every call until release is closed, then replays
// results in order; the last result repeats.
type gatedGenerator struct {
	release chan struct{}

	mu      sync.Mutex
	results []Generation
	err     error
	prompts []string
}

func newGatedGenerator(results ...Generation) *gatedGenerator {
	return &gatedGenerator{release: make(chan struct{}), results: results}
}

func openGenerator(results ...Generation) *gatedGenerator {
	g := newGatedGenerator(results...)
	close(g.release)
	return g
}

func (g *gatedGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	call := len(g.prompts) - 1
	g.mu.Unlock()

	select {
	case <-g.release:
	case <-ctx.Done():
		return Generation{}, ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return Generation{}, g.err
	}
	if len(g.results) == 0 {
		return Generation{}, nil
	}
	if call >= len(g.results) {
		call = len(g.results) - 1
	}
	return g.results[call], nil
}

func (g *gatedGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type mockCritic struct {
	mock.Mock
}

func (m *mockCritic) Critique(ctx context.Context, text string) (*models.Critique, error) {
	args := m.Called(ctx, text)
	c, _ := args.Get(0).(*models.Critique)
	return c, args.Error(1)
}

type recordingLibrary struct {
	mu    sync.Mutex
	notes []LibraryNote
}

func (l *recordingLibrary) Publish(_ context.Context, note LibraryNote) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes = append(l.notes, note)
}

func (l *recordingLibrary) Notes() []LibraryNote {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LibraryNote(nil), l.notes...)
}

type stubCandidates struct {
	item     ExternalItem
	ok       bool
	err      error
	excluded []string
	mu       sync.Mutex
}

func (s *stubCandidates) RandomCandidate(_ context.Context, excludeID string) (ExternalItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.excluded = append(s.excluded, excludeID)
	return s.item, s.ok, s.err
}

type stubResolver struct {
	items map[string]ExternalItem
}

func (s stubResolver) Resolve(_ context.Context, _ PayloadType, id string) (ExternalItem, error) {
	item, ok := s.items[id]
	if !ok {
		return ExternalItem{}, ErrItemNotFound
	}
	return item, nil
}

// eventLog records every event the engine publishes.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestPersistence(t *testing.T, store Store) *Persistence {
	t.Helper()
	p := NewPersistence(store, nil)
	p.Start()
	t.Cleanup(p.Close)
	return p
}

// newTestEngine returns an engine with testDocID open on an in-memory store.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *eventLog) {
	t.Helper()
	ids := &sequentialIDs{}
	p := newTestPersistence(t, NewMemoryStore())
	base := []Option{WithPersistence(p), WithIDGenerator(ids.next)}
	e := New(append(base, opts...)...)
	t.Cleanup(e.Close)

	log := &eventLog{}
	e.Subscribe(log.listen)
	require.NoError(t, e.Activate(context.Background(), testDocID))
	return e, log
}

// seed adds nodes in one commit, keeping their positions.
func seed(t *testing.T, e *Engine, nodes ...models.CanvasNode) {
	t.Helper()
	_, err := e.Inject(nodes, "", "")
	require.NoError(t, err)
}

func node(id string, x, y float64) models.CanvasNode {
	return models.CanvasNode{ID: id, Type: models.NodeNote, X: x, Y: y, Width: DefaultNodeWidth, Title: id}
}

func mustNode(t *testing.T, e *Engine, id string) models.CanvasNode {
	t.Helper()
	for _, n := range e.Snapshot().Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s not found", id)
	return models.CanvasNode{}
}

func edgeIDs(s Snapshot) []string {
	ids := make([]string, len(s.Edges))
	for i, e := range s.Edges {
		ids[i] = e.ID
	}
	return ids
}
