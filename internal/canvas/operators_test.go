package canvas

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kno-canvas/internal/models"
)

func TestAlchemyPlaceholderThenResult(t *testing.T) {
	gen := newGatedGenerator(Generation{Title: "T", Content: "X"})
	lib := &recordingLibrary{}
	e, log := newTestEngine(t, WithGenerator(gen), WithLibrary(lib))
	seed(t, e, node("a", 0, 0), node("b", 400, 0))
	require.NoError(t, e.Select([]string{"a", "b"}, false))

	id, err := e.RunOperator(context.Background(), OperatorAlchemy)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	c := mustNode(t, e, id)
	assert.True(t, c.IsThinking)
	assert.Equal(t, models.NodeAsset, c.Type)
	assert.Equal(t, models.Point{X: 200, Y: 300}, models.Point{X: c.X, Y: c.Y})
	snap := e.Snapshot()
	require.Len(t, snap.Edges, 2)
	assert.Equal(t, "a", snap.Edges[0].Source)
	assert.Equal(t, "b", snap.Edges[1].Source)
	for _, edge := range snap.Edges {
		assert.Equal(t, id, edge.Target)
		assert.Equal(t, models.EdgeSynthesis, edge.Type)
	}
	assert.Empty(t, e.View().Selection)

	close(gen.release)
	e.Wait()

	c = mustNode(t, e, id)
	assert.Equal(t, "T", c.Title)
	assert.Equal(t, "X", c.Content)
	assert.False(t, c.IsThinking)
	assert.Len(t, c.SynthesisHistory, 1)
	assert.Len(t, log.kinds(EventSynthesisCompleted), 1)

	notes := lib.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, id, notes[0].ID)
	assert.Equal(t, models.NoteKindAsset, notes[0].Kind)
}

func TestColliderRollbackRestoresIDSet(t *testing.T) {
	gen := openGenerator()
	gen.err = errors.New("model unavailable")
	e, log := newTestEngine(t, WithGenerator(gen))
	seed(t, e, node("a", 0, 0), node("b", 400, 0))
	_, err := e.Inject([]models.CanvasNode{node("c", 0, 0)}, "a", models.EdgeReference)
	require.NoError(t, err)
	before := e.Snapshot()
	historyBefore := e.View().HistoryLength
	require.NoError(t, e.Select([]string{"a", "b"}, false))

	id, err := e.RunOperator(context.Background(), OperatorCollider)
	require.NoError(t, err)
	e.Wait()

	after := e.Snapshot()
	assert.Equal(t, before.NodeIDs(), after.NodeIDs())
	assert.Equal(t, edgeIDs(before), edgeIDs(after))
	assert.Equal(t, historyBefore, e.View().HistoryLength)
	failed := log.kinds(EventSynthesisFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].NodeID)
	assert.Contains(t, failed[0].Error, "model unavailable")
}

func TestStaleResultIsDiscarded(t *testing.T) {
	gen := newGatedGenerator(Generation{Title: "late", Content: "late"})
	lib := &recordingLibrary{}
	e, log := newTestEngine(t, WithGenerator(gen), WithLibrary(lib))
	seed(t, e, node("a", 0, 0), node("b", 400, 0))
	require.NoError(t, e.Select([]string{"a", "b"}, false))

	id, err := e.RunOperator(context.Background(), OperatorCollider)
	require.NoError(t, err)
	require.NoError(t, e.DeleteNode(id))
	historyBefore := e.View().HistoryLength

	close(gen.release)
	e.Wait()

	assert.Equal(t, []string{"a", "b"}, e.Snapshot().NodeIDs())
	assert.Empty(t, e.Snapshot().Edges)
	assert.Equal(t, historyBefore, e.View().HistoryLength)
	assert.Len(t, log.kinds(EventSynthesisDiscarded), 1)
	assert.Empty(t, lib.Notes())
	assert.Empty(t, e.View().RecentlyDeleted, "placeholders are not kept for restore")
}

func TestResultDiscardedAfterDocumentSwitch(t *testing.T) {
	gen := newGatedGenerator(Generation{Title: "late", Content: "late"})
	lib := &recordingLibrary{}
	e, log := newTestEngine(t, WithGenerator(gen), WithLibrary(lib))
	ctx := context.Background()
	seed(t, e, node("a", 0, 0), node("b", 400, 0))
	require.NoError(t, e.Select([]string{"a", "b"}, false))

	_, err := e.RunOperator(ctx, OperatorCollider)
	require.NoError(t, err)
	require.NoError(t, e.Activate(ctx, "doc-2"))

	close(gen.release)
	e.Wait()

	assert.Empty(t, e.Snapshot().Nodes, "the result never lands in the other document")
	require.NoError(t, e.Activate(ctx, testDocID))
	assert.Equal(t, []string{"a", "b"}, e.Snapshot().NodeIDs())
	assert.Empty(t, e.Snapshot().Edges)
	assert.Len(t, log.kinds(EventSynthesisDiscarded), 1)
	assert.Empty(t, log.kinds(EventSynthesisCompleted))
	assert.Empty(t, lib.Notes())
}

func TestRegenerateDiscardedAfterReturningToDocument(t *testing.T) {
	gen := openGenerator(
		Generation{Title: "v1", Content: "first"},
		Generation{Title: "v2", Content: "second"},
	)
	lib := &recordingLibrary{}
	e, log := newTestEngine(t, WithGenerator(gen), WithLibrary(lib))
	ctx := context.Background()
	seed(t, e, node("a", 0, 0), node("b", 400, 0))
	require.NoError(t, e.Select([]string{"a", "b"}, false))
	id, err := e.RunOperator(ctx, OperatorCollider)
	require.NoError(t, err)
	e.Wait()

	gen.release = make(chan struct{})
	require.NoError(t, e.Regenerate(ctx, id))
	require.NoError(t, e.Activate(ctx, "doc-2"))
	require.NoError(t, e.Activate(ctx, testDocID))

	n := mustNode(t, e, id)
	assert.False(t, n.IsThinking, "the reloaded node settles on its last version")
	assert.Equal(t, "v1", n.Title)

	close(gen.release)
	e.Wait()

	n = mustNode(t, e, id)
	assert.Equal(t, "v1", n.Title)
	assert.Equal(t, "first", n.Content)
	assert.Len(t, n.SynthesisHistory, 1)
	assert.Len(t, log.kinds(EventSynthesisDiscarded), 1)
	assert.Len(t, lib.Notes(), 1, "only the first version is published")
}

func TestResultSurvivesUnrelatedEdits(t *testing.T) {
	gen := newGatedGenerator(Generation{Title: "T", Content: "X"})
	e, _ := newTestEngine(t, WithGenerator(gen))
	seed(t, e, node("a", 0, 0), node("b", 400, 0), node("c", 800, 0))
	require.NoError(t, e.Select([]string{"a", "b"}, false))

	id, err := e.RunOperator(context.Background(), OperatorCollider)
	require.NoError(t, err)
	require.NoError(t, e.DeleteNode("c"))
	_, err = e.AddNote(800, 600)
	require.NoError(t, err)

	close(gen.release)
	e.Wait()

	assert.Equal(t, "T", mustNode(t, e, id).Title)
	assert.Len(t, e.Snapshot().Nodes, 4, "edits made while generating are kept")
}

func TestOperatorArity(t *testing.T) {
	e, _ := newTestEngine(t, WithGenerator(openGenerator()), WithCritic(&mockCritic{}))
	seed(t, e, node("a", 0, 0), node("b", 400, 0))

	require.NoError(t, e.Select([]string{"a"}, false))
	assert.False(t, e.CanRun(OperatorCollider))
	assert.False(t, e.CanRun(OperatorAlchemy))
	assert.True(t, e.CanRun(OperatorSpark))
	assert.True(t, e.CanRun(OperatorLogicScan))

	id, err := e.RunOperator(context.Background(), OperatorCollider)
	require.NoError(t, err)
	assert.Empty(t, id, "collider is inert with one node")

	require.NoError(t, e.Select([]string{"a", "b"}, false))
	assert.True(t, e.CanRun(OperatorCollider))
	assert.False(t, e.CanRun(OperatorSpark))
	assert.False(t, e.CanRun(OperatorLogicScan))

	_, err = e.RunOperator(context.Background(), OperatorKind("telepathy"))
	assert.ErrorIs(t, err, ErrUnknownOperator)
}

func TestSparkUsesCandidate(t *testing.T) {
	gen := openGenerator(Generation{Title: "S", Content: "C"})
	cands := &stubCandidates{item: ExternalItem{ID: "note-2", Title: "Other"}, ok: true}
	e, _ := newTestEngine(t, WithGenerator(gen), WithCandidates(cands))
	a := node("a", 100, 0)
	a.NoteID = "note-1"
	seed(t, e, a)
	require.NoError(t, e.Select([]string{"a"}, false))

	id, err := e.RunOperator(context.Background(), OperatorSpark)
	require.NoError(t, err)
	placeholder := mustNode(t, e, id)
	assert.Equal(t, 100+DefaultNodeWidth+150, placeholder.X)
	e.Wait()

	s := mustNode(t, e, id)
	assert.Equal(t, "S", s.Title)
	assert.Equal(t, "Connected to: \"Other\"\n\nC", s.Content)
	assert.Equal(t, []string{"note-1"}, cands.excluded)
	require.Len(t, gen.Prompts(), 1)
	assert.Contains(t, gen.Prompts()[0], "Other")
}

func TestSparkWithoutCandidateIsInert(t *testing.T) {
	gen := openGenerator(Generation{Title: "S", Content: "C"})
	cands := &stubCandidates{}
	e, log := newTestEngine(t, WithGenerator(gen), WithCandidates(cands))
	a := node("a", 0, 0)
	a.NoteID = "note-1"
	seed(t, e, a)
	require.NoError(t, e.Select([]string{"a"}, false))
	historyBefore := e.View().HistoryLength

	id, err := e.RunOperator(context.Background(), OperatorSpark)
	require.NoError(t, err)
	e.Wait()

	assert.Empty(t, id)
	assert.Equal(t, []string{"a"}, e.Snapshot().NodeIDs(), "no placeholder is placed")
	assert.Equal(t, []string{"a"}, e.View().Selection)
	assert.Equal(t, historyBefore, e.View().HistoryLength)
	assert.Empty(t, log.kinds(EventSynthesisStarted))
	assert.Empty(t, log.kinds(EventSynthesisFailed))
	assert.Empty(t, gen.Prompts(), "the generator is not called without a candidate")
	assert.Equal(t, []string{"note-1"}, cands.excluded)
}

func TestSparkCandidateErrorIsReturned(t *testing.T) {
	gen := openGenerator(Generation{Title: "S", Content: "C"})
	cands := &stubCandidates{err: errors.New("library offline")}
	e, log := newTestEngine(t, WithGenerator(gen), WithCandidates(cands))
	seed(t, e, node("a", 0, 0))
	require.NoError(t, e.Select([]string{"a"}, false))

	id, err := e.RunOperator(context.Background(), OperatorSpark)

	assert.ErrorContains(t, err, "library offline")
	assert.Empty(t, id)
	assert.Equal(t, []string{"a"}, e.Snapshot().NodeIDs())
	assert.Empty(t, log.kinds(EventSynthesisStarted))
}

func TestSparkRegenerateWithoutCandidateKeepsNode(t *testing.T) {
	gen := openGenerator(Generation{Title: "S", Content: "C"})
	cands := &stubCandidates{item: ExternalItem{ID: "note-2", Title: "Other"}, ok: true}
	e, log := newTestEngine(t, WithGenerator(gen), WithCandidates(cands))
	a := node("a", 0, 0)
	a.NoteID = "note-1"
	seed(t, e, a)
	require.NoError(t, e.Select([]string{"a"}, false))
	id, err := e.RunOperator(context.Background(), OperatorSpark)
	require.NoError(t, err)
	e.Wait()

	cands.mu.Lock()
	cands.ok = false
	cands.mu.Unlock()
	require.NoError(t, e.Regenerate(context.Background(), id))
	e.Wait()

	n := mustNode(t, e, id)
	assert.Equal(t, "S", n.Title)
	assert.False(t, n.IsThinking)
	assert.Len(t, n.SynthesisHistory, 1)
	assert.Len(t, log.kinds(EventSynthesisStarted), 1, "only the first launch started")
	assert.Equal(t, []string{"note-1", "note-1"}, cands.excluded)
}

func TestEmptyGenerationUsesFallbacks(t *testing.T) {
	e, _ := newTestEngine(t, WithGenerator(openGenerator(Generation{Title: "  "})))
	seed(t, e, node("a", 0, 0), node("b", 400, 0))
	require.NoError(t, e.Select([]string{"a", "b"}, false))

	id, err := e.RunOperator(context.Background(), OperatorCollider)
	require.NoError(t, err)
	e.Wait()

	n := mustNode(t, e, id)
	assert.Equal(t, "Synthesis", n.Title)
	assert.Equal(t, "Connection found.", n.Content)
}

func TestRegenerateAndNavigate(t *testing.T) {
	gen := openGenerator(
		Generation{Title: "v1", Content: "first"},
		Generation{Title: "v2", Content: "second"},
	)
	e, _ := newTestEngine(t, WithGenerator(gen))
	seed(t, e, node("a", 0, 0), node("b", 400, 0))
	require.NoError(t, e.Select([]string{"a", "b"}, false))
	id, err := e.RunOperator(context.Background(), OperatorCollider)
	require.NoError(t, err)
	e.Wait()

	require.NoError(t, e.Regenerate(context.Background(), id))
	e.Wait()

	n := mustNode(t, e, id)
	assert.Equal(t, "v2", n.Title)
	assert.Len(t, n.SynthesisHistory, 2)
	assert.Equal(t, 1, n.HistoryIndex)
	assert.Contains(t, gen.Prompts()[1], "first", "regeneration sees the previous version")

	historyBefore := e.View().HistoryLength
	require.NoError(t, e.NavigateSynthesis(id, -1))
	n = mustNode(t, e, id)
	assert.Equal(t, "v1", n.Title)
	assert.Equal(t, "first", n.Content)
	assert.Equal(t, 0, n.HistoryIndex)

	require.NoError(t, e.NavigateSynthesis(id, -1))
	assert.Equal(t, 0, mustNode(t, e, id).HistoryIndex, "navigation clamps at the oldest version")
	assert.Equal(t, historyBefore, e.View().HistoryLength)
	assert.Len(t, gen.Prompts(), 2, "navigation never calls the generator")
}

func TestRegenerateFailureRestoresTitle(t *testing.T) {
	gen := openGenerator(Generation{Title: "v1", Content: "first"})
	e, _ := newTestEngine(t, WithGenerator(gen))
	seed(t, e, node("a", 0, 0), node("b", 400, 0))
	require.NoError(t, e.Select([]string{"a", "b"}, false))
	id, err := e.RunOperator(context.Background(), OperatorCollider)
	require.NoError(t, err)
	e.Wait()

	gen.mu.Lock()
	gen.err = errors.New("quota")
	gen.mu.Unlock()
	require.NoError(t, e.Regenerate(context.Background(), id))
	e.Wait()

	n := mustNode(t, e, id)
	assert.Equal(t, "v1", n.Title)
	assert.False(t, n.IsThinking)
	assert.Len(t, n.SynthesisHistory, 1)
}

func TestLogicScanFetchesOnceThenToggles(t *testing.T) {
	critic := &mockCritic{}
	critique := &models.Critique{Issue: "Ad hominem", Fix: "Address the argument", IsSafe: false}
	critic.On("Critique", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.HasPrefix(text, "claim")
	})).Return(critique, nil).Once()

	e, log := newTestEngine(t, WithCritic(critic))
	n := node("a", 0, 0)
	n.Title = "claim"
	n.Content = "they are wrong because they are foolish"
	seed(t, e, n)
	require.NoError(t, e.Select([]string{"a"}, false))
	historyBefore := e.View().HistoryLength

	_, err := e.RunOperator(context.Background(), OperatorLogicScan)
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, "Ad hominem", mustNode(t, e, "a").Critique.Issue)
	assert.Equal(t, []string{"a"}, e.View().CritiqueVisible)
	assert.Equal(t, historyBefore+1, e.View().HistoryLength)
	assert.Len(t, log.kinds(EventCritiqueReady), 1)

	_, err = e.RunOperator(context.Background(), OperatorLogicScan)
	require.NoError(t, err)
	assert.Empty(t, e.View().CritiqueVisible)

	_, err = e.RunOperator(context.Background(), OperatorLogicScan)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, e.View().CritiqueVisible)

	critic.AssertNumberOfCalls(t, "Critique", 1)
	assert.Equal(t, historyBefore+1, e.View().HistoryLength, "toggling display is not an edit")
}

func TestLogicScanFailureLeavesNodeUntouched(t *testing.T) {
	critic := &mockCritic{}
	critic.On("Critique", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
	e, log := newTestEngine(t, WithCritic(critic))
	seed(t, e, node("a", 0, 0))
	require.NoError(t, e.Select([]string{"a"}, false))

	_, err := e.RunOperator(context.Background(), OperatorLogicScan)
	require.NoError(t, err)
	e.Wait()

	assert.Nil(t, mustNode(t, e, "a").Critique)
	assert.Empty(t, e.View().Scanning)
	assert.Len(t, log.kinds(EventSynthesisFailed), 1)
}

func TestUndoSettlesOrphanPlaceholder(t *testing.T) {
	gen := newGatedGenerator(Generation{Title: "T", Content: "X"})
	e, _ := newTestEngine(t, WithGenerator(gen))
	seed(t, e, node("a", 0, 0), node("b", 400, 0))
	require.NoError(t, e.Select([]string{"a", "b"}, false))
	id, err := e.RunOperator(context.Background(), OperatorCollider)
	require.NoError(t, err)
	// This commit captures the placeholder while it is still thinking.
	noteID, err := e.AddNote(800, 600)
	require.NoError(t, err)
	close(gen.release)
	e.Wait()

	require.NoError(t, e.Undo())
	ids := e.Snapshot().NodeIDs()
	assert.NotContains(t, ids, id, "a restored placeholder with no running generation is dropped")
	assert.Contains(t, ids, noteID)

	require.NoError(t, e.Redo())
	n := mustNode(t, e, id)
	assert.False(t, n.IsThinking)
	assert.Equal(t, "T", n.Title)
}

func TestCloseAbandonsGenerations(t *testing.T) {
	gen := newGatedGenerator(Generation{Title: "never"})
	e, log := newTestEngine(t, WithGenerator(gen))
	seed(t, e, node("a", 0, 0), node("b", 400, 0))
	require.NoError(t, e.Select([]string{"a", "b"}, false))
	_, err := e.RunOperator(context.Background(), OperatorCollider)
	require.NoError(t, err)

	e.Close()

	assert.Equal(t, []string{"a", "b"}, e.Snapshot().NodeIDs())
	assert.Len(t, log.kinds(EventSynthesisFailed), 1)
}
