package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kno-canvas/internal/models"
)

func TestNodeStoreRemoveNodeCascadesEdges(t *testing.T) {
	s := NewNodeStore()
	require.NoError(t, s.AddNode(node("a", 0, 0)))
	require.NoError(t, s.AddNode(node("b", 0, 0)))
	require.NoError(t, s.AddNode(node("c", 0, 0)))
	require.NoError(t, s.AddEdge(models.CanvasEdge{ID: "e1", Source: "a", Target: "b"}))
	require.NoError(t, s.AddEdge(models.CanvasEdge{ID: "e2", Source: "c", Target: "a"}))
	require.NoError(t, s.AddEdge(models.CanvasEdge{ID: "e3", Source: "b", Target: "c"}))

	removed, edges, ok := s.RemoveNode("a")

	require.True(t, ok)
	assert.Equal(t, "a", removed.ID)
	assert.Len(t, edges, 2)
	assert.Equal(t, []string{"b", "c"}, s.Snapshot().NodeIDs())
	assert.Equal(t, []string{"e3"}, edgeIDs(s.Snapshot()))
	_, stillThere := s.Node("a")
	assert.False(t, stillThere)
}

func TestNodeStoreRejectsBadContent(t *testing.T) {
	s := NewNodeStore()
	require.NoError(t, s.AddNode(node("a", 0, 0)))

	assert.ErrorIs(t, s.AddNode(node("a", 1, 1)), ErrDuplicateNode)
	assert.ErrorIs(t, s.AddNode(models.CanvasNode{}), ErrInvalidNode)
	assert.ErrorIs(t, s.AddEdge(models.CanvasEdge{ID: "e", Source: "a", Target: "ghost"}), ErrDanglingEdge)
	assert.ErrorIs(t, s.UpdateNode("ghost", func(*models.CanvasNode) {}), ErrNodeNotFound)
}

func TestNodeStoreSnapshotsAreImmutable(t *testing.T) {
	s := NewNodeStore()
	require.NoError(t, s.AddNode(node("a", 0, 0)))
	before := s.Snapshot()

	require.NoError(t, s.UpdateNode("a", func(n *models.CanvasNode) {
		n.X = 500
		n.SynthesisHistory = append(n.SynthesisHistory, models.SynthesisEntry{Title: "v1"})
	}))
	require.NoError(t, s.AddNode(node("b", 0, 0)))

	assert.Equal(t, 0.0, before.Nodes[0].X)
	assert.Empty(t, before.Nodes[0].SynthesisHistory)
	assert.Len(t, before.Nodes, 1)
}

func TestNodeStoreWidthFloor(t *testing.T) {
	s := NewNodeStore()
	require.NoError(t, s.AddNode(models.CanvasNode{ID: "a", Width: 50}))
	require.NoError(t, s.AddNode(models.CanvasNode{ID: "b"}))

	a, _ := s.Node("a")
	b, _ := s.Node("b")
	assert.Equal(t, MinNodeWidth, a.Width)
	assert.Equal(t, DefaultNodeWidth, b.Width)
}

func TestSanitize(t *testing.T) {
	snap := Snapshot{
		Nodes: []models.CanvasNode{
			node("a", 0, 0),
			node("a", 10, 10),
			{ID: "ghost-placeholder", IsThinking: true, Title: "Colliding Concepts..."},
			{ID: "settled", IsThinking: true, Title: "Regenerating...", SynthesisHistory: []models.SynthesisEntry{
				{Title: "v1", Content: "one"},
				{Title: "v2", Content: "two"},
			}},
		},
		Edges: []models.CanvasEdge{
			{ID: "ok", Source: "a", Target: "settled"},
			{ID: "dangling", Source: "a", Target: "missing"},
			{ID: "to-placeholder", Source: "a", Target: "ghost-placeholder"},
		},
	}

	got, pruned := Sanitize(snap)

	assert.Equal(t, []string{"a", "settled"}, got.NodeIDs())
	assert.Equal(t, 0.0, got.Nodes[0].X, "first occurrence of a duplicate id wins")
	assert.Equal(t, []string{"ok"}, edgeIDs(got))
	assert.Equal(t, 2, pruned)

	settled := got.Nodes[1]
	assert.False(t, settled.IsThinking)
	assert.Equal(t, "v2", settled.Title)
	assert.Equal(t, 1, settled.HistoryIndex)
}
