package canvas

import (
	"errors"
	"fmt"

	"kno-canvas/internal/models"
)

const (
	// MinNodeWidth is the narrowest a node can be made by resizing.
	MinNodeWidth = 200.0
	// DefaultNodeWidth is used for nodes created without a width.
	DefaultNodeWidth = 250.0
)

var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrDuplicateNode = errors.New("node id already exists")
	ErrDuplicateEdge = errors.New("edge id already exists")
	ErrDanglingEdge  = errors.New("edge references a missing node")
	ErrInvalidNode   = errors.New("node is missing an id")
)

// Snapshot is an immutable view of the store content. Slices inside a
// snapshot are never written to again; every mutation builds new ones.
type Snapshot struct {
	Nodes []models.CanvasNode `json:"nodes"`
	Edges []models.CanvasEdge `json:"edges"`
}

// NodeIDs returns the ids of all nodes in store order.
func (s Snapshot) NodeIDs() []string {
	ids := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// NodeStore owns the nodes and edges of the open canvas. It is not safe for
// concurrent use; the Engine serializes access.
type NodeStore struct {
	nodes []models.CanvasNode
	edges []models.CanvasEdge
	index map[string]int
}

func NewNodeStore() *NodeStore {
	return &NodeStore{index: map[string]int{}}
}

// Snapshot returns the current content. Callers must treat it as read-only.
func (s *NodeStore) Snapshot() Snapshot {
	return Snapshot{Nodes: s.nodes, Edges: s.edges}
}

// Replace swaps in a snapshot wholesale, as undo/redo and load do.
func (s *NodeStore) Replace(snap Snapshot) {
	s.nodes = snap.Nodes
	s.edges = snap.Edges
	s.reindex()
}

func (s *NodeStore) reindex() {
	s.index = make(map[string]int, len(s.nodes))
	for i, n := range s.nodes {
		s.index[n.ID] = i
	}
}

func (s *NodeStore) Len() int {
	return len(s.nodes)
}

func (s *NodeStore) Node(id string) (models.CanvasNode, bool) {
	i, ok := s.index[id]
	if !ok {
		return models.CanvasNode{}, false
	}
	return s.nodes[i], true
}

func (s *NodeStore) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *NodeStore) Nodes() []models.CanvasNode {
	return s.nodes
}

func (s *NodeStore) Edges() []models.CanvasEdge {
	return s.edges
}

// AddNode appends a node. Widths below the minimum are raised to it.
func (s *NodeStore) AddNode(node models.CanvasNode) error {
	if node.ID == "" {
		return ErrInvalidNode
	}
	if s.Has(node.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
	}
	if node.Width == 0 {
		node.Width = DefaultNodeWidth
	}
	if node.Width < MinNodeWidth {
		node.Width = MinNodeWidth
	}
	next := make([]models.CanvasNode, len(s.nodes), len(s.nodes)+1)
	copy(next, s.nodes)
	s.nodes = append(next, node.Clone())
	s.index[node.ID] = len(s.nodes) - 1
	return nil
}

// UpdateNode applies patch to a copy of the node and swaps the copy in.
// The node id cannot be changed by a patch.
func (s *NodeStore) UpdateNode(id string, patch func(n *models.CanvasNode)) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	updated := s.nodes[i].Clone()
	patch(&updated)
	updated.ID = id
	if updated.Width < MinNodeWidth {
		updated.Width = MinNodeWidth
	}
	next := make([]models.CanvasNode, len(s.nodes))
	copy(next, s.nodes)
	next[i] = updated
	s.nodes = next
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (s *NodeStore) RemoveNode(id string) (models.CanvasNode, []models.CanvasEdge, bool) {
	i, ok := s.index[id]
	if !ok {
		return models.CanvasNode{}, nil, false
	}
	removed := s.nodes[i]
	next := make([]models.CanvasNode, 0, len(s.nodes)-1)
	next = append(next, s.nodes[:i]...)
	next = append(next, s.nodes[i+1:]...)
	s.nodes = next
	s.reindex()
	return removed, s.RemoveEdgesTouching(id), true
}

// AddEdge appends an edge. Both endpoints must exist.
func (s *NodeStore) AddEdge(edge models.CanvasEdge) error {
	if !s.Has(edge.Source) || !s.Has(edge.Target) {
		return fmt.Errorf("%w: %s -> %s", ErrDanglingEdge, edge.Source, edge.Target)
	}
	for _, e := range s.edges {
		if e.ID == edge.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateEdge, edge.ID)
		}
	}
	next := make([]models.CanvasEdge, len(s.edges), len(s.edges)+1)
	copy(next, s.edges)
	s.edges = append(next, edge)
	return nil
}

// RemoveEdgesTouching drops every edge with id as source or target and
// returns what was removed.
func (s *NodeStore) RemoveEdgesTouching(id string) []models.CanvasEdge {
	var removed []models.CanvasEdge
	kept := make([]models.CanvasEdge, 0, len(s.edges))
	for _, e := range s.edges {
		if e.Source == id || e.Target == id {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	if len(removed) > 0 {
		s.edges = kept
	}
	return removed
}

// Sanitize repairs content read from persistence: it drops duplicate node
// ids, edges whose endpoints are missing, and placeholders that never
// settled. It returns how many edges were pruned.
func Sanitize(snap Snapshot) (Snapshot, int) {
	seen := make(map[string]bool, len(snap.Nodes))
	nodes := make([]models.CanvasNode, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if n.ID == "" || seen[n.ID] {
			continue
		}
		if n.IsThinking && len(n.SynthesisHistory) == 0 {
			continue
		}
		n = n.Clone()
		if n.IsThinking {
			last := n.SynthesisHistory[len(n.SynthesisHistory)-1]
			n.IsThinking = false
			n.Title, n.Content = last.Title, last.Content
			n.HistoryIndex = len(n.SynthesisHistory) - 1
		}
		if n.Width < MinNodeWidth {
			n.Width = MinNodeWidth
		}
		seen[n.ID] = true
		nodes = append(nodes, n)
	}

	edges := make([]models.CanvasEdge, 0, len(snap.Edges))
	pruned := 0
	for _, e := range snap.Edges {
		if !seen[e.Source] || !seen[e.Target] {
			pruned++
			continue
		}
		edges = append(edges, e)
	}
	return Snapshot{Nodes: nodes, Edges: edges}, pruned
}
