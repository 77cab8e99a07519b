package models

import "time"

/*
LEARNING: WORLD SPACE VS SCREEN SPACE

Every node position stored here is in world space: the infinite plane the
canvas draws on. Pan and zoom only change the Viewport, which maps world
space onto the pixels of the rendering surface. Nothing in a node ever
depends on the current viewport, so a saved canvas renders the same at any
zoom level.
*/

type NodeType string

const (
	NodeNote         NodeType = "note"
	NodeInsight      NodeType = "insight"
	NodeSynthesis    NodeType = "synthesis"
	NodeClusterLabel NodeType = "cluster_label"
	NodeGroup        NodeType = "group"
	NodeAsset        NodeType = "asset"
	NodeSpark        NodeType = "spark"
	NodeConflict     NodeType = "conflict"
	NodeVideo        NodeType = "video"
	NodeImage        NodeType = "image"
)

type EdgeType string

const (
	EdgeReference EdgeType = "reference"
	EdgeSpark     EdgeType = "spark"
	EdgeConflict  EdgeType = "conflict"
	EdgeSynthesis EdgeType = "synthesis"
	EdgeNeural    EdgeType = "neural"
)

// Point is a 2D coordinate; whether it is screen or world space depends on the caller.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the screen-space offset of the world origin plus a uniform zoom.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// SynthesisEntry is one generated version of a derived node.
type SynthesisEntry struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type FactualCheck struct {
	Status string `json:"status"`
	Issue  string `json:"issue"`
}

type BalanceCheck struct {
	Status string `json:"status"`
	Check  string `json:"check"`
}

type LogicCheck struct {
	Status      string `json:"status"`
	Type        string `json:"type"`
	Explanation string `json:"explanation"`
}

type StructuredAnalysis struct {
	Factual FactualCheck `json:"factual"`
	Balance BalanceCheck `json:"balance"`
	Logic   LogicCheck   `json:"logic"`
}

// Critique is the cached result of a logic scan over a node's text.
type Critique struct {
	Issue              string              `json:"issue"`
	Fix                string              `json:"fix"`
	Confidence         string              `json:"confidence"`
	IsSafe             bool                `json:"is_safe"`
	StructuredAnalysis *StructuredAnalysis `json:"structured_analysis,omitempty"`
}

// CanvasNode is a positioned rectangle in world space.
// Height of zero means the renderer sizes the node to its content.
type CanvasNode struct {
	ID               string           `json:"id"`
	Type             NodeType         `json:"type"`
	Operator         string           `json:"operator,omitempty"` // set on nodes produced by a synthesis operator
	X                float64          `json:"x"`
	Y                float64          `json:"y"`
	Width            float64          `json:"width"`
	Height           float64          `json:"height,omitempty"`
	Title            string           `json:"title,omitempty"`
	Content          string           `json:"content,omitempty"`
	NoteID           string           `json:"note_id,omitempty"` // weak reference into the note library
	Color            string           `json:"color,omitempty"`
	Critique         *Critique        `json:"critique,omitempty"`
	SynthesisHistory []SynthesisEntry `json:"synthesis_history,omitempty"`
	HistoryIndex     int              `json:"history_index"`
	IsThinking       bool             `json:"is_thinking,omitempty"`
}

// Clone returns a deep copy so history snapshots never share mutable state.
func (n CanvasNode) Clone() CanvasNode {
	out := n
	if n.Critique != nil {
		c := *n.Critique
		if n.Critique.StructuredAnalysis != nil {
			sa := *n.Critique.StructuredAnalysis
			c.StructuredAnalysis = &sa
		}
		out.Critique = &c
	}
	if n.SynthesisHistory != nil {
		out.SynthesisHistory = append([]SynthesisEntry(nil), n.SynthesisHistory...)
	}
	return out
}

// CanvasEdge is a directed relation between two nodes of the same canvas.
type CanvasEdge struct {
	ID     string   `json:"id"`
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
	Label  string   `json:"label,omitempty"`
}

type CanvasState struct {
	Nodes    []CanvasNode `json:"nodes"`
	Edges    []CanvasEdge `json:"edges"`
	Viewport Viewport     `json:"viewport"`
}

// CanvasDocument is one spatial workspace. The registry lists documents
// without State; the state blob lives under its own key.
type CanvasDocument struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	LastModified time.Time    `json:"last_modified"`
	NodeCount    int          `json:"node_count"`
	State        *CanvasState `json:"state,omitempty"`
}
