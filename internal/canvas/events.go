package canvas

import "time"

type EventKind string

const (
	EventStateChanged       EventKind = "state_changed"
	EventCommitted          EventKind = "committed"
	EventHistoryApplied     EventKind = "history_applied"
	EventActivated          EventKind = "activated"
	EventDeactivated        EventKind = "deactivated"
	EventOpenDetail         EventKind = "open_detail"
	EventSynthesisStarted   EventKind = "synthesis_started"
	EventSynthesisCompleted EventKind = "synthesis_completed"
	EventSynthesisFailed    EventKind = "synthesis_failed"
	EventSynthesisDiscarded EventKind = "synthesis_discarded"
	EventCritiqueReady      EventKind = "critique_ready"
)

// Event tells subscribers that something happened inside the engine.
// Listeners read the new state through Engine.View.
type Event struct {
	Kind       EventKind    `json:"kind"`
	DocumentID string       `json:"document_id"`
	Revision   uint64       `json:"revision"`
	NodeID     string       `json:"node_id,omitempty"`
	NoteID     string       `json:"note_id,omitempty"`
	Operator   OperatorKind `json:"operator,omitempty"`
	NodeCount  int          `json:"node_count,omitempty"`
	At         time.Time    `json:"at"`
	Error      string       `json:"error,omitempty"`
}

// Listener is called after the engine lock is released, in event order.
type Listener func(Event)
