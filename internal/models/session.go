package models

import (
	"encoding/json"
	"time"
)

// Session represents an open live-channel connection to the canvas host.
type Session struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// MessageType tags frames on the live channel.
type MessageType string

const (
	MessageTypeCommand MessageType = "command" // client -> host
	MessageTypeEvent   MessageType = "event"   // host -> client
	MessageTypeWelcome MessageType = "welcome"
	MessageTypeError   MessageType = "error"
)

// LiveMessage is the frame exchanged over the live channel. Commands carry
// the same envelope the HTTP command endpoint accepts in Payload.
type LiveMessage struct {
	Type    MessageType     `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func NewSession(id, documentID string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		DocumentID:   documentID,
		ConnectedAt:  now,
		LastActiveAt: now,
	}
}
