package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

/*
LEARNING: PROVENANCE IN THE LIBRARY

A canvas records provenance with edges, but edges die with the canvas.
When a derived insight is written back into the library, its inputs are
written as links too:

  Note A --provenance--> Derived note C
  Note B --provenance--> Derived note C

so the library can still answer "where did this idea come from?" after the
canvas that produced it is trashed.
*/

const (
	LinkTypeReference  = "reference"
	LinkTypeProvenance = "provenance"
)

// Link represents a connection between two notes
type Link struct {
	ID        string         `gorm:"type:varchar(27);primaryKey" json:"id"`
	SourceID  string         `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_link_pair" json:"source_id"`
	TargetID  string         `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_link_pair" json:"target_id"`
	LinkType  string         `gorm:"type:varchar(50);default:'reference'" json:"link_type"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// BeforeCreate generates KSUID before creating
func (l *Link) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (Link) TableName() string {
	return "links"
}

// GraphNode is a note together with its immediate neighbourhood.
type GraphNode struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	OutgoingLinks  int      `json:"outgoing_links"`
	IncomingLinks  int      `json:"incoming_links"`
	ConnectedNodes []string `json:"connected_nodes"`
}
