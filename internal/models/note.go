package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type NoteKind string

const (
	NoteKindNote      NoteKind = "note"
	NoteKindSignal    NoteKind = "signal" // unprocessed inbox capture
	NoteKindSpark     NoteKind = "spark"
	NoteKindCollision NoteKind = "collision"
	NoteKindAsset     NoteKind = "asset"
	NoteKindInsight   NoteKind = "insight"
)

// Note is an item of the library the canvas draws from and writes derived
// insights back into.
// Learning: notes created by hand get a KSUID, but derived notes reuse the
// id of the canvas node that produced them, so re-running a synthesis
// upserts the same row instead of piling up copies.
type Note struct {
	ID        string         `json:"id" gorm:"type:varchar(64);primaryKey"`
	Kind      NoteKind       `json:"kind" gorm:"type:varchar(32);not null;default:'note';index"`
	Title     string         `json:"title" gorm:"type:text;not null"`
	Content   string         `json:"content" gorm:"type:text"`
	Summary   []string       `json:"summary" gorm:"type:jsonb;serializer:json"`
	Tags      []string       `json:"tags" gorm:"type:jsonb;serializer:json"`
	SourceURL string         `json:"source_url,omitempty" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates KSUID before inserting
func (n *Note) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = ksuid.New().String()
	}
	return nil
}

func (Note) TableName() string {
	return "notes"
}

type NoteCreate struct {
	Title     string   `json:"title" validate:"required,max=500"`
	Content   string   `json:"content"`
	Kind      NoteKind `json:"kind" validate:"omitempty,oneof=note signal spark collision asset insight"`
	Summary   []string `json:"summary"`
	Tags      []string `json:"tags"`
	SourceURL string   `json:"source_url" validate:"omitempty,url"`
}
