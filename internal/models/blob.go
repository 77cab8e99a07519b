package models

import "time"

// Blob is one keyed value of the canvas store: a canvas state, the document
// list, or the trash list. Values are opaque JSON to the database.
type Blob struct {
	Key       string    `gorm:"type:varchar(255);primaryKey" json:"key"`
	Value     string    `gorm:"type:jsonb;not null" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Blob) TableName() string {
	return "canvas_blobs"
}
