package entries

import (
	"time"

	"github.com/google/uuid"
)

type EmbeddingKind string

const (
	EmbeddingContent EmbeddingKind = "content"
	EmbeddingSummary EmbeddingKind = "summary"
)

// EntryEmbedding is the relational side of an indexed vector. The vector
// itself lives in the vector index under PointID.
type EntryEmbedding struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	QuickEntryID uuid.UUID     `gorm:"type:uuid;not null;index:idx_entry_embedding_entry_kind,unique,priority:1" json:"quick_entry_id"`
	Kind         EmbeddingKind `gorm:"type:text;not null;index:idx_entry_embedding_entry_kind,unique,priority:2" json:"kind"`
	UserID       uuid.UUID     `gorm:"type:uuid;not null;index" json:"user_id"`
	PointID      string        `gorm:"type:text;not null;index" json:"point_id"`
	Dim          int           `gorm:"not null" json:"dim"`
	Model        string        `gorm:"type:text;not null;default:''" json:"model"`
	SourceText   string        `gorm:"type:text;not null" json:"source_text"`
	ContentHash  string        `gorm:"type:text;not null;index" json:"content_hash"`
	Subtype      Subtype       `gorm:"type:text;not null;default:'';index" json:"subtype"`
	EventAt      time.Time     `gorm:"not null;index" json:"event_at"`
	TimeOfDay    TimeOfDay     `gorm:"type:text;not null;default:''" json:"time_of_day"`
	Active       bool          `gorm:"not null;index" json:"active"`
	Revision     int           `gorm:"not null;default:1" json:"revision"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (EntryEmbedding) TableName() string { return "entry_embedding" }
