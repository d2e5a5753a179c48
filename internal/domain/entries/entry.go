package entries

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Modality string

const (
	ModalityText     Modality = "text"
	ModalityVoice    Modality = "voice"
	ModalityImage    Modality = "image"
	ModalityDocument Modality = "document"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Stage is the fine-grained pipeline position of an entry.
type Stage string

const (
	StagePending     Stage = "pending"
	StageClassifying Stage = "classifying"
	StageExtracting  Stage = "extracting"
	StageEstimating  Stage = "estimating"
	StagePersisting  Stage = "persisting"
	StageRetrieving  Stage = "retrieving"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

func (s Stage) Terminal() bool { return s == StageCompleted || s == StageFailed }

// Status collapses a stage into the coarse caller-facing status.
func (s Stage) Status() Status {
	switch s {
	case StagePending, "":
		return StatusPending
	case StageCompleted:
		return StatusCompleted
	case StageFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// nextStages lists the legal forward transitions. Any non-terminal stage may
// also move to failed.
var nextStages = map[Stage][]Stage{
	StagePending:     {StageClassifying},
	StageClassifying: {StageExtracting, StageRetrieving, StageCompleted},
	StageExtracting:  {StageEstimating},
	StageEstimating:  {StagePersisting},
	StagePersisting:  {StageCompleted},
	StageRetrieving:  {StageCompleted},
}

func CanTransition(from, to Stage) bool {
	if from.Terminal() {
		// A resubmission restarts a finished entry.
		return to == StagePending
	}
	if to == StageFailed {
		return true
	}
	for _, s := range nextStages[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MediaRefs are opaque references to media owned by another system.
type MediaRefs struct {
	AudioRef    string   `json:"audio_ref,omitempty"`
	ImageRefs   []string `json:"image_refs,omitempty"`
	DocumentRef string   `json:"document_ref,omitempty"`
}

func (m MediaRefs) Empty() bool {
	return m.AudioRef == "" && len(m.ImageRefs) == 0 && m.DocumentRef == ""
}

// QuickEntry is one raw user submission and its processing state.
type QuickEntry struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_quick_entry_user_hash,unique,priority:1" json:"user_id"`

	ContentHash    string                              `gorm:"type:text;not null;index:idx_quick_entry_user_hash,unique,priority:2" json:"content_hash"`
	Modalities     datatypes.JSONType[[]Modality]      `json:"modalities"`
	RawText        string                              `gorm:"type:text;not null;default:''" json:"raw_text"`
	NormalizedText string                              `gorm:"type:text;not null;default:''" json:"normalized_text"`
	MediaRefs      datatypes.JSONType[MediaRefs]       `json:"media_refs"`
	SubmittedAt    time.Time                           `gorm:"not null;index" json:"submitted_at"`
	OccurredAt     *time.Time                          `json:"occurred_at,omitempty"`
	Status         Status                              `gorm:"type:text;not null;index" json:"status"`
	Stage          Stage                               `gorm:"type:text;not null;index" json:"stage"`
	StageAt        time.Time                           `gorm:"not null;index" json:"stage_at"`
	Classification datatypes.JSONType[*Classification] `json:"classification"`

	RecordID      *uuid.UUID `gorm:"type:uuid" json:"record_id,omitempty"`
	RecordSubtype Subtype    `gorm:"type:text;not null;default:''" json:"record_subtype,omitempty"`
	EmbeddingID   *uuid.UUID `gorm:"type:uuid" json:"embedding_id,omitempty"`

	// Draft holds the previewed record and estimate awaiting commit.
	Draft       datatypes.JSON                `json:"draft,omitempty"`
	ChatContext datatypes.JSONType[[]Snippet] `json:"chat_context"`
	Revision    int                           `gorm:"not null;default:1" json:"revision"`

	ErrorKind     ErrorKind                     `gorm:"type:text;not null;default:''" json:"error_kind,omitempty"`
	ErrorStage    Stage                         `gorm:"type:text;not null;default:''" json:"error_stage,omitempty"`
	ErrorMessage  string                        `gorm:"type:text;not null;default:''" json:"error_message,omitempty"`
	ProviderTrail datatypes.JSONType[[]Attempt] `json:"provider_trail"`

	RetiredAt *time.Time `gorm:"index" json:"retired_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (QuickEntry) TableName() string { return "quick_entry" }

// EventTime is the caller-supplied occurrence time, or the submission time.
func (e *QuickEntry) EventTime() time.Time {
	if e.OccurredAt != nil && !e.OccurredAt.IsZero() {
		return *e.OccurredAt
	}
	return e.SubmittedAt
}

func (e *QuickEntry) ClassificationResult() *Classification {
	return e.Classification.Data()
}

// Attempt is one provider call made on behalf of an entry.
type Attempt struct {
	Capability string    `json:"capability"`
	Provider   string    `json:"provider"`
	Attempt    int       `json:"attempt"`
	Success    bool      `json:"success"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	CostUSD    float64   `json:"cost_usd,omitempty"`
}

// Snippet is one formatted retrieval result handed to the chat surface.
type Snippet struct {
	QuickEntryID uuid.UUID `json:"quick_entry_id"`
	Subtype      Subtype   `json:"subtype"`
	EventAt      time.Time `json:"event_at"`
	Similarity   float64   `json:"similarity"`
	Text         string    `json:"text"`
}

// Draft is the previewed result of a log-path entry, stored until commit.
type Draft struct {
	Subtype  Subtype          `json:"subtype"`
	Record   json.RawMessage  `json:"record"`
	Estimate *PatternEstimate `json:"estimate,omitempty"`
}
