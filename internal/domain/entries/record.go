package entries

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Provenance records where a value came from.
type Provenance string

const (
	ProvenanceUserEntered      Provenance = "user-entered"
	ProvenanceAIExtracted      Provenance = "ai-extracted"
	ProvenancePatternEstimated Provenance = "pattern-estimated"
)

// RecordHeader is shared by every structured record table.
type RecordHeader struct {
	ID              uuid.UUID                                 `gorm:"type:uuid;primaryKey" json:"id"`
	QuickEntryID    uuid.UUID                                 `gorm:"type:uuid;not null;uniqueIndex" json:"quick_entry_id"`
	UserID          uuid.UUID                                 `gorm:"type:uuid;not null;index" json:"user_id"`
	EventAt         time.Time                                 `gorm:"not null;index" json:"event_at"`
	TimeOfDay       TimeOfDay                                 `gorm:"type:text;not null;default:''" json:"time_of_day,omitempty"`
	Provenance      Provenance                                `gorm:"type:text;not null" json:"provenance"`
	FieldProvenance datatypes.JSONType[map[string]Provenance] `json:"field_provenance"`
	Confidence      float64                                   `gorm:"not null;default:0" json:"confidence"`
	Revision        int                                       `gorm:"not null;default:1" json:"revision"`
	CreatedAt       time.Time                                 `json:"created_at"`
	UpdatedAt       time.Time                                 `json:"updated_at"`
}

func (h *RecordHeader) FieldSource(field string) Provenance {
	return h.FieldProvenance.Data()[field]
}

func (h *RecordHeader) SetFieldSource(field string, p Provenance) {
	cur := h.FieldProvenance.Data()
	next := make(map[string]Provenance, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[field] = p
	h.FieldProvenance = datatypes.NewJSONType(next)
}

// Record is the closed set of structured record shapes. Every stage switches
// over the concrete variants.
type Record interface {
	Subtype() Subtype
	Header() *RecordHeader
	// Numeric returns the record fields the pattern estimator may fill.
	Numeric() map[string]*float64
	// SetNumeric fills a numeric field; unknown names return false.
	SetNumeric(field string, v float64) bool
	// ClearNumeric unsets a numeric field; unknown names return false.
	ClearNumeric(field string) bool
	Summary() string
	Validate() error
	record()
}

// NewRecord returns an empty record for subtype.
func NewRecord(subtype Subtype) (Record, error) {
	switch subtype {
	case SubtypeMeal:
		return &MealRecord{}, nil
	case SubtypeWorkout:
		return &WorkoutRecord{}, nil
	case SubtypeMeasurement:
		return &MeasurementRecord{}, nil
	case SubtypeNote:
		return &NoteRecord{}, nil
	default:
		return nil, NewError(KindValidation, fmt.Sprintf("unknown subtype %q", subtype), nil)
	}
}

// ObservedNumeric returns the numeric fields that were stated rather than
// estimated, so estimates never feed later estimates.
func ObservedNumeric(r Record) map[string]float64 {
	out := map[string]float64{}
	h := r.Header()
	for name, v := range r.Numeric() {
		if v == nil || h.FieldSource(name) == ProvenancePatternEstimated {
			continue
		}
		out[name] = *v
	}
	return out
}

// MarkExtracted tags every set numeric field with p unless it already has a source.
func MarkExtracted(r Record, p Provenance) {
	h := r.Header()
	for name, v := range r.Numeric() {
		if v != nil && h.FieldSource(name) == "" {
			h.SetFieldSource(name, p)
		}
	}
	if h.Provenance == "" {
		h.Provenance = p
	}
}

type recordEnvelope struct {
	Subtype Subtype         `json:"subtype"`
	Record  json.RawMessage `json:"record"`
}

func EncodeRecord(r Record) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recordEnvelope{Subtype: r.Subtype(), Record: raw})
}

func DecodeRecord(b []byte) (Record, error) {
	var env recordEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return DecodeRecordAs(env.Subtype, env.Record)
}

func DecodeRecordAs(subtype Subtype, raw []byte) (Record, error) {
	r, err := NewRecord(subtype)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, r); err != nil {
			return nil, NewError(KindValidation, "decode record", err)
		}
	}
	return r, nil
}

func formatNum(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
