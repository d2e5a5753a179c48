package entries

import (
	"strings"

	"gorm.io/datatypes"
)

// NoteRecord is the fallback shape for loggable entries with no numeric content.
type NoteRecord struct {
	RecordHeader
	Text string                       `gorm:"type:text;not null" json:"text"`
	Tags datatypes.JSONType[[]string] `json:"tags"`
}

func (NoteRecord) TableName() string { return "note_record" }

func (n *NoteRecord) Subtype() Subtype                { return SubtypeNote }
func (n *NoteRecord) Header() *RecordHeader           { return &n.RecordHeader }
func (n *NoteRecord) record()                         {}
func (n *NoteRecord) Numeric() map[string]*float64    { return map[string]*float64{} }
func (n *NoteRecord) SetNumeric(string, float64) bool { return false }
func (n *NoteRecord) ClearNumeric(string) bool        { return false }

func (n *NoteRecord) Summary() string {
	r := []rune(strings.TrimSpace(n.Text))
	if len(r) > 160 {
		return string(r[:157]) + "..."
	}
	return string(r)
}

func (n *NoteRecord) Validate() error {
	if strings.TrimSpace(n.Text) == "" {
		return NewError(KindValidation, "empty note", nil)
	}
	return nil
}
