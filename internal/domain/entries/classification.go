package entries

import (
	"fmt"
	"strings"
)

type Mode string

const (
	ModeChat Mode = "chat"
	ModeLog  Mode = "log"
)

type Subtype string

const (
	SubtypeMeal        Subtype = "meal"
	SubtypeWorkout     Subtype = "workout"
	SubtypeMeasurement Subtype = "measurement"
	SubtypeNote        Subtype = "note"
)

var Subtypes = []Subtype{SubtypeMeal, SubtypeWorkout, SubtypeMeasurement, SubtypeNote}

func ParseSubtype(s string) (Subtype, bool) {
	switch Subtype(strings.ToLower(strings.TrimSpace(s))) {
	case SubtypeMeal:
		return SubtypeMeal, true
	case SubtypeWorkout:
		return SubtypeWorkout, true
	case SubtypeMeasurement:
		return SubtypeMeasurement, true
	case SubtypeNote:
		return SubtypeNote, true
	default:
		return "", false
	}
}

// Classification is the chat/log decision for an entry.
type Classification struct {
	Mode               Mode     `json:"mode"`
	Subtype            *Subtype `json:"subtype,omitempty"`
	Confidence         float64  `json:"confidence"`
	Rationale          string   `json:"rationale,omitempty"`
	NeedsClarification bool     `json:"needs_clarification"`
	Provider           string   `json:"provider,omitempty"`
}

// Validate checks that subtype is set exactly when mode is log.
func (c Classification) Validate() error {
	switch c.Mode {
	case ModeLog:
		if c.Subtype == nil {
			return fmt.Errorf("log classification without subtype")
		}
		if _, ok := ParseSubtype(string(*c.Subtype)); !ok {
			return fmt.Errorf("unknown subtype %q", *c.Subtype)
		}
	case ModeChat:
		if c.Subtype != nil {
			return fmt.Errorf("chat classification with subtype %q", *c.Subtype)
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", c.Confidence)
	}
	return nil
}

func (c Classification) IsLog() bool { return c.Mode == ModeLog && c.Subtype != nil }

// Clarify turns a result into a chat classification that asks the user to
// disambiguate, keeping the original confidence and rationale.
func (c Classification) Clarify() Classification {
	return Classification{
		Mode:               ModeChat,
		Confidence:         c.Confidence,
		Rationale:          c.Rationale,
		NeedsClarification: true,
		Provider:           c.Provider,
	}
}

func LogAs(subtype Subtype, confidence float64, rationale string) Classification {
	st := subtype
	return Classification{Mode: ModeLog, Subtype: &st, Confidence: confidence, Rationale: rationale}
}

func ChatAs(confidence float64, rationale string) Classification {
	return Classification{Mode: ModeChat, Confidence: confidence, Rationale: rationale}
}
