package entries

import "github.com/google/uuid"

type Tier string

const (
	TierBaseline Tier = "baseline"
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
)

// Rank orders tiers from baseline (0) to high (3).
func (t Tier) Rank() int {
	switch t {
	case TierLow:
		return 1
	case TierMedium:
		return 2
	case TierHigh:
		return 3
	default:
		return 0
	}
}

// FieldEstimate is the estimate for one numeric field. Min and Max are nil
// for baseline defaults.
type FieldEstimate struct {
	Point       float64  `json:"point"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Mean        float64  `json:"mean"`
	StdDev      float64  `json:"std_dev"`
	Consistency float64  `json:"consistency"`
	Samples     int      `json:"samples"`
}

// PatternEstimate is computed per request and never stored on its own.
type PatternEstimate struct {
	Subtype       Subtype                  `json:"subtype"`
	Fields        map[string]FieldEstimate `json:"fields"`
	Filled        []string                 `json:"filled,omitempty"`
	SampleSize    int                      `json:"sample_size"`
	Tier          Tier                     `json:"tier"`
	Confidence    float64                  `json:"confidence"`
	Consistency   float64                  `json:"consistency"`
	RecencyFactor float64                  `json:"recency_factor"`
	TimeOfDay     TimeOfDay                `json:"time_of_day,omitempty"`
	CandidateIDs  []uuid.UUID              `json:"candidate_ids,omitempty"`
	Provenance    string                   `json:"provenance"`
}
