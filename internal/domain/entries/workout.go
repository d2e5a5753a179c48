package entries

import (
	"fmt"
	"strings"
)

type WorkoutRecord struct {
	RecordHeader
	Activity       string   `gorm:"type:text;not null;default:''" json:"activity"`
	DistanceKm     *float64 `json:"distance_km"`
	DurationMin    *float64 `json:"duration_min"`
	Sets           *float64 `json:"sets"`
	Reps           *float64 `json:"reps"`
	LoadKg         *float64 `json:"load_kg"`
	CaloriesBurned *float64 `json:"calories_burned"`
	Intensity      string   `gorm:"type:text;not null;default:''" json:"intensity,omitempty"`
}

func (WorkoutRecord) TableName() string { return "workout_record" }

func (w *WorkoutRecord) Subtype() Subtype      { return SubtypeWorkout }
func (w *WorkoutRecord) Header() *RecordHeader { return &w.RecordHeader }
func (w *WorkoutRecord) record()               {}

func (w *WorkoutRecord) Numeric() map[string]*float64 {
	return map[string]*float64{
		"distance_km":     w.DistanceKm,
		"duration_min":    w.DurationMin,
		"sets":            w.Sets,
		"reps":            w.Reps,
		"load_kg":         w.LoadKg,
		"calories_burned": w.CaloriesBurned,
	}
}

func (w *WorkoutRecord) SetNumeric(field string, v float64) bool {
	switch field {
	case "distance_km":
		w.DistanceKm = &v
	case "duration_min":
		w.DurationMin = &v
	case "sets":
		w.Sets = &v
	case "reps":
		w.Reps = &v
	case "load_kg":
		w.LoadKg = &v
	case "calories_burned":
		w.CaloriesBurned = &v
	default:
		return false
	}
	return true
}

func (w *WorkoutRecord) ClearNumeric(field string) bool {
	switch field {
	case "distance_km":
		w.DistanceKm = nil
	case "duration_min":
		w.DurationMin = nil
	case "sets":
		w.Sets = nil
	case "reps":
		w.Reps = nil
	case "load_kg":
		w.LoadKg = nil
	case "calories_burned":
		w.CaloriesBurned = nil
	default:
		return false
	}
	return true
}

func (w *WorkoutRecord) Summary() string {
	parts := []string{w.Activity}
	if w.DistanceKm != nil {
		parts = append(parts, formatNum(*w.DistanceKm)+" km")
	}
	if w.DurationMin != nil {
		parts = append(parts, formatNum(*w.DurationMin)+" min")
	}
	if w.Sets != nil && w.Reps != nil {
		parts = append(parts, fmt.Sprintf("%sx%s", formatNum(*w.Sets), formatNum(*w.Reps)))
	}
	if w.LoadKg != nil {
		parts = append(parts, formatNum(*w.LoadKg)+" kg")
	}
	if w.CaloriesBurned != nil {
		parts = append(parts, formatNum(*w.CaloriesBurned)+" kcal")
	}
	return strings.Join(parts, ", ")
}

func (w *WorkoutRecord) Validate() error {
	if strings.TrimSpace(w.Activity) == "" {
		return NewError(KindValidation, "workout without activity", nil)
	}
	for name, v := range w.Numeric() {
		if v != nil && *v < 0 {
			return NewError(KindValidation, fmt.Sprintf("%s is negative", name), nil)
		}
	}
	return nil
}
