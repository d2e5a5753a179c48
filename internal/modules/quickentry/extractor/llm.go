package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/platform/openai"
)

// LLM extracts with a structured-output model call per subtype. Notes are
// kept verbatim and never sent to the model.
type LLM struct {
	Client openai.Client
}

func (l *LLM) Name() string { return "llm" }

func nullableNumber() map[string]any {
	return map[string]any{"type": []any{"number", "null"}}
}

func recordSchema(subtype entries.Subtype) (string, map[string]any) {
	switch subtype {
	case entries.SubtypeMeal:
		item := map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"name":      map[string]any{"type": "string"},
				"quantity":  nullableNumber(),
				"unit":      map[string]any{"type": "string"},
				"calories":  nullableNumber(),
				"protein_g": nullableNumber(),
				"carbs_g":   nullableNumber(),
				"fat_g":     nullableNumber(),
			},
			"required": []any{"name", "quantity", "unit", "calories", "protein_g", "carbs_g", "fat_g"},
		}
		return "quick_entry_meal_v1", map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"meal_type": map[string]any{"type": "string", "enum": []any{"breakfast", "lunch", "dinner", "snack", ""}},
				"items":     map[string]any{"type": "array", "items": item},
				"calories":  nullableNumber(),
				"protein_g": nullableNumber(),
				"carbs_g":   nullableNumber(),
				"fat_g":     nullableNumber(),
			},
			"required": []any{"meal_type", "items", "calories", "protein_g", "carbs_g", "fat_g"},
		}
	case entries.SubtypeWorkout:
		return "quick_entry_workout_v1", map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"activity":        map[string]any{"type": "string"},
				"distance_km":     nullableNumber(),
				"duration_min":    nullableNumber(),
				"sets":            nullableNumber(),
				"reps":            nullableNumber(),
				"load_kg":         nullableNumber(),
				"calories_burned": nullableNumber(),
				"intensity":       map[string]any{"type": "string", "enum": []any{"low", "moderate", "high", ""}},
			},
			"required": []any{"activity", "distance_km", "duration_min", "sets", "reps", "load_kg", "calories_burned", "intensity"},
		}
	case entries.SubtypeMeasurement:
		return "quick_entry_measurement_v1", map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"kind": map[string]any{
					"type": "string",
					"enum": []any{"weight", "body_fat", "blood_pressure", "heart_rate", "waist", "sleep", "other"},
				},
				"value":     nullableNumber(),
				"unit":      map[string]any{"type": "string"},
				"secondary": nullableNumber(),
			},
			"required": []any{"kind", "value", "unit", "secondary"},
		}
	}
	return "", nil
}

var subtypeRules = map[entries.Subtype]string{
	entries.SubtypeMeal: strings.Join([]string{
		"Split the message into food items. quantity is the stated amount and unit its stated unit (g, ml, cup, slice, whole for a plain count).",
		"Vague amounts such as a, some, a bowl of, a plate of have quantity=null.",
		"Only give calories or macros that the message states; otherwise null.",
	}, "\n"),
	entries.SubtypeWorkout: strings.Join([]string{
		"activity is a short lowercase name (run, walk, cycle, swim, squat, bench press, yoga).",
		"Convert stated distances to km, durations to minutes and loads to kg. Null anything not stated.",
	}, "\n"),
	entries.SubtypeMeasurement: strings.Join([]string{
		"value is the stated reading in its stated unit. For blood pressure value is systolic, secondary is diastolic and unit is mmHg.",
		"A reading without a stated unit has value=null.",
	}, "\n"),
}

func (l *LLM) Extract(ctx context.Context, text string, subtype entries.Subtype) (entries.Record, error) {
	if subtype == entries.SubtypeNote {
		return parseNote(text), nil
	}
	if l.Client == nil {
		return nil, fmt.Errorf("llm extractor has no client")
	}
	name, schema := recordSchema(subtype)
	if schema == nil {
		return nil, entries.NewError(entries.KindExtractionFailed, fmt.Sprintf("no schema for subtype %q", subtype), nil)
	}
	system := strings.Join([]string{
		"You turn a short health and fitness log message into a structured " + string(subtype) + " record.",
		"Use ONLY facts written in the message. Never estimate, look up or invent a number.",
		subtypeRules[subtype],
		"Return ONLY JSON matching the schema.",
	}, "\n")
	user := "MESSAGE:\n" + text

	obj, err := l.Client.GenerateJSON(ctx, system, user, name, schema)
	if err != nil {
		return nil, err
	}
	b, _ := json.Marshal(obj)
	rec, err := entries.DecodeRecordAs(subtype, b)
	if err != nil {
		return nil, capability.Permanent(entries.NewError(entries.KindExtractionFailed, "unparseable record", err))
	}
	normalizeUnits(rec)
	return rec, nil
}

// normalizeUnits canonicalizes spelled units and drops quantities the model
// returned without one.
func normalizeUnits(r entries.Record) {
	switch rec := r.(type) {
	case *entries.MealRecord:
		items := rec.FoodItems()
		out := items[:0]
		for _, it := range items {
			it.Name = strings.TrimSpace(it.Name)
			if it.Name == "" {
				continue
			}
			if u, _, ok := entries.ResolveUnit(it.Unit); ok {
				it.Unit = u
			} else {
				it.Unit = strings.ToLower(strings.TrimSpace(it.Unit))
			}
			if it.Quantity != nil && it.Unit == "" {
				it.Quantity = nil
			}
			out = append(out, it)
		}
		rec.SetItems(out)
	case *entries.WorkoutRecord:
		rec.Activity = strings.ToLower(strings.TrimSpace(rec.Activity))
		if rec.Activity == "" {
			rec.Activity = "workout"
		}
	case *entries.MeasurementRecord:
		if u, _, ok := entries.ResolveUnit(rec.Unit); ok {
			rec.Unit = u
		}
		if strings.TrimSpace(rec.Unit) == "" {
			rec.Value, rec.Secondary = nil, nil
		}
		if rec.Kind == "" {
			rec.Kind = entries.MeasureOther
		}
	case *entries.NoteRecord:
	}
}
