package extractor

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
	"github.com/yungbote/quickentry-backend/internal/platform/openai"
)

type fakeLLMClient struct {
	openai.Client
	obj   map[string]any
	err   error
	calls int
}

func (f *fakeLLMClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.calls++
	return f.obj, f.err
}

var submitted = time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

func newService(t *testing.T, providers ...Provider) Service {
	t.Helper()
	pol := policy.Default()
	runner, err := capability.NewRunner(logger.Nop(), pol, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	svc, err := NewService(logger.Nop(), runner, pol.Extractor, pol.DayBuckets, providers...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func num(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func TestRulesMeal(t *testing.T) {
	type item struct {
		name string
		qty  any
		unit string
	}
	cases := []struct {
		text     string
		mealType entries.MealType
		items    []item
		calories any
		protein  any
	}{
		{
			text:     "I ate 3 eggs and oatmeal for breakfast",
			mealType: entries.MealBreakfast,
			items:    []item{{"eggs", 3.0, "whole"}, {"oatmeal", nil, ""}},
		},
		{
			text:  "had a bowl of rice and some chicken",
			items: []item{{"rice", nil, ""}, {"chicken", nil, ""}},
		},
		{
			text:     "200g chicken breast with 2 cups of rice, 650 calories and 45g protein",
			items:    []item{{"chicken breast", 200.0, "g"}, {"rice", 2.0, "cup"}},
			calories: 650.0,
			protein:  45.0,
		},
		{
			text:  "half an avocado and two slices of toast",
			items: []item{{"avocado", 0.5, "whole"}, {"toast", 2.0, "slice"}},
		},
		{
			text:     "had lunch",
			mealType: entries.MealLunch,
		},
		{
			text:  "ate 2 eggs, how much protein is that?",
			items: []item{{"eggs", 2.0, "whole"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			m := parseMeal(tc.text)
			if m.MealType != tc.mealType {
				t.Fatalf("meal type: want=%q got=%q", tc.mealType, m.MealType)
			}
			got := m.FoodItems()
			if len(got) != len(tc.items) {
				t.Fatalf("items: want=%d got=%+v", len(tc.items), got)
			}
			for i, want := range tc.items {
				if got[i].Name != want.name || num(got[i].Quantity) != want.qty || got[i].Unit != want.unit {
					t.Fatalf("item %d: want=%+v got={%s %v %s}", i, want, got[i].Name, num(got[i].Quantity), got[i].Unit)
				}
			}
			if num(m.Calories) != tc.calories || num(m.ProteinG) != tc.protein {
				t.Fatalf("macros: want=%v/%v got=%v/%v", tc.calories, tc.protein, num(m.Calories), num(m.ProteinG))
			}
			if err := m.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestRulesWorkout(t *testing.T) {
	cases := []struct {
		text      string
		activity  string
		distance  any
		duration  any
		sets      any
		reps      any
		load      any
		burned    any
		intensity string
	}{
		{text: "ran 5k in 25 min", activity: "run", distance: 5.0, duration: 25.0},
		{text: "walked 3 miles", activity: "walk", distance: 4.83},
		{text: "did 3 sets of 10 squats at 135 lbs", activity: "squat", sets: 3.0, reps: 10.0, load: 61.23},
		{text: "bench 5x5 100kg", activity: "bench press", sets: 5.0, reps: 5.0, load: 100.0},
		{text: "hard 45 minute spin class, 400 calories", activity: "cycle", duration: 45.0, burned: 400.0, intensity: "high"},
		{text: "swam 1500m", activity: "swim", distance: 1.5},
		{text: "yoga", activity: "yoga"},
		{text: "went to the gym", activity: "workout"},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			w := parseWorkout(tc.text)
			if w.Activity != tc.activity {
				t.Fatalf("activity: want=%q got=%q", tc.activity, w.Activity)
			}
			got := []any{num(w.DistanceKm), num(w.DurationMin), num(w.Sets), num(w.Reps), num(w.LoadKg), num(w.CaloriesBurned)}
			want := []any{tc.distance, tc.duration, tc.sets, tc.reps, tc.load, tc.burned}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("numbers (distance, duration, sets, reps, load, burned): want=%v got=%v", want, got)
			}
			if w.Intensity != tc.intensity {
				t.Fatalf("intensity: want=%q got=%q", tc.intensity, w.Intensity)
			}
		})
	}
}

func TestRulesMeasurement(t *testing.T) {
	cases := []struct {
		text      string
		kind      entries.MeasurementKind
		value     any
		secondary any
		unit      string
	}{
		{"bp 120/80 this morning", entries.MeasureBloodPressure, 120.0, 80.0, "mmHg"},
		{"weighed 180.4 lbs", entries.MeasureWeight, 180.4, nil, "lb"},
		{"weight 82", entries.MeasureWeight, nil, nil, ""},
		{"resting hr 58", entries.MeasureHeartRate, 58.0, nil, "bpm"},
		{"body fat 18.5%", entries.MeasureBodyFat, 18.5, nil, "%"},
		{"slept 7.5 hours", entries.MeasureSleep, 7.5, nil, "h"},
		{"waist 34 in", entries.MeasureWaist, 34.0, nil, "in"},
		{"felt bloated", entries.MeasureOther, nil, nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			m := parseMeasurement(tc.text)
			if m.Kind != tc.kind || num(m.Value) != tc.value || num(m.Secondary) != tc.secondary || m.Unit != tc.unit {
				t.Fatalf("want=%s %v/%v %s got=%s %v/%v %s", tc.kind, tc.value, tc.secondary, tc.unit,
					m.Kind, num(m.Value), num(m.Secondary), m.Unit)
			}
			if err := m.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestRulesNoteTags(t *testing.T) {
	n := parseNote("  rough day #stress #Work #stress ")
	if n.Text != "rough day #stress #Work #stress" {
		t.Fatalf("text: got=%q", n.Text)
	}
	if got := n.Tags.Data(); !reflect.DeepEqual(got, []string{"stress", "work"}) {
		t.Fatalf("tags: got=%v", got)
	}
}

func TestEnforceTraceabilityDropsInventedNumbers(t *testing.T) {
	client := &fakeLLMClient{obj: map[string]any{
		"meal_type": "breakfast",
		"items": []any{
			map[string]any{"name": "eggs", "quantity": 3.0, "unit": "whole", "calories": 210.0, "protein_g": 18.0, "carbs_g": nil, "fat_g": nil},
			map[string]any{"name": "oatmeal", "quantity": 40.0, "unit": "g", "calories": nil, "protein_g": nil, "carbs_g": nil, "fat_g": nil},
		},
		"calories":  360.0,
		"protein_g": nil,
		"carbs_g":   nil,
		"fat_g":     nil,
	}}
	svc := newService(t, &LLM{Client: client}, Rules{})
	rec, attempts, err := svc.Extract(context.Background(), Input{
		Text:        "I ate 3 eggs and oatmeal for breakfast",
		Subtype:     entries.SubtypeMeal,
		SubmittedAt: submitted,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Provider != "llm" {
		t.Fatalf("attempts: got=%+v", attempts)
	}
	m := rec.(*entries.MealRecord)
	items := m.FoodItems()
	if num(items[0].Quantity) != 3.0 || items[0].Calories != nil || items[0].ProteinG != nil {
		t.Fatalf("eggs: stated quantity kept, invented macros dropped: got=%+v", items[0])
	}
	if items[1].Quantity != nil || items[1].Unit != "" {
		t.Fatalf("oatmeal: invented grams must be dropped: got=%+v", items[1])
	}
	if m.Calories != nil {
		t.Fatalf("calories: want=nil got=%v", *m.Calories)
	}
}

func TestEnforceTraceabilityAllowsUnitConversions(t *testing.T) {
	w := &entries.WorkoutRecord{Activity: "run", DistanceKm: ptr(4.83), DurationMin: ptr(30)}
	cleared := EnforceTraceability(w, "ran 3 miles")
	if !reflect.DeepEqual(cleared, []string{"duration_min"}) {
		t.Fatalf("cleared: want=[duration_min] got=%v", cleared)
	}
	if num(w.DistanceKm) != 4.83 || w.DurationMin != nil {
		t.Fatalf("after: distance=%v duration=%v", num(w.DistanceKm), num(w.DurationMin))
	}

	m := &entries.MeasurementRecord{Kind: entries.MeasureWeight, Value: ptr(81.65), Unit: "kg"}
	if cleared := EnforceTraceability(m, "weighed one hundred eighty pounds"); len(cleared) != 1 {
		t.Fatalf("number words not stated must not trace: cleared=%v", cleared)
	}
	m = &entries.MeasurementRecord{Kind: entries.MeasureWeight, Value: ptr(81.65), Unit: "kg"}
	if cleared := EnforceTraceability(m, "weighed 180 lbs"); len(cleared) != 0 {
		t.Fatalf("lb to kg conversion should trace: cleared=%v", cleared)
	}
}

func TestExtractRejectsEmptyInput(t *testing.T) {
	svc := newService(t, Rules{})
	for _, text := range []string{"", "   ", "?!..."} {
		_, attempts, err := svc.Extract(context.Background(), Input{Text: text, Subtype: entries.SubtypeMeal, SubmittedAt: submitted})
		if !entries.IsKind(err, entries.KindExtractionFailed) {
			t.Fatalf("Extract(%q): want=ExtractionFailed got=%v", text, err)
		}
		if len(attempts) != 0 {
			t.Fatalf("Extract(%q): no provider should be called, attempts=%d", text, len(attempts))
		}
	}
}

func TestExtractFallsBackToRules(t *testing.T) {
	client := &fakeLLMClient{err: errors.New("model overloaded")}
	svc := newService(t, &LLM{Client: client}, Rules{})
	rec, attempts, err := svc.Extract(context.Background(), Input{
		Text:        "ran 5k this morning",
		Subtype:     entries.SubtypeWorkout,
		SubmittedAt: submitted,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if client.calls != 1 || len(attempts) != 2 || attempts[1].Provider != "rules" {
		t.Fatalf("fallback: calls=%d attempts=%+v", client.calls, attempts)
	}
	w := rec.(*entries.WorkoutRecord)
	if w.Activity != "run" || num(w.DistanceKm) != 5.0 {
		t.Fatalf("record: got=%s %v", w.Activity, num(w.DistanceKm))
	}
	h := rec.Header()
	if want := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC); !h.EventAt.Equal(want) {
		t.Fatalf("event at: want=%s got=%s", want, h.EventAt)
	}
	if h.TimeOfDay != entries.TimeMorning {
		t.Fatalf("time of day: want=morning got=%s", h.TimeOfDay)
	}
	if h.FieldSource("distance_km") != entries.ProvenanceAIExtracted || h.FieldSource("duration_min") != "" {
		t.Fatalf("provenance: got=%v", h.FieldProvenance.Data())
	}
}

func TestLLMDropsQuantityWithoutUnit(t *testing.T) {
	client := &fakeLLMClient{obj: map[string]any{
		"meal_type": "",
		"items": []any{
			map[string]any{"name": "Toast", "quantity": 2.0, "unit": "", "calories": nil, "protein_g": nil, "carbs_g": nil, "fat_g": nil},
			map[string]any{"name": "jam", "quantity": 1.0, "unit": "Tablespoons", "calories": nil, "protein_g": nil, "carbs_g": nil, "fat_g": nil},
		},
		"calories": nil, "protein_g": nil, "carbs_g": nil, "fat_g": nil,
	}}
	rec, err := (&LLM{Client: client}).Extract(context.Background(), "2 toast with 1 tablespoons jam", entries.SubtypeMeal)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	items := rec.(*entries.MealRecord).FoodItems()
	if items[0].Quantity != nil {
		t.Fatalf("quantity without unit: want=nil got=%v", *items[0].Quantity)
	}
	if items[1].Unit != "tbsp" {
		t.Fatalf("unit canonicalized: want=tbsp got=%q", items[1].Unit)
	}
}

func TestLLMUnparseableIsPermanent(t *testing.T) {
	client := &fakeLLMClient{obj: map[string]any{"items": "not-a-list"}}
	svc := newService(t, &LLM{Client: client}, Rules{})
	rec, attempts, err := svc.Extract(context.Background(), Input{Text: "ate 3 eggs", Subtype: entries.SubtypeMeal, SubmittedAt: submitted})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if client.calls != 1 || attempts[0].ErrorKind != entries.KindExtractionFailed {
		t.Fatalf("llm attempt: calls=%d attempts=%+v", client.calls, attempts)
	}
	if len(rec.(*entries.MealRecord).FoodItems()) != 1 {
		t.Fatalf("rules result expected")
	}
}

func TestResolveEventTime(t *testing.T) {
	occurred := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	day := func(d, h, m int) time.Time { return time.Date(2026, 3, d, h, m, 0, 0, time.UTC) }
	cases := []struct {
		text     string
		occurred *time.Time
		want     time.Time
		tod      entries.TimeOfDay
	}{
		{"ran 5k this morning", nil, day(10, 8, 0), entries.TimeMorning},
		{"pizza last night", nil, day(9, 22, 0), entries.TimeNight},
		{"ate eggs yesterday", nil, day(9, 12, 30), entries.TimeAfternoon},
		{"yesterday morning run", nil, day(9, 8, 0), entries.TimeMorning},
		{"dinner at 7pm", nil, day(9, 19, 0), entries.TimeEvening},
		{"coffee at 7:30am", nil, day(10, 7, 30), entries.TimeMorning},
		{"ate 2 hours ago", nil, day(10, 10, 30), entries.TimeMorning},
		{"just finished a run", nil, submitted, entries.TimeAfternoon},
		{"walk this evening", nil, submitted, entries.TimeEvening},
		{"2 amazing eggs", nil, submitted, entries.TimeAfternoon},
		{"ran 5k this morning", &occurred, occurred, entries.TimeMorning},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got, tod := ResolveEventTime(tc.text, submitted, tc.occurred, entries.DefaultDayBuckets())
			if !got.Equal(tc.want) {
				t.Fatalf("event at: want=%s got=%s", tc.want, got)
			}
			if tod != tc.tod {
				t.Fatalf("time of day: want=%s got=%s", tc.tod, tod)
			}
			if tc.occurred == nil && got.After(submitted) {
				t.Fatalf("event after submission: %s", got)
			}
		})
	}
}

func TestSourceNumbers(t *testing.T) {
	got := sourceNumbers("two eggs, 1/2 cup oats and 1.5 bananas")
	want := []float64{1, 2, 1.5, 2, 0.5}
	if len(got) != len(want) {
		t.Fatalf("sourceNumbers: want=%v got=%v", want, got)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("sourceNumbers[%d]: want=%v got=%v", i, want[i], got[i])
		}
	}
}
