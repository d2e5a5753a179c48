package extractor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/datatypes"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
)

// Rules is the deterministic parser. It only reads values that are written
// out in the text and leaves everything else nil.
type Rules struct{}

func (Rules) Name() string { return "rules" }

func (r Rules) Extract(_ context.Context, text string, subtype entries.Subtype) (entries.Record, error) {
	switch subtype {
	case entries.SubtypeMeal:
		return parseMeal(text), nil
	case entries.SubtypeWorkout:
		return parseWorkout(text), nil
	case entries.SubtypeMeasurement:
		return parseMeasurement(text), nil
	case entries.SubtypeNote:
		return parseNote(text), nil
	default:
		return nil, entries.NewError(entries.KindExtractionFailed, fmt.Sprintf("no rules for subtype %q", subtype), nil)
	}
}

// ---- meals ----

var (
	reCalories  = regexp.MustCompile(`(?:~|about |around |roughly )?(\d+(?:\.\d+)?)\s*(?:kcal|calories|cals?)\b`)
	reMacro     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:g|grams?)\s+(?:of\s+)?(protein|carbs?|carbohydrates|fat)\b`)
	reMealType  = regexp.MustCompile(`\b(breakfast|brunch|lunch|dinner|supper|snack)\b`)
	reMealLead  = regexp.MustCompile(`\b(?:ate|eaten|had|drank|consumed|snacked on|grabbed|finished|cooked|made)\b`)
	reClauseEnd = regexp.MustCompile(`[.;!?]|\b(?:for|at|this|last|yesterday|today|tonight|earlier|then|before|after|around|about|ago|because|but|how|what|why|which|should|could|would|is that|is it)\b`)
	reItemSplit = regexp.MustCompile(`\s*,\s*(?:and\s+)?|\s+(?:and|with|plus|&)\s+`)
)

var mealTypes = map[string]entries.MealType{
	"breakfast": entries.MealBreakfast,
	"brunch":    entries.MealBreakfast,
	"lunch":     entries.MealLunch,
	"dinner":    entries.MealDinner,
	"supper":    entries.MealDinner,
	"snack":     entries.MealSnack,
}

var fillerWords = map[string]bool{
	"i": true, "just": true, "also": true, "my": true, "the": true, "then": true,
	"we": true, "me": true, "on": true,
}

// vague quantities leave the amount unknown.
var vagueWords = map[string]bool{
	"a": true, "an": true, "some": true, "few": true, "little": true, "bit": true,
	"couple": true, "bunch": true, "lots": true, "lot": true, "plenty": true,
	"more": true, "of": true, "several": true, "handful": true,
}

// containers are counted vessels that do not say how much food they held.
var containers = map[string]string{
	"bowl": "bowl", "bowls": "bowl", "plate": "plate", "plates": "plate",
	"glass": "glass", "glasses": "glass", "mug": "mug", "mugs": "mug",
	"bottle": "bottle", "bottles": "bottle", "can": "can", "cans": "can",
	"bar": "bar", "bars": "bar", "box": "box", "bag": "bag", "pack": "pack",
}

func parseMeal(text string) *entries.MealRecord {
	lower := strings.ToLower(text)
	m := &entries.MealRecord{}

	if mt := reMealType.FindStringSubmatch(lower); mt != nil {
		m.MealType = mealTypes[mt[1]]
	}
	if c := reCalories.FindStringSubmatch(lower); c != nil {
		if v, ok := parseFloat(c[1]); ok {
			m.Calories = ptr(v)
		}
	}
	for _, mm := range reMacro.FindAllStringSubmatch(lower, -1) {
		v, ok := parseFloat(mm[1])
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(mm[2], "protein"):
			m.ProteinG = ptr(v)
		case strings.HasPrefix(mm[2], "carb"):
			m.CarbsG = ptr(v)
		case mm[2] == "fat":
			m.FatG = ptr(v)
		}
	}
	body := reCalories.ReplaceAllString(lower, " ")
	body = reMacro.ReplaceAllString(body, " ")

	if loc := reMealLead.FindStringIndex(body); loc != nil {
		body = body[loc[1]:]
	}
	if loc := reClauseEnd.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	body = reMealType.ReplaceAllString(body, " ")

	var items []entries.FoodItem
	for _, piece := range reItemSplit.Split(body, -1) {
		if it, ok := parseItem(piece); ok {
			items = append(items, it)
		}
	}
	m.SetItems(items)
	return m
}

func parseItem(raw string) (entries.FoodItem, bool) {
	words := strings.Fields(strings.Trim(raw, " .,;:!?-\"'()"))
	for len(words) > 0 && fillerWords[words[0]] {
		words = words[1:]
	}
	var it entries.FoodItem
	if v, n, glued, ok := leadingNumber(words); ok {
		words = words[n:]
		it.Quantity = ptr(v)
		it.Unit = glued
		if it.Unit == "" && len(words) > 1 {
			if u, _, ok := entries.ResolveUnit(words[0]); ok {
				it.Unit = u
				words = words[1:]
			} else if c, ok := containers[words[0]]; ok {
				it.Unit = c
				words = words[1:]
			}
		}
		if it.Unit == "" {
			it.Unit = entries.UnitWhole
		}
	} else {
		for len(words) > 0 && vagueWords[words[0]] {
			words = words[1:]
		}
		if len(words) > 1 {
			if _, ok := containers[words[0]]; ok {
				words = words[1:]
			} else if _, _, ok := entries.ResolveUnit(words[0]); ok {
				words = words[1:]
			}
		}
	}
	for len(words) > 0 && (words[0] == "of" || words[0] == "a" || words[0] == "an") {
		words = words[1:]
	}
	name := strings.TrimSpace(strings.Join(words, " "))
	if name == "" || reNumber.MatchString(name) && len(words) == 1 {
		return entries.FoodItem{}, false
	}
	it.Name = name
	return it, true
}

// ---- workouts ----

var activities = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`\b(?:bench(?:ed)?|bench press)\b`), "bench press"},
	{regexp.MustCompile(`\b(?:squats?|squatted)\b`), "squat"},
	{regexp.MustCompile(`\b(?:deadlifts?|deadlifted)\b`), "deadlift"},
	{regexp.MustCompile(`\b(?:push-?ups?)\b`), "push-up"},
	{regexp.MustCompile(`\b(?:pull-?ups?|chin-?ups?)\b`), "pull-up"},
	{regexp.MustCompile(`\b(?:ran|run|runs|running|jog|jogged|jogging|\d+k)\b`), "run"},
	{regexp.MustCompile(`\b(?:walk|walked|walking)\b`), "walk"},
	{regexp.MustCompile(`\b(?:hike|hiked|hiking)\b`), "hike"},
	{regexp.MustCompile(`\b(?:bike|biked|biking|cycle|cycled|cycling|ride|rode|spin)\b`), "cycle"},
	{regexp.MustCompile(`\b(?:swim|swam|swimming|laps)\b`), "swim"},
	{regexp.MustCompile(`\b(?:row|rowed|rowing)\b`), "row"},
	{regexp.MustCompile(`\byoga\b`), "yoga"},
	{regexp.MustCompile(`\bhiit\b`), "hiit"},
	{regexp.MustCompile(`\b(?:lifted|lifting|weights|strength)\b`), "strength"},
	{regexp.MustCompile(`\b(?:stretch|stretched|stretching|mobility)\b`), "mobility"},
}

var (
	reDistance  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(km|kms|kilometers?|k|mi|miles?|m|meters?)\b`)
	reDuration  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(min|mins|minutes?|h|hrs?|hours?|sec|secs|seconds)\b`)
	reSetsXReps = regexp.MustCompile(`\b(\d+)\s*(?:x|×)\s*(\d+)\b`)
	reSetsOf    = regexp.MustCompile(`\b(\d+)\s*sets?(?:\s+of\s+(\d+))?`)
	reReps      = regexp.MustCompile(`\b(\d+)\s*reps?\b`)
	reLoad      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(kg|kgs|kilos?|lb|lbs|pounds?)\b`)
	reBurned    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:kcal|cal|calories)\b`)
)

var intensityWords = []struct {
	re    *regexp.Regexp
	level string
}{
	{regexp.MustCompile(`\b(?:hard|intense|tough|brutal|sprints?|max effort|tempo)\b`), "high"},
	{regexp.MustCompile(`\b(?:moderate|steady)\b`), "moderate"},
	{regexp.MustCompile(`\b(?:easy|light|gentle|recovery|slow)\b`), "low"},
}

func parseWorkout(text string) *entries.WorkoutRecord {
	lower := strings.ToLower(text)
	w := &entries.WorkoutRecord{Activity: "workout"}
	for _, a := range activities {
		if a.re.MatchString(lower) {
			w.Activity = a.name
			break
		}
	}
	if d := reDistance.FindStringSubmatch(lower); d != nil {
		if v, ok := parseFloat(d[1]); ok {
			if km, ok := toUnit(v, d[2], "km"); ok {
				w.DistanceKm = ptr(km)
			}
		}
	}
	if d := reDuration.FindStringSubmatch(lower); d != nil {
		if v, ok := parseFloat(d[1]); ok {
			if mins, ok := toUnit(v, d[2], "min"); ok {
				w.DurationMin = ptr(mins)
			}
		}
	}
	if sr := reSetsXReps.FindStringSubmatch(lower); sr != nil {
		sets, _ := parseFloat(sr[1])
		reps, _ := parseFloat(sr[2])
		w.Sets, w.Reps = ptr(sets), ptr(reps)
	} else if so := reSetsOf.FindStringSubmatch(lower); so != nil {
		sets, _ := parseFloat(so[1])
		w.Sets = ptr(sets)
		if so[2] != "" {
			reps, _ := parseFloat(so[2])
			w.Reps = ptr(reps)
		}
	}
	if w.Reps == nil {
		if r := reReps.FindStringSubmatch(lower); r != nil {
			reps, _ := parseFloat(r[1])
			w.Reps = ptr(reps)
		}
	}
	if l := reLoad.FindStringSubmatch(lower); l != nil {
		if v, ok := parseFloat(l[1]); ok {
			if kg, ok := toUnit(v, l[2], "kg"); ok {
				w.LoadKg = ptr(kg)
			}
		}
	}
	if b := reBurned.FindStringSubmatch(lower); b != nil {
		if v, ok := parseFloat(b[1]); ok {
			w.CaloriesBurned = ptr(v)
		}
	}
	for _, iw := range intensityWords {
		if iw.re.MatchString(lower) {
			w.Intensity = iw.level
			break
		}
	}
	return w
}

// ---- measurements ----

var (
	reBloodPressure = regexp.MustCompile(`\b(\d{2,3})\s*/\s*(\d{2,3})\b`)
	reBPM           = regexp.MustCompile(`\b(\d{2,3})\s*bpm\b`)
	reHeartRate     = regexp.MustCompile(`\b(?:heart rate|resting hr|rhr|hr|pulse)\b\D{0,12}?(\d{2,3})\b`)
	reBodyFat       = regexp.MustCompile(`(?:body ?fat|bf)\D{0,12}?(\d+(?:\.\d+)?)\s*%|(\d+(?:\.\d+)?)\s*%\s*(?:body ?fat|bf)`)
	reSleepWord     = regexp.MustCompile(`\b(?:slept|sleep|asleep)\b`)
	reHours         = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(h|hrs?|hours?)\b`)
	reWaistWord     = regexp.MustCompile(`\bwaist\b`)
	reLength        = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(cm|in|inch|inches)\b`)
	reWeightWord    = regexp.MustCompile(`\b(?:weigh|weighed|weight|weighing|scale)\b`)
	reMass          = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(kg|kgs|kilos?|lb|lbs|pounds?)\b`)
)

func parseMeasurement(text string) *entries.MeasurementRecord {
	lower := strings.ToLower(text)
	m := &entries.MeasurementRecord{Kind: entries.MeasureOther}

	if bp := reBloodPressure.FindStringSubmatch(lower); bp != nil {
		sys, _ := parseFloat(bp[1])
		dia, _ := parseFloat(bp[2])
		m.Kind, m.Value, m.Secondary, m.Unit = entries.MeasureBloodPressure, ptr(sys), ptr(dia), "mmHg"
		return m
	}
	if hr := reBPM.FindStringSubmatch(lower); hr != nil {
		v, _ := parseFloat(hr[1])
		m.Kind, m.Value, m.Unit = entries.MeasureHeartRate, ptr(v), "bpm"
		return m
	}
	if hr := reHeartRate.FindStringSubmatch(lower); hr != nil {
		v, _ := parseFloat(hr[1])
		m.Kind, m.Value, m.Unit = entries.MeasureHeartRate, ptr(v), "bpm"
		return m
	}
	if bf := reBodyFat.FindStringSubmatch(lower); bf != nil {
		raw := bf[1]
		if raw == "" {
			raw = bf[2]
		}
		v, _ := parseFloat(raw)
		m.Kind, m.Value, m.Unit = entries.MeasureBodyFat, ptr(v), "%"
		return m
	}
	if reSleepWord.MatchString(lower) {
		m.Kind = entries.MeasureSleep
		if h := reHours.FindStringSubmatch(lower); h != nil {
			v, _ := parseFloat(h[1])
			if hrs, ok := toUnit(v, h[2], "h"); ok {
				m.Value, m.Unit = ptr(hrs), "h"
			}
		}
		return m
	}
	if reWaistWord.MatchString(lower) {
		m.Kind = entries.MeasureWaist
		if l := reLength.FindStringSubmatch(lower); l != nil {
			v, _ := parseFloat(l[1])
			unit := "cm"
			if l[2] != "cm" {
				unit = "in"
			}
			m.Value, m.Unit = ptr(v), unit
		}
		return m
	}
	if mass := reMass.FindStringSubmatch(lower); mass != nil {
		v, _ := parseFloat(mass[1])
		canon, _, _ := entries.ResolveUnit(mass[2])
		m.Kind, m.Value, m.Unit = entries.MeasureWeight, ptr(v), canon
		return m
	}
	if reWeightWord.MatchString(lower) {
		// A bare number without a unit stays unknown.
		m.Kind = entries.MeasureWeight
	}
	return m
}

// ---- notes ----

var reHashtag = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

func parseNote(text string) *entries.NoteRecord {
	n := &entries.NoteRecord{Text: strings.TrimSpace(text)}
	var tags []string
	seen := map[string]bool{}
	for _, m := range reHashtag.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	n.Tags = datatypes.NewJSONType(tags)
	return n
}
