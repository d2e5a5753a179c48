package classifier

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
)

// Heuristic scores lexical cues. It needs no network and never fails, so it
// is the last provider in every chain.
type Heuristic struct{}

func (Heuristic) Name() string { return "heuristic" }

const (
	wPastVerb     = 0.35
	wQuantity     = 0.25
	wTimePhrase   = 0.15
	wLexicon      = 0.20
	wImage        = 0.10
	wQuestionMark = 0.30
	wQuestionWord = 0.30
	wFuture       = 0.25
	wAdvice       = 0.25
)

var pastVerbs = map[string]entries.Subtype{
	"ate": entries.SubtypeMeal, "eaten": entries.SubtypeMeal, "had": entries.SubtypeMeal,
	"drank": entries.SubtypeMeal, "consumed": entries.SubtypeMeal, "snacked": entries.SubtypeMeal,
	"grabbed": entries.SubtypeMeal, "cooked": entries.SubtypeMeal, "finished": entries.SubtypeMeal,

	"ran": entries.SubtypeWorkout, "walked": entries.SubtypeWorkout, "jogged": entries.SubtypeWorkout,
	"biked": entries.SubtypeWorkout, "cycled": entries.SubtypeWorkout, "rode": entries.SubtypeWorkout,
	"swam": entries.SubtypeWorkout, "lifted": entries.SubtypeWorkout, "hiked": entries.SubtypeWorkout,
	"rowed": entries.SubtypeWorkout, "trained": entries.SubtypeWorkout, "benched": entries.SubtypeWorkout,
	"squatted": entries.SubtypeWorkout, "deadlifted": entries.SubtypeWorkout, "played": entries.SubtypeWorkout,
	"did": entries.SubtypeWorkout, "completed": entries.SubtypeWorkout, "stretched": entries.SubtypeWorkout,

	"weighed": entries.SubtypeMeasurement, "measured": entries.SubtypeMeasurement,
	"slept": entries.SubtypeMeasurement, "logged": entries.SubtypeMeasurement,

	"felt": entries.SubtypeNote, "noticed": entries.SubtypeNote, "skipped": entries.SubtypeNote,
	"forgot": entries.SubtypeNote,
}

var lexicon = map[string]entries.Subtype{
	"breakfast": entries.SubtypeMeal, "lunch": entries.SubtypeMeal, "dinner": entries.SubtypeMeal,
	"snack": entries.SubtypeMeal, "meal": entries.SubtypeMeal, "eggs": entries.SubtypeMeal,
	"egg": entries.SubtypeMeal, "toast": entries.SubtypeMeal, "oatmeal": entries.SubtypeMeal,
	"rice": entries.SubtypeMeal, "chicken": entries.SubtypeMeal, "salad": entries.SubtypeMeal,
	"coffee": entries.SubtypeMeal, "banana": entries.SubtypeMeal, "apple": entries.SubtypeMeal,
	"sandwich": entries.SubtypeMeal, "pizza": entries.SubtypeMeal, "pasta": entries.SubtypeMeal,
	"yogurt": entries.SubtypeMeal, "smoothie": entries.SubtypeMeal, "protein": entries.SubtypeMeal,
	"calories": entries.SubtypeMeal, "kcal": entries.SubtypeMeal, "food": entries.SubtypeMeal,
	"avocado": entries.SubtypeMeal, "bread": entries.SubtypeMeal, "steak": entries.SubtypeMeal,

	"run": entries.SubtypeWorkout, "running": entries.SubtypeWorkout, "workout": entries.SubtypeWorkout,
	"gym": entries.SubtypeWorkout, "walk": entries.SubtypeWorkout, "ride": entries.SubtypeWorkout,
	"swim": entries.SubtypeWorkout, "yoga": entries.SubtypeWorkout, "reps": entries.SubtypeWorkout,
	"sets": entries.SubtypeWorkout, "squats": entries.SubtypeWorkout, "pushups": entries.SubtypeWorkout,
	"bench": entries.SubtypeWorkout, "deadlift": entries.SubtypeWorkout, "cardio": entries.SubtypeWorkout,
	"hiit": entries.SubtypeWorkout, "miles": entries.SubtypeWorkout, "km": entries.SubtypeWorkout,
	"5k": entries.SubtypeWorkout, "10k": entries.SubtypeWorkout, "treadmill": entries.SubtypeWorkout,

	"weight": entries.SubtypeMeasurement, "scale": entries.SubtypeMeasurement, "bp": entries.SubtypeMeasurement,
	"pressure": entries.SubtypeMeasurement, "bpm": entries.SubtypeMeasurement, "pulse": entries.SubtypeMeasurement,
	"waist": entries.SubtypeMeasurement, "sleep": entries.SubtypeMeasurement, "mmhg": entries.SubtypeMeasurement,
	"lbs": entries.SubtypeMeasurement, "fat": entries.SubtypeMeasurement,

	"note": entries.SubtypeNote, "mood": entries.SubtypeNote, "feeling": entries.SubtypeNote,
	"tired": entries.SubtypeNote, "stressed": entries.SubtypeNote, "headache": entries.SubtypeNote,
	"journal": entries.SubtypeNote, "remember": entries.SubtypeNote,
}

var questionWords = map[string]bool{
	"what": true, "how": true, "why": true, "when": true, "which": true, "who": true,
	"should": true, "can": true, "could": true, "would": true, "is": true, "are": true,
	"do": true, "does": true, "am": true, "will": true,
}

// genericVerbs state a past fact but say little about the subtype.
var genericVerbs = map[string]bool{
	"had": true, "did": true, "finished": true, "completed": true, "logged": true,
}

var futurePhrases = []string{
	"will", "going to", "gonna", "plan to", "planning", "tomorrow", "next week",
	"should i", "if i", "would it", "later today",
}

var advicePhrases = []string{
	"advice", "recommend", "suggest", "tips", "help me", "best way", "ideas",
	"is it ok", "is it bad", "is it good", "how much should", "how many should",
}

var timePhrases = []string{
	"this morning", "this afternoon", "this evening", "last night", "yesterday",
	"today", "earlier", "just", "tonight", "for breakfast", "for lunch", "for dinner",
	"after work", "before bed", "ago",
}

// dayParts name a time of day on their own, as in "morning run".
var dayParts = []string{
	"morning", "afternoon", "evening", "night", "overnight", "midday", "noon",
}

var (
	reQuantityUnit = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:g|mg|kg|kgs|lb|lbs|oz|ml|l|km|k|mi|miles?|m|min|mins|minutes?|h|hrs?|hours?|kcal|cal|calories|bpm|mmhg|reps|sets|%|x\d+)\b|\b\d{2,3}\s*/\s*\d{2,3}\b|\d+(?:\.\d+)?\s*%`)
	reClockTime    = regexp.MustCompile(`(?i)\bat\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?\b`)
	reNumberWord   = regexp.MustCompile(`(?i)\b(?:\d+(?:\.\d+)?|one|two|three|four|five|six|seven|eight|nine|ten|a couple of|half)\s+[a-z]+`)
)

type cue struct {
	name   string
	weight float64
}

func (h Heuristic) Classify(_ context.Context, in Input) (entries.Classification, error) {
	text := strings.ToLower(strings.TrimSpace(in.Text))
	words := tokenize(text)
	padded := " " + strings.Join(words, " ") + " "

	var logCues, chatCues []cue
	subtypeScore := map[entries.Subtype]float64{}

	pastFact := false
	for _, w := range words {
		if st, ok := pastVerbs[w]; ok {
			if !pastFact {
				logCues = append(logCues, cue{"past_tense_verb:" + w, wPastVerb})
			}
			pastFact = true
			if genericVerbs[w] {
				subtypeScore[st] += 0.05
			} else {
				subtypeScore[st] += wPastVerb
			}
		}
	}
	if reQuantityUnit.MatchString(text) {
		logCues = append(logCues, cue{"quantity_with_unit", wQuantity})
	} else if reNumberWord.MatchString(text) && countLexiconHits(words) > 0 {
		logCues = append(logCues, cue{"counted_item", wQuantity})
	}
	if containsAny(padded, timePhrases) || containsAny(padded, dayParts) || reClockTime.MatchString(text) {
		logCues = append(logCues, cue{"time_bound", wTimePhrase})
	}
	if hits := countLexiconHits(words); hits > 0 {
		logCues = append(logCues, cue{"subtype_lexicon", wLexicon})
		for _, w := range words {
			if st, ok := lexicon[w]; ok {
				subtypeScore[st] += 0.1
			}
		}
	}
	if in.HasImage {
		logCues = append(logCues, cue{"photo_attached", wImage})
	}

	if strings.HasSuffix(text, "?") {
		chatCues = append(chatCues, cue{"question_mark", wQuestionMark})
	}
	if len(words) > 0 && questionWords[words[0]] {
		chatCues = append(chatCues, cue{"leading_question_word", wQuestionWord})
	}
	if containsAny(padded, futurePhrases) {
		chatCues = append(chatCues, cue{"future_or_hypothetical", wFuture})
	}
	if containsAny(padded, advicePhrases) {
		chatCues = append(chatCues, cue{"advice_seeking", wAdvice})
	}

	logScore := clamp01(sum(logCues))
	chatScore := clamp01(sum(chatCues))

	// A stated past fact wins over a trailing question: "ate 2 eggs, how much
	// protein is that?" is still a log.
	isLog := logScore > chatScore || (pastFact && logScore >= wPastVerb+wQuantity)
	if logScore == 0 && chatScore == 0 {
		isLog = false
	}

	var c entries.Classification
	if isLog {
		conf := clamp01(0.35 + 0.6*logScore - 0.3*chatScore)
		c = entries.LogAs(pickSubtype(subtypeScore), round2(conf), rationale("log", logCues, chatCues))
	} else {
		conf := clamp01(0.35 + 0.6*chatScore - 0.3*logScore)
		c = entries.ChatAs(round2(conf), rationale("chat", chatCues, logCues))
	}
	return c, nil
}

func pickSubtype(scores map[entries.Subtype]float64) entries.Subtype {
	best := entries.SubtypeNote
	bestScore := 0.0
	for _, st := range entries.Subtypes {
		if scores[st] > bestScore {
			best, bestScore = st, scores[st]
		}
	}
	return best
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func countLexiconHits(words []string) int {
	n := 0
	for _, w := range words {
		if _, ok := lexicon[w]; ok {
			n++
		}
	}
	return n
}

func containsAny(padded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func sum(cs []cue) float64 {
	var s float64
	for _, c := range cs {
		s += c.weight
	}
	return s
}

func rationale(mode string, winner, loser []cue) string {
	names := func(cs []cue) string {
		if len(cs) == 0 {
			return "none"
		}
		out := make([]string, 0, len(cs))
		for _, c := range cs {
			out = append(out, c.name)
		}
		return strings.Join(out, ", ")
	}
	other := "chat"
	if mode == "chat" {
		other = "log"
	}
	return fmt.Sprintf("%s cues: %s; %s cues: %s", mode, names(winner), other, names(loser))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
