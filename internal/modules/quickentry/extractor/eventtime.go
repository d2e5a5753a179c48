package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
)

var (
	reClock = regexp.MustCompile(`(?:\bat\s+|@\s*)?\b(\d{1,2})(?::(\d{2}))?\s*(am\b|pm\b|a\.m\.|p\.m\.)|\bat\s+(\d{1,2}):(\d{2})\b`)
	reAgo   = regexp.MustCompile(`\b(\d+|an?|one|two|three|four|five|six|ten|twenty|thirty|forty|fifty|half an?)\s*(minutes?|mins?|hours?|hrs?|h)\s+ago\b`)
)

// dayParts anchor a vague part of the day to a clock time.
var dayParts = []struct {
	phrase string
	hour   int
}{
	{"this morning", 8},
	{"this afternoon", 13},
	{"this evening", 19},
	{"tonight", 19},
	{"morning", 8},
	{"afternoon", 13},
	{"evening", 19},
	{"night", 22},
}

// ResolveEventTime picks when the logged event happened. An explicit
// occurredAt wins; otherwise relative phrases are read against submittedAt;
// otherwise the submission time is used. The result is never after
// submittedAt unless occurredAt says so.
func ResolveEventTime(text string, submittedAt time.Time, occurredAt *time.Time, buckets entries.DayBuckets) (time.Time, entries.TimeOfDay) {
	if occurredAt != nil && !occurredAt.IsZero() {
		return *occurredAt, timeOfDay(text, *occurredAt, buckets)
	}
	lower := strings.ToLower(text)
	padded := " " + strings.Join(strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ") + " "
	has := func(p string) bool { return strings.Contains(padded, " "+p+" ") }

	t := submittedAt
	day := dayStart(submittedAt)
	previousDay := has("yesterday") || has("last night")
	if previousDay {
		day = day.AddDate(0, 0, -1)
	}

	switch {
	case reAgo.MatchString(lower):
		m := reAgo.FindStringSubmatch(lower)
		t = submittedAt.Add(-agoDuration(m[1], m[2]))
	case reClock.MatchString(lower):
		if at, ok := clockOn(day, reClock.FindStringSubmatch(lower)); ok {
			t = at
			if !previousDay && t.After(submittedAt) {
				t = t.AddDate(0, 0, -1)
			}
		}
	case has("last night"):
		t = day.Add(22 * time.Hour)
	case has("just"):
		t = submittedAt
	default:
		matched := false
		for _, p := range dayParts {
			if has(p.phrase) {
				t = day.Add(time.Duration(p.hour) * time.Hour)
				matched = true
				break
			}
		}
		if !matched && previousDay {
			t = submittedAt.AddDate(0, 0, -1)
		}
	}
	if t.After(submittedAt) {
		t = submittedAt
	}
	return t, timeOfDay(text, t, buckets)
}

func timeOfDay(text string, t time.Time, buckets entries.DayBuckets) entries.TimeOfDay {
	if tod, ok := entries.ExplicitTimeOfDay(text); ok {
		return tod
	}
	return buckets.ForTime(t)
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func clockOn(day time.Time, m []string) (time.Time, bool) {
	hourS, minS, suffix := m[1], m[2], m[3]
	if hourS == "" {
		hourS, minS = m[4], m[5]
	}
	hour, err := strconv.Atoi(hourS)
	if err != nil {
		return time.Time{}, false
	}
	minute := 0
	if minS != "" {
		if minute, err = strconv.Atoi(minS); err != nil {
			return time.Time{}, false
		}
	}
	suffix = strings.ReplaceAll(suffix, ".", "")
	if suffix != "" && (hour < 1 || hour > 12) {
		return time.Time{}, false
	}
	switch suffix {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 12 {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), true
}

func agoDuration(amount, unit string) time.Duration {
	var n float64
	switch {
	case strings.HasPrefix(amount, "half"):
		n = 0.5
	case amount == "a" || amount == "an":
		n = 1
	default:
		if v, ok := numberWords[amount]; ok {
			n = v
		} else if v, ok := parseFloat(amount); ok {
			n = v
		}
	}
	per := time.Minute
	if strings.HasPrefix(unit, "h") {
		per = time.Hour
	}
	return time.Duration(n * float64(per))
}
