package entries

import (
	"strings"
	"time"
	"unicode"
)

// TimeOfDay is a coarse bucket used to match routines ("morning run").
type TimeOfDay string

const (
	TimeMorning   TimeOfDay = "morning"
	TimeAfternoon TimeOfDay = "afternoon"
	TimeEvening   TimeOfDay = "evening"
	TimeNight     TimeOfDay = "night"
)

// DayBuckets are the hour boundaries [start, end) of each bucket; night wraps.
type DayBuckets struct {
	MorningStart   int `yaml:"morning_start" json:"morning_start"`
	AfternoonStart int `yaml:"afternoon_start" json:"afternoon_start"`
	EveningStart   int `yaml:"evening_start" json:"evening_start"`
	NightStart     int `yaml:"night_start" json:"night_start"`
}

func DefaultDayBuckets() DayBuckets {
	return DayBuckets{MorningStart: 5, AfternoonStart: 12, EveningStart: 17, NightStart: 22}
}

func (b DayBuckets) ForTime(t time.Time) TimeOfDay {
	h := t.Hour()
	switch {
	case h >= b.MorningStart && h < b.AfternoonStart:
		return TimeMorning
	case h >= b.AfternoonStart && h < b.EveningStart:
		return TimeAfternoon
	case h >= b.EveningStart && h < b.NightStart:
		return TimeEvening
	default:
		return TimeNight
	}
}

var timeOfDayWords = []struct {
	word string
	tod  TimeOfDay
}{
	{"this morning", TimeMorning},
	{"morning", TimeMorning},
	{"breakfast", TimeMorning},
	{"sunrise", TimeMorning},
	{"this afternoon", TimeAfternoon},
	{"afternoon", TimeAfternoon},
	{"lunch", TimeAfternoon},
	{"midday", TimeAfternoon},
	{"this evening", TimeEvening},
	{"evening", TimeEvening},
	{"dinner", TimeEvening},
	{"tonight", TimeEvening},
	{"after work", TimeEvening},
	{"last night", TimeNight},
	{"late night", TimeNight},
	{"midnight", TimeNight},
	{"bedtime", TimeNight},
}

// ExplicitTimeOfDay returns the bucket named by words in text, if any.
func ExplicitTimeOfDay(text string) (TimeOfDay, bool) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	padded := " " + strings.Join(words, " ") + " "
	for _, w := range timeOfDayWords {
		if strings.Contains(padded, " "+w.word+" ") {
			return w.tod, true
		}
	}
	return "", false
}
