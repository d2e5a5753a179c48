package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
)

var numberWords = map[string]float64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"fifteen": 15, "twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"dozen": 12, "half": 0.5, "quarter": 0.25,
}

var (
	reNumber   = regexp.MustCompile(`\d+(?:\.\d+)?`)
	reFraction = regexp.MustCompile(`^(\d+)/(\d+)$`)
	reGlued    = regexp.MustCompile(`^(\d+(?:\.\d+)?)([a-z]+)$`)
)

// leadingNumber reads a quantity from the start of words. It returns the
// value, how many words it consumed and a unit glued to the digits ("200g").
func leadingNumber(words []string) (float64, int, string, bool) {
	if len(words) == 0 {
		return 0, 0, "", false
	}
	w := words[0]
	if v, err := strconv.ParseFloat(w, 64); err == nil {
		return v, 1, "", true
	}
	if m := reFraction.FindStringSubmatch(w); m != nil {
		num, _ := strconv.ParseFloat(m[1], 64)
		den, _ := strconv.ParseFloat(m[2], 64)
		if den == 0 {
			return 0, 0, "", false
		}
		return num / den, 1, "", true
	}
	if m := reGlued.FindStringSubmatch(w); m != nil {
		if u, _, ok := entries.ResolveUnit(m[2]); ok {
			v, _ := strconv.ParseFloat(m[1], 64)
			return v, 1, u, true
		}
		return 0, 0, "", false
	}
	if v, ok := numberWords[w]; ok {
		n := 1
		// "half an avocado", "a dozen eggs" read the same as "half avocado".
		if len(words) > 1 && (words[1] == "a" || words[1] == "an") {
			n = 2
		}
		return v, n, "", true
	}
	return 0, 0, "", false
}

// sourceNumbers lists every number stated in text, in digits or words.
func sourceNumbers(text string) []float64 {
	lower := strings.ToLower(text)
	var out []float64
	for _, s := range reNumber.FindAllString(lower, -1) {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			out = append(out, v)
		}
	}
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) && r != '/' && !unicode.IsDigit(r) }) {
		if v, ok := numberWords[w]; ok {
			out = append(out, v)
		}
		if m := reFraction.FindStringSubmatch(w); m != nil {
			num, _ := strconv.ParseFloat(m[1], 64)
			den, _ := strconv.ParseFloat(m[2], 64)
			if den != 0 {
				out = append(out, num/den)
			}
		}
	}
	return out
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

func ptr(v float64) *float64 { return &v }

func round2(v float64) float64 {
	if v < 0 {
		return -round2(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}

// toUnit converts v from a spelled unit to target and rounds to 2 places.
func toUnit(v float64, from, target string) (float64, bool) {
	canon, _, ok := entries.ResolveUnit(from)
	if !ok {
		return 0, false
	}
	out, err := entries.ConvertUnit(v, canon, target)
	if err != nil {
		return 0, false
	}
	return round2(out), true
}
