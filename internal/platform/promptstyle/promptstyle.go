package promptstyle

import "strings"

const marker = "QUICKENTRY_PROMPT_STYLE_V1"

// ApplySystem prepends the shared guidance block to a system prompt. Prompts
// that already carry the marker are returned unchanged.
func ApplySystem(system string, mode string) string {
	base := strings.TrimSpace(system)
	if base == "" || strings.Contains(base, marker) {
		return base
	}

	var b strings.Builder
	b.WriteString(marker)
	b.WriteString("\nYou help a person keep a personal log of meals, workouts, body measurements and notes.")
	b.WriteString("\nUse only what the entry text says; never invent quantities, foods or times.")
	b.WriteString("\nLeave a field empty when the text does not state it.")
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "json":
		b.WriteString("\nReturn a single JSON object that conforms to the schema and contains no extra keys.")
	case "caption":
		b.WriteString("\nDescribe only what is visible, in one or two plain sentences.")
	default:
		b.WriteString("\nBe brief.")
	}
	b.WriteString("\n---\n")
	b.WriteString(base)
	return b.String()
}
