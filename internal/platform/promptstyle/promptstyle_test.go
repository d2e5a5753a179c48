package promptstyle

import (
	"strings"
	"testing"
)

func TestApplySystem(t *testing.T) {
	got := ApplySystem("Classify the entry.", "json")
	if !strings.HasPrefix(got, marker) {
		t.Fatalf("missing marker: %q", got)
	}
	if !strings.HasSuffix(got, "Classify the entry.") {
		t.Fatalf("base prompt not preserved: %q", got)
	}
	if !strings.Contains(got, "JSON object") {
		t.Fatalf("json guidance missing: %q", got)
	}
	if again := ApplySystem(got, "json"); again != got {
		t.Fatalf("not idempotent")
	}
	if ApplySystem("  ", "text") != "" {
		t.Fatalf("empty prompt should stay empty")
	}
}
