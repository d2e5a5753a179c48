package logger

import "testing"

func TestSanitizeKVs(t *testing.T) {
	kv := sanitizeKVs([]interface{}{
		"user_id", "user-123",
		"api_key", "sk-abc",
		"raw_text", "I ate 3 eggs",
		"stage", "classifying",
	})
	if len(kv) != 8 {
		t.Fatalf("len: want=8 got=%d", len(kv))
	}
	if got, _ := kv[1].(string); got == "user-123" || len(got) != len("hash:")+12 {
		t.Fatalf("user_id not hashed: got=%v", kv[1])
	}
	if kv[3] != "[REDACTED]" {
		t.Fatalf("api_key: want=[REDACTED] got=%v", kv[3])
	}
	if kv[5] != "[REDACTED]" {
		t.Fatalf("raw_text: want=[REDACTED] got=%v", kv[5])
	}
	if kv[7] != "classifying" {
		t.Fatalf("stage: want=classifying got=%v", kv[7])
	}
}

func TestHashValueStable(t *testing.T) {
	a := hashValue("u1")
	b := hashValue("u1")
	if a != b {
		t.Fatalf("hash not stable: %s vs %s", a, b)
	}
	if hashValue("") != "" {
		t.Fatalf("empty value should hash to empty")
	}
}
