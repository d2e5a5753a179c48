package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/platform/openai"
)

// LLM classifies with a structured-output model call.
type LLM struct {
	Client openai.Client
}

func (l *LLM) Name() string { return "llm" }

type llmClassification struct {
	Mode       string  `json:"mode"`
	Subtype    string  `json:"subtype"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

func classificationSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"mode": map[string]any{
				"type": "string",
				"enum": []any{"chat", "log"},
			},
			"subtype": map[string]any{
				"type": "string",
				"enum": []any{"meal", "workout", "measurement", "note", "none"},
			},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"rationale":  map[string]any{"type": "string"},
		},
		"required": []any{"mode", "subtype", "confidence", "rationale"},
	}
}

func (l *LLM) Classify(ctx context.Context, in Input) (entries.Classification, error) {
	if l.Client == nil {
		return entries.Classification{}, fmt.Errorf("llm classifier has no client")
	}
	system := strings.Join([]string{
		"You classify short messages typed into a health and fitness quick-entry box.",
		"mode=log when the message states something that already happened and can be recorded: food eaten, exercise done, a body measurement, or a personal note.",
		"mode=chat when the message asks a question, asks for advice, or talks about plans or hypotheticals.",
		"If a message states a past fact and also asks a question, choose log.",
		"subtype is meal, workout, measurement or note for log, and none for chat.",
		"confidence is your probability that mode and subtype are both right. Use a low value for vague or one-word messages.",
		"Return ONLY JSON matching the schema.",
	}, "\n")
	user := strings.Join([]string{
		"PHOTO_ATTACHED: " + fmt.Sprint(in.HasImage),
		"MESSAGE:",
		in.Text,
	}, "\n")

	obj, err := l.Client.GenerateJSON(ctx, system, user, "quick_entry_classify_v1", classificationSchema())
	if err != nil {
		return entries.Classification{}, err
	}
	var out llmClassification
	b, _ := json.Marshal(obj)
	if err := json.Unmarshal(b, &out); err != nil {
		return entries.Classification{}, capability.Permanent(
			entries.NewError(entries.KindClassificationUnavailable, "unparseable classification", err))
	}
	return parseLLM(out)
}

func parseLLM(out llmClassification) (entries.Classification, error) {
	conf := clamp01(out.Confidence)
	switch strings.ToLower(strings.TrimSpace(out.Mode)) {
	case "log":
		st, ok := entries.ParseSubtype(out.Subtype)
		if !ok {
			return entries.Classification{}, capability.Permanent(
				entries.NewError(entries.KindClassificationUnavailable, fmt.Sprintf("log without usable subtype %q", out.Subtype), nil))
		}
		return entries.LogAs(st, conf, strings.TrimSpace(out.Rationale)), nil
	case "chat":
		return entries.ChatAs(conf, strings.TrimSpace(out.Rationale)), nil
	default:
		return entries.Classification{}, capability.Permanent(
			entries.NewError(entries.KindClassificationUnavailable, fmt.Sprintf("unknown mode %q", out.Mode), nil))
	}
}
