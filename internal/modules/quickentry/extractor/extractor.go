// Package extractor turns classified log text into a partially filled
// structured record. It never guesses: anything the text does not state is
// left nil for the pattern estimator.
package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type Input struct {
	Text        string
	Subtype     entries.Subtype
	SubmittedAt time.Time
	OccurredAt  *time.Time
}

type Provider interface {
	Name() string
	Extract(ctx context.Context, text string, subtype entries.Subtype) (entries.Record, error)
}

type Service interface {
	// Extract returns a validated record with EventAt, TimeOfDay and field
	// provenance set. Empty or malformed input fails with ExtractionFailed.
	Extract(ctx context.Context, in Input) (entries.Record, []entries.Attempt, error)
}

type service struct {
	log       *logger.Logger
	runner    *capability.Runner
	buckets   entries.DayBuckets
	providers []Provider
}

func NewService(log *logger.Logger, runner *capability.Runner, pol policy.Extractor, buckets entries.DayBuckets, providers ...Provider) (Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if runner == nil {
		return nil, fmt.Errorf("capability runner required")
	}
	ordered := orderProviders(pol.Providers, providers)
	if len(ordered) == 0 {
		return nil, fmt.Errorf("at least one extraction provider required")
	}
	return &service{
		log:       log.With("service", "ExtractorService"),
		runner:    runner,
		buckets:   buckets,
		providers: ordered,
	}, nil
}

func (s *service) Extract(ctx context.Context, in Input) (entries.Record, []entries.Attempt, error) {
	text := strings.TrimSpace(in.Text)
	if !hasContent(text) {
		return nil, nil, entries.NewError(entries.KindExtractionFailed, "nothing to extract", nil)
	}
	if _, ok := entries.ParseSubtype(string(in.Subtype)); !ok {
		return nil, nil, entries.NewError(entries.KindExtractionFailed, fmt.Sprintf("unknown subtype %q", in.Subtype), nil)
	}

	calls := make([]capability.Call[entries.Record], 0, len(s.providers))
	for _, p := range s.providers {
		p := p
		calls = append(calls, capability.Call[entries.Record]{
			Provider: p.Name(),
			Fn: func(ctx context.Context) (entries.Record, error) {
				rec, err := p.Extract(ctx, text, in.Subtype)
				if err != nil {
					return nil, err
				}
				if rec == nil || rec.Subtype() != in.Subtype {
					return nil, capability.Permanent(entries.NewError(entries.KindExtractionFailed, "provider returned the wrong record shape", nil))
				}
				if cleared := EnforceTraceability(rec, text); len(cleared) > 0 {
					s.log.Debug("dropped untraceable values", "provider", p.Name(), "fields", cleared)
				}
				if meal, ok := rec.(*entries.MealRecord); ok {
					meal.RollUpMacros()
				}
				if verr := rec.Validate(); verr != nil {
					return nil, capability.Permanent(entries.NewError(entries.KindExtractionFailed, "invalid record", verr))
				}
				return rec, nil
			},
		})
	}

	rec, attempts, err := capability.Run(ctx, s.runner, policy.CapExtract, calls...)
	if err != nil {
		if entries.KindOf(err) != entries.KindTimeout {
			err = entries.NewError(entries.KindExtractionFailed, "no provider produced a record", err)
		}
		return nil, attempts, err
	}

	h := rec.Header()
	h.EventAt, h.TimeOfDay = ResolveEventTime(text, in.SubmittedAt, in.OccurredAt, s.buckets)
	entries.MarkExtracted(rec, entries.ProvenanceAIExtracted)
	return rec, attempts, nil
}

func hasContent(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func orderProviders(names []string, providers []Provider) []Provider {
	byName := map[string]Provider{}
	var rest []Provider
	for _, p := range providers {
		if p == nil {
			continue
		}
		byName[p.Name()] = p
		rest = append(rest, p)
	}
	var out []Provider
	used := map[string]bool{}
	for _, n := range names {
		if p, ok := byName[n]; ok && !used[n] {
			out = append(out, p)
			used[n] = true
		}
	}
	for _, p := range rest {
		if !used[p.Name()] {
			out = append(out, p)
			used[p.Name()] = true
		}
	}
	return out
}
