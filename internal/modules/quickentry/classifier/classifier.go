// Package classifier decides whether an entry is a question (chat) or a
// loggable event (log), and which record subtype a log entry is.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type Input struct {
	Text     string
	HasImage bool
}

// Provider is one classification implementation. Providers report their raw
// decision; the confidence floor is applied by Service.
type Provider interface {
	Name() string
	Classify(ctx context.Context, in Input) (entries.Classification, error)
}

type Service interface {
	// Classify never persists anything. When every provider fails it
	// returns a ClassificationUnavailable error with the attempts made.
	Classify(ctx context.Context, in Input) (entries.Classification, []entries.Attempt, error)
}

type service struct {
	log       *logger.Logger
	runner    *capability.Runner
	floor     float64
	providers []Provider
}

// NewService orders providers by the policy's provider list; providers not
// named there run last in the order given.
func NewService(log *logger.Logger, runner *capability.Runner, pol policy.Classifier, providers ...Provider) (Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if runner == nil {
		return nil, fmt.Errorf("capability runner required")
	}
	ordered := orderProviders(pol.Providers, providers)
	if len(ordered) == 0 {
		return nil, fmt.Errorf("at least one classification provider required")
	}
	return &service{
		log:       log.With("service", "ClassifierService"),
		runner:    runner,
		floor:     pol.ConfidenceFloor,
		providers: ordered,
	}, nil
}

func (s *service) Classify(ctx context.Context, in Input) (entries.Classification, []entries.Attempt, error) {
	in.Text = strings.TrimSpace(in.Text)
	calls := make([]capability.Call[entries.Classification], 0, len(s.providers))
	for _, p := range s.providers {
		p := p
		calls = append(calls, capability.Call[entries.Classification]{
			Provider: p.Name(),
			Fn: func(ctx context.Context) (entries.Classification, error) {
				c, err := p.Classify(ctx, in)
				if err != nil {
					return entries.Classification{}, err
				}
				if verr := c.Validate(); verr != nil {
					return entries.Classification{}, capability.Permanent(
						entries.NewError(entries.KindClassificationUnavailable, "invalid classification", verr))
				}
				c.Provider = p.Name()
				return c, nil
			},
		})
	}

	c, attempts, err := capability.Run(ctx, s.runner, policy.CapClassify, calls...)
	if err != nil {
		if entries.KindOf(err) != entries.KindTimeout {
			err = entries.NewError(entries.KindClassificationUnavailable, "no provider produced a classification", err)
		}
		return entries.Classification{}, attempts, err
	}
	return ApplyFloor(c, s.floor), attempts, nil
}

// ApplyFloor turns any result below floor into a clarification request.
func ApplyFloor(c entries.Classification, floor float64) entries.Classification {
	if c.Confidence < floor {
		return c.Clarify()
	}
	return c
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
