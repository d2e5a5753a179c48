// Package embedder turns normalized entry text into vectors for the vector
// index, with a content-hash cache in front of the provider.
package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/intake"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
	"github.com/yungbote/quickentry-backend/internal/platform/openai"
)

type Provider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Cache is keyed by model and content hash. A Get error is treated as a miss.
type Cache interface {
	Get(ctx context.Context, model, hash string) ([]float32, bool, error)
	Set(ctx context.Context, model, hash string, vec []float32) error
}

type Service interface {
	Embed(ctx context.Context, text string) ([]float32, []entries.Attempt, error)
	Dim() int
	Model() string
}

type OpenAIProvider struct {
	Client openai.Client
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.Client.EmbedModel() }
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.Client.Embed(ctx, texts)
}

type service struct {
	log       *logger.Logger
	runner    *capability.Runner
	cache     Cache
	dim       int
	providers []Provider
}

// NewService checks every vector against dim. A nil cache disables caching.
func NewService(log *logger.Logger, runner *capability.Runner, cache Cache, dim int, providers ...Provider) (Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if runner == nil {
		return nil, fmt.Errorf("capability runner required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	var ps []Provider
	for _, p := range providers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("at least one embedding provider required")
	}
	return &service{
		log:       log.With("service", "EmbedderService"),
		runner:    runner,
		cache:     cache,
		dim:       dim,
		providers: ps,
	}, nil
}

func (s *service) Dim() int      { return s.dim }
func (s *service) Model() string { return s.providers[0].Model() }

// ContentHash is the cache and dedup key for text.
func ContentHash(text string) string {
	return intake.ContentHash(intake.Normalize(text))
}

func (s *service) Embed(ctx context.Context, text string) ([]float32, []entries.Attempt, error) {
	text = intake.Normalize(text)
	if strings.TrimSpace(text) == "" {
		return nil, nil, entries.NewError(entries.KindValidation, "cannot embed empty text", nil)
	}
	hash := intake.ContentHash(text)

	if s.cache != nil {
		for _, p := range s.providers {
			vec, ok, err := s.cache.Get(ctx, p.Model(), hash)
			if err != nil {
				s.log.Warn("embedding cache read failed", "error", err)
				break
			}
			if ok && len(vec) == s.dim {
				return vec, nil, nil
			}
		}
	}

	type result struct {
		model string
		vec   []float32
	}
	calls := make([]capability.Call[result], 0, len(s.providers))
	for _, p := range s.providers {
		p := p
		calls = append(calls, capability.Call[result]{
			Provider: p.Name(),
			Fn: func(ctx context.Context) (result, error) {
				vecs, err := p.Embed(ctx, []string{text})
				if err != nil {
					return result{}, err
				}
				if len(vecs) != 1 {
					return result{}, capability.Permanent(entries.NewError(entries.KindEmbeddingUnavailable,
						fmt.Sprintf("provider returned %d vectors for 1 input", len(vecs)), nil))
				}
				if len(vecs[0]) != s.dim {
					return result{}, capability.Permanent(entries.NewError(entries.KindEmbeddingUnavailable,
						fmt.Sprintf("dimension mismatch: want=%d got=%d", s.dim, len(vecs[0])), nil))
				}
				return result{model: p.Model(), vec: vecs[0]}, nil
			},
		})
	}

	res, attempts, err := capability.Run(ctx, s.runner, policy.CapEmbed, calls...)
	if err != nil {
		if k := entries.KindOf(err); k != entries.KindTimeout && k != entries.KindEmbeddingUnavailable {
			err = entries.NewError(entries.KindEmbeddingUnavailable, "no provider produced an embedding", err)
		}
		return nil, attempts, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, res.model, hash, res.vec); err != nil {
			s.log.Warn("embedding cache write failed", "error", err)
		}
	}
	return res.vec, attempts, nil
}
