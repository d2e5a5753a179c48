// Package ctxbuilder turns a chat query into a bounded block of the user's
// most relevant past entries.
package ctxbuilder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/embedder"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
	"github.com/yungbote/quickentry-backend/internal/vectorindex"
)

const snippetTimeLayout = "2006-01-02 15:04"

// Options left zero take the retrieval policy values.
type Options struct {
	MaxResults int
	Threshold  float64
	MaxChars   int
	Subtypes   []entries.Subtype
}

type Service interface {
	// Build never fails on provider outages; it returns no snippets instead.
	// Only a missing user or an empty query is an error.
	Build(ctx context.Context, userID uuid.UUID, queryText string, opts Options) ([]entries.Snippet, []entries.Attempt, error)
}

type service struct {
	log      *logger.Logger
	runner   *capability.Runner
	embedder embedder.Service
	index    vectorindex.Index
	pol      policy.Retrieval
}

func NewService(log *logger.Logger, runner *capability.Runner, emb embedder.Service, index vectorindex.Index, pol policy.Retrieval) (Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if runner == nil || emb == nil || index == nil {
		return nil, fmt.Errorf("runner, embedder and vector index required")
	}
	return &service{
		log:      log.With("service", "ContextBuilder"),
		runner:   runner,
		embedder: emb,
		index:    index,
		pol:      pol,
	}, nil
}

func (s *service) Build(ctx context.Context, userID uuid.UUID, queryText string, opts Options) ([]entries.Snippet, []entries.Attempt, error) {
	if userID == uuid.Nil {
		return nil, nil, entries.NewError(entries.KindValidation, "context query requires user id", nil)
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, nil, entries.NewError(entries.KindValidation, "context query text is empty", nil)
	}
	opts = s.withDefaults(opts)

	vec, attempts, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		s.log.Warn("context embedding unavailable; returning empty context", "user_id", userID, "error", err)
		return nil, attempts, nil
	}

	q := vectorindex.Query{
		Vector:    vec,
		UserID:    userID,
		K:         opts.MaxResults,
		Threshold: opts.Threshold,
		Subtypes:  opts.Subtypes,
	}
	matches, searchAttempts, err := capability.Run(ctx, s.runner, policy.CapVector, capability.Call[[]vectorindex.Match]{
		Provider: "vector_index",
		Fn: func(ctx context.Context) ([]vectorindex.Match, error) {
			return s.index.Search(ctx, q)
		},
	})
	attempts = append(attempts, searchAttempts...)
	if err != nil {
		s.log.Warn("context search unavailable; returning empty context", "user_id", userID, "error", err)
		return nil, attempts, nil
	}
	return Fit(Snippets(matches), opts.MaxChars), attempts, nil
}

func (s *service) withDefaults(o Options) Options {
	if o.MaxResults <= 0 {
		o.MaxResults = s.pol.MaxResults
	}
	if o.Threshold <= 0 {
		o.Threshold = s.pol.Threshold
	}
	if o.MaxChars <= 0 {
		o.MaxChars = s.pol.MaxChars
	}
	return o
}

// Snippets converts matches into snippets, one per quick entry, ordered by
// similarity descending.
func Snippets(matches []vectorindex.Match) []entries.Snippet {
	best := map[uuid.UUID]vectorindex.Match{}
	for _, m := range matches {
		cur, ok := best[m.QuickEntryID]
		if !ok || m.Similarity > cur.Similarity {
			best[m.QuickEntryID] = m
		}
	}
	out := make([]entries.Snippet, 0, len(best))
	for _, m := range best {
		summary, _ := m.Metadata[vectorindex.MetaSummary].(string)
		if strings.TrimSpace(summary) == "" {
			summary = m.Content
		}
		out = append(out, entries.Snippet{
			QuickEntryID: m.QuickEntryID,
			Subtype:      m.Subtype,
			EventAt:      m.EventAt,
			Similarity:   m.Similarity,
			Text:         Format(m.Subtype, m.EventAt.UTC().Format(snippetTimeLayout), summary),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if !out[i].EventAt.Equal(out[j].EventAt) {
			return out[i].EventAt.After(out[j].EventAt)
		}
		return out[i].QuickEntryID.String() < out[j].QuickEntryID.String()
	})
	return out
}

func Format(subtype entries.Subtype, at, summary string) string {
	summary = strings.Join(strings.Fields(summary), " ")
	return fmt.Sprintf("[%s | %s] %s", strings.ToUpper(string(subtype)), at, summary)
}

// Fit drops the least similar snippets until the rendered block fits in
// maxChars. Input must already be ordered by similarity descending.
func Fit(snippets []entries.Snippet, maxChars int) []entries.Snippet {
	if maxChars <= 0 {
		return snippets
	}
	n := len(snippets)
	for n > 0 && renderedLen(snippets[:n]) > maxChars {
		n--
	}
	return snippets[:n]
}

func Render(snippets []entries.Snippet) string {
	lines := make([]string, 0, len(snippets))
	for _, s := range snippets {
		lines = append(lines, s.Text)
	}
	return strings.Join(lines, "\n")
}

func renderedLen(snippets []entries.Snippet) int {
	total := 0
	for i, s := range snippets {
		if i > 0 {
			total++
		}
		total += utf8.RuneCountInString(s.Text)
	}
	return total
}
