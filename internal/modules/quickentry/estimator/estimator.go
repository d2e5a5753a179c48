// Package estimator fills numeric gaps in an extracted record from the
// user's own similar history, falling back to generic per-subtype defaults.
package estimator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/embedder"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
	"github.com/yungbote/quickentry-backend/internal/vectorindex"
)

const (
	SourceHistory  = "user-history"
	SourceBaseline = "generic-default"
)

type Service interface {
	// Estimate returns nil for records with no numeric fields. It never
	// modifies rec; use Apply to merge the result.
	Estimate(ctx context.Context, rec entries.Record, queryText string, userID uuid.UUID) (*entries.PatternEstimate, []entries.Attempt, error)
}

type service struct {
	log      *logger.Logger
	runner   *capability.Runner
	embedder embedder.Service
	index    vectorindex.Index
	pol      policy.Estimator
	now      func() time.Time
}

func NewService(log *logger.Logger, runner *capability.Runner, emb embedder.Service, index vectorindex.Index, pol policy.Estimator) (Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if runner == nil || emb == nil || index == nil {
		return nil, fmt.Errorf("runner, embedder and vector index required")
	}
	return &service{
		log:      log.With("service", "EstimatorService"),
		runner:   runner,
		embedder: emb,
		index:    index,
		pol:      pol,
		now:      time.Now,
	}, nil
}

type candidate struct {
	entryID    uuid.UUID
	eventAt    time.Time
	similarity float64
	fields     map[string]float64
}

func (s *service) Estimate(ctx context.Context, rec entries.Record, queryText string, userID uuid.UUID) (*entries.PatternEstimate, []entries.Attempt, error) {
	if rec == nil {
		return nil, nil, entries.NewError(entries.KindValidation, "estimate needs a record", nil)
	}
	gaps := missingFields(rec)
	if len(rec.Numeric()) == 0 {
		return nil, nil, nil
	}

	vec, attempts, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, attempts, err
	}

	h := rec.Header()
	q := vectorindex.Query{
		Vector:    vec,
		UserID:    userID,
		K:         s.pol.K,
		Threshold: s.pol.SimilarityThreshold,
		Subtypes:  []entries.Subtype{rec.Subtype()},
		Metadata:  map[string]any{},
	}
	if m, ok := rec.(*entries.MeasurementRecord); ok && m.Kind != "" {
		q.Metadata[vectorindex.MetaMeasurementKind] = string(m.Kind)
	}

	var cands []candidate
	var searchAttempts []entries.Attempt
	switch {
	case s.pol.TimeOfDayMode == policy.TimeOfDayOff || h.TimeOfDay == "":
		cands, searchAttempts, err = s.search(ctx, q, h.QuickEntryID)
	default:
		filtered := q
		filtered.Metadata = withKey(q.Metadata, vectorindex.MetaTimeOfDay, string(h.TimeOfDay))
		cands, searchAttempts, err = s.search(ctx, filtered, h.QuickEntryID)
		if err == nil && s.pol.TimeOfDayMode == policy.TimeOfDayPrefer && len(cands) < s.pol.MinSamples {
			var more []entries.Attempt
			cands, more, err = s.search(ctx, q, h.QuickEntryID)
			searchAttempts = append(searchAttempts, more...)
		}
	}
	attempts = append(attempts, searchAttempts...)
	if err != nil {
		return nil, attempts, err
	}

	ref := h.EventAt
	if ref.IsZero() {
		ref = s.now()
	}
	est := s.fromHistory(rec.Subtype(), gaps, cands, ref)
	est.TimeOfDay = h.TimeOfDay
	return est, attempts, nil
}

func (s *service) search(ctx context.Context, q vectorindex.Query, self uuid.UUID) ([]candidate, []entries.Attempt, error) {
	matches, attempts, err := capability.Run(ctx, s.runner, policy.CapVector, capability.Call[[]vectorindex.Match]{
		Provider: "vector_index",
		Fn: func(ctx context.Context) ([]vectorindex.Match, error) {
			return s.index.Search(ctx, q)
		},
	})
	if err != nil {
		if k := entries.KindOf(err); k != entries.KindTimeout && k != entries.KindValidation {
			err = entries.NewError(entries.KindVectorIndexUnavailable, "history search failed", err)
		}
		return nil, attempts, err
	}
	seen := map[uuid.UUID]bool{}
	out := make([]candidate, 0, len(matches))
	for _, m := range matches {
		// A resubmitted entry must not count itself as history.
		if m.QuickEntryID == self || seen[m.QuickEntryID] {
			continue
		}
		seen[m.QuickEntryID] = true
		out = append(out, candidate{
			entryID:    m.QuickEntryID,
			eventAt:    m.EventAt,
			similarity: m.Similarity,
			fields:     vectorindex.FieldValues(m.Metadata),
		})
	}
	return out, attempts, nil
}

func (s *service) fromHistory(subtype entries.Subtype, gaps []string, cands []candidate, ref time.Time) *entries.PatternEstimate {
	if len(cands) < s.pol.MinSamples || !s.anyFresh(cands, ref) {
		return s.baseline(subtype, gaps, len(cands))
	}

	est := &entries.PatternEstimate{
		Subtype:    subtype,
		Fields:     map[string]entries.FieldEstimate{},
		SampleSize: len(cands),
		Provenance: SourceHistory,
	}
	for _, c := range cands {
		est.CandidateIDs = append(est.CandidateIDs, c.entryID)
	}

	var consSum float64
	for _, name := range gaps {
		var vals []float64
		for _, c := range cands {
			if v, ok := c.fields[name]; ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		fe := summarize(vals)
		est.Fields[name] = fe
		consSum += fe.Consistency
	}
	if len(est.Fields) > 0 {
		est.Consistency = consSum / float64(len(est.Fields))
	} else {
		// Nothing to fill; rate the match set alone.
		est.Consistency = 1
	}

	est.Tier = s.tier(len(cands), est.Consistency)
	est.RecencyFactor = s.recency(cands[0].eventAt, ref)
	score := s.pol.Weights.Size*s.sizeFactor(len(cands)) +
		s.pol.Weights.Consistency*est.Consistency +
		s.pol.Weights.Recency*est.RecencyFactor
	est.Confidence = round3(math.Min(score, s.pol.ConfidenceCap))
	return est
}

// baseline is the generic estimate used without enough fresh history.
func (s *service) baseline(subtype entries.Subtype, gaps []string, samples int) *entries.PatternEstimate {
	est := &entries.PatternEstimate{
		Subtype:    subtype,
		Fields:     map[string]entries.FieldEstimate{},
		SampleSize: samples,
		Tier:       entries.TierBaseline,
		Confidence: s.pol.BaselineConfidence,
		Provenance: SourceBaseline,
	}
	defaults := s.pol.Defaults[subtype]
	for _, name := range gaps {
		if v, ok := defaults[name]; ok {
			est.Fields[name] = entries.FieldEstimate{Point: v, Mean: v}
		}
	}
	return est
}

func (s *service) anyFresh(cands []candidate, ref time.Time) bool {
	for _, c := range cands {
		if ref.Sub(c.eventAt) <= s.pol.StalenessWindow {
			return true
		}
	}
	return false
}

func (s *service) tier(n int, consistency float64) entries.Tier {
	switch {
	case n >= s.pol.HighSamples && consistency >= s.pol.HighConsistency:
		return entries.TierHigh
	case n >= s.pol.MediumSamples && consistency >= s.pol.MediumConsistency:
		return entries.TierMedium
	case n >= s.pol.MinSamples:
		return entries.TierLow
	default:
		return entries.TierBaseline
	}
}

func (s *service) sizeFactor(n int) float64 {
	switch {
	case n >= s.pol.HighSamples:
		return s.pol.SizeFactors.High
	case n >= s.pol.MediumSamples:
		return s.pol.SizeFactors.Medium
	default:
		return s.pol.SizeFactors.Low
	}
}

// recency is 1 inside the recency window, then decays linearly to the floor
// at the staleness window.
func (s *service) recency(mostSimilar, ref time.Time) float64 {
	age := ref.Sub(mostSimilar)
	if age <= s.pol.RecencyWindow {
		return 1
	}
	span := s.pol.StalenessWindow - s.pol.RecencyWindow
	if span <= 0 || age >= s.pol.StalenessWindow {
		return s.pol.RecencyFloor
	}
	frac := float64(age-s.pol.RecencyWindow) / float64(span)
	return 1 - frac*(1-s.pol.RecencyFloor)
}

func summarize(vals []float64) entries.FieldEstimate {
	lo, hi, sum := vals[0], vals[0], 0.0
	for _, v := range vals {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}
	mean := sum / float64(len(vals))
	var ss float64
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(ss / float64(len(vals)))

	cons := 0.0
	switch {
	case sd == 0:
		cons = 1
	case mean > 0:
		cons = math.Max(0, math.Min(1, 1-sd/mean))
	}
	point := math.Max(lo, math.Min(hi, round3(mean)))
	return entries.FieldEstimate{
		Point:       point,
		Min:         &lo,
		Max:         &hi,
		Mean:        mean,
		StdDev:      sd,
		Consistency: cons,
		Samples:     len(vals),
	}
}

// Apply fills every nil numeric field of rec that est covers and tags it
// pattern-estimated. Stated fields are never touched. It returns the filled
// field names and records them on est.
func Apply(rec entries.Record, est *entries.PatternEstimate) []string {
	if rec == nil || est == nil {
		return nil
	}
	current := rec.Numeric()
	var filled []string
	for name, fe := range est.Fields {
		v, known := current[name]
		if !known || v != nil {
			continue
		}
		if rec.SetNumeric(name, fe.Point) {
			rec.Header().SetFieldSource(name, entries.ProvenancePatternEstimated)
			filled = append(filled, name)
		}
	}
	sort.Strings(filled)
	est.Filled = filled
	return filled
}

func missingFields(rec entries.Record) []string {
	var out []string
	for name, v := range rec.Numeric() {
		if v == nil {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func withKey(m map[string]any, k string, v any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for kk, vv := range m {
		out[kk] = vv
	}
	out[k] = v
	return out
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
