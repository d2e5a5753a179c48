// Package policy holds every tunable constant of the quick-entry engine.
// Defaults live in code; a YAML file may override any subset of them.
package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
)

const FileEnv = "QUICKENTRY_POLICY_FILE"

// Capability names used for pools, retries and attempt logs.
const (
	CapClassify   = "classify"
	CapExtract    = "extract"
	CapEmbed      = "embed"
	CapTranscribe = "transcribe"
	CapVector     = "vector"
)

var CapabilityNames = []string{CapClassify, CapExtract, CapEmbed, CapTranscribe, CapVector}

// TimeOfDayMode controls how candidate history is matched on time of day.
type TimeOfDayMode string

const (
	TimeOfDayOff    TimeOfDayMode = "off"
	TimeOfDayFilter TimeOfDayMode = "filter"
	// TimeOfDayPrefer filters first and falls back to all candidates when the
	// filtered set is below the minimum sample.
	TimeOfDayPrefer TimeOfDayMode = "prefer"
)

type Policy struct {
	Classifier   Classifier            `yaml:"classifier"`
	Extractor    Extractor             `yaml:"extractor"`
	Estimator    Estimator             `yaml:"estimator"`
	Retrieval    Retrieval             `yaml:"retrieval"`
	Capabilities map[string]Capability `yaml:"capabilities"`
	Pipeline     Pipeline              `yaml:"pipeline"`
	DayBuckets   entries.DayBuckets    `yaml:"day_buckets"`
}

type Classifier struct {
	// Results below the floor become a clarification request.
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	// Providers in call order; unknown or unconfigured names are skipped.
	Providers []string `yaml:"providers"`
}

type Extractor struct {
	Providers []string `yaml:"providers"`
}

type SizeFactors struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

type Weights struct {
	Size        float64 `yaml:"size"`
	Consistency float64 `yaml:"consistency"`
	Recency     float64 `yaml:"recency"`
}

type Estimator struct {
	K                   int     `yaml:"k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	MinSamples    int `yaml:"min_samples"`
	MediumSamples int `yaml:"medium_samples"`
	HighSamples   int `yaml:"high_samples"`

	HighConsistency   float64 `yaml:"high_consistency"`
	MediumConsistency float64 `yaml:"medium_consistency"`

	SizeFactors SizeFactors `yaml:"size_factors"`
	Weights     Weights     `yaml:"weights"`

	RecencyWindow   time.Duration `yaml:"recency_window"`
	StalenessWindow time.Duration `yaml:"staleness_window"`
	RecencyFloor    float64       `yaml:"recency_floor"`

	ConfidenceCap      float64 `yaml:"confidence_cap"`
	BaselineConfidence float64 `yaml:"baseline_confidence"`

	TimeOfDayMode TimeOfDayMode `yaml:"time_of_day_mode"`

	// Defaults are the generic per-subtype values used for baseline estimates.
	Defaults map[entries.Subtype]map[string]float64 `yaml:"defaults"`
}

type Retrieval struct {
	MaxResults int     `yaml:"max_results"`
	Threshold  float64 `yaml:"threshold"`
	// MaxChars bounds the rendered context when the caller gives no budget.
	MaxChars int `yaml:"max_chars"`
}

type Capability struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

type Pipeline struct {
	// Ceiling bounds one pipeline run end to end.
	Ceiling       time.Duration `yaml:"ceiling"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepBatch    int           `yaml:"sweep_batch"`
	MediaMaxBytes int64         `yaml:"media_max_bytes"`
	// MediaConcurrency bounds parallel media refs within one submission.
	MediaConcurrency int `yaml:"media_concurrency"`
}

func Default() Policy {
	return Policy{
		Classifier: Classifier{
			ConfidenceFloor: 0.5,
			Providers:       []string{"llm", "heuristic"},
		},
		Extractor: Extractor{
			Providers: []string{"llm", "rules"},
		},
		Estimator: Estimator{
			K:                   20,
			SimilarityThreshold: 0.7,
			MinSamples:          3,
			MediumSamples:       5,
			HighSamples:         10,
			HighConsistency:     0.8,
			MediumConsistency:   0.6,
			SizeFactors:         SizeFactors{High: 1.0, Medium: 0.8, Low: 0.6},
			Weights:             Weights{Size: 0.4, Consistency: 0.4, Recency: 0.2},
			RecencyWindow:       30 * 24 * time.Hour,
			StalenessWindow:     60 * 24 * time.Hour,
			RecencyFloor:        0.5,
			ConfidenceCap:       0.95,
			BaselineConfidence:  0.3,
			TimeOfDayMode:       TimeOfDayFilter,
			Defaults: map[entries.Subtype]map[string]float64{
				entries.SubtypeMeal: {
					"calories":  500,
					"protein_g": 25,
					"carbs_g":   55,
					"fat_g":     18,
				},
				entries.SubtypeWorkout: {
					"duration_min":    30,
					"calories_burned": 250,
				},
			},
		},
		Retrieval: Retrieval{
			MaxResults: 10,
			Threshold:  0.7,
			MaxChars:   2000,
		},
		Capabilities: map[string]Capability{
			CapClassify:   {MaxAttempts: 3, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second, Timeout: 15 * time.Second, Concurrency: 16},
			CapExtract:    {MaxAttempts: 3, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second, Timeout: 20 * time.Second, Concurrency: 16},
			CapEmbed:      {MaxAttempts: 3, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second, Timeout: 10 * time.Second, Concurrency: 32},
			CapTranscribe: {MaxAttempts: 2, BaseBackoff: 500 * time.Millisecond, MaxBackoff: 4 * time.Second, Timeout: 30 * time.Second, Concurrency: 8},
			CapVector:     {MaxAttempts: 3, BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Timeout: 5 * time.Second, Concurrency: 64},
		},
		Pipeline: Pipeline{
			Ceiling:          60 * time.Second,
			SweepInterval:    15 * time.Second,
			SweepBatch:       100,
			MediaMaxBytes:    20 << 20,
			MediaConcurrency: 4,
		},
		DayBuckets: entries.DefaultDayBuckets(),
	}
}

// Load reads the file named by QUICKENTRY_POLICY_FILE, or returns defaults.
func Load() (Policy, error) {
	path := strings.TrimSpace(os.Getenv(FileEnv))
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile overlays the YAML document at path on the defaults.
func LoadFile(path string) (Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	return Parse(b)
}

// Parse overlays a YAML document on the defaults. Maps merge per key, so a
// file that only names one capability keeps the others.
func Parse(b []byte) (Policy, error) {
	p := Default()
	defaults := p.Estimator.Defaults
	caps := p.Capabilities
	p.Estimator.Defaults = nil
	p.Capabilities = nil

	if err := yaml.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	p.Estimator.Defaults = mergeDefaults(defaults, p.Estimator.Defaults)
	p.Capabilities = mergeCapabilities(caps, p.Capabilities)

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func mergeDefaults(base, over map[entries.Subtype]map[string]float64) map[entries.Subtype]map[string]float64 {
	out := make(map[entries.Subtype]map[string]float64, len(base)+len(over))
	for st, fields := range base {
		cp := make(map[string]float64, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		out[st] = cp
	}
	for st, fields := range over {
		if out[st] == nil {
			out[st] = map[string]float64{}
		}
		for k, v := range fields {
			out[st][k] = v
		}
	}
	return out
}

func mergeCapabilities(base, over map[string]Capability) map[string]Capability {
	out := make(map[string]Capability, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		cur := out[k]
		if v.MaxAttempts > 0 {
			cur.MaxAttempts = v.MaxAttempts
		}
		if v.BaseBackoff > 0 {
			cur.BaseBackoff = v.BaseBackoff
		}
		if v.MaxBackoff > 0 {
			cur.MaxBackoff = v.MaxBackoff
		}
		if v.Timeout > 0 {
			cur.Timeout = v.Timeout
		}
		if v.Concurrency > 0 {
			cur.Concurrency = v.Concurrency
		}
		out[k] = cur
	}
	return out
}

// Capability returns the settings for name, falling back to a conservative
// single-attempt profile for unknown names.
func (p Policy) Capability(name string) Capability {
	if c, ok := p.Capabilities[name]; ok {
		return c
	}
	return Capability{MaxAttempts: 1, Timeout: 10 * time.Second, Concurrency: 4}
}

// Validate rejects values the engine cannot run with.
func (p Policy) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !unit(p.Classifier.ConfidenceFloor) {
		bad("classifier.confidence_floor %v outside [0,1]", p.Classifier.ConfidenceFloor)
	}

	e := p.Estimator
	if e.K < 1 {
		bad("estimator.k must be positive")
	}
	if !unit(e.SimilarityThreshold) {
		bad("estimator.similarity_threshold %v outside [0,1]", e.SimilarityThreshold)
	}
	if e.MinSamples < 1 || e.MediumSamples < e.MinSamples || e.HighSamples < e.MediumSamples {
		bad("estimator sample breakpoints must satisfy 1 <= min <= medium <= high (got %d/%d/%d)", e.MinSamples, e.MediumSamples, e.HighSamples)
	}
	if e.K < e.MinSamples {
		bad("estimator.k %d below min_samples %d", e.K, e.MinSamples)
	}
	if !unit(e.HighConsistency) || !unit(e.MediumConsistency) || e.MediumConsistency > e.HighConsistency {
		bad("estimator consistency gates must satisfy 0 <= medium <= high <= 1")
	}
	for _, f := range []float64{e.SizeFactors.High, e.SizeFactors.Medium, e.SizeFactors.Low} {
		if !unit(f) {
			bad("estimator.size_factors must lie in [0,1]")
			break
		}
	}
	if sum := e.Weights.Size + e.Weights.Consistency + e.Weights.Recency; sum <= 0 || sum > 1.0001 {
		bad("estimator.weights must sum to (0,1], got %v", sum)
	}
	if e.RecencyWindow <= 0 || e.StalenessWindow < e.RecencyWindow {
		bad("estimator windows must satisfy 0 < recency <= staleness")
	}
	if !unit(e.RecencyFloor) {
		bad("estimator.recency_floor %v outside [0,1]", e.RecencyFloor)
	}
	if e.ConfidenceCap <= 0 || e.ConfidenceCap >= 1 {
		bad("estimator.confidence_cap must be in (0,1)")
	}
	if !unit(e.BaselineConfidence) || e.BaselineConfidence > e.ConfidenceCap {
		bad("estimator.baseline_confidence %v outside [0,cap]", e.BaselineConfidence)
	}
	switch e.TimeOfDayMode {
	case TimeOfDayOff, TimeOfDayFilter, TimeOfDayPrefer:
	default:
		bad("estimator.time_of_day_mode %q is not one of off|filter|prefer", e.TimeOfDayMode)
	}
	for st := range e.Defaults {
		if _, ok := entries.ParseSubtype(string(st)); !ok {
			bad("estimator.defaults: unknown subtype %q", st)
		}
	}

	if p.Retrieval.MaxResults < 1 {
		bad("retrieval.max_results must be positive")
	}
	if !unit(p.Retrieval.Threshold) {
		bad("retrieval.threshold %v outside [0,1]", p.Retrieval.Threshold)
	}
	if p.Retrieval.MaxChars < 0 {
		bad("retrieval.max_chars must not be negative")
	}

	for name, c := range p.Capabilities {
		if c.MaxAttempts < 1 || c.Concurrency < 1 || c.Timeout <= 0 {
			bad("capabilities.%s needs max_attempts, concurrency and timeout > 0", name)
		}
		if c.MaxBackoff > 0 && c.MaxBackoff < c.BaseBackoff {
			bad("capabilities.%s max_backoff below base_backoff", name)
		}
	}

	if p.Pipeline.Ceiling <= 0 {
		bad("pipeline.ceiling must be positive")
	}
	if p.Pipeline.SweepInterval <= 0 || p.Pipeline.SweepBatch < 1 {
		bad("pipeline sweep settings must be positive")
	}
	if p.Pipeline.MediaMaxBytes <= 0 || p.Pipeline.MediaConcurrency < 1 {
		bad("pipeline media limits must be positive")
	}

	b := p.DayBuckets
	if !(b.MorningStart >= 0 && b.MorningStart < b.AfternoonStart && b.AfternoonStart < b.EveningStart &&
		b.EveningStart < b.NightStart && b.NightStart <= 24) {
		bad("day_buckets must be increasing hours within 0..24")
	}

	return errors.Join(errs...)
}

func unit(v float64) bool { return v >= 0 && v <= 1 }
