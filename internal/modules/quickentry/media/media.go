// Package media turns voice, image and document references into text before
// an entry reaches classification.
package media

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type Kind string

const (
	KindAudio    Kind = "audio"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

type Ref struct {
	Kind Kind
	URI  string
}

// RefsOf lists refs in a fixed order: audio, images, document.
func RefsOf(m entries.MediaRefs) []Ref {
	var out []Ref
	if m.AudioRef != "" {
		out = append(out, Ref{Kind: KindAudio, URI: m.AudioRef})
	}
	for _, u := range m.ImageRefs {
		out = append(out, Ref{Kind: KindImage, URI: u})
	}
	if m.DocumentRef != "" {
		out = append(out, Ref{Kind: KindDocument, URI: m.DocumentRef})
	}
	return out
}

// Transcriber turns one media ref into text.
type Transcriber interface {
	Name() string
	Supports(kind Kind) bool
	Transcribe(ctx context.Context, ref Ref) (string, error)
}

// Chain runs each ref through the transcribers that support its kind, in
// order, via the capability runner.
type Chain struct {
	log          *logger.Logger
	runner       *capability.Runner
	transcribers []Transcriber
	concurrency  int
}

func NewChain(log *logger.Logger, runner *capability.Runner, concurrency int, transcribers ...Transcriber) (*Chain, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if runner == nil {
		return nil, fmt.Errorf("capability runner required")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	var ts []Transcriber
	for _, t := range transcribers {
		if t != nil {
			ts = append(ts, t)
		}
	}
	return &Chain{
		log:          log.With("component", "MediaChain"),
		runner:       runner,
		transcribers: ts,
		concurrency:  concurrency,
	}, nil
}

// Supports reports whether any transcriber handles kind.
func (c *Chain) Supports(kind Kind) bool {
	for _, t := range c.transcribers {
		if t.Supports(kind) {
			return true
		}
	}
	return false
}

func (c *Chain) Transcribe(ctx context.Context, ref Ref) (string, []entries.Attempt, error) {
	var calls []capability.Call[string]
	for _, t := range c.transcribers {
		if !t.Supports(ref.Kind) {
			continue
		}
		t := t
		calls = append(calls, capability.Call[string]{
			Provider: t.Name(),
			Fn: func(ctx context.Context) (string, error) {
				text, err := t.Transcribe(ctx, ref)
				if err != nil {
					return "", err
				}
				return checkText(text)
			},
		})
	}
	if len(calls) == 0 {
		return "", nil, entries.NewError(entries.KindValidation, fmt.Sprintf("no transcriber for %s refs", ref.Kind), nil)
	}
	return capability.Run(ctx, c.runner, policy.CapTranscribe, calls...)
}

// Resolve transcribes refs in parallel and returns texts in ref order. The
// first failure cancels the rest.
func (c *Chain) Resolve(ctx context.Context, refs []Ref) ([]string, []entries.Attempt, error) {
	if len(refs) == 0 {
		return nil, nil, nil
	}
	out := make([]string, len(refs))
	var (
		mu       sync.Mutex
		attempts []entries.Attempt
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			text, att, err := c.Transcribe(gctx, ref)
			mu.Lock()
			attempts = append(attempts, att...)
			mu.Unlock()
			if err != nil {
				return err
			}
			out[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn("media resolution failed", "refs", len(refs), "error_kind", entries.KindOf(err))
		return nil, attempts, err
	}
	return out, attempts, nil
}

// checkText enforces non-empty UTF-8 output. A bad result is not retried on
// the same provider.
func checkText(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", capability.Permanent(entries.NewError(entries.KindTranscriptionUnavailable, "provider returned invalid UTF-8", nil))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", capability.Permanent(entries.NewError(entries.KindTranscriptionUnavailable, "provider returned no text", nil))
	}
	return text, nil
}
