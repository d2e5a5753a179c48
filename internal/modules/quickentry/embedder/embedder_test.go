package embedder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type fakeProvider struct {
	dim   int
	errs  []error
	calls int
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-embed" }
func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func newService(t *testing.T, cache Cache, dim int, p Provider) Service {
	t.Helper()
	pol := policy.Default()
	c := pol.Capabilities[policy.CapEmbed]
	c.BaseBackoff = time.Millisecond
	c.MaxBackoff = time.Millisecond
	pol.Capabilities[policy.CapEmbed] = c
	runner, err := capability.NewRunner(logger.Nop(), pol, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	svc, err := NewService(logger.Nop(), runner, cache, dim, p)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestEmbedUsesCacheByContentHash(t *testing.T) {
	p := &fakeProvider{dim: 4}
	cache := NewLRU(8)
	svc := newService(t, cache, 4, p)

	v1, attempts, err := svc.Embed(context.Background(), "ran 5k this morning")
	if err != nil || len(v1) != 4 || len(attempts) != 1 {
		t.Fatalf("first Embed: v=%v attempts=%d err=%v", v1, len(attempts), err)
	}
	v2, attempts, err := svc.Embed(context.Background(), "  ran   5k this morning ")
	if err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if p.calls != 1 || len(attempts) != 0 {
		t.Fatalf("normalized duplicate should hit cache: calls=%d attempts=%d", p.calls, len(attempts))
	}
	if v1[0] != v2[0] {
		t.Fatalf("cached vector: want=%v got=%v", v1, v2)
	}
}

func TestEmbedRejectsWrongDimension(t *testing.T) {
	p := &fakeProvider{dim: 3}
	svc := newService(t, nil, 4, p)
	_, _, err := svc.Embed(context.Background(), "oatmeal")
	if !entries.IsKind(err, entries.KindEmbeddingUnavailable) {
		t.Fatalf("kind: want=EmbeddingUnavailable got=%v", err)
	}
	if p.calls != 1 {
		t.Fatalf("dimension mismatch must not be retried: calls=%d", p.calls)
	}
}

func TestEmbedRetriesTransientFailure(t *testing.T) {
	p := &fakeProvider{dim: 2, errs: []error{errors.New("connection reset"), nil}}
	svc := newService(t, NewLRU(4), 2, p)
	_, attempts, err := svc.Embed(context.Background(), "bp 120/80")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if p.calls != 2 || len(attempts) != 2 || attempts[0].ErrorKind != entries.KindEmbeddingUnavailable {
		t.Fatalf("retry: calls=%d attempts=%+v", p.calls, attempts)
	}
}

func TestEmbedEmptyText(t *testing.T) {
	svc := newService(t, nil, 2, &fakeProvider{dim: 2})
	if _, _, err := svc.Embed(context.Background(), " \t "); !entries.IsKind(err, entries.KindValidation) {
		t.Fatalf("kind: want=ValidationError got=%v", err)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2)
	_ = c.Set(ctx, "m", "a", []float32{1})
	_ = c.Set(ctx, "m", "b", []float32{2})
	if _, ok, _ := c.Get(ctx, "m", "a"); !ok {
		t.Fatalf("a should be cached")
	}
	_ = c.Set(ctx, "m", "c", []float32{3})
	if _, ok, _ := c.Get(ctx, "m", "b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if _, ok, _ := c.Get(ctx, "m", "a"); !ok {
		t.Fatalf("a was used recently and should survive")
	}
	if _, ok, _ := c.Get(ctx, "other", "a"); ok {
		t.Fatalf("keys are scoped by model")
	}
	if c.Len() != 2 {
		t.Fatalf("Len: want=2 got=%d", c.Len())
	}
}

func TestContentHashIgnoresWhitespace(t *testing.T) {
	if ContentHash("ate  3 eggs") != ContentHash(" ate 3 eggs ") {
		t.Fatalf("ContentHash should hash normalized text")
	}
	if ContentHash("ate 3 eggs") == ContentHash("ate 4 eggs") {
		t.Fatalf("different text must hash differently")
	}
}
