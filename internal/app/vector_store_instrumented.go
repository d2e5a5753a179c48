package app

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/observability"
	"github.com/yungbote/quickentry-backend/internal/vectorindex"
)

// instrumentedIndex opens one span per index call.
type instrumentedIndex struct {
	mode  string
	inner vectorindex.Index
}

func instrumentIndex(mode string, inner vectorindex.Index) vectorindex.Index {
	if inner == nil {
		return nil
	}
	return &instrumentedIndex{mode: mode, inner: inner}
}

func (s *instrumentedIndex) Upsert(ctx context.Context, points ...vectorindex.Point) error {
	ctx, span := observability.StartSpan(ctx, "vectorindex.upsert",
		attribute.String("vectorindex.mode", s.mode),
		attribute.Int("vectorindex.points", len(points)),
	)
	err := s.inner.Upsert(ctx, points...)
	observability.EndSpan(span, err, string(entries.KindOf(err)))
	return err
}

func (s *instrumentedIndex) Search(ctx context.Context, q vectorindex.Query) ([]vectorindex.Match, error) {
	ctx, span := observability.StartSpan(ctx, "vectorindex.search",
		attribute.String("vectorindex.mode", s.mode),
		attribute.Int("vectorindex.k", q.K),
	)
	out, err := s.inner.Search(ctx, q)
	span.SetAttributes(attribute.Int("vectorindex.matches", len(out)))
	observability.EndSpan(span, err, string(entries.KindOf(err)))
	return out, err
}

func (s *instrumentedIndex) Deactivate(ctx context.Context, userID uuid.UUID, ids []string) error {
	ctx, span := observability.StartSpan(ctx, "vectorindex.deactivate",
		attribute.String("vectorindex.mode", s.mode),
		attribute.Int("vectorindex.points", len(ids)),
	)
	err := s.inner.Deactivate(ctx, userID, ids)
	observability.EndSpan(span, err, string(entries.KindOf(err)))
	return err
}

func (s *instrumentedIndex) Refresh(ctx context.Context, points ...vectorindex.Point) error {
	ctx, span := observability.StartSpan(ctx, "vectorindex.refresh",
		attribute.String("vectorindex.mode", s.mode),
		attribute.Int("vectorindex.points", len(points)),
	)
	err := s.inner.Refresh(ctx, points...)
	observability.EndSpan(span, err, string(entries.KindOf(err)))
	return err
}
