package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/observability"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
	"github.com/yungbote/quickentry-backend/internal/platform/qdrant"
	"github.com/yungbote/quickentry-backend/internal/vectorindex"
)

func TestClassifyVectorIndexBootstrapError(t *testing.T) {
	tests := []struct {
		name string
		mode VectorIndexMode
		err  error
		want VectorIndexBootstrapErrorCode
	}{
		{
			name: "url error",
			mode: VectorIndexQdrant,
			err:  &neturl.Error{Op: "Get", URL: "http://qdrant:6333/readyz", Err: errors.New("dial tcp: refused")},
			want: VectorIndexBootstrapErrorConnectFailed,
		},
		{
			name: "net error",
			mode: VectorIndexQdrant,
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")},
			want: VectorIndexBootstrapErrorConnectFailed,
		},
		{
			name: "ready check text",
			mode: VectorIndexQdrant,
			err:  fmt.Errorf("qdrant ready check failed: status 503"),
			want: VectorIndexBootstrapErrorConnectFailed,
		},
		{
			name: "qdrant config",
			mode: VectorIndexQdrant,
			err:  fmt.Errorf("bootstrap: %w", &qdrant.ConfigError{Code: qdrant.ConfigErrorMissingCollection}),
			want: VectorIndexBootstrapErrorQdrantConfigFailed,
		},
		{
			name: "pgvector extension",
			mode: VectorIndexPGVector,
			err:  errors.New(`ERROR: extension "vector" is not available`),
			want: VectorIndexBootstrapErrorSchemaFailed,
		},
		{
			name: "other",
			mode: VectorIndexQdrant,
			err:  errors.New("collection has wrong distance"),
			want: VectorIndexBootstrapErrorInitFailed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyVectorIndexBootstrapError(tc.mode, tc.err)
			var got *VectorIndexBootstrapError
			if !errors.As(err, &got) {
				t.Fatalf("expected VectorIndexBootstrapError, got=%T", err)
			}
			if got.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, got.Code)
			}
			if got.Mode != tc.mode {
				t.Fatalf("mode: want=%q got=%q", tc.mode, got.Mode)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("cause must unwrap to the source error")
			}
		})
	}
}

func TestVectorIndexBootstrapErrorCodePassesConfigErrors(t *testing.T) {
	err := &VectorIndexConfigError{Code: VectorIndexConfigErrorInvalidMode, Mode: "x"}
	if got := classifyVectorIndexBootstrapError("x", err); got != error(err) {
		t.Fatalf("config errors must pass through unchanged, got=%v", got)
	}
	if code := vectorIndexBootstrapErrorCode(err); code != VectorIndexBootstrapErrorCode(VectorIndexConfigErrorInvalidMode) {
		t.Fatalf("code: want=%q got=%q", VectorIndexConfigErrorInvalidMode, code)
	}
}

func TestResolveVectorIndexMemory(t *testing.T) {
	idx, err := resolveVectorIndex(context.Background(), logger.Nop(), VectorIndexConfig{Mode: VectorIndexMemory, Dim: 3}, nil, observability.NewMetrics())
	if err != nil {
		t.Fatalf("resolveVectorIndex: %v", err)
	}
	if _, ok := idx.(*instrumentedIndex); !ok {
		t.Fatalf("index must be instrumented, got=%T", idx)
	}

	user := uuid.New()
	p := vectorindex.Point{
		ID:           vectorindex.PointID(uuid.New(), entries.EmbeddingContent),
		Vector:       []float32{1, 0, 0},
		UserID:       user,
		QuickEntryID: uuid.New(),
		Subtype:      entries.SubtypeNote,
		EventAt:      time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Active:       true,
		Content:      "slept badly",
	}
	if err := idx.Upsert(context.Background(), p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := idx.Search(context.Background(), vectorindex.Query{Vector: []float32{1, 0, 0}, UserID: user, K: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != p.ID {
		t.Fatalf("matches: want=[%s] got=%v", p.ID, got)
	}
	if err := idx.Deactivate(context.Background(), user, []string{p.ID}); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	got, err = idx.Search(context.Background(), vectorindex.Query{Vector: []float32{1, 0, 0}, UserID: user, K: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("deactivated point returned: %v", got)
	}
}

func TestResolveVectorIndexQdrantFailure(t *testing.T) {
	orig := newQdrantVectorStore
	t.Cleanup(func() { newQdrantVectorStore = orig })
	newQdrantVectorStore = func(ctx context.Context, log *logger.Logger, cfg qdrant.Config) (vectorindex.Index, error) {
		return nil, &neturl.Error{Op: "Get", URL: cfg.URL, Err: errors.New("connection refused")}
	}

	_, err := resolveVectorIndex(context.Background(), logger.Nop(), VectorIndexConfig{
		Mode:   VectorIndexQdrant,
		Dim:    3,
		Qdrant: qdrant.Config{URL: "http://qdrant:6333", Collection: "entries", VectorDim: 3},
	}, nil, nil)
	var got *VectorIndexBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected VectorIndexBootstrapError, got=%T", err)
	}
	if got.Code != VectorIndexBootstrapErrorConnectFailed {
		t.Fatalf("code: want=%q got=%q", VectorIndexBootstrapErrorConnectFailed, got.Code)
	}
}
