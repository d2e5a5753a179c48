package app

import (
	"errors"
	"testing"

	"github.com/yungbote/quickentry-backend/internal/data/db"
	"github.com/yungbote/quickentry-backend/internal/platform/qdrant"
)

func TestResolveVectorIndexConfigModes(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_COLLECTION", "entries")
	t.Setenv("QDRANT_VECTOR_DIM", "1536")

	tests := []struct {
		name     string
		mode     VectorIndexMode
		driver   string
		dim      int
		wantMode VectorIndexMode
		wantCode VectorIndexConfigErrorCode
	}{
		{name: "default is memory", mode: "", driver: db.DriverSQLite, dim: 1536, wantMode: VectorIndexMemory},
		{name: "memory on sqlite", mode: VectorIndexMemory, driver: db.DriverSQLite, dim: 1536, wantMode: VectorIndexMemory},
		{name: "pgvector on postgres", mode: VectorIndexPGVector, driver: db.DriverPostgres, dim: 1536, wantMode: VectorIndexPGVector},
		{name: "pgvector on sqlite", mode: VectorIndexPGVector, driver: db.DriverSQLite, dim: 1536, wantCode: VectorIndexConfigErrorRequiresPostgres},
		{name: "qdrant", mode: VectorIndexQdrant, driver: db.DriverSQLite, dim: 1536, wantMode: VectorIndexQdrant},
		{name: "qdrant dim mismatch", mode: VectorIndexQdrant, driver: db.DriverPostgres, dim: 768, wantCode: VectorIndexConfigErrorQdrantDimMismatch},
		{name: "unknown mode", mode: "pinecone", driver: db.DriverPostgres, dim: 1536, wantCode: VectorIndexConfigErrorInvalidMode},
		{name: "zero dim", mode: VectorIndexMemory, driver: db.DriverSQLite, dim: 0, wantCode: VectorIndexConfigErrorInvalidDim},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := resolveVectorIndexConfig(tc.mode, tc.driver, tc.dim)
			if tc.wantCode != "" {
				var got *VectorIndexConfigError
				if !errors.As(err, &got) {
					t.Fatalf("expected VectorIndexConfigError, got=%T (%v)", err, err)
				}
				if got.Code != tc.wantCode {
					t.Fatalf("code: want=%q got=%q", tc.wantCode, got.Code)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveVectorIndexConfig: %v", err)
			}
			if cfg.Mode != tc.wantMode {
				t.Fatalf("mode: want=%q got=%q", tc.wantMode, cfg.Mode)
			}
			if cfg.Dim != tc.dim {
				t.Fatalf("dim: want=%d got=%d", tc.dim, cfg.Dim)
			}
		})
	}
}

func TestResolveVectorIndexConfigQdrantFromEnv(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_COLLECTION", "entries")
	t.Setenv("QDRANT_NAMESPACE_PREFIX", "qe")
	t.Setenv("QDRANT_VECTOR_DIM", "3072")

	cfg, err := resolveVectorIndexConfig(VectorIndexQdrant, db.DriverPostgres, 3072)
	if err != nil {
		t.Fatalf("resolveVectorIndexConfig: %v", err)
	}
	if cfg.Qdrant.URL != "http://qdrant:6333" {
		t.Fatalf("qdrant.URL: want=%q got=%q", "http://qdrant:6333", cfg.Qdrant.URL)
	}
	if cfg.Qdrant.Collection != "entries" {
		t.Fatalf("qdrant.Collection: want=%q got=%q", "entries", cfg.Qdrant.Collection)
	}
	if cfg.Qdrant.VectorDim != 3072 {
		t.Fatalf("qdrant.VectorDim: want=%d got=%d", 3072, cfg.Qdrant.VectorDim)
	}
}

func TestResolveVectorIndexConfigMissingQdrantURL(t *testing.T) {
	t.Setenv("QDRANT_URL", "")
	t.Setenv("QDRANT_COLLECTION", "entries")
	t.Setenv("QDRANT_VECTOR_DIM", "1536")

	_, err := resolveVectorIndexConfig(VectorIndexQdrant, db.DriverPostgres, 1536)
	var got *VectorIndexConfigError
	if !errors.As(err, &got) {
		t.Fatalf("expected VectorIndexConfigError, got=%T", err)
	}
	if got.Code != VectorIndexConfigErrorMissingQdrantURL {
		t.Fatalf("code: want=%q got=%q", VectorIndexConfigErrorMissingQdrantURL, got.Code)
	}
}

func TestMapVectorIndexConfigError(t *testing.T) {
	tests := []struct {
		in   qdrant.ConfigErrorCode
		want VectorIndexConfigErrorCode
	}{
		{qdrant.ConfigErrorMissingURL, VectorIndexConfigErrorMissingQdrantURL},
		{qdrant.ConfigErrorInvalidURL, VectorIndexConfigErrorInvalidQdrantURL},
		{qdrant.ConfigErrorMissingCollection, VectorIndexConfigErrorMissingQdrantColl},
		{qdrant.ConfigErrorMissingVectorDim, VectorIndexConfigErrorMissingQdrantVector},
		{qdrant.ConfigErrorInvalidVectorDim, VectorIndexConfigErrorInvalidQdrantVector},
		{qdrant.ConfigErrorCode("other"), VectorIndexConfigErrorUnknownQdrantFailure},
	}
	for _, tc := range tests {
		t.Run(string(tc.in), func(t *testing.T) {
			err := mapVectorIndexConfigError(VectorIndexQdrant, db.DriverPostgres, &qdrant.ConfigError{Code: tc.in})
			var got *VectorIndexConfigError
			if !errors.As(err, &got) {
				t.Fatalf("expected VectorIndexConfigError, got=%T", err)
			}
			if got.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, got.Code)
			}
			var qerr *qdrant.ConfigError
			if !errors.As(err, &qerr) {
				t.Fatalf("cause must unwrap to qdrant.ConfigError")
			}
		})
	}
}
