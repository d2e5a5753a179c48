package app

import (
	"reflect"
	"testing"
	"time"

	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "VECTOR_INDEX_MODE", "EMBEDDING_DIM", "CORS_ALLOWED_ORIGINS", "GCP_MEDIA_ENABLED", "SWEEPER_ENABLED", "SHUTDOWN_TIMEOUT"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig(logger.Nop())
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr: want=%q got=%q", ":8080", cfg.HTTPAddr)
	}
	if cfg.VectorIndexMode != VectorIndexMemory {
		t.Fatalf("VectorIndexMode: want=%q got=%q", VectorIndexMemory, cfg.VectorIndexMode)
	}
	if cfg.EmbeddingDim != 1536 {
		t.Fatalf("EmbeddingDim: want=%d got=%d", 1536, cfg.EmbeddingDim)
	}
	if cfg.GCPMediaEnabled || !cfg.SweeperEnabled {
		t.Fatalf("flags: want media=false sweeper=true got media=%v sweeper=%v", cfg.GCPMediaEnabled, cfg.SweeperEnabled)
	}
	if cfg.ShutdownTimeout != 20*time.Second {
		t.Fatalf("ShutdownTimeout: want=%v got=%v", 20*time.Second, cfg.ShutdownTimeout)
	}
	if len(cfg.CORSOrigins) != 0 {
		t.Fatalf("CORSOrigins: want empty got=%v", cfg.CORSOrigins)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("VECTOR_INDEX_MODE", "QDRANT")
	t.Setenv("EMBEDDING_DIM", "768")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://app.example.com , ,https://admin.example.com")
	t.Setenv("GCP_MEDIA_ENABLED", "true")
	t.Setenv("SWEEPER_ENABLED", "false")

	cfg := LoadConfig(nil)
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("HTTPAddr: want=%q got=%q", ":9090", cfg.HTTPAddr)
	}
	if cfg.VectorIndexMode != VectorIndexQdrant {
		t.Fatalf("VectorIndexMode: want=%q got=%q", VectorIndexQdrant, cfg.VectorIndexMode)
	}
	if cfg.EmbeddingDim != 768 {
		t.Fatalf("EmbeddingDim: want=%d got=%d", 768, cfg.EmbeddingDim)
	}
	want := []string{"https://app.example.com", "https://admin.example.com"}
	if !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Fatalf("CORSOrigins: want=%v got=%v", want, cfg.CORSOrigins)
	}
	if !cfg.GCPMediaEnabled || cfg.SweeperEnabled {
		t.Fatalf("flags: want media=true sweeper=false got media=%v sweeper=%v", cfg.GCPMediaEnabled, cfg.SweeperEnabled)
	}
}
