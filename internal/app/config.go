package app

import (
	"strings"
	"time"

	"github.com/yungbote/quickentry-backend/internal/platform/envutil"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type Config struct {
	ServiceName string
	Environment string
	Version     string

	HTTPAddr        string
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	VectorIndexMode VectorIndexMode
	EmbeddingDim    int
	EmbedCacheSize  int

	GCPMediaEnabled bool
	SpeechLanguage  string
	SweeperEnabled  bool
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		ServiceName:     envutil.String("SERVICE_NAME", "quickentry"),
		Environment:     envutil.String("ENVIRONMENT", "development"),
		Version:         envutil.String("SERVICE_VERSION", "dev"),
		HTTPAddr:        envutil.String("HTTP_ADDR", ":8080"),
		CORSOrigins:     splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		VectorIndexMode: VectorIndexMode(strings.ToLower(envutil.String("VECTOR_INDEX_MODE", string(VectorIndexMemory)))),
		EmbeddingDim:    envutil.Int("EMBEDDING_DIM", 1536),
		EmbedCacheSize:  envutil.Int("EMBED_CACHE_SIZE", 4096),
		GCPMediaEnabled: envutil.Bool("GCP_MEDIA_ENABLED", false),
		SpeechLanguage:  envutil.String("SPEECH_LANGUAGE_CODE", "en-US"),
		SweeperEnabled:  envutil.Bool("SWEEPER_ENABLED", true),
	}
	if log != nil {
		log.Info("Loaded config",
			"service", cfg.ServiceName,
			"environment", cfg.Environment,
			"http_addr", cfg.HTTPAddr,
			"vector_index_mode", cfg.VectorIndexMode,
			"embedding_dim", cfg.EmbeddingDim,
			"gcp_media_enabled", cfg.GCPMediaEnabled,
			"sweeper_enabled", cfg.SweeperEnabled,
		)
	}
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
