package app

import (
	"context"
	"fmt"

	"github.com/yungbote/quickentry-backend/internal/platform/gcp"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
	"github.com/yungbote/quickentry-backend/internal/platform/openai"
	"github.com/yungbote/quickentry-backend/internal/platform/redis"
)

// Clients holds the external provider clients. Any field may be nil when the
// provider is not configured.
type Clients struct {
	OpenAI     openai.Client
	EmbedCache *redis.EmbeddingCache
	Blobs      gcp.Blobs
	Speech     gcp.Speech
	Vision     gcp.Vision
	Document   gcp.Document
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	oaCfg := openai.ConfigFromEnv()
	if oaCfg.APIKey != "" {
		if oaCfg.EmbedDim == 0 {
			oaCfg.EmbedDim = cfg.EmbeddingDim
		}
		oa, err := openai.NewClient(log, oaCfg)
		if err != nil {
			return Clients{}, fmt.Errorf("init openai client: %w", err)
		}
		c.OpenAI = oa
	} else {
		log.Warn("OPENAI_API_KEY not set; LLM classification, extraction and embeddings disabled")
	}

	if rc := redis.ConfigFromEnv(); rc.Addr != "" {
		cache, err := redis.NewEmbeddingCache(log, rc)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis embedding cache: %w", err)
		}
		c.EmbedCache = cache
	}

	if !cfg.GCPMediaEnabled {
		return c, nil
	}
	blobs, err := resolveMediaBlobs(ctx, log)
	if err != nil {
		c.Close()
		return Clients{}, err
	}
	c.Blobs = blobs

	speech, err := gcp.NewSpeech(ctx, log, cfg.SpeechLanguage)
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init speech client: %w", err)
	}
	c.Speech = speech

	vision, err := gcp.NewVision(ctx, log)
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init vision client: %w", err)
	}
	c.Vision = vision

	if dc := gcp.DocumentConfigFromEnv(); dc.Enabled() {
		document, err := gcp.NewDocument(ctx, log, dc)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init document client: %w", err)
		}
		c.Document = document
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.EmbedCache != nil {
		_ = c.EmbedCache.Close()
	}
	if c.Blobs != nil {
		_ = c.Blobs.Close()
	}
	if c.Speech != nil {
		_ = c.Speech.Close()
	}
	if c.Vision != nil {
		_ = c.Vision.Close()
	}
	if c.Document != nil {
		_ = c.Document.Close()
	}
}
