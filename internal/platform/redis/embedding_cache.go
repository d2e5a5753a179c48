package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/quickentry-backend/internal/platform/envutil"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

// EmbeddingCache stores embedding vectors keyed by model and content hash so
// identical text is embedded once across processes.
type EmbeddingCache struct {
	log    *logger.Logger
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Addr:     envutil.String("REDIS_ADDR", ""),
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
		Prefix:   envutil.String("REDIS_EMBED_PREFIX", "qe:emb"),
		TTL:      envutil.Duration("REDIS_EMBED_TTL", 30*24*time.Hour),
	}
}

func NewEmbeddingCache(log *logger.Logger, cfg Config) (*EmbeddingCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewEmbeddingCacheFromClient(log, rdb, cfg.Prefix, cfg.TTL), nil
}

func NewEmbeddingCacheFromClient(log *logger.Logger, rdb goredis.UniversalClient, prefix string, ttl time.Duration) *EmbeddingCache {
	if prefix == "" {
		prefix = "qe:emb"
	}
	return &EmbeddingCache{
		log:    log.With("service", "RedisEmbeddingCache"),
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *EmbeddingCache) key(model, hash string) string {
	return c.prefix + ":" + model + ":" + hash
}

// Get returns the cached vector, or ok=false on a miss.
func (c *EmbeddingCache) Get(ctx context.Context, model, hash string) ([]float32, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(model, hash)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	vec, err := decodeVector(raw)
	if err != nil {
		// A corrupt entry is a miss; the caller re-embeds and overwrites it.
		c.log.Warn("Dropping undecodable cached embedding", "error", err)
		return nil, false, nil
	}
	return vec, true, nil
}

func (c *EmbeddingCache) Set(ctx context.Context, model, hash string, vec []float32) error {
	if err := c.rdb.Set(ctx, c.key(model, hash), encodeVector(vec), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *EmbeddingCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// encodeVector packs float32s little-endian.
func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("bad vector payload length %d", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}
