package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/quickentry-backend/internal/observability"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
	"github.com/yungbote/quickentry-backend/internal/platform/qdrant"
	"github.com/yungbote/quickentry-backend/internal/vectorindex"
)

var (
	newQdrantVectorStore = qdrant.NewVectorStore
	newPGVectorIndex     = func(ctx context.Context, gdb *gorm.DB, dim int, log *logger.Logger) (vectorindex.Index, error) {
		idx, err := vectorindex.NewPGVector(gdb, dim, log)
		if err != nil {
			return nil, err
		}
		if err := idx.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return idx, nil
	}
)

type VectorIndexBootstrapErrorCode string

const (
	VectorIndexBootstrapErrorConnectFailed      VectorIndexBootstrapErrorCode = "connect_failed"
	VectorIndexBootstrapErrorQdrantConfigFailed VectorIndexBootstrapErrorCode = "qdrant_config_failed"
	VectorIndexBootstrapErrorSchemaFailed       VectorIndexBootstrapErrorCode = "schema_failed"
	VectorIndexBootstrapErrorInitFailed         VectorIndexBootstrapErrorCode = "provider_init_failed"
)

type VectorIndexBootstrapError struct {
	Code  VectorIndexBootstrapErrorCode
	Mode  VectorIndexMode
	Cause error
}

func (e *VectorIndexBootstrapError) Error() string {
	if e == nil {
		return "vector index bootstrap failed"
	}
	return fmt.Sprintf("vector index bootstrap failed (code=%s mode=%q): %v", e.Code, e.Mode, e.Cause)
}

func (e *VectorIndexBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveVectorIndex opens the backend named by cfg and wraps it with
// tracing spans.
func resolveVectorIndex(ctx context.Context, log *logger.Logger, cfg VectorIndexConfig, gdb *gorm.DB, metrics *observability.Metrics) (vectorindex.Index, error) {
	log.Info("Selecting vector index",
		"mode", cfg.Mode,
		"dim", cfg.Dim,
		"qdrant_url", cfg.Qdrant.URL,
		"qdrant_collection", cfg.Qdrant.Collection,
	)

	var (
		idx vectorindex.Index
		err error
	)
	switch cfg.Mode {
	case VectorIndexMemory:
		log.Warn("Using in-memory vector index; vectors are lost on restart")
		idx = vectorindex.NewMemory(cfg.Dim, log)
	case VectorIndexPGVector:
		idx, err = newPGVectorIndex(ctx, gdb, cfg.Dim, log)
	case VectorIndexQdrant:
		idx, err = newQdrantVectorStore(ctx, log, cfg.Qdrant)
	default:
		err = &VectorIndexConfigError{Code: VectorIndexConfigErrorInvalidMode, Mode: cfg.Mode, Cause: fmt.Errorf("unsupported mode %q", cfg.Mode)}
	}
	if err != nil {
		classified := classifyVectorIndexBootstrapError(cfg.Mode, err)
		code := vectorIndexBootstrapErrorCode(classified)
		metrics.ObserveVectorIndexBootstrap(string(cfg.Mode), "error", string(code))
		log.Error("Vector index bootstrap failed",
			"mode", cfg.Mode,
			"error_code", code,
			"error", classified,
		)
		return nil, classified
	}
	metrics.ObserveVectorIndexBootstrap(string(cfg.Mode), "success", "none")
	return instrumentIndex(string(cfg.Mode), idx), nil
}

func classifyVectorIndexBootstrapError(mode VectorIndexMode, err error) error {
	var cfgErr *VectorIndexConfigError
	if errors.As(err, &cfgErr) {
		return err
	}
	code := VectorIndexBootstrapErrorInitFailed
	var (
		urlErr  *neturl.Error
		netErr  net.Error
		qcfgErr *qdrant.ConfigError
	)
	errLower := strings.ToLower(err.Error())
	switch {
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		code = VectorIndexBootstrapErrorConnectFailed
	case strings.Contains(errLower, "ready check failed"), strings.Contains(errLower, "connection refused"):
		code = VectorIndexBootstrapErrorConnectFailed
	case errors.As(err, &qcfgErr):
		code = VectorIndexBootstrapErrorQdrantConfigFailed
	case mode == VectorIndexPGVector && (strings.Contains(errLower, "extension") || strings.Contains(errLower, "schema")):
		code = VectorIndexBootstrapErrorSchemaFailed
	}
	return &VectorIndexBootstrapError{Code: code, Mode: mode, Cause: err}
}

func vectorIndexBootstrapErrorCode(err error) VectorIndexBootstrapErrorCode {
	var bootstrapErr *VectorIndexBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	var cfgErr *VectorIndexConfigError
	if errors.As(err, &cfgErr) {
		return VectorIndexBootstrapErrorCode(cfgErr.Code)
	}
	return VectorIndexBootstrapErrorConnectFailed
}
