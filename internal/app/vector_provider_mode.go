package app

import (
	"errors"
	"fmt"

	"github.com/yungbote/quickentry-backend/internal/data/db"
	"github.com/yungbote/quickentry-backend/internal/platform/qdrant"
)

type VectorIndexMode string

const (
	VectorIndexMemory   VectorIndexMode = "memory"
	VectorIndexPGVector VectorIndexMode = "pgvector"
	VectorIndexQdrant   VectorIndexMode = "qdrant"
)

type VectorIndexConfigErrorCode string

const (
	VectorIndexConfigErrorInvalidMode          VectorIndexConfigErrorCode = "invalid_mode"
	VectorIndexConfigErrorInvalidDim           VectorIndexConfigErrorCode = "invalid_embedding_dim"
	VectorIndexConfigErrorRequiresPostgres     VectorIndexConfigErrorCode = "pgvector_requires_postgres"
	VectorIndexConfigErrorMissingQdrantURL     VectorIndexConfigErrorCode = "missing_qdrant_url"
	VectorIndexConfigErrorInvalidQdrantURL     VectorIndexConfigErrorCode = "invalid_qdrant_url"
	VectorIndexConfigErrorMissingQdrantColl    VectorIndexConfigErrorCode = "missing_qdrant_collection"
	VectorIndexConfigErrorMissingQdrantVector  VectorIndexConfigErrorCode = "missing_qdrant_vector_dim"
	VectorIndexConfigErrorInvalidQdrantVector  VectorIndexConfigErrorCode = "invalid_qdrant_vector_dim"
	VectorIndexConfigErrorQdrantDimMismatch    VectorIndexConfigErrorCode = "qdrant_vector_dim_mismatch"
	VectorIndexConfigErrorUnknownQdrantFailure VectorIndexConfigErrorCode = "qdrant_config_error"
)

type VectorIndexConfigError struct {
	Code   VectorIndexConfigErrorCode
	Mode   VectorIndexMode
	Driver string
	Cause  error
}

func (e *VectorIndexConfigError) Error() string {
	if e == nil {
		return "invalid vector index config"
	}
	return fmt.Sprintf("invalid vector index config (code=%s mode=%q driver=%q): %v", e.Code, e.Mode, e.Driver, e.Cause)
}

func (e *VectorIndexConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

type VectorIndexConfig struct {
	Mode   VectorIndexMode
	Dim    int
	Qdrant qdrant.Config
}

// resolveVectorIndexConfig validates mode against the database driver. The
// pgvector backend writes inside the persist transaction, which would block
// on SQLite's single connection.
func resolveVectorIndexConfig(mode VectorIndexMode, driver string, dim int) (VectorIndexConfig, error) {
	if mode == "" {
		mode = VectorIndexMemory
	}
	if dim <= 0 {
		return VectorIndexConfig{}, &VectorIndexConfigError{
			Code:   VectorIndexConfigErrorInvalidDim,
			Mode:   mode,
			Driver: driver,
			Cause:  fmt.Errorf("EMBEDDING_DIM must be positive, got %d", dim),
		}
	}
	switch mode {
	case VectorIndexMemory:
		return VectorIndexConfig{Mode: mode, Dim: dim}, nil
	case VectorIndexPGVector:
		if driver != db.DriverPostgres {
			return VectorIndexConfig{}, &VectorIndexConfigError{
				Code:   VectorIndexConfigErrorRequiresPostgres,
				Mode:   mode,
				Driver: driver,
				Cause:  fmt.Errorf("pgvector index needs DB_DRIVER=%s", db.DriverPostgres),
			}
		}
		return VectorIndexConfig{Mode: mode, Dim: dim}, nil
	case VectorIndexQdrant:
		qcfg, err := qdrant.ResolveConfigFromEnv()
		if err != nil {
			return VectorIndexConfig{}, mapVectorIndexConfigError(mode, driver, err)
		}
		if qcfg.VectorDim != dim {
			return VectorIndexConfig{}, &VectorIndexConfigError{
				Code:   VectorIndexConfigErrorQdrantDimMismatch,
				Mode:   mode,
				Driver: driver,
				Cause:  fmt.Errorf("QDRANT_VECTOR_DIM=%d does not match EMBEDDING_DIM=%d", qcfg.VectorDim, dim),
			}
		}
		return VectorIndexConfig{Mode: mode, Dim: dim, Qdrant: qcfg}, nil
	default:
		return VectorIndexConfig{}, &VectorIndexConfigError{
			Code:   VectorIndexConfigErrorInvalidMode,
			Mode:   mode,
			Driver: driver,
			Cause:  fmt.Errorf("unsupported VECTOR_INDEX_MODE %q (allowed: %q, %q, %q)", mode, VectorIndexMemory, VectorIndexPGVector, VectorIndexQdrant),
		}
	}
}

func mapVectorIndexConfigError(mode VectorIndexMode, driver string, err error) error {
	code := VectorIndexConfigErrorUnknownQdrantFailure
	var qerr *qdrant.ConfigError
	if errors.As(err, &qerr) {
		switch qerr.Code {
		case qdrant.ConfigErrorMissingURL:
			code = VectorIndexConfigErrorMissingQdrantURL
		case qdrant.ConfigErrorInvalidURL:
			code = VectorIndexConfigErrorInvalidQdrantURL
		case qdrant.ConfigErrorMissingCollection:
			code = VectorIndexConfigErrorMissingQdrantColl
		case qdrant.ConfigErrorMissingVectorDim:
			code = VectorIndexConfigErrorMissingQdrantVector
		case qdrant.ConfigErrorInvalidVectorDim:
			code = VectorIndexConfigErrorInvalidQdrantVector
		}
	}
	return &VectorIndexConfigError{Code: code, Mode: mode, Driver: driver, Cause: err}
}
