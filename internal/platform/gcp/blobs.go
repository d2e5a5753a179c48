package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/quickentry-backend/internal/pkg/ctxutil"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

// Blobs reads media objects addressed by gs:// URIs.
type Blobs interface {
	Read(ctx context.Context, gsURI string, maxBytes int64) ([]byte, string, error)
	Close() error
}

// ErrBlobTooLarge is returned when an object exceeds the caller's limit.
var ErrBlobTooLarge = errors.New("gcs object exceeds size limit")

type blobService struct {
	log    *logger.Logger
	client *storage.Client
}

func NewBlobs(ctx context.Context, log *logger.Logger, cfg ObjectStorageConfig) (Blobs, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	var opts []option.ClientOption
	if cfg.IsEmulatorMode() {
		// The storage client routes to the emulator when this is set.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadOnly))
	}
	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	slog := log.With("service", "gcp.Blobs")
	slog.Info("Object storage reader initialized", "mode", cfg.Mode, "emulator_host", cfg.EmulatorHost)
	return &blobService{log: slog, client: c}, nil
}

func (s *blobService) Read(ctx context.Context, gsURI string, maxBytes int64) ([]byte, string, error) {
	bucket, key, err := ParseGCSURI(gsURI)
	if err != nil {
		return nil, "", err
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 2*time.Minute)
	defer cancel()

	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("open gcs reader %s: %w", gsURI, err)
	}
	defer r.Close()
	if maxBytes > 0 && r.Attrs.Size > maxBytes {
		return nil, "", fmt.Errorf("%w: %s is %d bytes", ErrBlobTooLarge, gsURI, r.Attrs.Size)
	}
	limit := maxBytes
	if limit <= 0 {
		limit = r.Attrs.Size
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read gcs object %s: %w", gsURI, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("%w: %s", ErrBlobTooLarge, gsURI)
	}
	return data, r.Attrs.ContentType, nil
}

func (s *blobService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
