package app

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/quickentry-backend/internal/platform/gcp"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

func TestClassifyStorageProviderBootstrapError(t *testing.T) {
	tests := []struct {
		name string
		cfg  gcp.ObjectStorageConfig
		err  error
		want StorageProviderBootstrapErrorCode
	}{
		{
			name: "invalid mode",
			cfg:  gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageMode("s3")},
			err:  &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidMode, Mode: "s3"},
			want: StorageProviderBootstrapErrorInvalidMode,
		},
		{
			name: "missing emulator host",
			cfg:  gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCSEmulator},
			err:  &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorMissingEmulatorHost},
			want: StorageProviderBootstrapErrorMissingEmulatorHost,
		},
		{
			name: "invalid emulator host",
			cfg:  gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCSEmulator, EmulatorHost: "fake-gcs:4443"},
			err:  &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidEmulatorHost},
			want: StorageProviderBootstrapErrorInvalidEmulatorHost,
		},
		{
			name: "client failure",
			cfg:  gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCS},
			err:  errors.New("storage client: credentials not found"),
			want: StorageProviderBootstrapErrorConnectFailed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyStorageProviderBootstrapError(tc.cfg, tc.err)
			var got *StorageProviderBootstrapError
			if !errors.As(err, &got) {
				t.Fatalf("expected StorageProviderBootstrapError, got=%T", err)
			}
			if got.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, got.Code)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("cause must unwrap to the source error")
			}
		})
	}
}

func TestResolveMediaBlobsInvalidModeFromEnv(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "s3")
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	_, err := resolveMediaBlobs(context.Background(), logger.Nop())
	var got *StorageProviderBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageProviderBootstrapError, got=%T", err)
	}
	if got.Code != StorageProviderBootstrapErrorInvalidMode {
		t.Fatalf("code: want=%q got=%q", StorageProviderBootstrapErrorInvalidMode, got.Code)
	}
	if got.Mode != "s3" {
		t.Fatalf("mode: want=%q got=%q", "s3", got.Mode)
	}
}

func TestResolveMediaBlobsUsesEmulatorConfig(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443")

	orig := newBlobs
	t.Cleanup(func() { newBlobs = orig })
	var seen gcp.ObjectStorageConfig
	newBlobs = func(ctx context.Context, log *logger.Logger, cfg gcp.ObjectStorageConfig) (gcp.Blobs, error) {
		seen = cfg
		return nil, errors.New("dial fake-gcs: connection refused")
	}

	_, err := resolveMediaBlobs(context.Background(), logger.Nop())
	if storageProviderBootstrapErrorCode(err) != StorageProviderBootstrapErrorConnectFailed {
		t.Fatalf("code: want=%q got=%q", StorageProviderBootstrapErrorConnectFailed, storageProviderBootstrapErrorCode(err))
	}
	if seen.Mode != gcp.ObjectStorageModeGCSEmulator || !seen.CompatibilityFallback {
		t.Fatalf("config: want emulator fallback got=%+v", seen)
	}
}
