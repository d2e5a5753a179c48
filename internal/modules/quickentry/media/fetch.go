package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/pkg/httpx"
	"github.com/yungbote/quickentry-backend/internal/platform/gcp"
)

// Fetcher loads the bytes behind a media ref for providers that need content
// rather than a URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, string, error)
}

type fetcher struct {
	blobs    gcp.Blobs
	client   *http.Client
	maxBytes int64
}

// NewFetcher reads gs:// refs through blobs (nil disables them) and http(s)
// refs through client.
func NewFetcher(blobs gcp.Blobs, client *http.Client, maxBytes int64) Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &fetcher{blobs: blobs, client: client, maxBytes: maxBytes}
}

// FetchError carries the upstream status so retry policy can see it.
type FetchError struct {
	URI    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URI, e.Status)
}

func (e *FetchError) HTTPStatusCode() int { return e.Status }

func (f *fetcher) Fetch(ctx context.Context, uri string) ([]byte, string, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case gcp.IsGCSURI(uri):
		if f.blobs == nil {
			return nil, "", entries.NewError(entries.KindValidation, "gs:// refs are not configured", nil)
		}
		b, ct, err := f.blobs.Read(ctx, uri, f.maxBytes)
		if errors.Is(err, gcp.ErrBlobTooLarge) {
			return nil, "", entries.NewError(entries.KindValidation, "media exceeds size limit", err)
		}
		if err != nil {
			return nil, "", entries.NewError(entries.KindTranscriptionUnavailable, "read media object", err)
		}
		return b, ct, nil
	case strings.HasPrefix(uri, "https://"), strings.HasPrefix(uri, "http://"):
		return f.fetchHTTP(ctx, uri)
	default:
		return nil, "", entries.NewError(entries.KindValidation, "unsupported media ref scheme", nil)
	}
}

func (f *fetcher) fetchHTTP(ctx context.Context, uri string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", entries.NewError(entries.KindValidation, "bad media url", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", entries.NewError(entries.KindTranscriptionUnavailable, "fetch media", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ferr := &FetchError{URI: uri, Status: resp.StatusCode}
		if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, "", entries.NewError(entries.KindTranscriptionUnavailable, "fetch media", ferr)
		}
		return nil, "", entries.NewError(entries.KindValidation, "media ref not readable", ferr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", entries.NewError(entries.KindTranscriptionUnavailable, "read media body", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, "", entries.NewError(entries.KindValidation, "media exceeds size limit", nil)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
