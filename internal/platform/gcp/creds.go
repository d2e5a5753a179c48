package gcp

import (
	"fmt"
	"strings"

	"google.golang.org/api/option"

	"github.com/yungbote/quickentry-backend/internal/platform/envutil"
)

// ClientOptionsFromEnv accepts GOOGLE_APPLICATION_CREDENTIALS_JSON (inline)
// or GOOGLE_APPLICATION_CREDENTIALS (a file path or inline JSON). With
// neither set the client libraries fall back to ambient credentials.
func ClientOptionsFromEnv() []option.ClientOption {
	creds := envutil.String("GOOGLE_APPLICATION_CREDENTIALS_JSON", envutil.String("GOOGLE_APPLICATION_CREDENTIALS", ""))
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// ParseGCSURI splits gs://bucket/key.
func ParseGCSURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("gs:// uri needs bucket and object: %q", uri)
	}
	return bucket, key, nil
}

func IsGCSURI(uri string) bool {
	return strings.HasPrefix(strings.TrimSpace(uri), "gs://")
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\u00a0", " ")), " ")
}
