package gcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/quickentry-backend/internal/pkg/ctxutil"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

// Speech transcribes short voice notes. Exactly one of audio or gsURI is used.
type Speech interface {
	Transcribe(ctx context.Context, audio []byte, gsURI, mimeType string) (*SpeechResult, error)
	Close() error
}

type SpeechResult struct {
	Provider    string  `json:"provider"`
	PrimaryText string  `json:"primary_text"`
	Confidence  float64 `json:"confidence"`
}

type speechService struct {
	log          *logger.Logger
	client       *speech.Client
	languageCode string
	maxRetries   int
	backoff      time.Duration
}

func NewSpeech(ctx context.Context, log *logger.Logger, languageCode string) (Speech, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	c, err := speech.NewClient(ctxutil.Default(ctx), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	if strings.TrimSpace(languageCode) == "" {
		languageCode = "en-US"
	}
	return &speechService{
		log:          log.With("service", "gcp.Speech"),
		client:       c,
		languageCode: languageCode,
		maxRetries:   3,
		backoff:      750 * time.Millisecond,
	}, nil
}

func (s *speechService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *speechService) Transcribe(ctx context.Context, audio []byte, gsURI, mimeType string) (*SpeechResult, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 3*time.Minute)
	defer cancel()

	ra := &speechpb.RecognitionAudio{}
	switch {
	case IsGCSURI(gsURI):
		ra.AudioSource = &speechpb.RecognitionAudio_Uri{Uri: gsURI}
	case len(audio) > 0:
		ra.AudioSource = &speechpb.RecognitionAudio_Content{Content: audio}
	default:
		return &SpeechResult{Provider: "gcp_speech"}, nil
	}
	req := &speechpb.RecognizeRequest{
		Config: recognitionConfig(s.languageCode, mimeType, gsURI),
		Audio:  ra,
	}

	var resp *speechpb.RecognizeResponse
	err := retryTransient(ctx, s.maxRetries, s.backoff, func() error {
		var err error
		resp, err = s.client.Recognize(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("speech recognize: %w", err)
	}
	return parseRecognizeResponse(resp), nil
}

func recognitionConfig(languageCode, mimeType, uri string) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		LanguageCode:               languageCode,
		EnableAutomaticPunctuation: true,
		Encoding:                   inferSpeechEncoding(mimeType, uri),
	}
}

func inferSpeechEncoding(mimeType, uri string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(uri))
	switch {
	case strings.Contains(m, "wav") || ext == ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac") || ext == ".flac":
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mp3") || strings.Contains(m, "mpeg") || ext == ".mp3":
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "ogg") || strings.Contains(m, "opus") || ext == ".ogg" || ext == ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "webm") || ext == ".webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// parseRecognizeResponse joins the top alternative of each result and
// averages their confidence.
func parseRecognizeResponse(resp *speechpb.RecognizeResponse) *SpeechResult {
	out := &SpeechResult{Provider: "gcp_speech"}
	if resp == nil {
		return out
	}
	parts := make([]string, 0, len(resp.Results))
	var confSum float64
	var n int
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		if t := strings.TrimSpace(alt.Transcript); t != "" {
			parts = append(parts, t)
			confSum += float64(alt.Confidence)
			n++
		}
	}
	out.PrimaryText = collapseWhitespace(strings.Join(parts, " "))
	if n > 0 {
		out.Confidence = confSum / float64(n)
	}
	return out
}

func isTransientGRPC(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func retryTransient(ctx context.Context, maxRetries int, backoff time.Duration, fn func() error) error {
	var last error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		last = err
		if !isTransientGRPC(err) || attempt == maxRetries {
			break
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return last
}
