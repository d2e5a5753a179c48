package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/quickentry-backend/internal/pkg/ctxutil"
	"github.com/yungbote/quickentry-backend/internal/pkg/httpx"
	"github.com/yungbote/quickentry-backend/internal/pkg/usage"
	"github.com/yungbote/quickentry-backend/internal/platform/envutil"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

// ImageInput is an image reference for multimodal prompts: an https URL or a
// data:image/...;base64 URL.
type ImageInput struct {
	ImageURL string
	Detail   string
}

// Client is the OpenAI surface used by the entry pipeline.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
	GenerateText(ctx context.Context, system, user string) (string, error)
	GenerateTextWithImages(ctx context.Context, system, user string, images []ImageInput) (string, error)
	TranscribeAudio(ctx context.Context, audio []byte, filename string) (string, error)
	Model() string
	EmbedModel() string
}

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	EmbedModel   string
	AudioModel   string
	EmbedDim     int
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Temperature  *float64
	NoTempModels string
	// USD per million tokens; zero disables cost accounting.
	InputPricePerM  float64
	OutputPricePerM float64
	EmbedPricePerM  float64
	HTTPClient      *http.Client
}

// ConfigFromEnv reads OPENAI_*. Retries default to zero because callers wrap
// provider calls in their own retry policy.
func ConfigFromEnv() Config {
	cfg := Config{
		APIKey:          envutil.String("OPENAI_API_KEY", ""),
		BaseURL:         envutil.String("OPENAI_BASE_URL", "https://api.openai.com"),
		Model:           envutil.String("OPENAI_MODEL", "gpt-4.1-mini"),
		EmbedModel:      envutil.String("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		AudioModel:      envutil.String("OPENAI_AUDIO_MODEL", "whisper-1"),
		EmbedDim:        envutil.Int("EMBEDDING_DIM", 0),
		Timeout:         envutil.Duration("OPENAI_TIMEOUT_SECONDS", 60*time.Second),
		MaxRetries:      envutil.Int("OPENAI_MAX_RETRIES", 0),
		NoTempModels:    envutil.String("OPENAI_NO_TEMPERATURE_MODELS", ""),
		InputPricePerM:  envutil.Float("OPENAI_PRICE_INPUT_PER_M", 0),
		OutputPricePerM: envutil.Float("OPENAI_PRICE_OUTPUT_PER_M", 0),
		EmbedPricePerM:  envutil.Float("OPENAI_PRICE_EMBED_PER_M", 0),
	}
	switch raw := strings.ToLower(envutil.String("OPENAI_TEMPERATURE", "0.2")); raw {
	case "off", "none", "false":
	default:
		t := envutil.Float("OPENAI_TEMPERATURE", 0.2)
		cfg.Temperature = &t
	}
	return cfg
}

type client struct {
	log        *logger.Logger
	cfg        Config
	baseURL    string
	httpClient *http.Client

	noTempModels   map[string]bool
	noTempPrefixes []string
	noTempMu       sync.RWMutex
	noTempSeen     map[string]time.Time
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	models, prefixes := parseNoTempModelRules(cfg.NoTempModels)
	return &client{
		log:            log.With("service", "OpenAIClient"),
		cfg:            cfg,
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient:     hc,
		noTempModels:   models,
		noTempPrefixes: prefixes,
		noTempSeen:     map[string]time.Time{},
	}, nil
}

func (c *client) Model() string      { return c.cfg.Model }
func (c *client) EmbedModel() string { return c.cfg.EmbedModel }

// HTTPError is a non-2xx OpenAI response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, truncate(e.Body, 512))
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)
	if td := ctxutil.GetTraceData(ctx); td != nil && td.RequestID != "" {
		req.Header.Set("X-Client-Request-Id", td.RequestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

// do sends body (JSON-encoded unless raw bytes are given) and decodes the
// response into out, retrying transient failures up to MaxRetries.
func (c *client) do(ctx context.Context, method, path string, body any, contentType string, out any) ([]byte, error) {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		enc, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("openai encode request: %w", err)
		}
		payload = enc
	}
	if contentType == "" {
		contentType = "application/json"
	}

	backoff := c.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, raw, err := c.doOnce(ctx, method, path, contentType, payload)
		if err == nil {
			if out != nil {
				if uErr := json.Unmarshal(raw, out); uErr != nil {
					return raw, fmt.Errorf("openai decode error: %w", uErr)
				}
			}
			return raw, nil
		}
		if attempt >= c.cfg.MaxRetries || !httpx.IsRetryableError(err) {
			return raw, err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (c *client) recordUsage(ctx context.Context, model string, raw []byte, fallbackIn, fallbackOut int, priceIn, priceOut float64) {
	in, out := extractUsageFromRaw(raw)
	if in == 0 && out == 0 {
		in, out = fallbackIn, fallbackOut
	}
	cost := (float64(in)*priceIn + float64(out)*priceOut) / 1e6
	usage.Record(ctx, model, in, out, cost)
}

func normalizeModelKey(m string) string {
	return strings.ToLower(strings.TrimSpace(m))
}

// parseNoTempModelRules reads a comma list of model ids; a trailing "*" marks
// a prefix rule ("o1-*, gpt-5").
func parseNoTempModelRules(raw string) (map[string]bool, []string) {
	m := map[string]bool{}
	var prefixes []string
	for _, part := range strings.Split(raw, ",") {
		s := normalizeModelKey(part)
		if s == "" {
			continue
		}
		if strings.HasSuffix(s, "*") {
			if p := strings.TrimRight(strings.TrimSuffix(s, "*"), "-_./:"); p != "" {
				prefixes = append(prefixes, p)
			}
			continue
		}
		m[s] = true
	}
	return m, prefixes
}

func (c *client) modelIsNoTemp(model string) bool {
	m := normalizeModelKey(model)
	if m == "" {
		return false
	}
	if c.noTempModels[m] {
		return true
	}
	for _, p := range c.noTempPrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	c.noTempMu.RLock()
	ts, ok := c.noTempSeen[m]
	c.noTempMu.RUnlock()
	return ok && time.Since(ts) < 24*time.Hour
}

func (c *client) noteNoTempModel(model string) {
	m := normalizeModelKey(model)
	if m == "" {
		return
	}
	c.noTempMu.Lock()
	c.noTempSeen[m] = time.Now().UTC()
	c.noTempMu.Unlock()
}

func isUnsupportedTemperatureParam(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "temperature") {
		return false
	}
	for _, hint := range []string{"unsupported parameter", "unknown parameter", "not supported", "does not support", "only the default", "unsupported_value"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func extractUsageFromRaw(raw []byte) (int, int) {
	if len(raw) == 0 {
		return 0, 0
	}
	var payload struct {
		Usage map[string]any `json:"usage"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Usage == nil {
		return 0, 0
	}
	u := payload.Usage
	in, out := intFromAny(u["input_tokens"]), intFromAny(u["output_tokens"])
	if in == 0 && out == 0 {
		in, out = intFromAny(u["prompt_tokens"]), intFromAny(u["completion_tokens"])
	}
	if in == 0 && out == 0 {
		in = intFromAny(u["total_tokens"])
	}
	return in, out
}

func intFromAny(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
	}
	return 0
}

// estimateTokens approximates four characters per token.
func estimateTokens(text string) int {
	n := len([]rune(strings.TrimSpace(text)))
	return (n + 3) / 4
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
