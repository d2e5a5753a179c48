package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/yungbote/quickentry-backend/internal/platform/promptstyle"
)

type inputMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responsesRequest struct {
	Model        string         `json:"model"`
	Instructions string         `json:"instructions,omitempty"`
	Input        []inputMessage `json:"input"`
	Text         *textOptions   `json:"text,omitempty"`
	Temperature  *float64       `json:"temperature,omitempty"`
}

type textOptions struct {
	Format map[string]any `json:"format,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text,omitempty"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
}

func (r responsesResponse) outputText() (string, string) {
	var out strings.Builder
	refusal := ""
	for _, item := range r.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			switch {
			case c.Type == "output_text":
				out.WriteString(c.Text)
			case c.Type == "refusal" && c.Refusal != "":
				refusal = c.Refusal
			}
		}
	}
	return out.String(), refusal
}

// ErrRefused is returned when the model declines to answer.
var ErrRefused = errors.New("openai: model refused")

func (c *client) newRequest(system string, user any, mode string) *responsesRequest {
	req := &responsesRequest{
		Model: c.cfg.Model,
		Input: []inputMessage{
			{Role: "system", Content: promptstyle.ApplySystem(system, mode)},
			{Role: "user", Content: user},
		},
	}
	if c.cfg.Temperature != nil && !c.modelIsNoTemp(req.Model) {
		t := *c.cfg.Temperature
		req.Temperature = &t
	}
	return req
}

// respond posts to /v1/responses, retrying once without temperature when the
// model rejects the parameter.
func (c *client) respond(ctx context.Context, req *responsesRequest, estimatedIn int) (string, error) {
	var resp responsesResponse
	raw, err := c.do(ctx, http.MethodPost, "/v1/responses", req, "", &resp)
	if err != nil && req.Temperature != nil && isUnsupportedTemperatureParam(err) {
		c.noteNoTempModel(req.Model)
		req.Temperature = nil
		resp = responsesResponse{}
		raw, err = c.do(ctx, http.MethodPost, "/v1/responses", req, "", &resp)
	}
	if err != nil {
		return "", err
	}
	text, refusal := resp.outputText()
	c.recordUsage(ctx, req.Model, raw, estimatedIn, estimateTokens(text), c.cfg.InputPricePerM, c.cfg.OutputPricePerM)
	if refusal != "" {
		return "", fmt.Errorf("%w: %s", ErrRefused, refusal)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no output_text found in response")
	}
	return text, nil
}

// GenerateJSON asks for a strict json_schema response and decodes it.
func (c *client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}
	req := c.newRequest(system, user, "json")
	req.Text = &textOptions{Format: map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}}
	text, err := c.respond(ctx, req, estimateTokens(system)+estimateTokens(user))
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return obj, nil
}

func (c *client) GenerateText(ctx context.Context, system, user string) (string, error) {
	return c.respond(ctx, c.newRequest(system, user, "text"), estimateTokens(system)+estimateTokens(user))
}

// GenerateTextWithImages sends the prompt with image inputs. With no usable
// images it degrades to GenerateText.
func (c *client) GenerateTextWithImages(ctx context.Context, system, user string, images []ImageInput) (string, error) {
	content := []map[string]any{{"type": "input_text", "text": user}}
	for _, img := range images {
		u := strings.TrimSpace(img.ImageURL)
		if u == "" {
			continue
		}
		item := map[string]any{"type": "input_image", "image_url": u}
		if d := strings.TrimSpace(img.Detail); d != "" {
			item["detail"] = d
		}
		content = append(content, item)
	}
	if len(content) == 1 {
		return c.GenerateText(ctx, system, user)
	}
	// Images are billed roughly like a few hundred tokens each at low detail.
	est := estimateTokens(system) + estimateTokens(user) + 300*(len(content)-1)
	return c.respond(ctx, c.newRequest(system, content, "caption"), est)
}
