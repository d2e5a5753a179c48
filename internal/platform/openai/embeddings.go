package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns one vector per input, in input order.
func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	clean := make([]string, len(inputs))
	estimated := 0
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
		estimated += estimateTokens(s)
	}
	req := embeddingsRequest{Model: c.cfg.EmbedModel, Input: clean, Dimensions: c.cfg.EmbedDim}

	var resp embeddingsResponse
	raw, err := c.do(ctx, http.MethodPost, "/v1/embeddings", req, "", &resp)
	if err != nil {
		return nil, err
	}
	c.recordUsage(ctx, c.cfg.EmbedModel, raw, estimated, 0, c.cfg.EmbedPricePerM, 0)

	out := make([][]float32, len(clean))
	for pos, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) || out[idx] != nil {
			// Some compatible servers omit index; fall back to position.
			idx = pos
		}
		if idx >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[idx] = vec
	}
	for i := range out {
		if len(out[i]) == 0 {
			return nil, fmt.Errorf("openai embeddings missing index %d: requested=%d returned=%d model=%s",
				i, len(clean), len(resp.Data), c.cfg.EmbedModel)
		}
	}
	return out, nil
}
