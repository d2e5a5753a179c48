package openai

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
)

type transcriptionResponse struct {
	Text string `json:"text"`
}

// TranscribeAudio posts audio bytes to the transcription API. filename only
// hints the container format.
func (c *client) TranscribeAudio(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("openai transcription: empty audio")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", c.cfg.AudioModel); err != nil {
		return "", err
	}
	name := path.Base(strings.TrimSpace(filename))
	if name == "" || name == "/" || name == "." {
		name = "audio.webm"
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var resp transcriptionResponse
	raw, err := c.do(ctx, http.MethodPost, "/v1/audio/transcriptions", buf.Bytes(), mw.FormDataContentType(), &resp)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	c.recordUsage(ctx, c.cfg.AudioModel, raw, 0, estimateTokens(text), 0, c.cfg.OutputPricePerM)
	if text == "" {
		return "", fmt.Errorf("empty transcription")
	}
	return text, nil
}
