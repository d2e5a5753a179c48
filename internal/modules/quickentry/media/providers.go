package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/yungbote/quickentry-backend/internal/platform/gcp"
	"github.com/yungbote/quickentry-backend/internal/platform/openai"
)

// GCPSpeech transcribes voice refs with Cloud Speech. gs:// refs are passed
// by URI; other refs are fetched.
type GCPSpeech struct {
	Speech  gcp.Speech
	Fetcher Fetcher
}

func (g *GCPSpeech) Name() string            { return "gcp_speech" }
func (g *GCPSpeech) Supports(kind Kind) bool { return kind == KindAudio && g.Speech != nil }

func (g *GCPSpeech) Transcribe(ctx context.Context, ref Ref) (string, error) {
	mimeType := mimeFromURI(ref.URI)
	var audio []byte
	uri := ""
	if gcp.IsGCSURI(ref.URI) {
		uri = ref.URI
	} else {
		b, ct, err := fetch(ctx, g.Fetcher, ref.URI)
		if err != nil {
			return "", err
		}
		audio = b
		if ct != "" {
			mimeType = ct
		}
	}
	res, err := g.Speech.Transcribe(ctx, audio, uri, mimeType)
	if err != nil {
		return "", err
	}
	return res.PrimaryText, nil
}

// GCPVision renders OCR text and labels of a photo as a caption.
type GCPVision struct {
	Vision gcp.Vision
}

func (g *GCPVision) Name() string            { return "gcp_vision" }
func (g *GCPVision) Supports(kind Kind) bool { return kind == KindImage && g.Vision != nil }

func (g *GCPVision) Transcribe(ctx context.Context, ref Ref) (string, error) {
	res, err := g.Vision.Annotate(ctx, nil, ref.URI)
	if err != nil {
		return "", err
	}
	return res.Caption(), nil
}

// GCPDocument runs receipts and reports through a Document AI processor.
type GCPDocument struct {
	Document gcp.Document
	Fetcher  Fetcher
}

func (g *GCPDocument) Name() string            { return "gcp_documentai" }
func (g *GCPDocument) Supports(kind Kind) bool { return kind == KindDocument && g.Document != nil }

func (g *GCPDocument) Transcribe(ctx context.Context, ref Ref) (string, error) {
	mimeType := mimeFromURI(ref.URI)
	var content []byte
	uri := ""
	if gcp.IsGCSURI(ref.URI) {
		uri = ref.URI
	} else {
		b, ct, err := fetch(ctx, g.Fetcher, ref.URI)
		if err != nil {
			return "", err
		}
		content = b
		if ct != "" {
			mimeType = ct
		}
	}
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	res, err := g.Document.Process(ctx, content, uri, mimeType)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

const captionSystem = `You describe a photo attached to a health log entry.
State only what is visible: foods and drinks with visible portions, exercise equipment or screens with readable numbers, scales or monitors with readable values.
Never guess quantities that are not visible. Answer in one or two plain sentences.`

// OpenAICaption captions images with a multimodal model. Remote https refs
// are passed by URL, anything else is inlined as a data URL.
type OpenAICaption struct {
	Client  openai.Client
	Fetcher Fetcher
}

func (o *OpenAICaption) Name() string            { return "openai_caption" }
func (o *OpenAICaption) Supports(kind Kind) bool { return kind == KindImage && o.Client != nil }

func (o *OpenAICaption) Transcribe(ctx context.Context, ref Ref) (string, error) {
	imageURL := ref.URI
	if !strings.HasPrefix(ref.URI, "https://") {
		b, ct, err := fetch(ctx, o.Fetcher, ref.URI)
		if err != nil {
			return "", err
		}
		imageURL = dataURL(b, ct, ref.URI)
	}
	return o.Client.GenerateTextWithImages(ctx, captionSystem, "Describe this photo for the log.", []openai.ImageInput{
		{ImageURL: imageURL, Detail: "low"},
	})
}

// OpenAIWhisper transcribes voice refs with the audio transcription API.
type OpenAIWhisper struct {
	Client  openai.Client
	Fetcher Fetcher
}

func (o *OpenAIWhisper) Name() string            { return "openai_whisper" }
func (o *OpenAIWhisper) Supports(kind Kind) bool { return kind == KindAudio && o.Client != nil }

func (o *OpenAIWhisper) Transcribe(ctx context.Context, ref Ref) (string, error) {
	b, _, err := fetch(ctx, o.Fetcher, ref.URI)
	if err != nil {
		return "", err
	}
	return o.Client.TranscribeAudio(ctx, b, fileName(ref.URI))
}

func fetch(ctx context.Context, f Fetcher, uri string) ([]byte, string, error) {
	if f == nil {
		return nil, "", fmt.Errorf("no media fetcher configured")
	}
	return f.Fetch(ctx, uri)
}

func fileName(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return "audio"
	}
	return name
}

func mimeFromURI(uri string) string {
	ext := strings.ToLower(path.Ext(fileName(uri)))
	if ext == "" {
		return ""
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.Index(t, ";"); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return ""
}

func dataURL(b []byte, contentType, uri string) string {
	ct := strings.TrimSpace(contentType)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if !strings.HasPrefix(ct, "image/") {
		ct = mimeFromURI(uri)
	}
	if !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(b)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(b)
}
