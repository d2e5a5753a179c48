package gcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/yungbote/quickentry-backend/internal/pkg/ctxutil"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

// Vision runs OCR and label detection over a single image.
type Vision interface {
	Annotate(ctx context.Context, img []byte, uri string) (*VisionResult, error)
	Close() error
}

type VisionLabel struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type VisionResult struct {
	Provider    string        `json:"provider"`
	PrimaryText string        `json:"primary_text"`
	Labels      []VisionLabel `json:"labels,omitempty"`
	Confidence  float64       `json:"confidence"`
}

// Caption renders labels and any detected text as one description line.
func (r *VisionResult) Caption() string {
	if r == nil {
		return ""
	}
	names := make([]string, 0, len(r.Labels))
	for _, l := range r.Labels {
		names = append(names, strings.ToLower(l.Description))
	}
	var b strings.Builder
	if len(names) > 0 {
		b.WriteString("Photo of ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(".")
	}
	if r.PrimaryText != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("Text: ")
		b.WriteString(r.PrimaryText)
	}
	return b.String()
}

type visionService struct {
	log       *logger.Logger
	client    *vision.ImageAnnotatorClient
	maxLabels int32
}

func NewVision(ctx context.Context, log *logger.Logger) (Vision, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	c, err := vision.NewImageAnnotatorClient(ctxutil.Default(ctx), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &visionService{log: log.With("service", "gcp.Vision"), client: c, maxLabels: 8}, nil
}

func (s *visionService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *visionService) Annotate(ctx context.Context, img []byte, uri string) (*VisionResult, error) {
	image, ok := visionImage(img, uri)
	if !ok {
		return &VisionResult{Provider: "gcp_vision"}, nil
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 60*time.Second)
	defer cancel()

	br := &visionpb.BatchAnnotateImagesRequest{Requests: []*visionpb.AnnotateImageRequest{{
		Image: image,
		Features: []*visionpb.Feature{
			{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
			{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: s.maxLabels},
		},
	}}}
	resp, err := s.client.BatchAnnotateImages(ctx, br)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return &VisionResult{Provider: "gcp_vision"}, nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	return parseAnnotateResponse(r0), nil
}

// visionImage prefers a remote source so bytes are not re-uploaded.
func visionImage(img []byte, uri string) (*visionpb.Image, bool) {
	u := strings.TrimSpace(uri)
	if IsGCSURI(u) || strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://") {
		return &visionpb.Image{Source: &visionpb.ImageSource{ImageUri: u}}, true
	}
	if len(img) > 0 {
		return &visionpb.Image{Content: img}, true
	}
	return nil, false
}

func parseAnnotateResponse(r *visionpb.AnnotateImageResponse) *VisionResult {
	out := &VisionResult{Provider: "gcp_vision"}
	if r == nil {
		return out
	}
	if fta := r.FullTextAnnotation; fta != nil {
		out.PrimaryText = collapseWhitespace(fta.Text)
	}
	var top float64
	for _, l := range r.LabelAnnotations {
		if l == nil || strings.TrimSpace(l.Description) == "" {
			continue
		}
		out.Labels = append(out.Labels, VisionLabel{Description: strings.TrimSpace(l.Description), Score: float64(l.Score)})
		if float64(l.Score) > top {
			top = float64(l.Score)
		}
	}
	sort.SliceStable(out.Labels, func(i, j int) bool { return out.Labels[i].Score > out.Labels[j].Score })
	out.Confidence = top
	return out
}
