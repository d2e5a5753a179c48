package gcp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestInferSpeechEncoding(t *testing.T) {
	tests := []struct {
		mime string
		uri  string
		want speechpb.RecognitionConfig_AudioEncoding
	}{
		{mime: "audio/wav", want: speechpb.RecognitionConfig_LINEAR16},
		{uri: "gs://b/note.flac", want: speechpb.RecognitionConfig_FLAC},
		{mime: "audio/mpeg", want: speechpb.RecognitionConfig_MP3},
		{mime: "audio/ogg; codecs=opus", want: speechpb.RecognitionConfig_OGG_OPUS},
		{mime: "audio/webm", want: speechpb.RecognitionConfig_WEBM_OPUS},
		{mime: "audio/mp4", uri: "gs://b/voice.m4a", want: speechpb.RecognitionConfig_ENCODING_UNSPECIFIED},
	}
	for _, tt := range tests {
		t.Run(tt.mime+tt.uri, func(t *testing.T) {
			if got := inferSpeechEncoding(tt.mime, tt.uri); got != tt.want {
				t.Fatalf("encoding: want=%v got=%v", tt.want, got)
			}
		})
	}
}

func TestParseRecognizeResponse(t *testing.T) {
	resp := &speechpb.RecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " ran five ", Confidence: 0.9}}},
		{Alternatives: nil},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "kilometers", Confidence: 0.7}}},
	}}
	got := parseRecognizeResponse(resp)
	if got.PrimaryText != "ran five kilometers" {
		t.Fatalf("text: want=%q got=%q", "ran five kilometers", got.PrimaryText)
	}
	if got.Confidence < 0.79 || got.Confidence > 0.81 {
		t.Fatalf("confidence: want=0.8 got=%v", got.Confidence)
	}
	if empty := parseRecognizeResponse(nil); empty.PrimaryText != "" || empty.Confidence != 0 {
		t.Fatalf("nil response: got=%+v", empty)
	}
}

func TestRetryTransient(t *testing.T) {
	calls := 0
	err := retryTransient(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return status.Error(codes.Unavailable, "busy")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("transient: calls=%d err=%v", calls, err)
	}

	calls = 0
	perm := status.Error(codes.InvalidArgument, "bad audio")
	err = retryTransient(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) || calls != 1 {
		t.Fatalf("permanent: calls=%d err=%v", calls, err)
	}
}

func TestParseAnnotateResponse(t *testing.T) {
	r := &visionpb.AnnotateImageResponse{
		FullTextAnnotation: &visionpb.TextAnnotation{Text: "Greek\nYogurt  150g"},
		LabelAnnotations: []*visionpb.EntityAnnotation{
			{Description: "Food", Score: 0.8},
			{Description: "Yogurt", Score: 0.95},
			{Description: " ", Score: 0.99},
		},
	}
	got := parseAnnotateResponse(r)
	if got.PrimaryText != "Greek Yogurt 150g" {
		t.Fatalf("text: got=%q", got.PrimaryText)
	}
	if len(got.Labels) != 2 || got.Labels[0].Description != "Yogurt" {
		t.Fatalf("labels: got=%+v", got.Labels)
	}
	if got.Confidence < 0.94 {
		t.Fatalf("confidence: want=0.95 got=%v", got.Confidence)
	}
	if c := got.Caption(); c != "Photo of yogurt, food. Text: Greek Yogurt 150g" {
		t.Fatalf("caption: got=%q", c)
	}
}

func TestVisionImageSource(t *testing.T) {
	if img, ok := visionImage(nil, "gs://b/meal.jpg"); !ok || img.GetSource().GetImageUri() != "gs://b/meal.jpg" {
		t.Fatalf("gs uri: ok=%v img=%v", ok, img)
	}
	if img, ok := visionImage([]byte{1, 2}, "data:image/png;base64,AAA"); !ok || len(img.GetContent()) != 2 {
		t.Fatalf("bytes: ok=%v img=%v", ok, img)
	}
	if _, ok := visionImage(nil, ""); ok {
		t.Fatalf("empty: expected no image")
	}
}

func TestBuildDocumentResult(t *testing.T) {
	text := "Total 12.50\nItem Price\nSalad 9.00\n"
	anchor := func(s string) *documentaipb.Document_TextAnchor {
		i := strings.Index(text, s)
		return &documentaipb.Document_TextAnchor{TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{
			{StartIndex: int64(i), EndIndex: int64(i + len(s))},
		}}
	}
	cell := func(s string) *documentaipb.Document_Page_Table_TableCell {
		return &documentaipb.Document_Page_Table_TableCell{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchor(s)}}
	}
	doc := &documentaipb.Document{
		Text: text,
		Pages: []*documentaipb.Document_Page{{
			FormFields: []*documentaipb.Document_Page_FormField{{
				FieldName:  &documentaipb.Document_Page_Layout{TextAnchor: anchor("Total")},
				FieldValue: &documentaipb.Document_Page_Layout{TextAnchor: anchor("12.50")},
			}},
			Tables: []*documentaipb.Document_Page_Table{{
				HeaderRows: []*documentaipb.Document_Page_Table_TableRow{{Cells: []*documentaipb.Document_Page_Table_TableCell{cell("Item"), cell("Price")}}},
				BodyRows:   []*documentaipb.Document_Page_Table_TableRow{{Cells: []*documentaipb.Document_Page_Table_TableCell{cell("Salad"), cell("9.00")}}},
			}},
		}},
	}
	got := buildDocumentResult(doc, "projects/p/locations/us/processors/x")
	if len(got.Fields) != 1 || got.Fields[0] != "Total: 12.50" {
		t.Fatalf("fields: got=%v", got.Fields)
	}
	wantTable := "| Item | Price |\n| --- | --- |\n| Salad | 9.00 |"
	if len(got.Tables) != 1 || got.Tables[0] != wantTable {
		t.Fatalf("table: want=%q got=%v", wantTable, got.Tables)
	}
	if !strings.Contains(got.Text(), "Total: 12.50") {
		t.Fatalf("Text: got=%q", got.Text())
	}
}

func TestProcessorName(t *testing.T) {
	if got := processorName("p", "eu", "abc", ""); got != "projects/p/locations/eu/processors/abc" {
		t.Fatalf("processorName: got=%q", got)
	}
	if got := processorName("p", "eu", "abc", "v2"); !strings.HasSuffix(got, "/processorVersions/v2") {
		t.Fatalf("processorName version: got=%q", got)
	}
	if (DocumentConfig{ProjectID: "p", Location: "us"}).Enabled() {
		t.Fatalf("config without processor id should be disabled")
	}
}
