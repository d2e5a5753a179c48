package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/yungbote/quickentry-backend/internal/pkg/ctxutil"
	"github.com/yungbote/quickentry-backend/internal/platform/envutil"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

// Document extracts text from scanned documents (receipts, lab reports,
// nutrition labels) with a Document AI processor.
type Document interface {
	Process(ctx context.Context, content []byte, gsURI, mimeType string) (*DocumentResult, error)
	Close() error
}

type DocumentResult struct {
	Provider    string   `json:"provider"`
	Processor   string   `json:"processor"`
	PrimaryText string   `json:"primary_text"`
	Tables      []string `json:"tables,omitempty"`
	Fields      []string `json:"fields,omitempty"`
}

// Text joins the primary text with rendered form fields and tables.
func (r *DocumentResult) Text() string {
	if r == nil {
		return ""
	}
	parts := []string{r.PrimaryText}
	parts = append(parts, r.Fields...)
	parts = append(parts, r.Tables...)
	return strings.TrimSpace(strings.Join(nonEmpty(parts), "\n"))
}

type DocumentConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
}

func DocumentConfigFromEnv() DocumentConfig {
	return DocumentConfig{
		ProjectID:        envutil.String("DOCUMENTAI_PROJECT_ID", envutil.String("GCP_PROJECT_ID", "")),
		Location:         envutil.String("DOCUMENTAI_LOCATION", "us"),
		ProcessorID:      envutil.String("DOCUMENTAI_PROCESSOR_ID", ""),
		ProcessorVersion: envutil.String("DOCUMENTAI_PROCESSOR_VERSION", ""),
	}
}

func (c DocumentConfig) Enabled() bool {
	return processorName(c.ProjectID, c.Location, c.ProcessorID, "") != ""
}

type documentService struct {
	log       *logger.Logger
	client    *documentai.DocumentProcessorClient
	processor string
}

func NewDocument(ctx context.Context, log *logger.Logger, cfg DocumentConfig) (Document, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	name := processorName(cfg.ProjectID, cfg.Location, cfg.ProcessorID, cfg.ProcessorVersion)
	if name == "" {
		return nil, fmt.Errorf("documentai processor not configured (DOCUMENTAI_PROJECT_ID, DOCUMENTAI_PROCESSOR_ID)")
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	opts := append(ClientOptionsFromEnv(), option.WithEndpoint(endpoint))
	c, err := documentai.NewDocumentProcessorClient(ctxutil.Default(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}
	slog := log.With("service", "gcp.Document")
	slog.Info("Document AI initialized", "endpoint", endpoint)
	return &documentService{log: slog, client: c, processor: name}, nil
}

func (s *documentService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *documentService) Process(ctx context.Context, content []byte, gsURI, mimeType string) (*DocumentResult, error) {
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	req := &documentaipb.ProcessRequest{Name: s.processor}
	switch {
	case IsGCSURI(gsURI):
		req.Source = &documentaipb.ProcessRequest_GcsDocument{
			GcsDocument: &documentaipb.GcsDocument{GcsUri: gsURI, MimeType: mimeType},
		}
	case len(content) > 0:
		req.Source = &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: content, MimeType: mimeType},
		}
	default:
		return &DocumentResult{Provider: "gcp_documentai", Processor: s.processor}, nil
	}

	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 2*time.Minute)
	defer cancel()
	var resp *documentaipb.ProcessResponse
	err := retryTransient(ctx, 2, 500*time.Millisecond, func() error {
		var err error
		resp, err = s.client.ProcessDocument(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	return buildDocumentResult(resp.GetDocument(), s.processor), nil
}

func buildDocumentResult(doc *documentaipb.Document, processor string) *DocumentResult {
	out := &DocumentResult{Provider: "gcp_documentai", Processor: processor}
	if doc == nil {
		return out
	}
	out.PrimaryText = strings.TrimSpace(doc.Text)
	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		for _, t := range p.Tables {
			if md := tableToMarkdown(doc.Text, t); md != "" {
				out.Tables = append(out.Tables, md)
			}
		}
		for _, ff := range p.FormFields {
			if ff == nil {
				continue
			}
			k := strings.TrimSpace(textFromAnchor(doc.Text, ff.GetFieldName().GetTextAnchor()))
			v := strings.TrimSpace(textFromAnchor(doc.Text, ff.GetFieldValue().GetTextAnchor()))
			if k == "" && v == "" {
				continue
			}
			out.Fields = append(out.Fields, strings.TrimSpace(k+": "+v))
		}
	}
	return out
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start < end {
			b.WriteString(full[start:end])
		}
	}
	return b.String()
}

// tableToMarkdown uses the first header row, or the first body row when the
// processor found no header.
func tableToMarkdown(full string, t *documentaipb.Document_Page_Table) string {
	if t == nil {
		return ""
	}
	var rows [][]string
	for _, r := range t.HeaderRows {
		rows = append(rows, rowCells(full, r))
		break
	}
	for _, r := range t.BodyRows {
		if r != nil {
			rows = append(rows, rowCells(full, r))
		}
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return ""
	}
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	var b strings.Builder
	for i, r := range rows {
		for len(r) < cols {
			r = append(r, "")
		}
		b.WriteString("| " + strings.Join(r, " | ") + " |\n")
		if i == 0 {
			b.WriteString("|" + strings.Repeat(" --- |", cols) + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func rowCells(full string, r *documentaipb.Document_Page_Table_TableRow) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		cell := strings.TrimSpace(textFromAnchor(full, c.GetLayout().GetTextAnchor()))
		out = append(out, strings.ReplaceAll(cell, "|", "\\|"))
	}
	return out
}

func processorName(project, location, processorID, version string) string {
	project, location, processorID = strings.TrimSpace(project), strings.TrimSpace(location), strings.TrimSpace(processorID)
	if project == "" || location == "" || processorID == "" {
		return ""
	}
	base := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if v := strings.TrimSpace(version); v != "" {
		return base + "/processorVersions/" + v
	}
	return base
}

func nonEmpty(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
