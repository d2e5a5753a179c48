package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/pkg/ctxutil"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
	"github.com/yungbote/quickentry-backend/internal/vectorindex"
)

const (
	payloadNamespaceKey = "_qe_namespace"
	payloadPointIDKey   = "_qe_point_id"
	payloadUserKey      = "user_id"
	payloadEntryKey     = "quick_entry_id"
	payloadSubtypeKey   = "subtype"
	payloadEventAtKey   = "event_at"
	payloadActiveKey    = "active"
	payloadContentKey   = "content"
	payloadMetaKey      = "meta"
	maxErrorBodyBytes   = 1024
)

var pointIDNamespaceUUID = uuid.MustParse("6b0f3c2e-5d7a-4c61-9a8e-2f4b1d9e7c35")

type vectorStore struct {
	log      *logger.Logger
	cfg      Config
	baseURL  string
	nsPrefix string
	distance string
	http     *http.Client
}

var _ vectorindex.Index = (*vectorStore)(nil)

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// NewVectorStore returns a qdrant-backed vectorindex.Index after checking the
// service is ready and the collection matches the configured dimension.
func NewVectorStore(ctx context.Context, log *logger.Logger, cfg Config) (vectorindex.Index, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg, true); err != nil {
		return nil, err
	}
	s := &vectorStore{
		log:      log.With("service", "QdrantVectorStore"),
		cfg:      cfg,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		nsPrefix: strings.TrimSpace(cfg.NamespacePrefix),
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	if err := s.verifyReady(ctx); err != nil {
		return nil, err
	}
	s.log.Info("Qdrant vector index selected",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"namespace_prefix", s.nsPrefix,
		"vector_dim", cfg.VectorDim,
		"distance", s.distance,
	)
	return s, nil
}

func (s *vectorStore) Upsert(ctx context.Context, points ...vectorindex.Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if err := vectorindex.ValidatePoint(p, s.cfg.VectorDim); err != nil {
			return err
		}
		body = append(body, map[string]any{
			"id":      s.pointID(p.UserID, p.ID),
			"vector":  p.Vector,
			"payload": s.payload(p),
		})
	}
	err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": body}, nil)
	return indexError(err)
}

func (s *vectorStore) Search(ctx context.Context, q vectorindex.Query) ([]vectorindex.Match, error) {
	const op = "search"
	q, err := vectorindex.Normalize(q)
	if err != nil {
		return nil, err
	}
	if s.cfg.VectorDim > 0 && len(q.Vector) != s.cfg.VectorDim {
		return nil, entries.NewError(entries.KindValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", s.cfg.VectorDim, len(q.Vector)), nil)
	}
	filter, err := s.translateQueryFilter(q)
	if err != nil {
		var typed *OperationError
		if errors.As(err, &typed) && typed.Code == OperationErrorUnsupportedFilter {
			s.log.Warn("qdrant query filter unsupported", "error", err)
		}
		return nil, indexError(err)
	}

	req := map[string]any{
		"vector":       q.Vector,
		"limit":        q.K,
		"with_payload": true,
		"with_vector":  false,
		"filter":       filter,
	}
	if q.Threshold > 0 && s.scoreIsSimilarity() {
		req["score_threshold"] = q.Threshold
	}
	var raw []qdrantSearchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &raw); err != nil {
		return nil, indexError(err)
	}

	out := make([]vectorindex.Match, 0, len(raw))
	for _, item := range raw {
		m, ok := s.decodeMatch(item)
		if !ok || m.UserID != q.UserID || m.Similarity < q.Threshold {
			continue
		}
		out = append(out, m)
	}
	vectorindex.SortMatches(out)
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out, nil
}

// Deactivate flips the active flag in the payload; vectors stay in place.
func (s *vectorStore) Deactivate(ctx context.Context, userID uuid.UUID, ids []string) error {
	const op = "deactivate"
	pointIDs := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		pid := s.pointID(userID, id)
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		pointIDs = append(pointIDs, pid)
	}
	if len(pointIDs) == 0 {
		return nil
	}
	req := map[string]any{
		"payload": map[string]any{payloadActiveKey: false},
		"points":  pointIDs,
	}
	err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/payload?wait=true"), req, nil)
	return indexError(err)
}

// Refresh overwrites the payload of each point and keeps its vector. qdrant
// answers 404 when a point is missing.
func (s *vectorStore) Refresh(ctx context.Context, points ...vectorindex.Point) error {
	const op = "refresh"
	for _, p := range points {
		if err := vectorindex.ValidateRefresh(p); err != nil {
			return err
		}
	}
	for _, p := range points {
		req := map[string]any{
			"payload": s.payload(p),
			"points":  []string{s.pointID(p.UserID, p.ID)},
		}
		err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points/payload?wait=true"), req, nil)
		var typed *OperationError
		if errors.As(err, &typed) && typed.StatusCode == http.StatusNotFound {
			return entries.NewError(entries.KindNotFound, fmt.Sprintf("point %s is not stored", p.ID), err)
		}
		if err != nil {
			return indexError(err)
		}
	}
	return nil
}

func (s *vectorStore) payload(p vectorindex.Point) map[string]any {
	return map[string]any{
		payloadNamespaceKey: s.nsPrefix,
		payloadPointIDKey:   p.ID,
		payloadUserKey:      p.UserID.String(),
		payloadEntryKey:     p.QuickEntryID.String(),
		payloadSubtypeKey:   string(p.Subtype),
		payloadEventAtKey:   p.EventAt.UTC().Unix(),
		payloadActiveKey:    p.Active,
		payloadContentKey:   p.Content,
		payloadMetaKey:      clonePayload(p.Metadata),
	}
}

func (s *vectorStore) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"
	readyReq, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	readyResp, err := s.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}

	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err = s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &result)
	var typed *OperationError
	if errors.As(err, &typed) && typed.StatusCode == http.StatusNotFound && s.cfg.CreateCollection {
		if err := s.createCollection(ctx); err != nil {
			return err
		}
		s.distance = "Cosine"
		return nil
	}
	if err != nil {
		return err
	}

	size := result.Config.Params.Vectors.Size
	if size != 0 && size != s.cfg.VectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message: fmt.Sprintf("qdrant collection %q vector size mismatch: expected=%d actual=%d",
				s.cfg.Collection, s.cfg.VectorDim, size),
		}
	}
	s.distance = strings.TrimSpace(result.Config.Params.Vectors.Distance)
	return nil
}

func (s *vectorStore) createCollection(ctx context.Context) error {
	const op = "create_collection"
	req := map[string]any{
		"vectors": map[string]any{"size": s.cfg.VectorDim, "distance": "Cosine"},
	}
	if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), req, nil); err != nil {
		return err
	}
	for _, field := range []struct{ name, schema string }{
		{payloadUserKey, "keyword"},
		{payloadSubtypeKey, "keyword"},
		{payloadActiveKey, "bool"},
		{payloadEventAtKey, "integer"},
	} {
		idx := map[string]any{"field_name": field.name, "field_schema": field.schema}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/index?wait=true"), idx, nil); err != nil {
			return err
		}
	}
	s.log.Info("Qdrant collection created", "collection", s.cfg.Collection, "vector_dim", s.cfg.VectorDim)
	return nil
}

func (s *vectorStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

// indexError maps adapter failures onto the index error kinds: bad input is
// a validation error, everything else means the index is unavailable.
func indexError(err error) error {
	if err == nil {
		return nil
	}
	var typed *OperationError
	if errors.As(err, &typed) {
		switch typed.Code {
		case OperationErrorValidation, OperationErrorUnsupportedFilter:
			return entries.NewError(entries.KindValidation, typed.Error(), err)
		case OperationErrorTimeout:
			return entries.NewError(entries.KindTimeout, typed.Error(), err)
		}
	}
	return vectorindex.Unavailable("qdrant", err)
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// pointID is deterministic per (prefix, user, point) so a user can never
// address another user's point.
func (s *vectorStore) pointID(userID uuid.UUID, id string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(s.nsPrefix+"|"+userID.String()+"|"+id)).String()
}

func (s *vectorStore) collectionPath(suffix string) string {
	path := "/collections/" + s.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}

func (s *vectorStore) translateQueryFilter(q vectorindex.Query) (map[string]any, error) {
	spec := map[string]any{
		payloadNamespaceKey: s.nsPrefix,
		payloadUserKey:      q.UserID.String(),
		payloadActiveKey:    true,
	}
	if len(q.Subtypes) > 0 {
		names := make([]any, 0, len(q.Subtypes))
		for _, st := range q.Subtypes {
			names = append(names, string(st))
		}
		spec[payloadSubtypeKey] = map[string]any{filterOpIn: names}
	}
	if q.From != nil || q.To != nil {
		rng := map[string]any{}
		if q.From != nil {
			rng[filterOpGte] = q.From.UTC().Unix()
		}
		if q.To != nil {
			rng[filterOpLte] = q.To.UTC().Unix()
		}
		spec[payloadEventAtKey] = rng
	}
	for k, v := range q.Metadata {
		spec[payloadMetaKey+"."+k] = v
	}
	translated, err := translateFilterMap(spec)
	if err != nil {
		return nil, err
	}
	return translated.asMap(), nil
}

func (s *vectorStore) decodeMatch(item qdrantSearchResultItem) (vectorindex.Match, bool) {
	p := item.Payload
	id, _ := p[payloadPointIDKey].(string)
	if strings.TrimSpace(id) == "" {
		id = decodePointID(item.ID)
	}
	userID, err := uuid.Parse(stringField(p, payloadUserKey))
	if err != nil || id == "" {
		return vectorindex.Match{}, false
	}
	if active, ok := p[payloadActiveKey].(bool); ok && !active {
		return vectorindex.Match{}, false
	}
	entryID, _ := uuid.Parse(stringField(p, payloadEntryKey))
	var eventAt time.Time
	if secs, ok := p[payloadEventAtKey].(float64); ok {
		eventAt = time.Unix(int64(secs), 0).UTC()
	}
	meta, _ := p[payloadMetaKey].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	return vectorindex.Match{
		ID:           id,
		QuickEntryID: entryID,
		UserID:       userID,
		Subtype:      entries.Subtype(stringField(p, payloadSubtypeKey)),
		EventAt:      eventAt,
		Content:      stringField(p, payloadContentKey),
		Metadata:     meta,
		Similarity:   s.normalizeScore(item.Score),
	}, true
}

func stringField(p map[string]any, key string) string {
	v, _ := p[key].(string)
	return strings.TrimSpace(v)
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func (s *vectorStore) scoreIsSimilarity() bool {
	switch strings.ToLower(strings.TrimSpace(s.distance)) {
	case "euclid", "manhattan":
		return false
	default:
		return true
	}
}

func (s *vectorStore) normalizeScore(score float64) float64 {
	if s.scoreIsSimilarity() {
		return score
	}
	if score < 0 {
		score = -score
	}
	return 1.0 / (1.0 + score)
}
