// Package vectorindex stores entry vectors with their metadata and answers
// user-scoped nearest-neighbour queries.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
)

// Point is one indexed vector. Upserting an existing ID replaces it whole.
type Point struct {
	ID           string
	Vector       []float32
	UserID       uuid.UUID
	QuickEntryID uuid.UUID
	Subtype      entries.Subtype
	EventAt      time.Time
	Active       bool
	Content      string
	Metadata     map[string]any
}

// Query is a nearest-neighbour request. UserID is mandatory.
type Query struct {
	Vector    []float32
	UserID    uuid.UUID
	K         int
	Threshold float64
	Subtypes  []entries.Subtype
	From      *time.Time
	To        *time.Time
	// Metadata keys must be present on a point with an equal value.
	Metadata map[string]any
}

type Match struct {
	ID           string
	QuickEntryID uuid.UUID
	UserID       uuid.UUID
	Subtype      entries.Subtype
	EventAt      time.Time
	Content      string
	Metadata     map[string]any
	Similarity   float64
}

// Index is implemented by the memory, pgvector and qdrant backends. Searches
// never return inactive points or points owned by another user.
type Index interface {
	Upsert(ctx context.Context, points ...Point) error
	Search(ctx context.Context, q Query) ([]Match, error)
	Deactivate(ctx context.Context, userID uuid.UUID, ids []string) error
	// Refresh rewrites everything but the stored vector of existing points.
	// A point that is not stored yields a NotFound error.
	Refresh(ctx context.Context, points ...Point) error
}

const DefaultK = 10

// Metadata keys written by the entry pipeline.
const (
	MetaTimeOfDay       = "time_of_day"
	MetaMeasurementKind = "measurement_kind"
	MetaFields          = "fields"
	MetaSummary         = "summary"
	MetaContentHash     = "content_hash"
)

// FieldValues reads the observed numeric fields stored under MetaFields. It
// accepts both the in-process map and the decoded JSON object.
func FieldValues(meta map[string]any) map[string]float64 {
	out := map[string]float64{}
	switch fs := meta[MetaFields].(type) {
	case map[string]float64:
		for k, v := range fs {
			out[k] = v
		}
	case map[string]any:
		for k, v := range fs {
			if f, ok := toFloat(v); ok {
				out[k] = f
			}
		}
	}
	return out
}

// PointID is the stable index id for an entry's embedding of a given kind.
func PointID(entryID uuid.UUID, kind entries.EmbeddingKind) string {
	return entryID.String() + ":" + string(kind)
}

// Normalize validates q and fills defaults.
func Normalize(q Query) (Query, error) {
	if q.UserID == uuid.Nil {
		return q, entries.NewError(entries.KindValidation, "vector search requires a user id", nil)
	}
	if len(q.Vector) == 0 {
		return q, entries.NewError(entries.KindValidation, "vector search requires a query vector", nil)
	}
	if q.K <= 0 {
		q.K = DefaultK
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return q, entries.NewError(entries.KindValidation, "vector search date range is inverted", nil)
	}
	return q, nil
}

func ValidatePoint(p Point, dim int) error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return entries.NewError(entries.KindValidation, "point id is required", nil)
	case p.UserID == uuid.Nil:
		return entries.NewError(entries.KindValidation, fmt.Sprintf("point %s has no user id", p.ID), nil)
	case len(p.Vector) == 0:
		return entries.NewError(entries.KindValidation, fmt.Sprintf("point %s has an empty vector", p.ID), nil)
	case dim > 0 && len(p.Vector) != dim:
		return entries.NewError(entries.KindValidation, fmt.Sprintf("point %s dimension mismatch: want=%d got=%d", p.ID, dim, len(p.Vector)), nil)
	}
	return nil
}

// ValidateRefresh checks the fields Refresh needs; the vector is ignored.
func ValidateRefresh(p Point) error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return entries.NewError(entries.KindValidation, "point id is required", nil)
	case p.UserID == uuid.Nil:
		return entries.NewError(entries.KindValidation, fmt.Sprintf("point %s has no user id", p.ID), nil)
	}
	return nil
}

func pointNotFound(id string) error {
	return entries.NewError(entries.KindNotFound, fmt.Sprintf("point %s is not stored", id), nil)
}

// SortMatches orders by similarity descending, newer events first on ties.
func SortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Similarity != ms[j].Similarity {
			return ms[i].Similarity > ms[j].Similarity
		}
		if !ms[i].EventAt.Equal(ms[j].EventAt) {
			return ms[i].EventAt.After(ms[j].EventAt)
		}
		return ms[i].ID < ms[j].ID
	})
}

// Cosine returns the cosine similarity of a and b, or 0 when undefined.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Unavailable wraps a backend failure as a transient index error.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if entries.KindOf(err) == entries.KindValidation {
		return err
	}
	return entries.NewError(entries.KindVectorIndexUnavailable, op, err)
}

func containsAll(have, want map[string]any) bool {
	for k, wv := range want {
		hv, ok := have[k]
		if !ok || !scalarEqual(hv, wv) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func subtypeAllowed(st entries.Subtype, allowed []entries.Subtype) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == st {
			return true
		}
	}
	return false
}

func cloneMeta(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
