package vectorindex

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

// Memory is an in-process index. Stored points are never mutated; an upsert
// swaps in a fresh copy so readers never see a half-written vector.
type Memory struct {
	mu     sync.RWMutex
	dim    int
	byUser map[uuid.UUID]map[string]*Point
	log    *logger.Logger
}

func NewMemory(dim int, log *logger.Logger) *Memory {
	return &Memory{
		dim:    dim,
		byUser: map[uuid.UUID]map[string]*Point{},
		log:    log.With("service", "MemoryVectorIndex"),
	}
}

func (m *Memory) Upsert(ctx context.Context, points ...Point) error {
	staged := make([]*Point, 0, len(points))
	for _, p := range points {
		if err := ValidatePoint(p, m.dim); err != nil {
			return err
		}
		cp := p
		cp.Vector = append([]float32(nil), p.Vector...)
		cp.Metadata = cloneMeta(p.Metadata)
		staged = append(staged, &cp)
	}
	if err := ctx.Err(); err != nil {
		return Unavailable("memory.upsert", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range staged {
		// A point id belongs to one user; drop any copy filed under another.
		for uid, pts := range m.byUser {
			if uid != p.UserID {
				delete(pts, p.ID)
			}
		}
		pts := m.byUser[p.UserID]
		if pts == nil {
			pts = map[string]*Point{}
			m.byUser[p.UserID] = pts
		}
		pts[p.ID] = p
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, q Query) ([]Match, error) {
	q, err := Normalize(q)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("memory.search", err)
	}
	m.mu.RLock()
	candidates := make([]*Point, 0, len(m.byUser[q.UserID]))
	for _, p := range m.byUser[q.UserID] {
		candidates = append(candidates, p)
	}
	m.mu.RUnlock()

	out := make([]Match, 0, len(candidates))
	for _, p := range candidates {
		if !p.Active || p.UserID != q.UserID || !subtypeAllowed(p.Subtype, q.Subtypes) {
			continue
		}
		if q.From != nil && p.EventAt.Before(*q.From) {
			continue
		}
		if q.To != nil && p.EventAt.After(*q.To) {
			continue
		}
		if len(q.Metadata) > 0 && !containsAll(p.Metadata, q.Metadata) {
			continue
		}
		sim := Cosine(q.Vector, p.Vector)
		if sim < q.Threshold {
			continue
		}
		out = append(out, Match{
			ID:           p.ID,
			QuickEntryID: p.QuickEntryID,
			UserID:       p.UserID,
			Subtype:      p.Subtype,
			EventAt:      p.EventAt,
			Content:      p.Content,
			Metadata:     cloneMeta(p.Metadata),
			Similarity:   sim,
		})
	}
	SortMatches(out)
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out, nil
}

func (m *Memory) Deactivate(ctx context.Context, userID uuid.UUID, ids []string) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("memory.deactivate", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pts := m.byUser[userID]
	for _, id := range ids {
		p, ok := pts[id]
		if !ok || !p.Active {
			continue
		}
		cp := *p
		cp.Active = false
		pts[id] = &cp
	}
	return nil
}

func (m *Memory) Refresh(ctx context.Context, points ...Point) error {
	for _, p := range points {
		if err := ValidateRefresh(p); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return Unavailable("memory.refresh", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		if _, ok := m.byUser[p.UserID][p.ID]; !ok {
			return pointNotFound(p.ID)
		}
	}
	for _, p := range points {
		pts := m.byUser[p.UserID]
		cp := p
		cp.Vector = pts[p.ID].Vector
		cp.Metadata = cloneMeta(p.Metadata)
		pts[p.ID] = &cp
	}
	return nil
}

// Len reports the number of stored points, active or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, pts := range m.byUser {
		n += len(pts)
	}
	return n
}
