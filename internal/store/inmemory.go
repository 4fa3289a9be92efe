package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/locus/api/schemas"
)

// InMemory is a process-local schemas.PatternStore. It is the default backend
// and the one tests use.
type InMemory struct {
	mu       sync.RWMutex
	patterns map[schemas.PatternKey]schemas.MemoryPattern
}

var _ schemas.PatternStore = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{patterns: make(map[schemas.PatternKey]schemas.MemoryPattern)}
}

func (s *InMemory) Upsert(_ context.Context, p schemas.MemoryPattern) (schemas.MemoryPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Key()
	if old, ok := s.patterns[key]; ok {
		old.SuccessCount++
		if p.Confidence > old.Confidence {
			old.Confidence = p.Confidence
		}
		old.LastUsedAt = p.LastUsedAt
		old.ActionType = p.ActionType
		old.ElementDescriptor = p.ElementDescriptor
		old.LocatorKind = p.LocatorKind
		old.ContainerRole = p.ContainerRole
		s.patterns[key] = old
		return old, nil
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.SuccessCount = 1
	p.CreatedAt = p.LastUsedAt
	s.patterns[key] = p
	return p, nil
}

func (s *InMemory) FindExact(_ context.Context, projectID, actionText, urlPattern string, inModal bool) ([]schemas.MemoryPattern, error) {
	return s.filter(func(p schemas.MemoryPattern) bool {
		return p.ProjectID == projectID && p.ActionText == actionText && p.URLPattern == urlPattern && p.IsInModal == inModal
	}), nil
}

func (s *InMemory) FindPartial(_ context.Context, projectID, token string, inModal bool) ([]schemas.MemoryPattern, error) {
	return s.filter(func(p schemas.MemoryPattern) bool {
		return p.ProjectID == projectID && p.IsInModal == inModal && strings.Contains(p.ActionText, token)
	}), nil
}

func (s *InMemory) ListScope(_ context.Context, projectID string, inModal bool) ([]schemas.MemoryPattern, error) {
	return s.filter(func(p schemas.MemoryPattern) bool {
		return p.ProjectID == projectID && p.IsInModal == inModal
	}), nil
}

func (s *InMemory) Top(_ context.Context, projectID string, limit int) ([]schemas.MemoryPattern, error) {
	out := s.filter(func(p schemas.MemoryPattern) bool { return p.ProjectID == projectID })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) Cleanup(_ context.Context, projectID string, minSuccess int, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, p := range s.patterns {
		if p.ProjectID == projectID && p.SuccessCount < minSuccess && p.LastUsedAt.Before(cutoff) {
			delete(s.patterns, k)
			n++
		}
	}
	return n, nil
}

// Len reports how many patterns are stored.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

func (s *InMemory) filter(keep func(schemas.MemoryPattern) bool) []schemas.MemoryPattern {
	s.mu.RLock()
	var out []schemas.MemoryPattern
	for _, p := range s.patterns {
		if keep(p) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	// Map order is random; ranking is stable, so presorting by key breaks ties.
	sortByKey(out)
	schemas.RankPatterns(out)
	return out
}

func sortByKey(ps []schemas.MemoryPattern) {
	slices.SortFunc(ps, func(a, b schemas.MemoryPattern) int { return a.Key().Compare(b.Key()) })
}
