package storage

import (
	"context"
	"sync"
	"time"

	"github.com/presslane/adserve/internal/models"
)

// InMemoryEventStore keeps ad events in memory with the same dedupe and
// retention semantics as the PostgreSQL store.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events []*models.AdEvent
	dedupe map[string]struct{}
}

// NewInMemoryEventStore creates an empty in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		dedupe: make(map[string]struct{}),
	}
}

func (s *InMemoryEventStore) Insert(ctx context.Context, ev *models.AdEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.DedupeKey != "" {
		if _, exists := s.dedupe[ev.DedupeKey]; exists {
			return false, nil
		}
		s.dedupe[ev.DedupeKey] = struct{}{}
	}
	cp := *ev
	s.events = append(s.events, &cp)
	return true, nil
}

func matchesQuery(ev *models.AdEvent, q FrequencyQuery) bool {
	if q.CampaignID != "" && ev.CampaignID != q.CampaignID {
		return false
	}
	if q.CollectionID != "" && ev.CollectionID != q.CollectionID {
		return false
	}
	if q.UserID != "" && ev.UserID != q.UserID {
		return false
	}
	if q.SessionID != "" && ev.SessionID != q.SessionID {
		return false
	}
	if q.PageKey != "" && ev.PageKey != q.PageKey {
		return false
	}
	if q.Type != "" && ev.Type != q.Type {
		return false
	}
	if !q.Since.IsZero() && ev.CreatedAt.Before(q.Since) {
		return false
	}
	return true
}

func (s *InMemoryEventStore) CountEvents(ctx context.Context, q FrequencyQuery) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, ev := range s.events {
		if matchesQuery(ev, q) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryEventStore) Aggregate(ctx context.Context, campaignID string, from, to time.Time) (map[models.EventType]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make(map[models.EventType]int64)
	for _, ev := range s.events {
		if ev.CampaignID != campaignID {
			continue
		}
		if !from.IsZero() && ev.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && ev.CreatedAt.After(to) {
			continue
		}
		res[ev.Type]++
	}
	return res, nil
}

func (s *InMemoryEventStore) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var removed int64
	for _, ev := range s.events {
		if ev.CreatedAt.Before(olderThan) {
			removed++
			if ev.DedupeKey != "" {
				delete(s.dedupe, ev.DedupeKey)
			}
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return removed, nil
}
