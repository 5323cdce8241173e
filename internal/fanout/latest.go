package fanout

import (
	"sort"
	"sync"
	"time"

	"sewerwatch/internal/model"
)

// LatestStore keeps the most recent reading event per manhole, bounded so
// live state never grows without limit. It backs the snapshot sent to each
// new subscriber.
type LatestStore struct {
	mu        sync.RWMutex
	byManhole map[string]model.ReadingEvent
	updatedAt map[string]time.Time
	limit     int
}

func NewLatestStore(limit int) *LatestStore {
	if limit <= 0 {
		limit = 1000
	}
	return &LatestStore{
		byManhole: make(map[string]model.ReadingEvent),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *LatestStore) Update(ev model.ReadingEvent) {
	if ev.ManholeID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byManhole[ev.ManholeID] = ev
	s.updatedAt[ev.ManholeID] = time.Now().UTC()
	if len(s.byManhole) > s.limit {
		s.evictOldest()
	}
}

// All returns the latest event per manhole, ordered by manhole identifier
// for stable snapshots.
func (s *LatestStore) All() []model.ReadingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byManhole))
	for id := range s.byManhole {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.ReadingEvent, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byManhole[id])
	}
	return out
}

func (s *LatestStore) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, ts := range s.updatedAt {
		if oldestID == "" || ts.Before(oldest) {
			oldestID = id
			oldest = ts
		}
	}
	if oldestID != "" {
		delete(s.byManhole, oldestID)
		delete(s.updatedAt, oldestID)
	}
}

func (s *LatestStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byManhole = make(map[string]model.ReadingEvent)
	s.updatedAt = make(map[string]time.Time)
}
