package alerts

import (
	"sync"
	"time"

	"sewerwatch/internal/model"
)

// Store is a bounded in-memory ring of recent critical reading events,
// served to dashboards without a round trip to the database. The persisted
// reading history remains the source of truth.
type Store struct {
	mu    sync.RWMutex
	buf   []model.ReadingEvent
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(ev model.ReadingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, ev)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = ev
}

func (s *Store) List(limit int) []model.ReadingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.ReadingEvent, 0, limit)
	start := len(s.buf) - limit
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.ReadingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ReadingEvent, 0)
	for _, ev := range s.buf {
		if !ev.Timestamp.Before(ts) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
