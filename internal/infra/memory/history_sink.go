package memory

import (
	"context"
	"sync"

	"exam-live-service/internal/domain"
)

// HistorySink keeps session records in memory. The default sink when no
// postgres URL is configured.
type HistorySink struct {
	mu      sync.RWMutex
	records []domain.SessionRecord
}

func NewHistorySink() *HistorySink {
	return &HistorySink{}
}

func (s *HistorySink) Save(_ context.Context, record domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of everything saved so far, oldest first.
func (s *HistorySink) Records() []domain.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SessionRecord, len(s.records))
	copy(out, s.records)
	return out
}
