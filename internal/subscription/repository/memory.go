package repository

import (
	"context"
	"sync"

	"afyalog/internal/subscription"
)

// MemoryRepository keeps records in a map. Used for STORAGE_DRIVER=memory and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[int64]subscription.Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[int64]subscription.Record)}
}

func (m *MemoryRepository) Get(_ context.Context, userID int64) (*subscription.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[userID]
	if !ok {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return cloneRecord(rec), nil
}

func (m *MemoryRepository) Put(_ context.Context, rec *subscription.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.records[rec.UserID]
	switch {
	case rec.Version == 0 && exists:
		return subscription.ErrWriteConflict
	case rec.Version != 0 && (!exists || cur.Version != rec.Version):
		return subscription.ErrWriteConflict
	}

	rec.Version++
	m.records[rec.UserID] = *cloneRecord(*rec)
	return nil
}

func cloneRecord(r subscription.Record) *subscription.Record {
	if r.PeriodStart != nil {
		t := *r.PeriodStart
		r.PeriodStart = &t
	}
	if r.PeriodEnd != nil {
		t := *r.PeriodEnd
		r.PeriodEnd = &t
	}
	return &r
}
