package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"afyalog/internal/payment"
)

// MemoryRepository implements payment.Store under a single mutex.
type MemoryRepository struct {
	mu            sync.Mutex
	transactions  map[string]payment.Transaction
	registrations map[string]payment.Registration
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		transactions:  make(map[string]payment.Transaction),
		registrations: make(map[string]payment.Registration),
	}
}

func (m *MemoryRepository) CreatePending(_ context.Context, txn *payment.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[txn.TrackingID]; ok {
		return payment.ErrDuplicateTrackingID
	}
	m.transactions[txn.TrackingID] = *txn
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, trackingID string) (*payment.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[trackingID]
	if !ok {
		return nil, payment.ErrUnknownTransaction
	}
	return &txn, nil
}

func (m *MemoryRepository) Resolve(_ context.Context, trackingID string, outcome payment.State, at time.Time) (payment.State, error) {
	return m.transition(trackingID, payment.StateInitiated, outcome, at)
}

func (m *MemoryRepository) Reinstate(_ context.Context, trackingID string, at time.Time) (payment.State, error) {
	return m.transition(trackingID, payment.StateTimedOut, payment.StateSuccess, at)
}

func (m *MemoryRepository) transition(trackingID string, from, to payment.State, at time.Time) (payment.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[trackingID]
	if !ok {
		return "", payment.ErrUnknownTransaction
	}
	if txn.State != from {
		return txn.State, payment.ErrAlreadyResolved
	}
	txn.State = to
	txn.ResolvedAt = &at
	m.transactions[trackingID] = txn
	return from, nil
}

func (m *MemoryRepository) Sweep(_ context.Context, now time.Time) ([]payment.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []payment.Transaction
	for id, txn := range m.transactions {
		if txn.State != payment.StateInitiated || txn.ExpiresAt.After(now) {
			continue
		}
		at := now
		txn.State = payment.StateTimedOut
		txn.ResolvedAt = &at
		m.transactions[id] = txn
		out = append(out, txn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackingID < out[j].TrackingID })
	return out, nil
}

func (m *MemoryRepository) AttachUser(_ context.Context, trackingID string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[trackingID]
	if !ok {
		return payment.ErrUnknownTransaction
	}
	if txn.UserID == nil {
		uid := userID
		txn.UserID = &uid
		m.transactions[trackingID] = txn
	}
	return nil
}

func (m *MemoryRepository) MarkApplied(_ context.Context, trackingID string, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[trackingID]
	if !ok {
		return payment.ErrUnknownTransaction
	}
	if txn.AppliedAt != nil {
		return nil
	}
	uid := userID
	txn.UserID = &uid
	txn.AppliedAt = &at
	m.transactions[trackingID] = txn
	return nil
}

func (m *MemoryRepository) ListUnapplied(_ context.Context, olderThan time.Time) ([]payment.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []payment.Transaction
	for _, txn := range m.transactions {
		if txn.State != payment.StateSuccess || txn.UserID == nil || txn.AppliedAt != nil {
			continue
		}
		if txn.ResolvedAt == nil || txn.ResolvedAt.After(olderThan) {
			continue
		}
		out = append(out, txn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.Before(*out[j].ResolvedAt) })
	return out, nil
}

func (m *MemoryRepository) CreateRegistration(_ context.Context, reg *payment.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registrations[reg.TrackingID]; ok {
		return payment.ErrDuplicateTrackingID
	}
	m.registrations[reg.TrackingID] = *reg
	return nil
}

func (m *MemoryRepository) GetRegistration(_ context.Context, trackingID string) (*payment.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.registrations[trackingID]
	if !ok {
		return nil, payment.ErrUnknownTransaction
	}
	return &reg, nil
}

func (m *MemoryRepository) ConfirmRegistration(_ context.Context, trackingID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.registrations[trackingID]
	if !ok {
		return payment.ErrUnknownTransaction
	}
	if reg.Expired(now) {
		return payment.ErrExpiredRegistration
	}
	if reg.PaymentConfirmedAt == nil {
		at := now
		reg.PaymentConfirmedAt = &at
		m.registrations[trackingID] = reg
	}
	return nil
}

func (m *MemoryRepository) ClaimRegistration(_ context.Context, trackingID string, now time.Time) (*payment.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.registrations[trackingID]
	switch {
	case !ok:
		return nil, payment.ErrUnknownTransaction
	case reg.Expired(now):
		return nil, payment.ErrExpiredRegistration
	case !reg.Confirmed():
		return nil, payment.ErrPaymentNotConfirmed
	}
	delete(m.registrations, trackingID)
	return &reg, nil
}

func (m *MemoryRepository) DeleteExpiredRegistrations(_ context.Context, now time.Time) ([]payment.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []payment.Registration
	for id, reg := range m.registrations {
		if !reg.Expired(now) {
			continue
		}
		delete(m.registrations, id)
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackingID < out[j].TrackingID })
	return out, nil
}
