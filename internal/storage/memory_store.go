package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/parkswap/internal/models"
)

// MemoryStore keeps every collection in process memory. Records are copied on
// the way in and out so callers never share state through the store.
type MemoryStore struct {
	mu            sync.RWMutex
	alerts        map[string]models.Alert
	requests      map[string]models.ReservationRequest
	transactions  []models.SettlementRecord
	notifications map[string]models.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:        make(map[string]models.Alert),
		requests:      make(map[string]models.ReservationRequest),
		notifications: make(map[string]models.Notification),
	}
}

func (m *MemoryStore) CreateAlert(ctx context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = *a
	return nil
}

func (m *MemoryStore) UpdateAlert(ctx context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		return models.ErrNotFound
	}
	m.alerts[a.ID] = *a
	return nil
}

func (m *MemoryStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) FilterAlerts(ctx context.Context, f AlertFilter) ([]*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Alert, 0)
	for _, a := range m.alerts {
		if f.match(&a) {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteAlert(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alerts, id)
	return nil
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *models.ReservationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateRequest(ctx context.Context, r *models.ReservationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; !ok {
		return models.ErrNotFound
	}
	m.requests[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.ReservationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) FilterRequests(ctx context.Context, alertID string) ([]*models.ReservationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.ReservationRequest, 0)
	for _, r := range m.requests {
		if r.AlertID == alertID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateTransaction(ctx context.Context, t *models.SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = append(m.transactions, *t)
	return nil
}

func (m *MemoryStore) FilterTransactions(ctx context.Context, f TransactionFilter) ([]*models.SettlementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.SettlementRecord, 0)
	for _, t := range m.transactions {
		if f.AlertID != "" && t.AlertID != f.AlertID {
			continue
		}
		if f.UserID != "" && t.SellerID != f.UserID && t.BuyerID != f.UserID {
			continue
		}
		t := t
		out = append(out, &t)
	}
	return out, nil
}

func (m *MemoryStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = *n
	return nil
}

func (m *MemoryStore) FilterNotifications(ctx context.Context, userID string) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Notification, 0)
	for _, n := range m.notifications {
		if n.UserID == userID {
			n := n
			out = append(out, &n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; !ok {
		return models.ErrNotFound
	}
	m.notifications[n.ID] = *n
	return nil
}
