package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/parkswap/internal/models"
)

func TestMemoryStoreAlertsAreCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	a := &models.Alert{ID: "a1", OwnerID: "seller", Status: models.StatusActive}
	require.NoError(t, m.CreateAlert(ctx, a))

	a.Status = models.StatusCancelled
	got, err := m.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)

	got.Status = models.StatusExpired
	again, _ := m.GetAlert(ctx, "a1")
	assert.Equal(t, models.StatusActive, again.Status)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.GetAlert(ctx, "x")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, m.UpdateAlert(ctx, &models.Alert{ID: "x"}), models.ErrNotFound)
	_, err = m.GetRequest(ctx, "x")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, m.UpdateNotification(ctx, &models.Notification{ID: "x"}), models.ErrNotFound)
}

func TestMemoryStoreFilterAlerts(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateAlert(ctx, &models.Alert{ID: "a1", OwnerID: "s1", Status: models.StatusActive}))
	require.NoError(t, m.CreateAlert(ctx, &models.Alert{ID: "a2", OwnerID: "s1", Status: models.StatusReserved, ReservedByID: "b1"}))
	require.NoError(t, m.CreateAlert(ctx, &models.Alert{ID: "a3", OwnerEmail: "s2@example.com", Status: models.StatusCompleted, ReservedByID: "b1"}))

	got, err := m.FilterAlerts(ctx, AlertFilter{OwnerID: "s1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)

	got, _ = m.FilterAlerts(ctx, AlertFilter{BuyerID: "b1", Statuses: []models.AlertStatus{models.StatusCompleted}})
	require.Len(t, got, 1)
	assert.Equal(t, "a3", got[0].ID)

	got, _ = m.FilterAlerts(ctx, AlertFilter{OwnerID: "s2@example.com"})
	require.Len(t, got, 1)

	got, _ = m.FilterAlerts(ctx, AlertFilter{Statuses: []models.AlertStatus{models.StatusActive, models.StatusReserved}})
	assert.Len(t, got, 2)

	require.NoError(t, m.DeleteAlert(ctx, "a1"))
	got, _ = m.FilterAlerts(ctx, AlertFilter{})
	assert.Len(t, got, 2)
}

func TestMemoryStoreRequestsOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, m.CreateRequest(ctx, &models.ReservationRequest{ID: "r2", AlertID: "a1", CreatedAt: t0.Add(time.Minute)}))
	require.NoError(t, m.CreateRequest(ctx, &models.ReservationRequest{ID: "r1", AlertID: "a1", CreatedAt: t0}))
	require.NoError(t, m.CreateRequest(ctx, &models.ReservationRequest{ID: "r3", AlertID: "other", CreatedAt: t0}))

	got, err := m.FilterRequests(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "r2", got[1].ID)
}

func TestMemoryStoreTransactionsByParticipant(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateTransaction(ctx, &models.SettlementRecord{ID: "t1", AlertID: "a1", SellerID: "s", BuyerID: "b"}))
	require.NoError(t, m.CreateTransaction(ctx, &models.SettlementRecord{ID: "t2", AlertID: "a2", SellerID: "b", BuyerID: "x"}))

	got, _ := m.FilterTransactions(ctx, TransactionFilter{UserID: "b"})
	assert.Len(t, got, 2)
	got, _ = m.FilterTransactions(ctx, TransactionFilter{AlertID: "a1"})
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ID)
}

func TestMemoryStoreNotificationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, m.CreateNotification(ctx, &models.Notification{ID: "n1", UserID: "u", CreatedAt: t0}))
	require.NoError(t, m.CreateNotification(ctx, &models.Notification{ID: "n2", UserID: "u", CreatedAt: t0.Add(time.Second)}))

	got, err := m.FilterNotifications(ctx, "u")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "n2", got[0].ID)

	got[0].Read = true
	require.NoError(t, m.UpdateNotification(ctx, got[0]))
	again, _ := m.FilterNotifications(ctx, "u")
	assert.True(t, again[0].Read)
}
