package storage

import (
	"context"

	"github.com/example/parkswap/internal/models"
)

// AlertFilter selects alerts by field. Empty fields match everything.
type AlertFilter struct {
	OwnerID  string
	BuyerID  string
	Statuses []models.AlertStatus
}

func (f AlertFilter) match(a *models.Alert) bool {
	if f.OwnerID != "" && !a.OwnedBy(f.OwnerID) {
		return false
	}
	if f.BuyerID != "" && a.ReservedByID != f.BuyerID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}

// TransactionFilter selects settlement records. A user matches as seller or buyer.
type TransactionFilter struct {
	AlertID string
	UserID  string
}

// AlertStore is the Alert collection of the entity store.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *models.Alert) error
	UpdateAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	FilterAlerts(ctx context.Context, f AlertFilter) ([]*models.Alert, error)
	DeleteAlert(ctx context.Context, id string) error
}

type RequestStore interface {
	CreateRequest(ctx context.Context, r *models.ReservationRequest) error
	UpdateRequest(ctx context.Context, r *models.ReservationRequest) error
	GetRequest(ctx context.Context, id string) (*models.ReservationRequest, error)
	FilterRequests(ctx context.Context, alertID string) ([]*models.ReservationRequest, error)
}

type TransactionStore interface {
	CreateTransaction(ctx context.Context, t *models.SettlementRecord) error
	FilterTransactions(ctx context.Context, f TransactionFilter) ([]*models.SettlementRecord, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	FilterNotifications(ctx context.Context, userID string) ([]*models.Notification, error)
	UpdateNotification(ctx context.Context, n *models.Notification) error
}

// Store is the entity store consumed by the engine. It is a dumb record store:
// no conflict resolution happens here.
type Store interface {
	AlertStore
	RequestStore
	TransactionStore
	NotificationStore
}
