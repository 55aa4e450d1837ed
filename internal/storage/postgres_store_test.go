package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/parkswap/internal/models"
)

// openPostgres connects to PG_DSN and applies the migrations, skipping the
// test when no database is configured.
func openPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	p, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	_, err = p.ApplyMigrations(context.Background(), "../../migrations")
	require.NoError(t, err)
	return p
}

func ids(alerts []*models.Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.ID
	}
	return out
}

func TestPostgresFilterAlerts(t *testing.T) {
	ctx := context.Background()
	p := openPostgres(t)

	owner := "seller-" + uuid.NewString()
	email := owner + "@example.com"
	buyer := "buyer-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)
	mk := func(status models.AlertStatus, reservedBy string) *models.Alert {
		a := &models.Alert{
			ID:                 uuid.NewString(),
			OwnerID:            owner,
			OwnerEmail:         email,
			Status:             status,
			Price:              decimal.RequireFromString("4.50"),
			AvailableInMinutes: 10,
			UpdatedAt:          now,
			Loc:                models.Coord{Lat: 40.4168, Lon: -3.7038},
			ReservedByID:       reservedBy,
		}
		require.NoError(t, p.CreateAlert(ctx, a))
		t.Cleanup(func() { _ = p.DeleteAlert(context.Background(), a.ID) })
		return a
	}
	active := mk(models.StatusActive, "")
	reserved := mk(models.StatusReserved, buyer)
	expired := mk(models.StatusExpired, "")

	byID, err := p.FilterAlerts(ctx, AlertFilter{OwnerID: owner})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{active.ID, reserved.ID, expired.ID}, ids(byID))

	byEmail, err := p.FilterAlerts(ctx, AlertFilter{OwnerID: email})
	require.NoError(t, err)
	assert.ElementsMatch(t, ids(byID), ids(byEmail))

	live, err := p.FilterAlerts(ctx, AlertFilter{OwnerID: owner, Statuses: []models.AlertStatus{models.StatusActive, models.StatusReserved}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{active.ID, reserved.ID}, ids(live))

	mine, err := p.FilterAlerts(ctx, AlertFilter{BuyerID: buyer, Statuses: []models.AlertStatus{models.StatusReserved}})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, reserved.ID, mine[0].ID)
	assert.True(t, reserved.Price.Equal(mine[0].Price))

	none, err := p.FilterAlerts(ctx, AlertFilter{OwnerID: "nobody-" + uuid.NewString()})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgresRequestsAndNotifications(t *testing.T) {
	ctx := context.Background()
	p := openPostgres(t)

	_, err := p.GetAlert(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = p.GetRequest(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Microsecond)
	a := &models.Alert{ID: uuid.NewString(), OwnerID: "seller", Status: models.StatusActive,
		Price: decimal.NewFromInt(3), AvailableInMinutes: 5, UpdatedAt: now}
	require.NoError(t, p.CreateAlert(ctx, a))
	t.Cleanup(func() { _ = p.DeleteAlert(context.Background(), a.ID) })

	r := &models.ReservationRequest{ID: uuid.NewString(), AlertID: a.ID, SellerID: "seller",
		Buyer: models.Buyer{ID: "buyer", Name: "Lucía"}, Status: models.RequestPending, CreatedAt: now}
	require.NoError(t, p.CreateRequest(ctx, r))

	r.Status = models.RequestAccepted
	r.ETASeconds = 240
	r.RespondedAt = &now
	require.NoError(t, p.UpdateRequest(ctx, r))
	got, err := p.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, got.Status)
	assert.Equal(t, "Lucía", got.Buyer.Name)
	require.NotNil(t, got.RespondedAt)
	assert.True(t, now.Equal(*got.RespondedAt))

	missing := &models.ReservationRequest{ID: uuid.NewString(), Status: models.RequestAccepted}
	assert.ErrorIs(t, p.UpdateRequest(ctx, missing), models.ErrNotFound)

	user := "user-" + uuid.NewString()
	n := &models.Notification{ID: uuid.NewString(), UserID: user, Type: "request_received",
		AlertID: a.ID, RequestID: r.ID, Title: "Nueva solicitud", CreatedAt: now}
	require.NoError(t, p.CreateNotification(ctx, n))
	n.Read = true
	require.NoError(t, p.UpdateNotification(ctx, n))
	list, err := p.FilterNotifications(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)
}
