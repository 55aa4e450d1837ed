package geofence

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/parkswap/internal/clock"
	"github.com/example/parkswap/internal/geo"
	"github.com/example/parkswap/internal/models"
	"github.com/example/parkswap/internal/observability"
	"github.com/example/parkswap/internal/storage"
)

// Monitor feeds live positions of every reserved alert's buyer and seller
// into a Trigger. After arrival it keeps watching the buyer for a while so the
// leaving warning can fire.
type Monitor struct {
	Trigger  *Trigger
	Store    storage.AlertStore
	Tracker  geo.Tracker
	Clock    clock.Clock
	Logger   *slog.Logger
	Interval time.Duration
	// LeaveWatch is how long a settled alert keeps being checked for the
	// buyer leaving the pickup point.
	LeaveWatch time.Duration

	arrived map[string]arrival
}

type arrival struct {
	alert models.Alert
	at    time.Time
}

func (m *Monitor) Run(ctx context.Context) error {
	interval := m.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.Tick(ctx)
		}
	}
}

// Tick evaluates every reserved alert once. Ticks must not overlap.
func (m *Monitor) Tick(ctx context.Context) {
	if m.arrived == nil {
		m.arrived = make(map[string]arrival)
	}
	now := m.now()
	alerts, err := m.Store.FilterAlerts(ctx, storage.AlertFilter{Statuses: []models.AlertStatus{models.StatusReserved}})
	if err != nil {
		observability.StoreErrors.WithLabelValues("filter_alerts").Inc()
		m.logger().Warn("geofence filter failed", "error", err)
		return
	}
	for _, a := range alerts {
		seller := a.Loc
		if p, ok := m.position(ctx, a.OwnerID); ok {
			if moved, err := m.Trigger.CheckSellerDrift(ctx, a, p.Loc); err != nil || moved {
				continue
			}
			seller = p.Loc
		}
		buyer, ok := m.position(ctx, a.ReservedByID)
		if !ok {
			continue
		}
		d, _ := m.Trigger.Evaluate(ctx, a, buyer.Loc, seller)
		if d == Arrived || d == Settled {
			if _, seen := m.arrived[a.ID]; !seen {
				m.arrived[a.ID] = arrival{alert: *a, at: now}
			}
		}
	}

	watch := m.LeaveWatch
	if watch <= 0 {
		watch = time.Minute
	}
	for id, arr := range m.arrived {
		if now.Sub(arr.at) > watch {
			delete(m.arrived, id)
			m.Trigger.Forget(id)
			continue
		}
		buyer, ok := m.position(ctx, arr.alert.ReservedByID)
		if !ok {
			continue
		}
		a := arr.alert
		a.Status = models.StatusCompleted
		_, _ = m.Trigger.Evaluate(ctx, &a, buyer.Loc, a.Loc)
	}
}

func (m *Monitor) position(ctx context.Context, userID string) (models.Position, bool) {
	if userID == "" {
		return models.Position{}, false
	}
	p, ok, err := m.Tracker.Position(ctx, userID)
	if err != nil {
		m.logger().Warn("position lookup failed", "user_id", userID, "error", err)
		return models.Position{}, false
	}
	return p, ok
}

func (m *Monitor) now() time.Time {
	if m.Clock == nil {
		return time.Now()
	}
	return m.Clock.Now()
}

func (m *Monitor) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
