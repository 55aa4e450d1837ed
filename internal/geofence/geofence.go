// Package geofence settles a reservation when the buyer reaches the seller.
package geofence

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/parkswap/internal/geo"
	"github.com/example/parkswap/internal/latch"
	"github.com/example/parkswap/internal/lifecycle"
	"github.com/example/parkswap/internal/models"
	"github.com/example/parkswap/internal/observability"
	"github.com/example/parkswap/internal/signals"
)

const DefaultRadius = 5.0 // meters

type Decision string

const (
	Idle        Decision = "idle"         // nothing to evaluate
	Outside     Decision = "outside"      // buyer not yet within the radius
	Arrived     Decision = "arrived"      // this call fired settlement
	Settled     Decision = "settled"      // within the radius, settlement already fired
	Leaving     Decision = "leaving"      // buyer left the radius after entering it
	SellerMoved Decision = "seller_moved" // seller drifted off the spot while reserved
)

type Trigger struct {
	life        *lifecycle.Service
	latch       *latch.Latch
	signals     signals.Publisher
	logger      *slog.Logger
	radius      float64
	driftRadius float64

	mu     sync.Mutex
	inside map[string]bool // alert id -> buyer currently inside; present once entered
}

type Option func(*Trigger)

func WithRadius(m float64) Option            { return func(t *Trigger) { t.radius = m } }
func WithDriftRadius(m float64) Option       { return func(t *Trigger) { t.driftRadius = m } }
func WithLatch(l *latch.Latch) Option        { return func(t *Trigger) { t.latch = l } }
func WithLogger(l *slog.Logger) Option       { return func(t *Trigger) { t.logger = l } }
func WithSignals(p signals.Publisher) Option { return func(t *Trigger) { t.signals = p } }

func NewTrigger(life *lifecycle.Service, opts ...Option) *Trigger {
	t := &Trigger{
		life:        life,
		latch:       latch.New(),
		signals:     &signals.Recorder{},
		logger:      slog.Default(),
		radius:      DefaultRadius,
		driftRadius: DefaultRadius,
		inside:      make(map[string]bool),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Evaluate checks one buyer/seller observation for alert a. The settlement
// latch is taken before the lifecycle call so concurrent evaluations fire at
// most once. A store failure releases the latch for the next observation.
func (t *Trigger) Evaluate(ctx context.Context, a *models.Alert, buyer, seller models.Coord) (Decision, error) {
	dist := geo.Distance(buyer, seller)
	within := dist <= t.radius

	t.mu.Lock()
	wasInside, entered := t.inside[a.ID]
	if within || entered {
		t.inside[a.ID] = within
	}
	t.mu.Unlock()

	if !within {
		if entered && wasInside {
			observability.LeavingWarnings.Inc()
			t.signals.Publish(signals.LeavingPickup{AlertID: a.ID, BuyerID: a.ReservedByID, DistanceMeters: dist})
			return Leaving, nil
		}
		if a.Status != models.StatusReserved {
			return Idle, nil
		}
		return Outside, nil
	}

	key := latch.Key("geofence", a.ID)
	if a.Status != models.StatusReserved || !t.latch.TryAcquire(key) {
		if t.latch.Held(key) {
			return Settled, nil
		}
		return Idle, nil
	}
	completed, err := t.life.Complete(ctx, a.ID, lifecycle.ReasonArrived, "")
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			t.latch.Release(key)
		}
		t.logger.Warn("geofence settlement failed", "alert_id", a.ID, "error", err)
		return Outside, err
	}
	if !completed {
		// a was a stale snapshot: the alert already finished another way
		t.latch.Release(key)
		t.Forget(a.ID)
		t.logger.Info("geofence reached a finished alert", "alert_id", a.ID)
		return Idle, nil
	}
	observability.GeofenceTriggers.Inc()
	t.logger.Info("geofence reached", "alert_id", a.ID, "buyer_id", a.ReservedByID, "distance_m", dist)
	return Arrived, nil
}

// CheckSellerDrift cancels a reserved alert with the seller penalty when the
// seller is observed farther than the drift radius from the spot before the
// buyer has arrived.
func (t *Trigger) CheckSellerDrift(ctx context.Context, a *models.Alert, seller models.Coord) (bool, error) {
	if a.Status != models.StatusReserved || t.Entered(a.ID) {
		return false, nil
	}
	if geo.Distance(seller, a.Loc) <= t.driftRadius {
		return false, nil
	}
	key := latch.Key("drift", a.ID)
	if !t.latch.TryAcquire(key) {
		return false, nil
	}
	if err := t.life.CancelForSellerMove(ctx, a.ID); err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			t.latch.Release(key)
		}
		return false, err
	}
	t.logger.Info("seller moved off reserved spot", "alert_id", a.ID, "owner_id", a.OwnerID)
	return true, nil
}

// Entered reports whether the buyer has been inside the radius of alertID.
func (t *Trigger) Entered(alertID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inside[alertID]
	return ok
}

// Forget drops the entry state kept for alertID.
func (t *Trigger) Forget(alertID string) {
	t.mu.Lock()
	delete(t.inside, alertID)
	t.mu.Unlock()
}
