// Package lifecycle owns the alert state machine. Every transition is applied
// under a per-alert lock against a fresh read from the store, so concurrent
// callers converge on one effective transition and the losers no-op.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/parkswap/internal/clock"
	"github.com/example/parkswap/internal/latch"
	"github.com/example/parkswap/internal/ledger"
	"github.com/example/parkswap/internal/localstate"
	"github.com/example/parkswap/internal/models"
	"github.com/example/parkswap/internal/observability"
	"github.com/example/parkswap/internal/signals"
	"github.com/example/parkswap/internal/storage"
)

var graph = map[models.AlertStatus][]models.AlertStatus{
	models.StatusActive:   {models.StatusReserved, models.StatusCancelled, models.StatusExpired},
	models.StatusReserved: {models.StatusCompleted, models.StatusCancelled, models.StatusExpired},
}

// CanTransition reports whether from -> to is an edge of the alert graph.
func CanTransition(from, to models.AlertStatus) bool {
	for _, s := range graph[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reason explains why a reserved alert is being completed.
type Reason string

const (
	ReasonArrived        Reason = "arrived"         // geofence proximity reached
	ReasonOwnerConfirmed Reason = "owner_confirmed" // owner tapped "I have left"
)

type Deps struct {
	Store   storage.Store
	Stamps  localstate.Stamps
	Ledger  *ledger.Ledger
	Signals signals.Publisher
	Clock   clock.Clock
	Logger  *slog.Logger
	// NavigateAfter is forwarded to screens with the settlement confirmation.
	NavigateAfter time.Duration
}

type Service struct {
	store         storage.Store
	stamps        localstate.Stamps
	ledger        *ledger.Ledger
	signals       signals.Publisher
	clock         clock.Clock
	logger        *slog.Logger
	navigateAfter time.Duration

	settled *latch.Latch
	locks   latch.Locks // per alert id
}

func NewService(d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("lifecycle: nil store")
	}
	if d.Ledger == nil {
		return nil, errors.New("lifecycle: nil ledger")
	}
	if d.Stamps == nil {
		d.Stamps = localstate.NewMemoryStamps()
	}
	if d.Signals == nil {
		d.Signals = &signals.Recorder{}
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		store:         d.Store,
		stamps:        d.Stamps,
		ledger:        d.Ledger,
		signals:       d.Signals,
		clock:         d.Clock,
		logger:        d.Logger,
		navigateAfter: d.NavigateAfter,
		settled:       latch.New(),
	}, nil
}

func (s *Service) Clock() clock.Clock        { return s.clock }
func (s *Service) Stamps() localstate.Stamps { return s.stamps }
func (s *Service) Ledger() *ledger.Ledger    { return s.ledger }

type PublishInput struct {
	OwnerID            string          `json:"owner_id"`
	OwnerEmail         string          `json:"owner_email"`
	Price              decimal.Decimal `json:"price"`
	AvailableInMinutes int             `json:"available_in_minutes"`
	Address            string          `json:"address"`
	Loc                models.Coord    `json:"loc"`
}

// Publish creates an active alert stamped with the current time.
func (s *Service) Publish(ctx context.Context, in PublishInput) (*models.Alert, error) {
	if strings.TrimSpace(in.OwnerID) == "" && strings.TrimSpace(in.OwnerEmail) == "" {
		return nil, fmt.Errorf("%w: owner is required", models.ErrInvalidInput)
	}
	if in.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must be >= 0", models.ErrInvalidInput)
	}
	if in.AvailableInMinutes <= 0 {
		return nil, fmt.Errorf("%w: available_in_minutes must be > 0", models.ErrInvalidInput)
	}
	ownerKey := in.OwnerID
	if ownerKey == "" {
		ownerKey = in.OwnerEmail
	}
	if s.ledger.IsBanned(ownerKey) {
		return nil, fmt.Errorf("%w: owner is banned from booking", models.ErrInvalidTransition)
	}

	now := s.clock.Now().UTC()
	a := &models.Alert{
		ID:                 uuid.NewString(),
		OwnerID:            ownerKey,
		OwnerEmail:         in.OwnerEmail,
		Status:             models.StatusActive,
		Price:              in.Price.Round(2),
		AvailableInMinutes: in.AvailableInMinutes,
		CreatedAt:          now.Format(time.RFC3339Nano),
		UpdatedAt:          now,
		Address:            in.Address,
		Loc:                in.Loc,
	}
	if err := s.store.CreateAlert(ctx, a); err != nil {
		return nil, s.storeErr("create_alert", err)
	}
	observability.AlertsPublished.Inc()
	s.logger.Info("alert published", "alert_id", a.ID, "owner_id", a.OwnerID, "minutes", a.AvailableInMinutes)
	s.signals.Publish(signals.AlertPublished{AlertID: a.ID, OwnerID: a.OwnerID})
	s.signals.Publish(signals.BadgeRefresh{UserIDs: []string{a.OwnerID}, AlertID: a.ID})
	return a, nil
}

// WaitUntil is created_at + available_in_minutes. A missing or malformed
// created_at is replaced by the first observed local time.
func (s *Service) WaitUntil(ctx context.Context, a *models.Alert) time.Time {
	created, err := localstate.ResolveCreatedAt(ctx, s.stamps, a, s.clock.Now())
	if err != nil && !errors.Is(err, models.ErrMissingTimestamp) {
		s.logger.Warn("created_at stamp failed", "alert_id", a.ID, "error", err)
	}
	return created.Add(time.Duration(a.AvailableInMinutes) * time.Minute)
}

// Remaining is the wait time left for a, floored at zero.
func (s *Service) Remaining(ctx context.Context, a *models.Alert) time.Duration {
	rem := s.WaitUntil(ctx, a).Sub(s.clock.Now())
	if rem < 0 {
		return 0
	}
	return rem
}

// MatchReservation moves an active alert to reserved with the buyer's fields.
func (s *Service) MatchReservation(ctx context.Context, alertID string, buyer models.Buyer) (*models.Alert, error) {
	if buyer.ID == "" {
		return nil, fmt.Errorf("%w: buyer id is required", models.ErrInvalidInput)
	}
	unlock := s.lock(alertID)
	defer unlock()

	a, err := s.load(ctx, alertID)
	if err != nil {
		return nil, err
	}
	switch {
	case a.Status == models.StatusReserved:
		return nil, models.ErrAlertNotAvailable
	case a.Status != models.StatusActive:
		return nil, fmt.Errorf("%w: alert is %s", models.ErrInvalidTransition, a.Status)
	case a.OwnedBy(buyer.ID) || a.OwnedBy(buyer.Email):
		return nil, fmt.Errorf("%w: owner cannot reserve their own alert", models.ErrInvalidInput)
	case s.Remaining(ctx, a) <= 0:
		return nil, models.ErrAlertNotAvailable
	}

	a.ApplyReservation(buyer)
	if err := s.apply(ctx, a, models.StatusReserved); err != nil {
		return nil, err
	}
	return a, nil
}

// Cancel ends a live alert on behalf of actorID. Cancelling a reserved alert is
// an economic event: the owner cancelling is penalised, the buyer cancelling
// forfeits to the owner. Cancelling a terminal alert is a no-op.
func (s *Service) Cancel(ctx context.Context, alertID, actorID string) error {
	unlock := s.lock(alertID)
	defer unlock()

	a, err := s.load(ctx, alertID)
	if err != nil {
		return err
	}
	if a.Status.Terminal() {
		return nil
	}
	prev := a.Status
	var outcome models.Outcome
	switch {
	case a.OwnedBy(actorID):
		outcome = models.OutcomeCancelledBySeller
	case prev == models.StatusReserved && actorID != "" && actorID == a.ReservedByID:
		outcome = models.OutcomeCancelledByBuyer
	default:
		return models.ErrNotParticipant
	}

	if err := s.apply(ctx, a, models.StatusCancelled); err != nil {
		return err
	}
	s.finalizedAt(ctx, a.ID)
	if prev == models.StatusReserved {
		s.settle(ctx, a, outcome, outcome == models.OutcomeCancelledBySeller)
		if outcome == models.OutcomeCancelledBySeller {
			s.signals.Publish(signals.Toast{UserID: a.ReservedByID, Title: "Reservation cancelled", Text: "The owner cancelled this spot. You have been refunded."})
		} else {
			s.signals.Publish(signals.Toast{UserID: a.OwnerID, Title: "Reservation cancelled", Text: "The buyer cancelled their reservation."})
		}
	}
	s.refresh(a)
	return nil
}

// CancelForSellerMove applies the seller-moved penalty to a reserved alert.
// Any other state is left alone.
func (s *Service) CancelForSellerMove(ctx context.Context, alertID string) error {
	unlock := s.lock(alertID)
	defer unlock()

	a, err := s.load(ctx, alertID)
	if err != nil {
		return err
	}
	if a.Status != models.StatusReserved {
		return nil
	}
	if err := s.apply(ctx, a, models.StatusCancelled); err != nil {
		return err
	}
	s.finalizedAt(ctx, a.ID)
	s.settle(ctx, a, models.OutcomeCancelledBySeller, true)
	s.signals.Publish(signals.Toast{UserID: a.ReservedByID, Title: "Reservation cancelled", Text: "The owner left the spot. You have been refunded."})
	s.signals.Publish(signals.Toast{UserID: a.OwnerID, Title: "Penalty applied", Text: "You moved away from a reserved spot."})
	s.refresh(a)
	return nil
}

// Expire moves a live alert whose wait window has lapsed to expired. It
// returns true only for the call that performed the transition. A reserved
// alert that expires is settled as a no-show.
func (s *Service) Expire(ctx context.Context, alertID string) (bool, error) {
	unlock := s.lock(alertID)
	defer unlock()

	a, err := s.load(ctx, alertID)
	if err != nil {
		return false, err
	}
	if a.Status.Terminal() {
		return false, nil
	}
	if s.Remaining(ctx, a) > 0 {
		return false, fmt.Errorf("%w: wait window still open", models.ErrInvalidTransition)
	}
	prev := a.Status
	if err := s.apply(ctx, a, models.StatusExpired); err != nil {
		return false, err
	}
	s.finalizedAt(ctx, a.ID)
	s.Notify(ctx, a.OwnerID, "alert_expired", a.ID, "", "Alert expired", "Your parking alert has expired.")
	if prev == models.StatusReserved {
		s.settle(ctx, a, models.OutcomeNoShow, false)
		s.signals.Publish(signals.Toast{UserID: a.ReservedByID, Title: "Reservation expired", Text: "You did not reach the spot in time."})
	}
	s.refresh(a)
	return true, nil
}

// Complete finishes a reserved alert and settles it with outcome ok. It
// returns true only for the call that performed the transition, so a caller
// holding a stale snapshot can tell a no-op from its own completion. The
// geofence trigger completes with ReasonArrived; an owner confirmation must
// come from the owner.
func (s *Service) Complete(ctx context.Context, alertID string, reason Reason, actorID string) (bool, error) {
	unlock := s.lock(alertID)
	defer unlock()

	a, err := s.load(ctx, alertID)
	if err != nil {
		return false, err
	}
	if a.Status.Terminal() {
		return false, nil
	}
	if a.Status != models.StatusReserved {
		return false, fmt.Errorf("%w: alert is %s", models.ErrInvalidTransition, a.Status)
	}
	switch reason {
	case ReasonArrived:
	case ReasonOwnerConfirmed:
		if !a.OwnedBy(actorID) {
			return false, models.ErrNotParticipant
		}
	default:
		return false, fmt.Errorf("%w: unknown completion reason %q", models.ErrInvalidInput, reason)
	}

	if err := s.apply(ctx, a, models.StatusCompleted); err != nil {
		return false, err
	}
	s.finalizedAt(ctx, a.ID)
	s.settle(ctx, a, models.OutcomeOK, false)
	s.signals.Publish(signals.SettlementConfirmed{AlertID: a.ID, BuyerID: a.ReservedByID, SellerID: a.OwnerID, NavigateAfter: s.navigateAfter})
	s.refresh(a)
	return true, nil
}

// Notify writes a notification record. Failures are logged and swallowed.
func (s *Service) Notify(ctx context.Context, userID, typ, alertID, requestID, title, text string) {
	if userID == "" {
		return
	}
	n := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		AlertID:   alertID,
		RequestID: requestID,
		Title:     title,
		Text:      text,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		_ = s.storeErr("create_notification", err)
		s.logger.Warn("notification write failed", "user_id", userID, "type", typ, "error", err)
	}
}

func (s *Service) settle(ctx context.Context, a *models.Alert, outcome models.Outcome, sellerMoved bool) {
	if !s.settled.TryAcquire(latch.Key("settle", a.ID)) {
		return
	}
	rec := models.SettlementRecord{
		ID:                     uuid.NewString(),
		AlertID:                a.ID,
		Outcome:                outcome,
		Amount:                 a.Price,
		SellerID:               a.OwnerID,
		BuyerID:                a.ReservedByID,
		SellerCancelledOrMoved: sellerMoved,
		CreatedAt:              s.clock.Now().UTC(),
	}
	res := s.ledger.Finalize(rec)
	rec.SellerCredit, rec.BuyerCredit, rec.PlatformFee = res.SellerCredit, res.BuyerCredit, res.PlatformFee
	observability.Settlements.WithLabelValues(string(outcome)).Inc()

	// The ledger effect is re-derivable from the alert status, so a failed
	// record write is logged and tolerated.
	if err := s.store.CreateTransaction(ctx, &rec); err != nil {
		_ = s.storeErr("create_transaction", err)
		s.logger.Warn("settlement record write failed", "alert_id", a.ID, "error", err)
	}
	s.logger.Info("alert settled", "alert_id", a.ID, "outcome", outcome,
		"seller_credit", res.SellerCredit.String(), "buyer_credit", res.BuyerCredit.String(), "penalty", res.PenaltyApplied)

	if res.SellerCredit.IsPositive() {
		s.signals.Publish(signals.PaymentReleased{UserID: a.OwnerID, Amount: res.SellerCredit})
		s.Notify(ctx, a.OwnerID, "settled", a.ID, "", "Payment released", "+"+res.SellerCredit.StringFixed(2)+"€")
	}
	if res.BuyerCredit.IsPositive() {
		s.signals.Publish(signals.PaymentReleased{UserID: a.ReservedByID, Amount: res.BuyerCredit})
		s.Notify(ctx, a.ReservedByID, "settled", a.ID, "", "Refund", "+"+res.BuyerCredit.StringFixed(2)+"€")
	}
}

func (s *Service) apply(ctx context.Context, a *models.Alert, to models.AlertStatus) error {
	from := a.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	a.Status = to
	a.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.UpdateAlert(ctx, a); err != nil {
		a.Status = from
		return s.storeErr("update_alert", err)
	}
	observability.Transitions.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("alert transition", "alert_id", a.ID, "from", from, "to", to)
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Alert, error) {
	a, err := s.store.GetAlert(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, s.storeErr("get_alert", err)
	}
	return a, nil
}

func (s *Service) finalizedAt(ctx context.Context, id string) {
	if _, err := s.stamps.StampOnce(ctx, localstate.FinalizedKey(id), s.clock.Now()); err != nil {
		s.logger.Warn("finalized-at stamp failed", "id", id, "error", err)
	}
}

func (s *Service) refresh(a *models.Alert) {
	users := []string{a.OwnerID}
	if a.ReservedByID != "" {
		users = append(users, a.ReservedByID)
	}
	s.signals.Publish(signals.BadgeRefresh{UserIDs: users, AlertID: a.ID})
}

func (s *Service) storeErr(op string, err error) error {
	observability.StoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
}

func (s *Service) lock(id string) func() {
	return s.locks.Lock(id)
}
