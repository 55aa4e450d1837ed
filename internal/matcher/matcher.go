// Package matcher turns buyer interest into a reservation: a buyer files a
// request against an active alert, the owner accepts, rejects or asks for
// time, and an accepted request reserves the alert through the lifecycle
// service.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/parkswap/internal/eta"
	"github.com/example/parkswap/internal/geo"
	"github.com/example/parkswap/internal/latch"
	"github.com/example/parkswap/internal/lifecycle"
	"github.com/example/parkswap/internal/models"
	"github.com/example/parkswap/internal/observability"
	"github.com/example/parkswap/internal/signals"
	"github.com/example/parkswap/internal/storage"
)

type Service struct {
	Lifecycle *lifecycle.Service
	Store     storage.Store
	Signals   signals.Publisher
	Logger    *slog.Logger
	Geo       geo.Tracker    // optional, buyer positions for the ETA
	ETA       *eta.Estimator // optional

	locks latch.Locks // per alert id
}

// Request files buyer's interest in alertID. Only one open request may exist
// per alert: the first one wins and later ones get ErrAlertNotAvailable. A
// repeated request from the same buyer returns the open one.
func (s *Service) Request(ctx context.Context, alertID string, buyer models.Buyer) (*models.ReservationRequest, error) {
	if buyer.ID == "" {
		return nil, fmt.Errorf("%w: buyer id is required", models.ErrInvalidInput)
	}
	unlock := s.lock(alertID)
	defer unlock()

	a, err := s.Store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, s.wrap("get_alert", err)
	}
	switch {
	case a.Status == models.StatusReserved:
		return nil, models.ErrAlertNotAvailable
	case a.Status != models.StatusActive:
		return nil, fmt.Errorf("%w: alert is %s", models.ErrInvalidTransition, a.Status)
	case a.OwnedBy(buyer.ID) || a.OwnedBy(buyer.Email):
		return nil, fmt.Errorf("%w: owner cannot request their own alert", models.ErrInvalidInput)
	case s.Lifecycle.Remaining(ctx, a) <= 0:
		return nil, models.ErrAlertNotAvailable
	}

	existing, err := s.Store.FilterRequests(ctx, alertID)
	if err != nil {
		return nil, s.wrap("filter_requests", err)
	}
	for _, r := range existing {
		if !r.Status.Open() {
			continue
		}
		if r.Buyer.ID == buyer.ID {
			return r, nil
		}
		return nil, models.ErrAlertNotAvailable
	}

	r := &models.ReservationRequest{
		ID:        uuid.NewString(),
		AlertID:   a.ID,
		SellerID:  a.OwnerID,
		Buyer:     buyer,
		Status:    models.RequestPending,
		CreatedAt: s.now(),
	}
	if err := s.Store.CreateRequest(ctx, r); err != nil {
		return nil, s.wrap("create_request", err)
	}
	s.logger().Info("reservation requested", "alert_id", a.ID, "request_id", r.ID, "buyer_id", buyer.ID)

	who := buyer.Name
	if who == "" {
		who = "A driver"
	}
	s.Lifecycle.Notify(ctx, a.OwnerID, "request_received", a.ID, r.ID, "New reservation request", who+" wants your spot.")
	s.Signals.Publish(signals.Toast{UserID: a.OwnerID, Title: "New reservation request", Text: who + " wants your spot."})
	s.Signals.Publish(signals.BadgeRefresh{UserIDs: []string{a.OwnerID}, AlertID: a.ID})
	return r, nil
}

// Accept reserves the alert for the request's buyer. If the alert was taken or
// finished in the meantime the request is rejected and the lifecycle error is
// returned. Accepting again after a failed request write finishes the earlier
// accept instead of reserving twice.
func (s *Service) Accept(ctx context.Context, requestID, actorID string) (*models.ReservationRequest, error) {
	r, a, unlock, err := s.openLocked(ctx, requestID, actorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !reservedFor(a, r) {
		a, err = s.Lifecycle.MatchReservation(ctx, r.AlertID, r.Buyer)
		if errors.Is(err, models.ErrAlertNotAvailable) || errors.Is(err, models.ErrInvalidTransition) {
			if rerr := s.respond(ctx, r, models.RequestRejected); rerr != nil {
				return nil, rerr
			}
			s.Lifecycle.Notify(ctx, r.Buyer.ID, "request_rejected", r.AlertID, r.ID, "Spot no longer available", "Someone else got this spot first.")
			return nil, err
		}
		if err != nil {
			return nil, err
		}
	} else {
		s.logger().Info("finishing interrupted accept", "alert_id", a.ID, "request_id", r.ID)
	}

	if s.Geo != nil && s.ETA != nil {
		if p, ok, err := s.Geo.Position(ctx, r.Buyer.ID); err != nil {
			s.logger().Warn("buyer position lookup failed", "request_id", r.ID, "error", err)
		} else if ok {
			r.ETASeconds = s.ETA.Estimate(ctx, p.Loc, a.Loc).Seconds()
		}
	}
	// The alert stays reserved when this write fails; the request is still
	// open and a retried Accept completes it.
	if err := s.respond(ctx, r, models.RequestAccepted); err != nil {
		return nil, err
	}
	observability.RequestsResolved.WithLabelValues(string(models.RequestAccepted)).Inc()

	s.Lifecycle.Notify(ctx, r.Buyer.ID, "request_accepted", a.ID, r.ID, "Reservation accepted", "Head to "+a.Address+".")
	s.Signals.Publish(signals.Toast{UserID: r.Buyer.ID, Title: "Reservation accepted", Text: "Head to " + a.Address + "."})
	s.Signals.Publish(signals.BadgeRefresh{UserIDs: []string{a.OwnerID, r.Buyer.ID}, AlertID: a.ID})
	return r, nil
}

// Reject declines an open request. The alert stays active.
func (s *Service) Reject(ctx context.Context, requestID, actorID string) (*models.ReservationRequest, error) {
	r, a, unlock, err := s.openLocked(ctx, requestID, actorID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if reservedFor(a, r) {
		return nil, s.recordAccepted(ctx, r)
	}
	if err := s.respond(ctx, r, models.RequestRejected); err != nil {
		return nil, err
	}
	observability.RequestsResolved.WithLabelValues(string(models.RequestRejected)).Inc()
	s.Lifecycle.Notify(ctx, r.Buyer.ID, "request_rejected", r.AlertID, r.ID, "Reservation declined", "The owner declined your request.")
	s.Signals.Publish(signals.BadgeRefresh{UserIDs: []string{r.SellerID, r.Buyer.ID}, AlertID: r.AlertID})
	return r, nil
}

// Think marks a pending request as under consideration.
func (s *Service) Think(ctx context.Context, requestID, actorID string) (*models.ReservationRequest, error) {
	r, a, unlock, err := s.openLocked(ctx, requestID, actorID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if reservedFor(a, r) {
		return nil, s.recordAccepted(ctx, r)
	}
	if r.Status == models.RequestThinking {
		return r, nil
	}
	r.Status = models.RequestThinking
	if err := s.Store.UpdateRequest(ctx, r); err != nil {
		return nil, s.wrap("update_request", err)
	}
	s.Signals.Publish(signals.Toast{UserID: r.Buyer.ID, Title: "Owner is thinking", Text: "The owner needs a moment to decide."})
	return r, nil
}

// Requests lists the requests filed against alertID, oldest first.
func (s *Service) Requests(ctx context.Context, alertID string) ([]*models.ReservationRequest, error) {
	out, err := s.Store.FilterRequests(ctx, alertID)
	if err != nil {
		return nil, s.wrap("filter_requests", err)
	}
	return out, nil
}

// openLocked loads an open request and its alert under the alert's lock. The
// request is read again once the lock is held so a concurrent response is
// observed.
func (s *Service) openLocked(ctx context.Context, requestID, actorID string) (*models.ReservationRequest, *models.Alert, func(), error) {
	r, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, nil, s.wrap("get_request", err)
	}
	unlock := s.lock(r.AlertID)
	fail := func(err error) (*models.ReservationRequest, *models.Alert, func(), error) {
		unlock()
		return nil, nil, nil, err
	}
	if r, err = s.Store.GetRequest(ctx, requestID); err != nil {
		return fail(s.wrap("get_request", err))
	}
	if actorID != "" && actorID != r.SellerID {
		return fail(models.ErrNotParticipant)
	}
	if !r.Status.Open() {
		return fail(fmt.Errorf("%w: request is %s", models.ErrInvalidTransition, r.Status))
	}
	a, err := s.Store.GetAlert(ctx, r.AlertID)
	if err != nil {
		return fail(s.wrap("get_alert", err))
	}
	return r, a, unlock, nil
}

// reservedFor reports whether a is already reserved by r's buyer while r is
// still open, which only happens when an accept reserved the alert but failed
// to record the request.
func reservedFor(a *models.Alert, r *models.ReservationRequest) bool {
	return a.Status == models.StatusReserved && a.ReservedByID == r.Buyer.ID
}

// recordAccepted repairs a request left open by an interrupted accept and
// reports that it can no longer be answered.
func (s *Service) recordAccepted(ctx context.Context, r *models.ReservationRequest) error {
	if err := s.respond(ctx, r, models.RequestAccepted); err != nil {
		return err
	}
	return fmt.Errorf("%w: request was accepted", models.ErrInvalidTransition)
}

func (s *Service) respond(ctx context.Context, r *models.ReservationRequest, status models.RequestStatus) error {
	now := s.now()
	r.Status = status
	r.RespondedAt = &now
	if err := s.Store.UpdateRequest(ctx, r); err != nil {
		s.logger().Warn("request update failed", "request_id", r.ID, "status", status, "error", err)
		return s.wrap("update_request", err)
	}
	return nil
}

func (s *Service) wrap(op string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return err
	}
	observability.StoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
}

func (s *Service) now() time.Time { return s.Lifecycle.Clock().Now().UTC() }

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) lock(id string) func() {
	return s.locks.Lock(id)
}
