// Package signals is the process-wide mediator between the engine and the
// screens. The message set is closed: only types in this file implement Signal.
package signals

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindAlertPublished      Kind = "alert_published"
	KindBadgeRefresh        Kind = "badge_refresh"
	KindToast               Kind = "toast"
	KindPaymentReleased     Kind = "payment_released"
	KindExpiryPrompt        Kind = "expiry_prompt"
	KindLeavingPickup       Kind = "leaving_pickup"
	KindSettlementConfirmed Kind = "settlement_confirmed"
)

// Signal is implemented only by the message types below.
type Signal interface {
	Kind() Kind
	// Audience lists the user ids that should receive the signal. Empty means everyone.
	Audience() []string
	sealed()
}

type AlertPublished struct {
	AlertID string `json:"alert_id"`
	OwnerID string `json:"owner_id"`
}

// BadgeRefresh tells list and badge components to re-read cached alert data.
type BadgeRefresh struct {
	UserIDs []string `json:"user_ids,omitempty"`
	AlertID string   `json:"alert_id,omitempty"`
}

type Toast struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Text   string `json:"text"`
}

type PaymentReleased struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// ExpiryPrompt is the one-time "your alert expired" prompt for the owner.
type ExpiryPrompt struct {
	AlertID string `json:"alert_id"`
	OwnerID string `json:"owner_id"`
}

// LeavingPickup is advisory and may repeat.
type LeavingPickup struct {
	AlertID        string  `json:"alert_id"`
	BuyerID        string  `json:"buyer_id"`
	DistanceMeters float64 `json:"distance_meters"`
}

type SettlementConfirmed struct {
	AlertID       string        `json:"alert_id"`
	BuyerID       string        `json:"buyer_id"`
	SellerID      string        `json:"seller_id"`
	NavigateAfter time.Duration `json:"navigate_after"`
}

func (AlertPublished) Kind() Kind      { return KindAlertPublished }
func (BadgeRefresh) Kind() Kind        { return KindBadgeRefresh }
func (Toast) Kind() Kind               { return KindToast }
func (PaymentReleased) Kind() Kind     { return KindPaymentReleased }
func (ExpiryPrompt) Kind() Kind        { return KindExpiryPrompt }
func (LeavingPickup) Kind() Kind       { return KindLeavingPickup }
func (SettlementConfirmed) Kind() Kind { return KindSettlementConfirmed }

func (s AlertPublished) Audience() []string      { return []string{s.OwnerID} }
func (s BadgeRefresh) Audience() []string        { return s.UserIDs }
func (s Toast) Audience() []string               { return []string{s.UserID} }
func (s PaymentReleased) Audience() []string     { return []string{s.UserID} }
func (s ExpiryPrompt) Audience() []string        { return []string{s.OwnerID} }
func (s LeavingPickup) Audience() []string       { return []string{s.BuyerID} }
func (s SettlementConfirmed) Audience() []string { return []string{s.BuyerID, s.SellerID} }

func (AlertPublished) sealed()      {}
func (BadgeRefresh) sealed()        {}
func (Toast) sealed()               {}
func (PaymentReleased) sealed()     {}
func (ExpiryPrompt) sealed()        {}
func (LeavingPickup) sealed()       {}
func (SettlementConfirmed) sealed() {}

// Envelope is the wire form sent to screens and mirrored to Kafka.
type Envelope struct {
	Type       Kind            `json:"type"`
	Audience   []string        `json:"audience,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func Wrap(s Signal, at time.Time) (Envelope, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: s.Kind(), Audience: s.Audience(), OccurredAt: at.UTC(), Payload: payload}, nil
}
