package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Position is the last reported location of a user.
type Position struct {
	UserID  string    `json:"user_id"`
	Loc     Coord     `json:"loc"`
	Updated time.Time `json:"updated"`
}

type AlertStatus string

const (
	StatusActive    AlertStatus = "active"
	StatusReserved  AlertStatus = "reserved"
	StatusCompleted AlertStatus = "completed"
	StatusCancelled AlertStatus = "cancelled"
	StatusExpired   AlertStatus = "expired"
)

// Terminal reports whether no further transition may leave s.
func (s AlertStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Live reports whether s is one of the two live phases.
func (s AlertStatus) Live() bool { return s == StatusActive || s == StatusReserved }

// Alert is a published, time-bound offer to vacate a parking spot.
//
// CreatedAt is kept as the raw value received from the store because it may be
// absent or malformed; use lifecycle/localstate helpers to resolve it.
type Alert struct {
	ID                 string          `json:"id"`
	OwnerID            string          `json:"owner_id"`
	OwnerEmail         string          `json:"owner_email,omitempty"`
	Status             AlertStatus     `json:"status"`
	Price              decimal.Decimal `json:"price"`
	AvailableInMinutes int             `json:"available_in_minutes"`
	CreatedAt          string          `json:"created_at,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Address            string          `json:"address"`
	Loc                Coord           `json:"loc"`

	ReservedByID       string `json:"reserved_by_id,omitempty"`
	ReservedByName     string `json:"reserved_by_name,omitempty"`
	ReservedByPhoto    string `json:"reserved_by_photo,omitempty"`
	ReservedByCarBrand string `json:"reserved_by_car_brand,omitempty"`
	ReservedByCarModel string `json:"reserved_by_car_model,omitempty"`
	ReservedByCarColor string `json:"reserved_by_car_color,omitempty"`
	ReservedByCarPlate string `json:"reserved_by_car_plate,omitempty"`
}

// OwnedBy accepts either the owner's user id or email.
func (a *Alert) OwnedBy(key string) bool {
	if key == "" {
		return false
	}
	return a.OwnerID == key || (a.OwnerEmail != "" && a.OwnerEmail == key)
}

// ApplyReservation copies buyer fields onto the alert.
func (a *Alert) ApplyReservation(b Buyer) {
	a.ReservedByID = b.ID
	a.ReservedByName = b.Name
	a.ReservedByPhoto = b.Photo
	a.ReservedByCarBrand = b.CarBrand
	a.ReservedByCarModel = b.CarModel
	a.ReservedByCarColor = b.CarColor
	a.ReservedByCarPlate = b.CarPlate
}

// Buyer describes the prospective buyer and their vehicle.
type Buyer struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name"`
	Photo    string `json:"photo,omitempty"`
	CarBrand string `json:"car_brand,omitempty"`
	CarModel string `json:"car_model,omitempty"`
	CarColor string `json:"car_color,omitempty"`
	CarPlate string `json:"car_plate,omitempty"`
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
	RequestThinking RequestStatus = "thinking"
)

// Open reports whether the owner may still respond to a request in this state.
func (s RequestStatus) Open() bool { return s == RequestPending || s == RequestThinking }

type ReservationRequest struct {
	ID          string        `json:"id"`
	AlertID     string        `json:"alert_id"`
	SellerID    string        `json:"seller_id"`
	Buyer       Buyer         `json:"buyer"`
	Status      RequestStatus `json:"status"`
	ETASeconds  float64       `json:"eta_seconds,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	RespondedAt *time.Time    `json:"responded_at,omitempty"`
}

type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeNoShow            Outcome = "no_show"
	OutcomeCancelledByBuyer  Outcome = "cancelled_by_buyer"
	OutcomeCancelledBySeller Outcome = "cancelled_by_seller"
)

// SettlementRecord is the monetary outcome of a live alert. It is stored in the
// Transaction collection.
type SettlementRecord struct {
	ID                     string          `json:"id"`
	AlertID                string          `json:"alert_id"`
	Outcome                Outcome         `json:"outcome"`
	Amount                 decimal.Decimal `json:"amount"`
	SellerID               string          `json:"seller_id"`
	BuyerID                string          `json:"buyer_id"`
	SellerCancelledOrMoved bool            `json:"seller_cancelled_or_moved,omitempty"`
	SellerCredit           decimal.Decimal `json:"seller_credit"`
	BuyerCredit            decimal.Decimal `json:"buyer_credit"`
	PlatformFee            decimal.Decimal `json:"platform_fee"`
	CreatedAt              time.Time       `json:"created_at"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"` // request_received, request_accepted, request_rejected, alert_expired, settled
	AlertID   string    `json:"alert_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is the per-user accumulator kept by the settlement ledger.
type LedgerEntry struct {
	UserID              string          `json:"user_id"`
	Balance             decimal.Decimal `json:"balance"`
	BanUntil            *time.Time      `json:"ban_until,omitempty"`
	ExtraCommissionNext bool            `json:"extra_commission_next"`
}
