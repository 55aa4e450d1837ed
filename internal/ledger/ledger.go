// Package ledger applies the economic outcome of a finished alert to per-user
// accumulators. Balances here drive UI feedback only; they are not an
// authoritative record of money movement.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/parkswap/internal/clock"
	"github.com/example/parkswap/internal/models"
)

// Split holds the economic parameters.
type Split struct {
	SellerShare        decimal.Decimal // standard seller share, 0.67
	PenaltySellerShare decimal.Decimal // seller share while the extra-commission flag is set, 0.34
	RefundShare        decimal.Decimal // buyer refund on seller cancellation, 0.67
	BanDuration        time.Duration
}

func DefaultSplit() Split {
	return Split{
		SellerShare:        decimal.RequireFromString("0.67"),
		PenaltySellerShare: decimal.RequireFromString("0.34"),
		RefundShare:        decimal.RequireFromString("0.67"),
		BanDuration:        24 * time.Hour,
	}
}

// Result is what one Finalize call moved.
type Result struct {
	SellerCredit       decimal.Decimal
	BuyerCredit        decimal.Decimal
	PlatformFee        decimal.Decimal
	PenaltyApplied     bool
	CommissionConsumed bool
}

// Ledger is constructed once at process start and shared by handle.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*models.LedgerEntry
	split   Split
	clock   clock.Clock
}

type Option func(*Ledger)

func WithSplit(s Split) Option       { return func(l *Ledger) { l.split = s } }
func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }

func New(opts ...Option) *Ledger {
	l := &Ledger{
		entries: make(map[string]*models.LedgerEntry),
		split:   DefaultSplit(),
		clock:   clock.System{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Finalize applies rec. Callers own the exactly-once guard.
//
//   - ok, no_show, cancelled_by_buyer: the seller is paid. The standard share
//     applies unless the seller carries the extra-commission flag, in which case
//     the penalty share applies and the flag is consumed.
//   - cancelled_by_seller or SellerCancelledOrMoved: the seller gets nothing, the
//     buyer is refunded the refund share, the seller is banned and flagged.
func (l *Ledger) Finalize(rec models.SettlementRecord) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount := rec.Amount
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	var res Result

	if rec.Outcome == models.OutcomeCancelledBySeller || rec.SellerCancelledOrMoved {
		refund := amount.Mul(l.split.RefundShare).Round(2)
		res.BuyerCredit = refund
		res.PlatformFee = amount.Sub(refund)
		res.PenaltyApplied = true
		if rec.BuyerID != "" {
			l.entry(rec.BuyerID).Balance = l.entry(rec.BuyerID).Balance.Add(refund)
		}
		seller := l.entry(rec.SellerID)
		until := l.clock.Now().Add(l.split.BanDuration)
		seller.BanUntil = &until
		seller.ExtraCommissionNext = true
		return res
	}

	seller := l.entry(rec.SellerID)
	share := l.split.SellerShare
	if seller.ExtraCommissionNext {
		share = l.split.PenaltySellerShare
		seller.ExtraCommissionNext = false
		res.CommissionConsumed = true
	}
	res.SellerCredit = amount.Mul(share).Round(2)
	res.PlatformFee = amount.Sub(res.SellerCredit)
	seller.Balance = seller.Balance.Add(res.SellerCredit)
	return res
}

func (l *Ledger) entry(userID string) *models.LedgerEntry {
	e, ok := l.entries[userID]
	if !ok {
		e = &models.LedgerEntry{UserID: userID, Balance: decimal.Zero}
		l.entries[userID] = e
	}
	return e
}

// Entry returns a copy of the user's entry, creating it lazily.
func (l *Ledger) Entry(userID string) models.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := *l.entry(userID)
	if e.BanUntil != nil {
		until := *e.BanUntil
		e.BanUntil = &until
	}
	return e
}

func (l *Ledger) Balance(userID string) decimal.Decimal {
	return l.Entry(userID).Balance
}

// IsBanned reports whether the user's booking ban is still running.
func (l *Ledger) IsBanned(userID string) bool {
	e := l.Entry(userID)
	return e.BanUntil != nil && l.clock.Now().Before(*e.BanUntil)
}

func (l *Ledger) ExtraCommissionNext(userID string) bool {
	return l.Entry(userID).ExtraCommissionNext
}

// Reset drops one user's entry, or all entries when userID is empty.
func (l *Ledger) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if userID == "" {
		l.entries = make(map[string]*models.LedgerEntry)
		return
	}
	delete(l.entries, userID)
}
