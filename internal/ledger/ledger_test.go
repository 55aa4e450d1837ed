package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/example/parkswap/internal/clock"
	"github.com/example/parkswap/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func TestFinalizeStandardSplit(t *testing.T) {
	l := New()
	res := l.Finalize(models.SettlementRecord{Outcome: models.OutcomeOK, Amount: dec("10"), SellerID: "S", BuyerID: "B"})

	assertDec(t, "6.70", res.SellerCredit)
	assertDec(t, "3.30", res.PlatformFee)
	assertDec(t, "6.70", l.Balance("S"))
	assertDec(t, "0", l.Balance("B"))
	assert.False(t, l.IsBanned("S"))
	assert.False(t, l.ExtraCommissionNext("S"))
}

func TestFinalizeRoundsToCents(t *testing.T) {
	l := New()
	res := l.Finalize(models.SettlementRecord{Outcome: models.OutcomeOK, Amount: dec("3"), SellerID: "S"})
	assertDec(t, "2.01", res.SellerCredit)
	assertDec(t, "0.99", res.PlatformFee)
}

func TestFinalizeSellerPenalty(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	l := New(WithClock(clk))

	res := l.Finalize(models.SettlementRecord{
		Outcome: models.OutcomeCancelledBySeller, Amount: dec("10"),
		SellerID: "S", BuyerID: "B", SellerCancelledOrMoved: true,
	})

	assert.True(t, res.PenaltyApplied)
	assertDec(t, "6.70", l.Balance("B"))
	assertDec(t, "0", l.Balance("S"))
	assert.True(t, l.IsBanned("S"))
	assert.True(t, l.ExtraCommissionNext("S"))

	clk.Advance(23 * time.Hour)
	assert.True(t, l.IsBanned("S"))
	clk.Advance(time.Hour)
	assert.False(t, l.IsBanned("S"))
}

func TestSellerMovedCountsAsPenaltyWhateverOutcome(t *testing.T) {
	l := New()
	l.Finalize(models.SettlementRecord{Outcome: models.OutcomeOK, Amount: dec("10"), SellerID: "S", BuyerID: "B", SellerCancelledOrMoved: true})
	assertDec(t, "0", l.Balance("S"))
	assertDec(t, "6.70", l.Balance("B"))
	assert.True(t, l.ExtraCommissionNext("S"))
}

func TestPenaltyConsumedOnNextSettlement(t *testing.T) {
	l := New()
	l.Finalize(models.SettlementRecord{Outcome: models.OutcomeCancelledBySeller, Amount: dec("10"), SellerID: "S", BuyerID: "B"})

	res := l.Finalize(models.SettlementRecord{Outcome: models.OutcomeOK, Amount: dec("10"), SellerID: "S", BuyerID: "B2"})
	assert.True(t, res.CommissionConsumed)
	assertDec(t, "3.40", res.SellerCredit)
	assertDec(t, "6.60", res.PlatformFee)
	assert.False(t, l.ExtraCommissionNext("S"))

	res = l.Finalize(models.SettlementRecord{Outcome: models.OutcomeOK, Amount: dec("10"), SellerID: "S", BuyerID: "B3"})
	assertDec(t, "6.70", res.SellerCredit)
	assertDec(t, "10.10", l.Balance("S"))
}

func TestPenaltyNeverStacks(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		l.Finalize(models.SettlementRecord{Outcome: models.OutcomeCancelledBySeller, Amount: dec("10"), SellerID: "S", BuyerID: "B"})
	}
	l.Finalize(models.SettlementRecord{Outcome: models.OutcomeOK, Amount: dec("10"), SellerID: "S", BuyerID: "B"})
	assert.False(t, l.ExtraCommissionNext("S"))
	assertDec(t, "3.40", l.Balance("S"))
}

func TestNoShowAndBuyerCancelPaySeller(t *testing.T) {
	l := New()
	l.Finalize(models.SettlementRecord{Outcome: models.OutcomeNoShow, Amount: dec("4"), SellerID: "S", BuyerID: "B"})
	l.Finalize(models.SettlementRecord{Outcome: models.OutcomeCancelledByBuyer, Amount: dec("4"), SellerID: "S", BuyerID: "B"})
	assertDec(t, "5.36", l.Balance("S"))
	assertDec(t, "0", l.Balance("B"))
}

func TestReset(t *testing.T) {
	l := New()
	l.Finalize(models.SettlementRecord{Outcome: models.OutcomeOK, Amount: dec("10"), SellerID: "S"})
	l.Finalize(models.SettlementRecord{Outcome: models.OutcomeOK, Amount: dec("10"), SellerID: "T"})
	l.Reset("S")
	assertDec(t, "0", l.Balance("S"))
	assertDec(t, "6.70", l.Balance("T"))
	l.Reset("")
	assertDec(t, "0", l.Balance("T"))
}
