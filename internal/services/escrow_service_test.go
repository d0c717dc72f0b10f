package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

func TestReleaseDueOnlyReleasesEndedTrips(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ended := h.book(2)
	h.pay(ended)

	h.departure.EndDate = h.departure.EndDate.Add(30 * 24 * time.Hour)
	upcoming := h.book(1)
	h.pay(upcoming)

	asOf := ended.TripEndDate
	n, err := h.escrow.ReleaseDue(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// the sweep is idempotent
	n, err = h.escrow.ReleaseDue(ctx, asOf)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, models.EscrowReleased, h.entriesFor(ended.ID)[0].EscrowStatus)
	assert.Equal(t, models.EscrowHeld, h.entriesFor(upcoming.ID)[0].EscrowStatus)

	statement, err := h.escrow.VendorStatement(ctx, h.vendor.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7650), statement.Released)
	assert.Equal(t, upcoming.Pricing.VendorPayoutAmount, statement.Held)
}

func TestCreditBookingSkipsZeroPayout(t *testing.T) {
	h := newHarness(t)
	b := &models.Booking{Pricing: models.PricingSnapshot{VendorPayoutAmount: 0}}

	created, err := h.escrow.CreditBooking(context.Background(), b, testNow)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, h.db.entries)
}

func TestRetainedShare(t *testing.T) {
	snapshot := models.PricingSnapshot{TotalPrice: 9900, VendorPayoutAmount: 7650}

	tests := []struct {
		name     string
		p        models.PricingSnapshot
		refunded int64
		want     int64
	}{
		{name: "nothing refunded", p: snapshot, refunded: 0, want: 7650},
		{name: "half refunded", p: snapshot, refunded: 4950, want: 3825},
		{name: "rounds down", p: snapshot, refunded: 1, want: 7649},
		{name: "full refund", p: snapshot, refunded: 9900, want: 0},
		{name: "over refund", p: snapshot, refunded: 12000, want: 0},
		{name: "free booking", p: models.PricingSnapshot{}, refunded: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetainedShare(tt.p, tt.refunded))
		})
	}
}

// The payable balance always equals the sum of released, unpaid entries, and
// drops to zero once a batch has claimed them.
func TestBalanceMatchesLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var bookings []*models.Booking
	for guests := 1; guests <= 3; guests++ {
		b := h.book(guests)
		h.pay(b)
		bookings = append(bookings, b)
	}

	h.clock = h.departure.EndDate
	_, err := h.escrow.ReleaseDue(ctx, h.clock)
	require.NoError(t, err)

	var want int64
	for _, b := range bookings {
		want += b.Pricing.VendorPayoutAmount
	}
	balance, err := h.escrow.VendorBalance(ctx, h.vendor.ID)
	require.NoError(t, err)
	assert.Equal(t, want, balance.Amount)
	assert.Equal(t, 3, balance.EntryCount)

	res, err := h.payouts.RunPayoutBatch(ctx, models.ScheduleAll)
	require.NoError(t, err)
	assert.Equal(t, want, res.Total)

	balance, err = h.escrow.VendorBalance(ctx, h.vendor.ID)
	require.NoError(t, err)
	assert.Zero(t, balance.Amount)

	statement, err := h.escrow.VendorStatement(ctx, h.vendor.ID)
	require.NoError(t, err)
	assert.Equal(t, want, statement.Paid)
}
