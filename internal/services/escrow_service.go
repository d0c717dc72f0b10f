package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/database"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

// EscrowService holds vendor earnings until the trip has ended
type EscrowService struct {
	escrow EscrowStore
	logger *logrus.Logger
}

// NewEscrowService creates a new EscrowService
func NewEscrowService(escrow EscrowStore, logger *logrus.Logger) *EscrowService {
	return &EscrowService{escrow: escrow, logger: logger}
}

// CreditBooking writes the held vendor credit of a paid booking, released on
// the trip end date. Returns false when the booking already has its credit.
func (s *EscrowService) CreditBooking(ctx context.Context, b *models.Booking, now time.Time) (bool, error) {
	if b.Pricing.VendorPayoutAmount <= 0 {
		return false, nil
	}

	bookingID := b.ID
	entry := &models.EscrowLedgerEntry{
		ID:           uuid.New(),
		VendorID:     b.VendorID,
		BookingID:    &bookingID,
		Type:         models.EntryCredit,
		Amount:       b.Pricing.VendorPayoutAmount,
		Currency:     b.Pricing.Currency,
		EscrowStatus: models.EscrowHeld,
		PayoutStatus: models.EntryPayoutPending,
		ReleaseDate:  b.TripEndDate,
		Description:  models.EntryDescBooking,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.escrow.CreateBookingCredit(ctx, entry)
	if err != nil {
		return false, err
	}
	if created {
		s.logger.WithFields(logrus.Fields{
			"booking_id":   b.ID,
			"vendor_id":    b.VendorID,
			"amount":       entry.Amount,
			"release_date": entry.ReleaseDate.Format("2006-01-02"),
		}).Info("Escrow credit held")
	}
	return created, nil
}

// ReleaseDue releases held entries whose release date is not after now
func (s *EscrowService) ReleaseDue(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.escrow.ReleaseDue(ctx, now)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{"released": n, "as_of": now}).Info("Escrow release sweep finished")
	return n, nil
}

// VendorBalance returns the payable balance of a vendor
func (s *EscrowService) VendorBalance(ctx context.Context, vendorID uuid.UUID) (*models.VendorBalance, error) {
	return s.escrow.VendorBalance(ctx, vendorID)
}

// VendorStatement returns held, released, paid and refunded totals
func (s *EscrowService) VendorStatement(ctx context.Context, vendorID uuid.UUID) (*models.VendorStatement, error) {
	return s.escrow.VendorStatement(ctx, vendorID)
}

// ListByBooking returns a booking's ledger entries
func (s *EscrowService) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.EscrowLedgerEntry, error) {
	return s.escrow.ListByBooking(ctx, bookingID)
}

// ApplyRefund removes a refunded booking from the vendor's balance. For a
// partial refund the vendor keeps the share of its payout matching the part
// of the total that was not refunded.
func (s *EscrowService) ApplyRefund(ctx context.Context, b *models.Booking, refunded int64, now time.Time) (*database.RefundResult, error) {
	result, err := s.escrow.ApplyRefund(ctx, database.RefundAdjustment{
		BookingID:   b.ID,
		VendorID:    b.VendorID,
		Currency:    b.Pricing.Currency,
		ReleaseDate: b.TripEndDate,
		Retained:    RetainedShare(b.Pricing, refunded),
		Now:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply escrow refund for booking %s: %w", b.ID, err)
	}
	return result, nil
}

// RetainedShare is the vendor payout kept when refunded of the total went back
func RetainedShare(p models.PricingSnapshot, refunded int64) int64 {
	if p.TotalPrice <= 0 || refunded >= p.TotalPrice || p.VendorPayoutAmount <= 0 {
		return 0
	}
	if refunded <= 0 {
		return p.VendorPayoutAmount
	}
	return p.VendorPayoutAmount * (p.TotalPrice - refunded) / p.TotalPrice
}
