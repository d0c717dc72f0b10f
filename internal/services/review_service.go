package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

const (
	defaultReviewLimit = 50
	maxReviewLimit     = 200
)

// BookingLedger is the money trail of one booking: its payment, the escrow
// entries written for the vendor and the audit rows of every gateway event
type BookingLedger struct {
	Booking *models.Booking
	Payment *models.Payment
	Entries []*models.EscrowLedgerEntry
	Audits  []*models.PaymentAudit
}

// ReviewService gives operators the audit rows flagged for manual review
// and the full ledger behind a booking
type ReviewService struct {
	audits   AuditReader
	bookings BookingStore
	payments PaymentStore
	escrow   *EscrowService
	logger   *logrus.Logger
}

// NewReviewService creates a new ReviewService
func NewReviewService(audits AuditReader, bookings BookingStore, payments PaymentStore, escrow *EscrowService, logger *logrus.Logger) *ReviewService {
	return &ReviewService{
		audits:   audits,
		bookings: bookings,
		payments: payments,
		escrow:   escrow,
		logger:   logger,
	}
}

// ReviewQueue returns flagged audit rows, newest first
func (s *ReviewService) ReviewQueue(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	switch {
	case limit <= 0:
		limit = defaultReviewLimit
	case limit > maxReviewLimit:
		limit = maxReviewLimit
	}
	audits, err := s.audits.ListRequiringReview(ctx, limit)
	if err != nil {
		return nil, err
	}
	if audits == nil {
		audits = []*models.PaymentAudit{}
	}
	return audits, nil
}

// BookingLedger collects the booking, its latest payment, its escrow
// entries and its audit trail
func (s *ReviewService) BookingLedger(ctx context.Context, bookingID uuid.UUID) (*BookingLedger, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &ValidationError{Field: "booking_id", Reason: "booking not found", Kind: ValidationNotFound}
	}

	payment, err := s.payments.GetLatestByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	entries, err := s.escrow.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	audits, err := s.audits.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	ledger := &BookingLedger{Booking: b, Payment: payment, Entries: entries, Audits: audits}
	if ledger.Entries == nil {
		ledger.Entries = []*models.EscrowLedgerEntry{}
	}
	if ledger.Audits == nil {
		ledger.Audits = []*models.PaymentAudit{}
	}
	return ledger, nil
}
