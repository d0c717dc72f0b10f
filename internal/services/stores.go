package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tripmarket/marketplace-backend/internal/database"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

// The interfaces below are satisfied by the repositories in internal/database.

// BookingStore persists bookings and their transactional side writes
type BookingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Booking, error)
	GetByIdempotencyKey(ctx context.Context, travelerID uuid.UUID, key string) (*models.Booking, error)
	CreateWithPayment(ctx context.Context, p database.CreateBookingParams) error
	UpdateState(ctx context.Context, b *models.Booking, prev models.BookingState) (bool, error)
	Transition(ctx context.Context, b *models.Booking, prev models.BookingState, opts database.TransitionOptions) (bool, error)
	UpdateRefund(ctx context.Context, id uuid.UUID, refund models.RefundState) error
	CompleteDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// CatalogStore reads trips and departures
type CatalogStore interface {
	GetTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error)
	GetDeparture(ctx context.Context, id uuid.UUID) (*models.Departure, error)
}

// VendorStore reads vendors and applies payout account updates
type VendorStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	ListPayoutCandidates(ctx context.Context, schedules []models.PayoutSchedule) ([]*models.Vendor, error)
	UpdateAccountStatus(ctx context.Context, accountID string, payoutsEnabled bool, verification models.VerificationStatus) (bool, error)
}

// PromoStore reads promo codes
type PromoStore interface {
	GetByCode(ctx context.Context, code string) (*models.PromoCode, error)
	CountUserUsages(ctx context.Context, promoCodeID, userID uuid.UUID) (int, error)
	Deactivate(ctx context.Context, code string) (bool, error)
}

// PaymentStore persists payments
type PaymentStore interface {
	CreateIfAbsent(ctx context.Context, p *models.Payment) (bool, error)
	GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	GetByChargeID(ctx context.Context, chargeID string) (*models.Payment, error)
	GetLatestByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	UpdateStatus(ctx context.Context, p *models.Payment, from models.PaymentStatus) (bool, error)
	RecordRefundRequest(ctx context.Context, paymentID uuid.UUID, amount int64, refundID, reason string) error
}

// EscrowStore is the vendor escrow ledger
type EscrowStore interface {
	CreateBookingCredit(ctx context.Context, e *models.EscrowLedgerEntry) (bool, error)
	ReleaseDue(ctx context.Context, now time.Time) (int64, error)
	VendorBalance(ctx context.Context, vendorID uuid.UUID) (*models.VendorBalance, error)
	VendorStatement(ctx context.Context, vendorID uuid.UUID) (*models.VendorStatement, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.EscrowLedgerEntry, error)
	ApplyRefund(ctx context.Context, adj database.RefundAdjustment) (*database.RefundResult, error)
}

// PayoutStore persists payouts and claims ledger entries for them
type PayoutStore interface {
	CreateWithClaim(ctx context.Context, payout *models.Payout, minimum int64, fee *models.EscrowLedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	GetByTransferID(ctx context.Context, transferID string) (*models.Payout, error)
	ListStalled(ctx context.Context, olderThan time.Time) ([]*models.Payout, error)
	MarkSubmitted(ctx context.Context, id uuid.UUID, transferID string) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, transferID string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
}

// GatewayEventStore keeps verified webhook events for dedup and replay
type GatewayEventStore interface {
	Record(ctx context.Context, ev *models.GatewayEvent) (*models.GatewayEvent, bool, error)
	MarkProcessed(ctx context.Context, id string, now time.Time) error
	MarkIgnored(ctx context.Context, id string, reason string, now time.Time) error
	MarkFailed(ctx context.Context, id string, cause string, now time.Time) error
	ListReplayable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]*models.GatewayEvent, error)
}

// AuditLog appends payment audit rows
type AuditLog interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// AuditReader reads the payment audit trail
type AuditReader interface {
	ListRequiringReview(ctx context.Context, limit int) ([]*models.PaymentAudit, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error)
}

var (
	_ BookingStore      = (*database.BookingRepository)(nil)
	_ CatalogStore      = (*database.TripRepository)(nil)
	_ VendorStore       = (*database.VendorRepository)(nil)
	_ PromoStore        = (*database.PromoCodeRepository)(nil)
	_ PaymentStore      = (*database.PaymentRepository)(nil)
	_ EscrowStore       = (*database.EscrowRepository)(nil)
	_ PayoutStore       = (*database.PayoutRepository)(nil)
	_ GatewayEventStore = (*database.GatewayEventRepository)(nil)
	_ AuditLog          = (*database.PaymentAuditRepository)(nil)
	_ AuditReader       = (*database.PaymentAuditRepository)(nil)
)
