package models

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// STATUS AXES (persisted columns)
// ============================================================================

// BookingStatus is the persisted booking status column
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// BookingPaymentStatus is the persisted payment status column of a booking
type BookingPaymentStatus string

const (
	BookingPaymentPending   BookingPaymentStatus = "pending"
	BookingPaymentCompleted BookingPaymentStatus = "completed"
	BookingPaymentFailed    BookingPaymentStatus = "failed"
	BookingPaymentRefunded  BookingPaymentStatus = "refunded"
)

// RefundStatus tracks the asynchronous refund of a cancelled booking
type RefundStatus string

const (
	RefundStatusNone      RefundStatus = "none"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

var (
	// ErrInvalidTransition is returned when a transition is not allowed from the current state
	ErrInvalidTransition = errors.New("booking: invalid state transition")
	// ErrAlreadyApplied is returned when the requested transition already happened
	ErrAlreadyApplied = errors.New("booking: transition already applied")
	// ErrIllegalStateCombination is returned when persisted columns do not form a valid state
	ErrIllegalStateCombination = errors.New("booking: illegal status combination")
)

// ============================================================================
// BOOKING STATE (sealed)
// ============================================================================

// BookingState is the single lifecycle state of a booking. The set of
// implementations is closed to this package.
type BookingState interface {
	Status() BookingStatus
	PaymentStatus() BookingPaymentStatus
	isBookingState()
}

// AwaitingPayment: created, payment intent issued, not yet paid
type AwaitingPayment struct{}

// Confirmed: paid and confirmed
type Confirmed struct{}

// Completed: trip has ended, escrow eligible for release
type Completed struct{}

// RefundState is the refund sub-state of a cancelled booking
type RefundState struct {
	Status   RefundStatus `json:"status"`
	Amount   int64        `json:"amount"`
	RefundID *string      `json:"refund_id,omitempty"`
}

// Cancelled carries the payment axis at cancellation time plus the refund progress
type Cancelled struct {
	Payment BookingPaymentStatus
	Refund  RefundState
}

func (AwaitingPayment) Status() BookingStatus { return BookingStatusPending }
func (AwaitingPayment) PaymentStatus() BookingPaymentStatus { return BookingPaymentPending }
func (AwaitingPayment) isBookingState() {}
func (Confirmed) Status() BookingStatus { return BookingStatusConfirmed }
func (Confirmed) PaymentStatus() BookingPaymentStatus { return BookingPaymentCompleted }
func (Confirmed) isBookingState() {}
func (Completed) Status() BookingStatus { return BookingStatusCompleted }
func (Completed) PaymentStatus() BookingPaymentStatus { return BookingPaymentCompleted }
func (Completed) isBookingState() {}
func (c Cancelled) Status() BookingStatus { return BookingStatusCancelled }
func (c Cancelled) PaymentStatus() BookingPaymentStatus { return c.Payment }
func (Cancelled) isBookingState() {}

// StateFromColumns rebuilds a BookingState from its persisted columns and
// rejects combinations the lifecycle can never produce.
func StateFromColumns(status BookingStatus, payment BookingPaymentStatus, refund RefundState) (BookingState, error) {
	switch status {
	case BookingStatusPending:
		if payment == BookingPaymentPending {
			return AwaitingPayment{}, nil
		}
	case BookingStatusConfirmed:
		if payment == BookingPaymentCompleted {
			return Confirmed{}, nil
		}
	case BookingStatusCompleted:
		if payment == BookingPaymentCompleted {
			return Completed{}, nil
		}
	case BookingStatusCancelled:
		switch payment {
		case BookingPaymentPending, BookingPaymentCompleted, BookingPaymentFailed, BookingPaymentRefunded:
			if refund.Status == "" {
				refund.Status = RefundStatusNone
			}
			return Cancelled{Payment: payment, Refund: refund}, nil
		}
	}
	return nil, fmt.Errorf("%w: status=%s payment_status=%s", ErrIllegalStateCombination, status, payment)
}

// ============================================================================
// BOOKING
// ============================================================================

// GuestDetail is the per-guest information captured at booking time
type GuestDetail struct {
	FullName    string  `json:"full_name" binding:"required"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
}

// GuestDetails is stored as JSONB
type GuestDetails []GuestDetail

func (g GuestDetails) Value() (driver.Value, error) { return jsonValue(g) }
func (g *GuestDetails) Scan(value interface{}) error { return jsonScan(value, g) }

// AddOn is an optional extra bought with the booking
type AddOn struct {
	Name     string `json:"name" binding:"required"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// AddOns is stored as JSONB
type AddOns []AddOn

func (a AddOns) Value() (driver.Value, error) { return jsonValue(a) }
func (a *AddOns) Scan(value interface{}) error { return jsonScan(value, a) }

// PricingSnapshot is the frozen price breakdown of a booking. All amounts are
// minor units and never negative.
type PricingSnapshot struct {
	BasePrice          int64  `json:"base_price" db:"base_price"`
	AddOnsTotal        int64  `json:"add_ons_total" db:"add_ons_total"`
	PlatformFee        int64  `json:"platform_fee" db:"platform_fee"`
	Discount           int64  `json:"discount" db:"discount"`
	TotalPrice         int64  `json:"total_price" db:"total_price"`
	VendorPayoutAmount int64  `json:"vendor_payout_amount" db:"vendor_payout_amount"`
	CommissionBps      int64  `json:"commission_bps" db:"commission_bps"`
	Currency           string `json:"currency" db:"currency"`
}

// Balanced reports whether the snapshot satisfies the pricing identity
func (p PricingSnapshot) Balanced() bool {
	if p.BasePrice < 0 || p.AddOnsTotal < 0 || p.PlatformFee < 0 || p.Discount < 0 || p.TotalPrice < 0 {
		return false
	}
	return p.TotalPrice == p.BasePrice+p.AddOnsTotal+p.PlatformFee-p.Discount &&
		p.VendorPayoutAmount <= p.BasePrice
}

// Booking is a single purchase of a trip departure by a traveler
type Booking struct {
	ID            uuid.UUID `json:"id"`
	BookingNumber string    `json:"booking_number"`
	TripID        uuid.UUID `json:"trip_id"`
	DepartureID   uuid.UUID `json:"departure_id"`
	TravelerID    uuid.UUID `json:"traveler_id"`
	VendorID      uuid.UUID `json:"vendor_id"`

	DepartureDate time.Time `json:"departure_date"`
	TripEndDate   time.Time `json:"trip_end_date"`

	GuestCount int          `json:"guest_count"`
	Guests     GuestDetails `json:"guests"`
	AddOns     AddOns       `json:"add_ons"`

	Pricing         PricingSnapshot `json:"pricing"`
	PromoCode       *string         `json:"promo_code,omitempty"`
	PaymentIntentID *string         `json:"payment_intent_id,omitempty"`
	IdempotencyKey  *string         `json:"-"`

	State BookingState `json:"-"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status returns the booking status axis
func (b *Booking) Status() BookingStatus { return b.State.Status() }

// PaymentStatus returns the payment status axis
func (b *Booking) PaymentStatus() BookingPaymentStatus { return b.State.PaymentStatus() }

// Refund returns the refund sub-state, or none for non-cancelled bookings
func (b *Booking) Refund() RefundState {
	if c, ok := b.State.(Cancelled); ok {
		return c.Refund
	}
	return RefundState{Status: RefundStatusNone}
}

// IsCancellable returns true when the booking may still be cancelled
func (b *Booking) IsCancellable() bool {
	switch b.State.(type) {
	case AwaitingPayment, Confirmed:
		return true
	}
	return false
}

// Confirm moves an awaiting booking to confirmed
func (b *Booking) Confirm(now time.Time) error {
	switch b.State.(type) {
	case AwaitingPayment:
		b.State = Confirmed{}
		b.ConfirmedAt = &now
		b.UpdatedAt = now
		return nil
	case Confirmed, Completed:
		return ErrAlreadyApplied
	}
	return ErrInvalidTransition
}

// Complete moves a confirmed booking to completed
func (b *Booking) Complete(now time.Time) error {
	switch b.State.(type) {
	case Confirmed:
		b.State = Completed{}
		b.CompletedAt = &now
		b.UpdatedAt = now
		return nil
	case Completed:
		return ErrAlreadyApplied
	}
	return ErrInvalidTransition
}

// Cancel moves a pending or confirmed booking to cancelled. refundAmount is
// only requested when the booking was paid.
func (b *Booking) Cancel(now time.Time, actorID uuid.UUID, reason string, refundAmount int64) error {
	if !b.IsCancellable() {
		if _, ok := b.State.(Cancelled); ok {
			return ErrAlreadyApplied
		}
		return ErrInvalidTransition
	}

	refund := RefundState{Status: RefundStatusNone}
	payment := b.State.PaymentStatus()
	if payment == BookingPaymentCompleted && refundAmount > 0 {
		refund = RefundState{Status: RefundStatusPending, Amount: refundAmount}
	}

	b.State = Cancelled{Payment: payment, Refund: refund}
	b.CancelledAt = &now
	b.CancelledBy = &actorID
	if reason != "" {
		b.CancellationReason = &reason
	}
	b.UpdatedAt = now
	return nil
}

// MarkPaymentFailed records a failed payment. An awaiting booking is cancelled;
// a booking already cancelled before payment keeps its cancellation.
func (b *Booking) MarkPaymentFailed(now time.Time) error {
	switch s := b.State.(type) {
	case AwaitingPayment:
		b.State = Cancelled{Payment: BookingPaymentFailed, Refund: RefundState{Status: RefundStatusNone}}
		b.CancelledAt = &now
		reason := "payment failed"
		b.CancellationReason = &reason
		b.UpdatedAt = now
		return nil
	case Cancelled:
		switch s.Payment {
		case BookingPaymentFailed:
			return ErrAlreadyApplied
		case BookingPaymentPending:
			b.State = Cancelled{Payment: BookingPaymentFailed, Refund: s.Refund}
			b.UpdatedAt = now
			return nil
		}
	}
	return ErrInvalidTransition
}

// MarkRefunded applies a refund confirmed by the gateway, where amount is the
// cumulative refunded total. Any paid state ends up cancelled with a
// processed refund; a later, larger total raises the recorded amount.
func (b *Booking) MarkRefunded(now time.Time, amount int64, refundID string) error {
	refund := RefundState{Status: RefundStatusProcessed, Amount: amount}
	if refundID != "" {
		refund.RefundID = &refundID
	}

	switch s := b.State.(type) {
	case Confirmed, Completed:
		b.CancelledAt = &now
		reason := "refunded"
		b.CancellationReason = &reason
	case Cancelled:
		if s.Refund.RefundID != nil && refund.RefundID == nil {
			refund.RefundID = s.Refund.RefundID
		}
		if s.Payment == BookingPaymentRefunded {
			// refund amounts are cumulative; only a larger one changes anything
			if amount <= s.Refund.Amount {
				return ErrAlreadyApplied
			}
			break
		}
		if s.Payment != BookingPaymentCompleted {
			return ErrInvalidTransition
		}
	default:
		return ErrInvalidTransition
	}

	b.State = Cancelled{Payment: BookingPaymentRefunded, Refund: refund}
	b.UpdatedAt = now
	return nil
}

// SetRefundRequested stores the gateway refund id of a pending refund
func (b *Booking) SetRefundRequested(refundID string) {
	if s, ok := b.State.(Cancelled); ok && s.Refund.Status == RefundStatusPending {
		s.Refund.RefundID = &refundID
		b.State = s
	}
}

// SetRefundFailed flags a refund request the gateway rejected
func (b *Booking) SetRefundFailed() {
	if s, ok := b.State.(Cancelled); ok && s.Refund.Status == RefundStatusPending {
		s.Refund.Status = RefundStatusFailed
		b.State = s
	}
}

// GenerateBookingNumber generates a human-readable booking number
// Format: TM-YYYYMMDD-XXXXXX (e.g., TM-20261016-A1B2C3)
func GenerateBookingNumber(now time.Time) string {
	randomBytes := make([]byte, 3)
	if _, err := rand.Read(randomBytes); err != nil {
		// crypto/rand never fails on supported platforms; fall back to the clock
		return fmt.Sprintf("TM-%s-%06X", now.Format("20060102"), now.UnixNano()&0xFFFFFF)
	}
	return fmt.Sprintf("TM-%s-%s", now.Format("20060102"), strings.ToUpper(hex.EncodeToString(randomBytes)))
}

// ============================================================================
// REQUEST/RESPONSE DTOs
// ============================================================================

// CreateBookingRequest is the payload for creating a booking
type CreateBookingRequest struct {
	TripID         uuid.UUID     `json:"trip_id" binding:"required"`
	DepartureID    uuid.UUID     `json:"departure_id" binding:"required"`
	GuestCount     int           `json:"guest_count" binding:"required,min=1"`
	Guests         []GuestDetail `json:"guests"`
	AddOns         []AddOn       `json:"add_ons"`
	PromoCode      *string       `json:"promo_code,omitempty"`
	IdempotencyKey *string       `json:"idempotency_key,omitempty"`
}

// PriceQuoteRequest is the payload for a read-only price quote
type PriceQuoteRequest struct {
	TripID      uuid.UUID `json:"trip_id" binding:"required"`
	DepartureID uuid.UUID `json:"departure_id" binding:"required"`
	GuestCount  int       `json:"guest_count" binding:"required,min=1"`
	AddOns      []AddOn   `json:"add_ons"`
	PromoCode   *string   `json:"promo_code,omitempty"`
}

// CancelBookingRequest is the payload for cancelling a booking
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// BookingResponse is the API representation of a booking
type BookingResponse struct {
	*Booking
	Status        BookingStatus        `json:"status"`
	PaymentStatus BookingPaymentStatus `json:"payment_status"`
	Refund        RefundState          `json:"refund"`
	ClientSecret  *string              `json:"client_secret,omitempty"`
}

// NewBookingResponse flattens the booking state for JSON output
func NewBookingResponse(b *Booking, clientSecret *string) *BookingResponse {
	return &BookingResponse{
		Booking:       b,
		Status:        b.Status(),
		PaymentStatus: b.PaymentStatus(),
		Refund:        b.Refund(),
		ClientSecret:  clientSecret,
	}
}
