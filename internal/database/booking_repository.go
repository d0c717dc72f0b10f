package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

var (
	// ErrInsufficientSeats is returned when the conditional seat decrement matches no row
	ErrInsufficientSeats = errors.New("not enough seats available on departure")
	// ErrPromoUsageLimitReached is returned when the conditional promo increment matches no row
	ErrPromoUsageLimitReached = errors.New("promo code usage limit reached")
	// ErrDuplicateIdempotencyKey is returned when a traveler reuses an idempotency key concurrently
	ErrDuplicateIdempotencyKey = errors.New("booking with this idempotency key already exists")
)

// BookingRepository handles booking persistence and the transactional writes
// that must happen together with a booking state change
type BookingRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB, logger *logrus.Logger) *BookingRepository {
	return &BookingRepository{db: db, logger: logger}
}

const bookingColumns = `
	id, booking_number, trip_id, departure_id, traveler_id, vendor_id,
	departure_date, trip_end_date, guest_count, guests, add_ons,
	base_price, add_ons_total, platform_fee, discount, total_price,
	vendor_payout_amount, commission_bps, currency,
	promo_code, payment_intent_id, idempotency_key,
	status, payment_status, refund_status, refund_amount, refund_id,
	cancelled_at, cancelled_by, cancellation_reason, confirmed_at, completed_at,
	created_at, updated_at`

// bookingRow is the flat column layout of the bookings table
type bookingRow struct {
	ID            uuid.UUID           `db:"id"`
	BookingNumber string              `db:"booking_number"`
	TripID        uuid.UUID           `db:"trip_id"`
	DepartureID   uuid.UUID           `db:"departure_id"`
	TravelerID    uuid.UUID           `db:"traveler_id"`
	VendorID      uuid.UUID           `db:"vendor_id"`
	DepartureDate time.Time           `db:"departure_date"`
	TripEndDate   time.Time           `db:"trip_end_date"`
	GuestCount    int                 `db:"guest_count"`
	Guests        models.GuestDetails `db:"guests"`
	AddOns        models.AddOns       `db:"add_ons"`

	models.PricingSnapshot

	PromoCode       *string `db:"promo_code"`
	PaymentIntentID *string `db:"payment_intent_id"`
	IdempotencyKey  *string `db:"idempotency_key"`

	Status        models.BookingStatus        `db:"status"`
	PaymentStatus models.BookingPaymentStatus `db:"payment_status"`
	RefundStatus  models.RefundStatus         `db:"refund_status"`
	RefundAmount  int64                       `db:"refund_amount"`
	RefundID      *string                     `db:"refund_id"`

	CancelledAt        *time.Time `db:"cancelled_at"`
	CancelledBy        *uuid.UUID `db:"cancelled_by"`
	CancellationReason *string    `db:"cancellation_reason"`
	ConfirmedAt        *time.Time `db:"confirmed_at"`
	CompletedAt        *time.Time `db:"completed_at"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

func (r *bookingRow) toModel() (*models.Booking, error) {
	state, err := models.StateFromColumns(r.Status, r.PaymentStatus, models.RefundState{
		Status:   r.RefundStatus,
		Amount:   r.RefundAmount,
		RefundID: r.RefundID,
	})
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", r.ID, err)
	}
	return &models.Booking{
		ID:                 r.ID,
		BookingNumber:      r.BookingNumber,
		TripID:             r.TripID,
		DepartureID:        r.DepartureID,
		TravelerID:         r.TravelerID,
		VendorID:           r.VendorID,
		DepartureDate:      r.DepartureDate,
		TripEndDate:        r.TripEndDate,
		GuestCount:         r.GuestCount,
		Guests:             r.Guests,
		AddOns:             r.AddOns,
		Pricing:            r.PricingSnapshot,
		PromoCode:          r.PromoCode,
		PaymentIntentID:    r.PaymentIntentID,
		IdempotencyKey:     r.IdempotencyKey,
		State:              state,
		CancelledAt:        r.CancelledAt,
		CancelledBy:        r.CancelledBy,
		CancellationReason: r.CancellationReason,
		ConfirmedAt:        r.ConfirmedAt,
		CompletedAt:        r.CompletedAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}, nil
}

// ============================================================================
// READS
// ============================================================================

// GetByID retrieves a booking by ID. Returns (nil, nil) when not found.
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetByPaymentIntentID retrieves a booking by its gateway payment intent
func (r *BookingRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_intent_id = $1`, intentID)
}

// GetByIdempotencyKey retrieves a traveler's booking created with key
func (r *BookingRepository) GetByIdempotencyKey(ctx context.Context, travelerID uuid.UUID, key string) (*models.Booking, error) {
	return r.getOne(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE traveler_id = $1 AND idempotency_key = $2`,
		travelerID, key)
}

func (r *BookingRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Booking, error) {
	var row bookingRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return row.toModel()
}

// ============================================================================
// CREATE (single transaction)
// ============================================================================

// PromoRedemption is the promo usage written together with a booking
type PromoRedemption struct {
	PromoCodeID uuid.UUID
	Discount    int64
}

// CreateBookingParams groups everything persisted by a booking creation
type CreateBookingParams struct {
	Booking *models.Booking
	Payment *models.Payment
	Promo   *PromoRedemption
}

// CreateWithPayment persists a new booking in one transaction:
// conditional seat decrement, conditional promo increment plus usage record,
// booking insert and payment insert. Any failed condition aborts everything.
func (r *BookingRepository) CreateWithPayment(ctx context.Context, p CreateBookingParams) error {
	b := p.Booking

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE departures
		SET seats_available = seats_available - $1, updated_at = NOW()
		WHERE id = $2 AND seats_available >= $1`,
		b.GuestCount, b.DepartureID,
	)
	if err != nil {
		return fmt.Errorf("failed to reserve seats: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInsufficientSeats
	}

	if p.Promo != nil {
		res, err = tx.ExecContext(ctx, `
			UPDATE promo_codes
			SET used_count = used_count + 1, updated_at = NOW()
			WHERE id = $1 AND is_active = TRUE
			  AND (usage_limit IS NULL OR used_count < usage_limit)`,
			p.Promo.PromoCodeID,
		)
		if err != nil {
			return fmt.Errorf("failed to increment promo usage: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrPromoUsageLimitReached
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (
			id, booking_number, trip_id, departure_id, traveler_id, vendor_id,
			departure_date, trip_end_date, guest_count, guests, add_ons,
			base_price, add_ons_total, platform_fee, discount, total_price,
			vendor_payout_amount, commission_bps, currency,
			promo_code, payment_intent_id, idempotency_key,
			status, payment_status, refund_status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27
		)`,
		b.ID, b.BookingNumber, b.TripID, b.DepartureID, b.TravelerID, b.VendorID,
		b.DepartureDate, b.TripEndDate, b.GuestCount, b.Guests, b.AddOns,
		b.Pricing.BasePrice, b.Pricing.AddOnsTotal, b.Pricing.PlatformFee, b.Pricing.Discount, b.Pricing.TotalPrice,
		b.Pricing.VendorPayoutAmount, b.Pricing.CommissionBps, b.Pricing.Currency,
		b.PromoCode, b.PaymentIntentID, b.IdempotencyKey,
		b.Status(), b.PaymentStatus(), b.Refund().Status,
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isDuplicateBooking(err) {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	if p.Promo != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO promo_code_usages (id, promo_code_id, user_id, booking_id, discount_applied, used_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), p.Promo.PromoCodeID, b.TravelerID, b.ID, p.Promo.Discount, b.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record promo usage: %w", err)
		}
	}

	if p.Payment != nil {
		if err := insertPayment(ctx, tx, p.Payment); err != nil {
			if isDuplicateBooking(err) {
				return ErrDuplicateIdempotencyKey
			}
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id":     b.ID,
		"booking_number": b.BookingNumber,
		"total_price":    b.Pricing.TotalPrice,
		"promo_applied":  p.Promo != nil,
	}).Info("Booking created")

	return nil
}

// ============================================================================
// STATE TRANSITIONS (compare-and-set)
// ============================================================================

// TransitionOptions are the side writes performed with a booking transition
type TransitionOptions struct {
	// RestoreSeats returns the booking's guests to the departure inventory
	RestoreSeats bool
	// CancelPendingPayment moves the booking's pending payment to cancelled
	CancelPendingPayment bool
}

// UpdateState writes b's current state if the stored state still equals prev.
// Returns false when another writer got there first.
func (r *BookingRepository) UpdateState(ctx context.Context, b *models.Booking, prev models.BookingState) (bool, error) {
	return r.Transition(ctx, b, prev, TransitionOptions{})
}

// Transition is UpdateState plus the seat and payment side writes, all in one transaction
func (r *BookingRepository) Transition(ctx context.Context, b *models.Booking, prev models.BookingState, opts TransitionOptions) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	refund := b.Refund()
	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET
			status = $1, payment_status = $2, refund_status = $3, refund_amount = $4, refund_id = $5,
			cancelled_at = $6, cancelled_by = $7, cancellation_reason = $8,
			confirmed_at = $9, completed_at = $10, updated_at = $11
		WHERE id = $12 AND status = $13 AND payment_status = $14`,
		b.Status(), b.PaymentStatus(), refund.Status, refund.Amount, refund.RefundID,
		b.CancelledAt, b.CancelledBy, b.CancellationReason,
		b.ConfirmedAt, b.CompletedAt, b.UpdatedAt,
		b.ID, prev.Status(), prev.PaymentStatus(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update booking state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if opts.RestoreSeats {
		_, err = tx.ExecContext(ctx, `
			UPDATE departures SET seats_available = seats_available + $1, updated_at = NOW()
			WHERE id = $2`,
			b.GuestCount, b.DepartureID,
		)
		if err != nil {
			return false, fmt.Errorf("failed to restore seats: %w", err)
		}
	}

	if opts.CancelPendingPayment {
		_, err = tx.ExecContext(ctx, `
			UPDATE payments SET status = 'cancelled', updated_at = NOW()
			WHERE booking_id = $1 AND status = 'pending'`,
			b.ID,
		)
		if err != nil {
			return false, fmt.Errorf("failed to cancel pending payment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit booking transition: %w", err)
	}
	return true, nil
}

// UpdateRefund updates only the refund columns of a cancelled booking
func (r *BookingRepository) UpdateRefund(ctx context.Context, id uuid.UUID, refund models.RefundState) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET refund_status = $1, refund_amount = $2, refund_id = $3, updated_at = NOW()
		WHERE id = $4 AND status = 'cancelled'`,
		refund.Status, refund.Amount, refund.RefundID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update refund: %w", err)
	}
	return nil
}

// CompleteDue marks confirmed bookings whose trip has ended as completed.
// Returns the IDs it moved.
func (r *BookingRepository) CompleteDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		UPDATE bookings
		SET status = 'completed', completed_at = $1, updated_at = $1
		WHERE status = 'confirmed' AND trip_end_date <= $1
		RETURNING id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete due bookings: %w", err)
	}
	return ids, nil
}

// isDuplicateBooking reports a concurrent create for the same idempotency key.
// Both requests share one gateway intent, so the race can surface on the key
// index or on either payment_intent_id constraint.
func isDuplicateBooking(err error) bool {
	return isUniqueViolation(err, "bookings_traveler_idempotency_key") ||
		isUniqueViolation(err, "bookings_payment_intent_id_key") ||
		isUniqueViolation(err, "payments_payment_intent_id_key")
}
