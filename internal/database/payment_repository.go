package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

// PaymentRepository handles payment database operations
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, booking_id, traveler_id, amount, currency, type, status,
	payment_intent_id, charge_id, transfer_id, gateway_fee, net_amount,
	refund_amount, refund_reason, refund_status, refund_id, refunded_at,
	failure_reason, paid_at, created_at, updated_at`

func insertPayment(ctx context.Context, exec sqlx.ExecerContext, p *models.Payment) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO payments (
			id, booking_id, traveler_id, amount, currency, type, status,
			payment_intent_id, charge_id, transfer_id, gateway_fee, net_amount,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.BookingID, p.TravelerID, p.Amount, p.Currency, p.Type, p.Status,
		p.PaymentIntentID, p.ChargeID, p.TransferID, p.GatewayFee, p.NetAmount,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// CreateIfAbsent inserts p unless a payment with the same intent id exists.
// Returns false when the row was already there.
func (r *PaymentRepository) CreateIfAbsent(ctx context.Context, p *models.Payment) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, booking_id, traveler_id, amount, currency, type, status,
			payment_intent_id, charge_id, transfer_id, gateway_fee, net_amount,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (payment_intent_id) DO NOTHING`,
		p.ID, p.BookingID, p.TravelerID, p.Amount, p.Currency, p.Type, p.Status,
		p.PaymentIntentID, p.ChargeID, p.TransferID, p.GatewayFee, p.NetAmount,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create payment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetByIntentID retrieves a payment by its gateway intent id. Returns (nil, nil) when not found.
func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_intent_id = $1`, intentID)
}

// GetByChargeID retrieves a payment by its gateway charge id
func (r *PaymentRepository) GetByChargeID(ctx context.Context, chargeID string) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE charge_id = $1`, chargeID)
}

// GetLatestByBookingID retrieves the most recent payment of a booking
func (r *PaymentRepository) GetLatestByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return r.getOne(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 AND type <> 'refund'
		ORDER BY created_at DESC LIMIT 1`, bookingID)
}

func (r *PaymentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Payment, error) {
	var p models.Payment
	err := r.db.GetContext(ctx, &p, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// UpdateStatus writes p's mutable fields if the stored status still equals from.
// Returns false when the row moved on in the meantime.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, p *models.Payment, from models.PaymentStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments SET
			status = $1, charge_id = COALESCE($2, charge_id), gateway_fee = $3, net_amount = $4,
			refund_amount = $5, refund_reason = $6, refund_status = $7, refund_id = $8, refunded_at = $9,
			failure_reason = $10, paid_at = $11, updated_at = $12
		WHERE id = $13 AND status = $14`,
		p.Status, p.ChargeID, p.GatewayFee, p.NetAmount,
		p.RefundAmount, p.RefundReason, p.RefundStatus, p.RefundID, p.RefundedAt,
		p.FailureReason, p.PaidAt, p.UpdatedAt,
		p.ID, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RecordRefundRequest stores the refund request made on cancellation
func (r *PaymentRepository) RecordRefundRequest(ctx context.Context, paymentID uuid.UUID, amount int64, refundID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET refund_amount = $1, refund_id = $2, refund_reason = $3,
			refund_status = 'pending', updated_at = NOW()
		WHERE id = $4`,
		amount, refundID, reason, paymentID,
	)
	if err != nil {
		return fmt.Errorf("failed to record refund request: %w", err)
	}
	return nil
}
