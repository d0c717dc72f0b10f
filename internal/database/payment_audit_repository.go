package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry
// This should NEVER fail silently - payment events must be logged
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, booking_id, payment_id, payout_id, gateway_event_id, gateway_ref,
			event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			payment_status, payload,
			error_message, error_code, requires_review,
			ip_address, user_agent, client,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8,
			$9, $10, $11, $12,
			$13, $14,
			$15, $16, $17,
			$18, $19, $20,
			$21
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.BookingID, audit.PaymentID, audit.PayoutID, audit.GatewayEventID, audit.GatewayRef,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.PaymentStatus, audit.Payload,
		audit.ErrorMessage, audit.ErrorCode, audit.RequiresReview,
		audit.IPAddress, audit.UserAgent, audit.Client,
		audit.CreatedAt,
	)

	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":  audit.EventType,
			"gateway_ref": audit.GatewayRef,
		}).Error("CRITICAL: Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Payment audit logged")

	return nil
}

// ListRequiringReview returns audit rows flagged for manual follow-up, newest first
func (r *PaymentAuditRepository) ListRequiringReview(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `
		SELECT * FROM payment_audits
		WHERE requires_review = TRUE
		ORDER BY created_at DESC
		LIMIT $1`

	if err := r.db.SelectContext(ctx, &audits, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list audits requiring review: %w", err)
	}
	return audits, nil
}

// GetByBookingID retrieves all audit entries for a booking
func (r *PaymentAuditRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `
		SELECT * FROM payment_audits
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to get audits by booking: %w", err)
	}
	return audits, nil
}
