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

// EscrowRepository handles the vendor escrow ledger
type EscrowRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewEscrowRepository creates a new EscrowRepository
func NewEscrowRepository(db *sqlx.DB, logger *logrus.Logger) *EscrowRepository {
	return &EscrowRepository{db: db, logger: logger}
}

const escrowColumns = `
	id, vendor_id, booking_id, payout_id, type, amount, currency,
	escrow_status, payout_status, release_date, released_at, description,
	created_at, updated_at`

const insertEscrowEntry = `
	INSERT INTO escrow_ledger_entries (
		id, vendor_id, booking_id, payout_id, type, amount, currency,
		escrow_status, payout_status, release_date, released_at, description,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func escrowArgs(e *models.EscrowLedgerEntry) []interface{} {
	return []interface{}{
		e.ID, e.VendorID, e.BookingID, e.PayoutID, e.Type, e.Amount, e.Currency,
		e.EscrowStatus, e.PayoutStatus, e.ReleaseDate, e.ReleasedAt, e.Description,
		e.CreatedAt, e.UpdatedAt,
	}
}

// CreateBookingCredit writes the held credit for a paid booking. The partial
// unique index allows one booking credit per booking; a duplicate returns false.
func (r *EscrowRepository) CreateBookingCredit(ctx context.Context, e *models.EscrowLedgerEntry) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		insertEscrowEntry+` ON CONFLICT (booking_id) WHERE type = 'credit' AND description = 'booking' DO NOTHING`,
		escrowArgs(e)...,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create escrow credit: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseDue releases every held entry whose release date has passed.
// Re-running is harmless: released rows no longer match the status predicate.
func (r *EscrowRepository) ReleaseDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE escrow_ledger_entries
		SET escrow_status = 'released', released_at = $1, updated_at = $1
		WHERE escrow_status = 'held' AND release_date <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release escrow: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// VendorBalance sums released, payout-pending entries (credit minus debit)
func (r *EscrowRepository) VendorBalance(ctx context.Context, vendorID uuid.UUID) (*models.VendorBalance, error) {
	balance := &models.VendorBalance{VendorID: vendorID}
	err := r.db.GetContext(ctx, balance, `
		SELECT
			$1::uuid AS vendor_id,
			COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0) AS amount,
			COUNT(*) AS entry_count,
			COALESCE(MIN(currency), '') AS currency
		FROM escrow_ledger_entries
		WHERE vendor_id = $1 AND escrow_status = 'released' AND payout_status = 'pending'`,
		vendorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor balance: %w", err)
	}
	return balance, nil
}

// VendorStatement totals a vendor's ledger by stage
func (r *EscrowRepository) VendorStatement(ctx context.Context, vendorID uuid.UUID) (*models.VendorStatement, error) {
	st := &models.VendorStatement{VendorID: vendorID}
	err := r.db.GetContext(ctx, st, `
		SELECT
			$1::uuid AS vendor_id,
			COALESCE(SUM(CASE WHEN escrow_status = 'held' THEN signed END), 0) AS held,
			COALESCE(SUM(CASE WHEN escrow_status = 'released' AND payout_status = 'pending' THEN signed END), 0) AS released,
			COALESCE(SUM(CASE WHEN escrow_status = 'released' AND payout_status = 'included_in_payout' THEN signed END), 0) AS paid,
			COALESCE(SUM(CASE WHEN escrow_status = 'refunded' THEN signed END), 0) AS refunded
		FROM (
			SELECT escrow_status, payout_status,
				CASE WHEN type = 'credit' THEN amount ELSE -amount END AS signed
			FROM escrow_ledger_entries
			WHERE vendor_id = $1
		) e`,
		vendorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor statement: %w", err)
	}
	return st, nil
}

// ListByBooking returns the ledger entries of a booking, oldest first
func (r *EscrowRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.EscrowLedgerEntry, error) {
	var entries []*models.EscrowLedgerEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT `+escrowColumns+` FROM escrow_ledger_entries WHERE booking_id = $1 ORDER BY created_at`,
		bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list escrow entries: %w", err)
	}
	return entries, nil
}

// RefundAdjustment describes the ledger effect of a gateway refund
type RefundAdjustment struct {
	BookingID   uuid.UUID
	VendorID    uuid.UUID
	Currency    string
	ReleaseDate time.Time
	// Retained is the vendor share kept after a partial refund
	Retained int64
	Now      time.Time
}

// RefundResult reports what ApplyRefund changed
type RefundResult struct {
	RefundedEntries int64
	ClawedBack      int64
	Retained        int64
}

// ApplyRefund brings a refunded booking's ledger in line with the vendor
// share left after the cumulative refund, in one transaction. The booking's
// entries are locked and planned with models.PlanRefund: unpaid credits
// become refunded, credits already paid out get a released claw-back debit,
// and a held retained credit is written for partial refunds. A replayed or
// stale refund plans nothing.
func (r *EscrowRepository) ApplyRefund(ctx context.Context, adj RefundAdjustment) (*RefundResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var entries []*models.EscrowLedgerEntry
	err = tx.SelectContext(ctx, &entries,
		`SELECT `+escrowColumns+` FROM escrow_ledger_entries WHERE booking_id = $1 ORDER BY created_at FOR UPDATE`,
		adj.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock escrow entries: %w", err)
	}

	plan := models.PlanRefund(entries, adj.Retained)
	result := &RefundResult{}
	if plan.IsEmpty() {
		return result, nil
	}

	if len(plan.Void) > 0 {
		res, err := tx.ExecContext(ctx, `
			UPDATE escrow_ledger_entries
			SET escrow_status = 'refunded', updated_at = $2
			WHERE id = ANY($1::uuid[]) AND payout_status = 'pending'`,
			plan.Void, adj.Now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to refund escrow entries: %w", err)
		}
		result.RefundedEntries, _ = res.RowsAffected()
	}

	bookingID := adj.BookingID
	if plan.ClawBack > 0 {
		at := adj.Now
		debit := &models.EscrowLedgerEntry{
			ID: uuid.New(), VendorID: adj.VendorID, BookingID: &bookingID,
			Type: models.EntryDebit, Amount: plan.ClawBack, Currency: adj.Currency,
			EscrowStatus: models.EscrowReleased, PayoutStatus: models.EntryPayoutPending,
			ReleaseDate: adj.Now, ReleasedAt: &at, Description: models.EntryDescRefundReverse,
			CreatedAt: adj.Now, UpdatedAt: adj.Now,
		}
		if _, err := tx.ExecContext(ctx, insertEscrowEntry, escrowArgs(debit)...); err != nil {
			return nil, fmt.Errorf("failed to write claw-back debit: %w", err)
		}
		result.ClawedBack = plan.ClawBack
	}

	if plan.Retain > 0 {
		credit := &models.EscrowLedgerEntry{
			ID: uuid.New(), VendorID: adj.VendorID, BookingID: &bookingID,
			Type: models.EntryCredit, Amount: plan.Retain, Currency: adj.Currency,
			EscrowStatus: models.EscrowHeld, PayoutStatus: models.EntryPayoutPending,
			ReleaseDate: adj.ReleaseDate, Description: models.EntryDescRetained,
			CreatedAt: adj.Now, UpdatedAt: adj.Now,
		}
		if _, err := tx.ExecContext(ctx, insertEscrowEntry, escrowArgs(credit)...); err != nil {
			return nil, fmt.Errorf("failed to write retained credit: %w", err)
		}
		result.Retained = plan.Retain
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit escrow refund: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id":       adj.BookingID,
		"refunded_entries": result.RefundedEntries,
		"clawed_back":      result.ClawedBack,
		"retained":         result.Retained,
	}).Info("Escrow refund applied")

	return result, nil
}
