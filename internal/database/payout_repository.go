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

// ErrBelowMinimum is returned when the claimed entries do not reach the payout threshold
var ErrBelowMinimum = errors.New("claimed balance below payout minimum")

// PayoutRepository handles payouts and the ledger claims behind them
type PayoutRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPayoutRepository creates a new PayoutRepository
func NewPayoutRepository(db *sqlx.DB, logger *logrus.Logger) *PayoutRepository {
	return &PayoutRepository{db: db, logger: logger}
}

const payoutColumns = `
	id, vendor_id, amount, currency, entry_ids, booking_ids, status, schedule_tag,
	scheduled_date, period_start, period_end, transfer_id, failure_reason,
	is_early, early_fee, completed_at, created_at, updated_at`

// claimedEntry is one ledger row swept into a payout
type claimedEntry struct {
	ID          uuid.UUID        `db:"id"`
	BookingID   *uuid.UUID       `db:"booking_id"`
	Type        models.EntryType `db:"type"`
	Amount      int64            `db:"amount"`
	ReleaseDate time.Time        `db:"release_date"`
}

// CreateWithClaim inserts payout as processing and claims every released,
// payout-pending entry of its vendor in the same transaction. The payout
// amount is the net of the rows actually claimed; if that falls below
// minimum nothing is written and ErrBelowMinimum is returned. fee, when set,
// is a debit written before the claim so the payout nets it out.
func (r *PayoutRepository) CreateWithClaim(ctx context.Context, payout *models.Payout, minimum int64, fee *models.EscrowLedgerEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payouts (
			id, vendor_id, amount, currency, status, schedule_tag, scheduled_date,
			is_early, early_fee, created_at, updated_at
		) VALUES ($1, $2, 0, $3, 'processing', $4, $5, $6, $7, $8, $8)`,
		payout.ID, payout.VendorID, payout.Currency, payout.ScheduleTag, payout.ScheduledDate,
		payout.IsEarly, payout.EarlyFee, payout.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payout: %w", err)
	}

	if fee != nil {
		if _, err := tx.ExecContext(ctx, insertEscrowEntry, escrowArgs(fee)...); err != nil {
			return fmt.Errorf("failed to write payout fee: %w", err)
		}
	}

	var claimed []claimedEntry
	err = tx.SelectContext(ctx, &claimed, `
		UPDATE escrow_ledger_entries
		SET payout_status = 'included_in_payout', payout_id = $1, updated_at = $3
		WHERE vendor_id = $2 AND escrow_status = 'released' AND payout_status = 'pending'
		RETURNING id, booking_id, type, amount, release_date`,
		payout.ID, payout.VendorID, payout.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to claim ledger entries: %w", err)
	}

	var amount int64
	entryIDs := make(models.UUIDArray, 0, len(claimed))
	bookingIDs := make(models.UUIDArray, 0, len(claimed))
	var periodStart, periodEnd *time.Time
	for i := range claimed {
		e := claimed[i]
		if e.Type == models.EntryDebit {
			amount -= e.Amount
		} else {
			amount += e.Amount
		}
		entryIDs = append(entryIDs, e.ID)
		if e.BookingID != nil && !bookingIDs.Contains(*e.BookingID) {
			bookingIDs = append(bookingIDs, *e.BookingID)
		}
		if periodStart == nil || e.ReleaseDate.Before(*periodStart) {
			periodStart = &claimed[i].ReleaseDate
		}
		if periodEnd == nil || e.ReleaseDate.After(*periodEnd) {
			periodEnd = &claimed[i].ReleaseDate
		}
	}

	if amount < minimum || amount <= 0 {
		return fmt.Errorf("%w: claimed %d, minimum %d", ErrBelowMinimum, amount, minimum)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payouts SET amount = $1, entry_ids = $2, booking_ids = $3,
			period_start = $4, period_end = $5
		WHERE id = $6`,
		amount, entryIDs, bookingIDs, periodStart, periodEnd, payout.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize payout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payout: %w", err)
	}

	payout.Amount = amount
	payout.EntryIDs = entryIDs
	payout.BookingIDs = bookingIDs
	payout.PeriodStart = periodStart
	payout.PeriodEnd = periodEnd
	payout.Status = models.PayoutStatusProcessing

	r.logger.WithFields(logrus.Fields{
		"payout_id": payout.ID,
		"vendor_id": payout.VendorID,
		"amount":    amount,
		"entries":   len(entryIDs),
	}).Info("Payout created")

	return nil
}

// GetByID retrieves a payout. Returns (nil, nil) when not found.
func (r *PayoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	return r.getOne(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
}

// GetByTransferID retrieves a payout by its gateway transfer id
func (r *PayoutRepository) GetByTransferID(ctx context.Context, transferID string) (*models.Payout, error) {
	return r.getOne(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE transfer_id = $1`, transferID)
}

func (r *PayoutRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Payout, error) {
	var p models.Payout
	err := r.db.GetContext(ctx, &p, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return &p, nil
}

// ListStalled returns processing payouts never handed to the gateway
func (r *PayoutRepository) ListStalled(ctx context.Context, olderThan time.Time) ([]*models.Payout, error) {
	var payouts []*models.Payout
	err := r.db.SelectContext(ctx, &payouts, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE status = 'processing' AND transfer_id IS NULL AND updated_at < $1
		ORDER BY created_at`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled payouts: %w", err)
	}
	return payouts, nil
}

// MarkSubmitted records the gateway transfer of a processing payout
func (r *PayoutRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, transferID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payouts SET status = 'in_transit', transfer_id = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'processing'`,
		transferID, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark payout submitted: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkCompleted completes a payout. Completed payouts are never written again.
func (r *PayoutRepository) MarkCompleted(ctx context.Context, id uuid.UUID, transferID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payouts SET status = 'completed', transfer_id = COALESCE(transfer_id, $1),
			completed_at = $2, updated_at = $2
		WHERE id = $3 AND status IN ('processing', 'in_transit')`,
		transferID, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark payout completed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkFailed fails a payout and hands its entries back to the payable balance
// so the next batch picks them up. Fee debits of the failed payout are voided.
func (r *PayoutRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE payouts SET status = 'failed', failure_reason = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ('processing', 'in_transit')`,
		reason, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark payout failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE escrow_ledger_entries SET escrow_status = 'refunded', updated_at = NOW()
		WHERE payout_id = $1 AND type = 'debit' AND description = $2`,
		id, models.EntryDescEarlyPayout,
	)
	if err != nil {
		return false, fmt.Errorf("failed to void payout fee: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE escrow_ledger_entries SET payout_status = 'pending', payout_id = NULL, updated_at = NOW()
		WHERE payout_id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to release payout entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit payout failure: %w", err)
	}
	return true, nil
}
