package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

// VendorRepository handles vendor reads and the payout-account status updates
// pushed by the payment gateway
type VendorRepository struct {
	db *sqlx.DB
}

// NewVendorRepository creates a new VendorRepository
func NewVendorRepository(db *sqlx.DB) *VendorRepository {
	return &VendorRepository{db: db}
}

const vendorColumns = `
	id, user_id, business_name, subscription_tier, commission_rate_bps,
	verification_status, payouts_enabled, payout_account_id, payout_schedule,
	default_currency, created_at, updated_at`

// GetByID retrieves a vendor by ID. Returns (nil, nil) when not found.
func (r *VendorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	return r.getOne(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, id)
}

// GetByUserID retrieves the vendor owned by a user account
func (r *VendorRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Vendor, error) {
	return r.getOne(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE user_id = $1`, userID)
}

func (r *VendorRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Vendor, error) {
	var v models.Vendor
	err := r.db.GetContext(ctx, &v, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	return &v, nil
}

// ListPayoutCandidates returns approved, payout-enabled vendors on any of the
// given schedules. An empty schedule list means every schedule.
func (r *VendorRepository) ListPayoutCandidates(ctx context.Context, schedules []models.PayoutSchedule) ([]*models.Vendor, error) {
	var vendors []*models.Vendor
	query := `
		SELECT ` + vendorColumns + ` FROM vendors
		WHERE verification_status = 'approved' AND payouts_enabled = TRUE
		  AND (cardinality($1::text[]) = 0 OR payout_schedule = ANY($1::text[]))
		ORDER BY created_at`

	tags := make([]string, len(schedules))
	for i, s := range schedules {
		tags[i] = string(s)
	}

	if err := r.db.SelectContext(ctx, &vendors, query, pq.Array(tags)); err != nil {
		return nil, fmt.Errorf("failed to list payout candidates: %w", err)
	}
	return vendors, nil
}

// UpdateAccountStatus applies a payout-account update keyed by the gateway account id.
// Returns false when no vendor has that account.
func (r *VendorRepository) UpdateAccountStatus(ctx context.Context, accountID string, payoutsEnabled bool, verification models.VerificationStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE vendors SET payouts_enabled = $1, verification_status = $2, updated_at = NOW()
		WHERE payout_account_id = $3`,
		payoutsEnabled, verification, accountID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update vendor account status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
