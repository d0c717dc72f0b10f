package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

// PromoCodeRepository handles promo code reads and administrative updates.
// Usage is recorded by BookingRepository.CreateWithPayment.
type PromoCodeRepository struct {
	db *sqlx.DB
}

// NewPromoCodeRepository creates a new PromoCodeRepository
func NewPromoCodeRepository(db *sqlx.DB) *PromoCodeRepository {
	return &PromoCodeRepository{db: db}
}

// GetByCode retrieves a promo code by its normalized code. Returns (nil, nil) when not found.
func (r *PromoCodeRepository) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	query := `
		SELECT id, code, description, discount_type, discount_value, max_discount,
			min_purchase_amount, usage_limit, usage_per_user, used_count,
			valid_from, valid_until,
			applicable_trips, excluded_trips, applicable_vendors, excluded_vendors,
			applicable_categories, excluded_categories,
			is_active, created_at, updated_at
		FROM promo_codes
		WHERE code = $1`

	err := r.db.GetContext(ctx, &promo, query, models.NormalizePromoCode(code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return &promo, nil
}

// CountUserUsages counts how many times a user redeemed a promo code
func (r *PromoCodeRepository) CountUserUsages(ctx context.Context, promoCodeID, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM promo_code_usages WHERE promo_code_id = $1 AND user_id = $2`,
		promoCodeID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count promo usages: %w", err)
	}
	return count, nil
}

// Deactivate soft-disables a promo code. Returns false when the code does not exist.
func (r *PromoCodeRepository) Deactivate(ctx context.Context, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE promo_codes SET is_active = FALSE, updated_at = NOW() WHERE code = $1`,
		models.NormalizePromoCode(code))
	if err != nil {
		return false, fmt.Errorf("failed to deactivate promo code: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
