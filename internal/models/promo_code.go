package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DiscountType represents how a promo code discounts a purchase
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// PromoCode is a discount rule. Usage records live in promo_code_usages.
type PromoCode struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Code         string       `json:"code" db:"code"`
	Description  *string      `json:"description,omitempty" db:"description"`
	DiscountType DiscountType `json:"discount_type" db:"discount_type"`
	// DiscountValue is basis points for percentage codes and minor units for fixed codes
	DiscountValue     int64  `json:"discount_value" db:"discount_value"`
	MaxDiscount       *int64 `json:"max_discount,omitempty" db:"max_discount"`
	MinPurchaseAmount int64  `json:"min_purchase_amount" db:"min_purchase_amount"`
	UsageLimit        *int   `json:"usage_limit,omitempty" db:"usage_limit"`
	UsagePerUser      int    `json:"usage_per_user" db:"usage_per_user"`
	UsedCount         int    `json:"used_count" db:"used_count"`

	ValidFrom  time.Time `json:"valid_from" db:"valid_from"`
	ValidUntil time.Time `json:"valid_until" db:"valid_until"`

	ApplicableTrips      pq.StringArray `json:"applicable_trips" db:"applicable_trips"`
	ExcludedTrips        pq.StringArray `json:"excluded_trips" db:"excluded_trips"`
	ApplicableVendors    pq.StringArray `json:"applicable_vendors" db:"applicable_vendors"`
	ExcludedVendors      pq.StringArray `json:"excluded_vendors" db:"excluded_vendors"`
	ApplicableCategories pq.StringArray `json:"applicable_categories" db:"applicable_categories"`
	ExcludedCategories   pq.StringArray `json:"excluded_categories" db:"excluded_categories"`

	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PromoCodeUsage is one redemption of a promo code against a booking
type PromoCodeUsage struct {
	ID              uuid.UUID `json:"id" db:"id"`
	PromoCodeID     uuid.UUID `json:"promo_code_id" db:"promo_code_id"`
	UserID          uuid.UUID `json:"user_id" db:"user_id"`
	BookingID       uuid.UUID `json:"booking_id" db:"booking_id"`
	DiscountApplied int64     `json:"discount_applied" db:"discount_applied"`
	UsedAt          time.Time `json:"used_at" db:"used_at"`
}

// NormalizePromoCode trims and upper-cases a code
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ContainsFold reports whether list contains v, ignoring case
func ContainsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
