package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier determines a vendor's commission rate
type SubscriptionTier string

const (
	TierBasic      SubscriptionTier = "basic"
	TierPremium    SubscriptionTier = "premium"
	TierEnterprise SubscriptionTier = "enterprise"
)

// VerificationStatus represents the vendor verification state
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

// PayoutSchedule is how often a vendor wants to be paid
type PayoutSchedule string

const (
	PayoutScheduleDaily   PayoutSchedule = "daily"
	PayoutScheduleWeekly  PayoutSchedule = "weekly"
	PayoutScheduleMonthly PayoutSchedule = "monthly"
)

// Vendor is the catalog record for a trip seller
type Vendor struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	UserID           uuid.UUID        `json:"user_id" db:"user_id"`
	BusinessName     string           `json:"business_name" db:"business_name"`
	SubscriptionTier SubscriptionTier `json:"subscription_tier" db:"subscription_tier"`
	// CommissionRateBps is a legacy per-vendor rate. Pricing uses the tier table instead.
	CommissionRateBps  *int64             `json:"commission_rate_bps,omitempty" db:"commission_rate_bps"`
	VerificationStatus VerificationStatus `json:"verification_status" db:"verification_status"`
	PayoutsEnabled     bool               `json:"payouts_enabled" db:"payouts_enabled"`
	PayoutAccountID    *string            `json:"payout_account_id,omitempty" db:"payout_account_id"`
	PayoutSchedule     PayoutSchedule     `json:"payout_schedule" db:"payout_schedule"`
	DefaultCurrency    string             `json:"default_currency" db:"default_currency"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// IsPayoutEligible returns true if the vendor may receive payouts
func (v *Vendor) IsPayoutEligible() bool {
	return v.VerificationStatus == VerificationApproved && v.PayoutsEnabled
}

// HasPayoutAccount returns true if a payout destination is linked
func (v *Vendor) HasPayoutAccount() bool {
	return v.PayoutAccountID != nil && *v.PayoutAccountID != ""
}
