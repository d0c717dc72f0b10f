package services

import (
	"github.com/tripmarket/marketplace-backend/internal/config"
	"github.com/tripmarket/marketplace-backend/internal/models"
	"github.com/tripmarket/marketplace-backend/pkg/money"
)

// PriceBreakdown is the result of pricing a booking. It is frozen into the
// booking as its pricing snapshot.
type PriceBreakdown = models.PricingSnapshot

// CommissionTiers maps a vendor subscription tier to its commission in bps
type CommissionTiers map[models.SubscriptionTier]int64

// PricingConfig is everything pricing depends on besides its inputs
type PricingConfig struct {
	PlatformFeeBps  int64
	CommissionTiers CommissionTiers
}

// NewPricingConfig builds the pricing table from application config
func NewPricingConfig(cfg config.PricingConfig) PricingConfig {
	return PricingConfig{
		PlatformFeeBps: cfg.PlatformFeeBps,
		CommissionTiers: CommissionTiers{
			models.TierBasic:      cfg.BasicCommissionBps,
			models.TierPremium:    cfg.PremiumCommissionBps,
			models.TierEnterprise: cfg.EnterpriseCommissionBps,
		},
	}
}

// CommissionBps returns the rate for tier. Unknown tiers pay the basic rate.
func (c PricingConfig) CommissionBps(tier models.SubscriptionTier) int64 {
	if bps, ok := c.CommissionTiers[tier]; ok {
		return money.Clamp(bps, 0, money.BasisPointsScale)
	}
	return money.Clamp(c.CommissionTiers[models.TierBasic], 0, money.BasisPointsScale)
}

// PriceInput is what a booking is priced from
type PriceInput struct {
	UnitPrice     int64
	GuestCount    int
	AddOns        []models.AddOn
	PromoDiscount int64
	Currency      string
	Tier          models.SubscriptionTier
}

// Price computes a booking's price breakdown. Negative inputs count as zero
// and the discount never exceeds base price plus add-ons.
func Price(in PriceInput, cfg PricingConfig) PriceBreakdown {
	unit := in.UnitPrice
	if unit < 0 {
		unit = 0
	}
	guests := int64(in.GuestCount)
	if guests < 0 {
		guests = 0
	}

	base := unit * guests

	var addOns int64
	for _, a := range in.AddOns {
		if a.Price <= 0 || a.Quantity <= 0 {
			continue
		}
		addOns += a.Price * int64(a.Quantity)
	}

	subtotal := base + addOns
	fee := money.ApplyBps(subtotal, cfg.PlatformFeeBps)
	discount := money.Clamp(in.PromoDiscount, 0, subtotal)

	commission := cfg.CommissionBps(in.Tier)
	vendorPayout := base - money.ApplyBps(base, commission)

	return PriceBreakdown{
		BasePrice:          base,
		AddOnsTotal:        addOns,
		PlatformFee:        fee,
		Discount:           discount,
		TotalPrice:         money.Clamp(subtotal+fee-discount, 0, subtotal+fee),
		VendorPayoutAmount: vendorPayout,
		CommissionBps:      commission,
		Currency:           in.Currency,
	}
}
