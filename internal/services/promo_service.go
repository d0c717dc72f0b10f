package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/models"
	"github.com/tripmarket/marketplace-backend/pkg/money"
)

// PromoService validates promo codes. Redemption is recorded by the booking
// repository inside the booking-create transaction.
type PromoService struct {
	promos PromoStore
	logger *logrus.Logger
}

// NewPromoService creates a new PromoService
func NewPromoService(promos PromoStore, logger *logrus.Logger) *PromoService {
	return &PromoService{promos: promos, logger: logger}
}

// PromoCheck is the purchase a promo code is validated against
type PromoCheck struct {
	Code           string
	PurchaseAmount int64
	UserID         uuid.UUID
	VendorID       uuid.UUID
	TripID         uuid.UUID
	Category       string
	Now            time.Time
}

// Validate loads the code and checks it against the purchase. On success it
// returns the promo code; rejections are *InvalidPromoError.
func (s *PromoService) Validate(ctx context.Context, check PromoCheck) (*models.PromoCode, error) {
	code := models.NormalizePromoCode(check.Code)
	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if promo == nil {
		return nil, &InvalidPromoError{Code: code, Reason: PromoNotFound}
	}

	if reason := checkAvailability(promo, check.Now); reason != "" {
		return nil, &InvalidPromoError{Code: code, Reason: reason}
	}

	used, err := s.promos.CountUserUsages(ctx, promo.ID, check.UserID)
	if err != nil {
		return nil, err
	}

	if reason := checkEligibility(promo, used, check); reason != "" {
		s.logger.WithFields(logrus.Fields{
			"promo_code": code,
			"user_id":    check.UserID,
			"reason":     reason,
		}).Debug("Promo code rejected")
		return nil, &InvalidPromoError{Code: code, Reason: reason}
	}
	return promo, nil
}

// Deactivate soft-disables a code
func (s *PromoService) Deactivate(ctx context.Context, code string) error {
	ok, err := s.promos.Deactivate(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to deactivate promo code: %w", err)
	}
	if !ok {
		return notFound("promo_code")
	}
	s.logger.WithField("promo_code", models.NormalizePromoCode(code)).Info("Promo code deactivated")
	return nil
}

// checkAvailability covers active flag, validity window and global limit
func checkAvailability(p *models.PromoCode, now time.Time) PromoRejection {
	if !p.IsActive {
		return PromoInactive
	}
	if now.Before(p.ValidFrom) {
		return PromoNotYetValid
	}
	if now.After(p.ValidUntil) {
		return PromoExpired
	}
	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return PromoUsageLimitReached
	}
	return ""
}

// checkEligibility covers the per-user limit, minimum purchase and the
// vendor, trip and category lists, in that order
func checkEligibility(p *models.PromoCode, userUsages int, check PromoCheck) PromoRejection {
	if p.UsagePerUser > 0 && userUsages >= p.UsagePerUser {
		return PromoUserLimitReached
	}
	if check.PurchaseAmount < p.MinPurchaseAmount {
		return PromoMinPurchaseNotMet
	}

	vendor := check.VendorID.String()
	if models.ContainsFold(p.ExcludedVendors, vendor) {
		return PromoVendorExcluded
	}
	if len(p.ApplicableVendors) > 0 && !models.ContainsFold(p.ApplicableVendors, vendor) {
		return PromoVendorNotApplicable
	}

	trip := check.TripID.String()
	if models.ContainsFold(p.ExcludedTrips, trip) {
		return PromoTripExcluded
	}
	if len(p.ApplicableTrips) > 0 && !models.ContainsFold(p.ApplicableTrips, trip) {
		return PromoTripNotApplicable
	}

	if check.Category != "" && models.ContainsFold(p.ExcludedCategories, check.Category) {
		return PromoCategoryExcluded
	}
	if len(p.ApplicableCategories) > 0 && !models.ContainsFold(p.ApplicableCategories, check.Category) {
		return PromoCategoryNotApplicable
	}
	return ""
}

// CalculateDiscount returns the discount p grants on amount, never more than amount
func CalculateDiscount(p *models.PromoCode, amount int64) int64 {
	if p == nil || amount <= 0 {
		return 0
	}

	var discount int64
	switch p.DiscountType {
	case models.DiscountPercentage:
		discount = money.ApplyBps(amount, p.DiscountValue)
		if p.MaxDiscount != nil && discount > *p.MaxDiscount {
			discount = *p.MaxDiscount
		}
	case models.DiscountFixed:
		discount = p.DiscountValue
	}
	return money.Clamp(discount, 0, amount)
}
