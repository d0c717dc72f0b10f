package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/config"
	"github.com/tripmarket/marketplace-backend/internal/database"
	"github.com/tripmarket/marketplace-backend/internal/models"
	"github.com/tripmarket/marketplace-backend/pkg/money"
	"github.com/tripmarket/marketplace-backend/pkg/notify"
	"github.com/tripmarket/marketplace-backend/pkg/paygate"
)

// PayoutService batches released escrow into vendor transfers
type PayoutService struct {
	vendors  VendorStore
	escrow   EscrowStore
	payouts  PayoutStore
	gateway  paygate.Gateway
	notifier notify.Notifier
	audit    AuditLog
	config   config.PayoutConfig
	currency string
	logger   *logrus.Logger
	now      func() time.Time
}

// NewPayoutService creates a new PayoutService
func NewPayoutService(
	vendors VendorStore,
	escrow EscrowStore,
	payouts PayoutStore,
	gateway paygate.Gateway,
	notifier notify.Notifier,
	audit AuditLog,
	cfg config.PayoutConfig,
	defaultCurrency string,
	logger *logrus.Logger,
) *PayoutService {
	return &PayoutService{
		vendors:  vendors,
		escrow:   escrow,
		payouts:  payouts,
		gateway:  gateway,
		notifier: notifier,
		audit:    audit,
		config:   cfg,
		currency: defaultCurrency,
		logger:   logger,
		now:      time.Now,
	}
}

func schedulesFor(tag models.ScheduleTag) []models.PayoutSchedule {
	switch tag {
	case models.ScheduleDaily:
		return []models.PayoutSchedule{models.PayoutScheduleDaily}
	case models.ScheduleWeekly:
		return []models.PayoutSchedule{models.PayoutScheduleWeekly}
	case models.ScheduleMonthly:
		return []models.PayoutSchedule{models.PayoutScheduleMonthly}
	}
	return nil
}

// RunPayoutBatch pays every eligible vendor on the tag's schedule whose
// released balance reaches the minimum. Per-vendor failures are counted and
// logged; they do not stop the batch.
func (s *PayoutService) RunPayoutBatch(ctx context.Context, tag models.ScheduleTag) (*models.PayoutBatchResult, error) {
	if _, ok := models.ParseScheduleTag(string(tag)); !ok {
		return nil, invalid("tag", fmt.Sprintf("unknown payout schedule %q", tag))
	}
	if tag == "" {
		tag = models.ScheduleAll
	}

	vendors, err := s.vendors.ListPayoutCandidates(ctx, schedulesFor(tag))
	if err != nil {
		return nil, err
	}

	result := &models.PayoutBatchResult{Tag: tag, Vendors: len(vendors)}
	for _, v := range vendors {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		log := s.logger.WithFields(logrus.Fields{"vendor_id": v.ID, "tag": tag})
		if !v.HasPayoutAccount() {
			log.Warn("Vendor has no payout account, skipping")
			result.Skipped++
			continue
		}

		balance, err := s.escrow.VendorBalance(ctx, v.ID)
		if err != nil {
			log.WithError(err).Error("Failed to read vendor balance")
			result.Failed++
			continue
		}
		if balance.Amount < s.config.MinimumAmount {
			result.Skipped++
			continue
		}

		payout := s.newPayout(v, balance, tag)
		if err := s.payouts.CreateWithClaim(ctx, payout, s.config.MinimumAmount, nil); err != nil {
			if errors.Is(err, database.ErrBelowMinimum) {
				result.Skipped++
				continue
			}
			log.WithError(err).Error("Failed to create payout")
			result.Failed++
			continue
		}
		result.Created++

		if err := s.submit(ctx, payout, *v.PayoutAccountID); err != nil {
			result.Failed++
			continue
		}
		result.Submitted++
		result.Total += payout.Amount
	}

	s.logger.WithFields(logrus.Fields{
		"tag":       result.Tag,
		"vendors":   result.Vendors,
		"created":   result.Created,
		"submitted": result.Submitted,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
		"total":     result.Total,
	}).Info("Payout batch finished")

	return result, nil
}

// RunScheduled runs every batch due on now's date
func (s *PayoutService) RunScheduled(ctx context.Context, now time.Time) ([]*models.PayoutBatchResult, error) {
	var results []*models.PayoutBatchResult
	for _, tag := range models.DueScheduleTags(now) {
		res, err := s.RunPayoutBatch(ctx, tag)
		if err != nil {
			return results, fmt.Errorf("payout batch %s: %w", tag, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// ResumeStalled resubmits processing payouts that never reached the gateway.
// The transfer reuses the payout's idempotency key, so a transfer that did
// go through is not duplicated.
func (s *PayoutService) ResumeStalled(ctx context.Context, olderThan time.Time) (int, error) {
	stalled, err := s.payouts.ListStalled(ctx, olderThan)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, p := range stalled {
		v, err := s.vendors.GetByID(ctx, p.VendorID)
		if err != nil {
			s.logger.WithError(err).WithField("payout_id", p.ID).Error("Failed to load vendor of stalled payout")
			continue
		}
		if v == nil || !v.HasPayoutAccount() {
			if _, err := s.payouts.MarkFailed(ctx, p.ID, "vendor payout account missing"); err != nil {
				s.logger.WithError(err).WithField("payout_id", p.ID).Error("Failed to fail stalled payout")
			}
			continue
		}
		if err := s.submit(ctx, p, *v.PayoutAccountID); err == nil {
			resumed++
		}
	}

	if len(stalled) > 0 {
		s.logger.WithFields(logrus.Fields{"stalled": len(stalled), "resumed": resumed}).Info("Stalled payouts resumed")
	}
	return resumed, nil
}

// RequestEarlyPayout pays a vendor's released balance now regardless of the
// minimum, minus the early payout fee.
func (s *PayoutService) RequestEarlyPayout(ctx context.Context, vendorID uuid.UUID) (*models.Payout, error) {
	v, err := s.vendors.GetByID(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, notFound("vendor_id")
	}
	if !v.IsPayoutEligible() {
		return nil, invalid("vendor_id", "vendor is not eligible for payouts")
	}
	if !v.HasPayoutAccount() {
		return nil, invalid("payout_account", "no payout account linked")
	}

	balance, err := s.escrow.VendorBalance(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	fee := money.ApplyBps(balance.Amount, s.config.EarlyPayoutFeeBps)
	if balance.Amount-fee <= 0 {
		return nil, conflict("balance", "no released balance available")
	}

	payout := s.newPayout(v, balance, models.ScheduleEarly)
	payout.IsEarly = true
	payout.EarlyFee = fee

	var feeEntry *models.EscrowLedgerEntry
	if fee > 0 {
		now := payout.CreatedAt
		feeEntry = &models.EscrowLedgerEntry{
			ID:           uuid.New(),
			VendorID:     v.ID,
			PayoutID:     &payout.ID,
			Type:         models.EntryDebit,
			Amount:       fee,
			Currency:     payout.Currency,
			EscrowStatus: models.EscrowReleased,
			PayoutStatus: models.EntryPayoutPending,
			ReleaseDate:  now,
			ReleasedAt:   &now,
			Description:  models.EntryDescEarlyPayout,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	if err := s.payouts.CreateWithClaim(ctx, payout, 1, feeEntry); err != nil {
		if errors.Is(err, database.ErrBelowMinimum) {
			return nil, conflict("balance", "no released balance available")
		}
		return nil, err
	}

	if err := s.submit(ctx, payout, *v.PayoutAccountID); err != nil {
		return payout, err
	}
	return payout, nil
}

func (s *PayoutService) newPayout(v *models.Vendor, balance *models.VendorBalance, tag models.ScheduleTag) *models.Payout {
	now := s.now()
	currency := balance.Currency
	if currency == "" {
		currency = v.DefaultCurrency
	}
	if currency == "" {
		currency = s.currency
	}
	return &models.Payout{
		ID:            uuid.New(),
		VendorID:      v.ID,
		Currency:      currency,
		Status:        models.PayoutStatusProcessing,
		ScheduleTag:   tag,
		ScheduledDate: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// submit hands a processing payout to the gateway. On a gateway error the
// payout is failed and its entries return to the payable balance.
func (s *PayoutService) submit(ctx context.Context, p *models.Payout, destination string) error {
	log := s.logger.WithFields(logrus.Fields{
		"payout_id": p.ID,
		"vendor_id": p.VendorID,
		"amount":    p.Amount,
	})

	transfer, err := s.gateway.CreateTransfer(ctx, paygate.TransferParams{
		Destination:   destination,
		Amount:        p.Amount,
		Currency:      p.Currency,
		TransferGroup: p.ID.String(),
		Metadata: map[string]string{
			"payout_id": p.ID.String(),
			"vendor_id": p.VendorID.String(),
		},
		IdempotencyKey: "payout-" + p.ID.String(),
	})

	audit := models.NewPaymentAudit(models.PaymentEventTransferSubmitted, models.PaymentSourceBackend).
		SetPayout(p.ID).
		SetPayload(map[string]interface{}{"amount": p.Amount, "currency": p.Currency})

	if err != nil {
		log.WithError(err).Error("Transfer request failed, reverting payout")
		if _, markErr := s.payouts.MarkFailed(ctx, p.ID, err.Error()); markErr != nil {
			log.WithError(markErr).Error("Failed to revert payout")
		}
		audit.EventType = models.PaymentEventTransferFailed
		audit.SetError(err.Error(), nil)
		s.logAudit(ctx, audit)
		return &GatewayError{Op: "create_transfer", Err: err}
	}

	ok, err := s.payouts.MarkSubmitted(ctx, p.ID, transfer.ID)
	if err != nil {
		log.WithError(err).Error("Failed to store transfer id")
		return err
	}
	if ok {
		p.Status = models.PayoutStatusInTransit
		p.TransferID = &transfer.ID
	}

	audit.SetGatewayRef(transfer.ID)
	s.logAudit(ctx, audit)
	log.WithField("transfer_id", transfer.ID).Info("Payout submitted")
	return nil
}

func (s *PayoutService) logAudit(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.audit.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Error("Failed to write payment audit")
	}
}
