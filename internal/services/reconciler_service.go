package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/database"
	"github.com/tripmarket/marketplace-backend/internal/models"
	"github.com/tripmarket/marketplace-backend/pkg/notify"
	"github.com/tripmarket/marketplace-backend/pkg/paygate"
)

// ReconcilerConfig holds webhook replay settings
type ReconcilerConfig struct {
	ReplayMaxAttempts int
	// ReplayStaleAfter is how long a received event may sit unprocessed
	// before the replay job picks it up
	ReplayStaleAfter time.Duration
	ReplayBatchSize  int
}

// RequestMeta is the HTTP context of a webhook delivery, kept for the audit trail
type RequestMeta struct {
	IP        string
	UserAgent string
	Client    string
}

// ReconcilerService applies verified gateway events to bookings, payments,
// escrow and payouts. Every event is stored first so redeliveries are
// skipped and failures can be replayed.
type ReconcilerService struct {
	events   GatewayEventStore
	bookings BookingStore
	payments PaymentStore
	payouts  PayoutStore
	vendors  VendorStore
	booking  *BookingService
	escrow   *EscrowService
	notifier notify.Notifier
	audit    AuditLog
	config   ReconcilerConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewReconcilerService creates a new ReconcilerService
func NewReconcilerService(
	events GatewayEventStore,
	bookings BookingStore,
	payments PaymentStore,
	payouts PayoutStore,
	vendors VendorStore,
	booking *BookingService,
	escrow *EscrowService,
	notifier notify.Notifier,
	audit AuditLog,
	config ReconcilerConfig,
	logger *logrus.Logger,
) *ReconcilerService {
	if config.ReplayMaxAttempts <= 0 {
		config.ReplayMaxAttempts = 5
	}
	if config.ReplayStaleAfter <= 0 {
		config.ReplayStaleAfter = 5 * time.Minute
	}
	if config.ReplayBatchSize <= 0 {
		config.ReplayBatchSize = 100
	}
	return &ReconcilerService{
		events:   events,
		bookings: bookings,
		payments: payments,
		payouts:  payouts,
		vendors:  vendors,
		booking:  booking,
		escrow:   escrow,
		notifier: notifier,
		audit:    audit,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest stores and processes one verified webhook body. It returns an error
// only when the body is not an event envelope or the event could not be
// stored; processing failures are kept on the stored event for replay.
func (s *ReconcilerService) Ingest(ctx context.Context, payload []byte, meta RequestMeta) error {
	env, err := paygate.ParseEnvelope(payload)
	if err != nil {
		return err
	}

	stored, inserted, err := s.events.Record(ctx, &models.GatewayEvent{
		ID:         env.ID,
		Type:       env.Type,
		Payload:    payload,
		ReceivedAt: s.now(),
	})
	if err != nil {
		return err
	}

	log := s.logger.WithFields(logrus.Fields{"event_id": env.ID, "event_type": env.Type})
	if !inserted {
		switch stored.Status {
		case models.GatewayEventProcessed, models.GatewayEventIgnored:
			log.Debug("Duplicate gateway event, already handled")
			return nil
		}
		log.WithField("attempts", stored.Attempts).Info("Redelivered gateway event, processing again")
	}

	s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceWebhook).
		SetGatewayEvent(env.ID).
		SetMetadata(meta.IP, meta.UserAgent, meta.Client).
		SetPayload(map[string]interface{}{"type": env.Type}))

	if err := s.process(ctx, stored); err != nil {
		log.WithError(err).Error("Gateway event processing failed, kept for replay")
	}
	return nil
}

// ReplayFailed re-dispatches failed events and events stuck in received.
// Returns the number that processed successfully this time.
func (s *ReconcilerService) ReplayFailed(ctx context.Context) (int, error) {
	now := s.now()
	events, err := s.events.ListReplayable(ctx, s.config.ReplayMaxAttempts, now.Add(-s.config.ReplayStaleAfter), s.config.ReplayBatchSize)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		if err := s.process(ctx, ev); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"event_id": ev.ID,
				"attempts": ev.Attempts + 1,
			}).Warn("Gateway event replay failed")
			continue
		}
		replayed++
	}

	if len(events) > 0 {
		s.logger.WithFields(logrus.Fields{"candidates": len(events), "replayed": replayed}).Info("Gateway event replay finished")
	}
	return replayed, nil
}

// process applies one stored event and records the outcome on it
func (s *ReconcilerService) process(ctx context.Context, ev *models.GatewayEvent) error {
	log := s.logger.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type})

	event, err := paygate.ParseEvent(ev.Payload)
	if err != nil {
		if errors.Is(err, paygate.ErrUnsupportedEvent) || errors.Is(err, paygate.ErrMalformedEvent) {
			log.WithError(err).Info("Ignoring gateway event")
			return s.events.MarkIgnored(ctx, ev.ID, err.Error(), s.now())
		}
		return err
	}

	err = event.Accept(&eventHandler{ctx: ctx, svc: s, eventID: ev.ID})

	var ce *ConsistencyError
	switch {
	case err == nil:
		return s.events.MarkProcessed(ctx, ev.ID, s.now())

	case errors.As(err, &ce):
		log.WithFields(logrus.Fields{"kind": ce.Kind, "ref": ce.Ref}).Error("Gateway event does not match local state")
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceWebhook).
			SetGatewayEvent(ev.ID).
			SetGatewayRef(ce.Ref).
			SetError(ce.Error(), &ce.Kind).
			FlagForReview())
		return s.events.MarkIgnored(ctx, ev.ID, ce.Error(), s.now())

	case errors.Is(err, ErrTerminalState):
		log.WithError(err).Warn("Gateway event targets a booking in a terminal state")
		return s.events.MarkIgnored(ctx, ev.ID, err.Error(), s.now())
	}

	if markErr := s.events.MarkFailed(ctx, ev.ID, err.Error(), s.now()); markErr != nil {
		log.WithError(markErr).Error("Failed to mark gateway event failed")
	}
	return err
}

func (s *ReconcilerService) logAudit(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.audit.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Error("Failed to write payment audit")
	}
}

// ============================================================================
// EVENT HANDLERS
// ============================================================================

// eventHandler applies each event variant. Every handler is safe to run
// more than once for the same event.
type eventHandler struct {
	ctx     context.Context
	svc     *ReconcilerService
	eventID string
}

var _ paygate.EventVisitor = (*eventHandler)(nil)

func (h *eventHandler) bookingByIntent(ctx context.Context, intentID string) (*models.Booking, error) {
	b, err := h.svc.bookings.GetByPaymentIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &ConsistencyError{Kind: ConsistencyUnknownIntent, Ref: intentID}
	}
	return b, nil
}

func (h *eventHandler) VisitPaymentSucceeded(e *paygate.PaymentSucceeded) error {
	ctx := h.ctx
	s := h.svc
	now := s.now()

	b, err := h.bookingByIntent(ctx, e.PaymentIntentID)
	if err != nil {
		return err
	}

	audit := models.NewPaymentAudit(models.PaymentEventSuccess, models.PaymentSourceWebhook).
		SetBooking(b.ID).
		SetGatewayEvent(h.eventID).
		SetGatewayRef(e.PaymentIntentID)
	if !audit.SetAmounts(b.Pricing.TotalPrice, e.Amount, e.Currency) {
		return &ConsistencyError{Kind: ConsistencyAmountMismatch, Ref: e.PaymentIntentID}
	}

	payment, err := h.markPaymentSucceeded(ctx, b, e, now)
	if err != nil {
		return err
	}
	audit.SetPayment(payment.ID).SetPaymentStatus(string(payment.Status))
	s.logAudit(ctx, audit)

	if _, ok := b.State.(models.Cancelled); ok {
		return &ConsistencyError{Kind: ConsistencyPaidAfterCancel, Ref: e.PaymentIntentID}
	}

	confirmed, err := s.booking.Confirm(ctx, b)
	if errors.Is(err, ErrTerminalState) {
		return &ConsistencyError{Kind: ConsistencyPaidAfterCancel, Ref: e.PaymentIntentID}
	}
	if err != nil {
		return err
	}

	// The credit is written even when the booking was already confirmed so
	// a replay after a crash between the two writes completes the event.
	if _, err := s.escrow.CreditBooking(ctx, b, now); err != nil {
		return err
	}

	if confirmed {
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventBookingConfirmed, models.PaymentSourceWebhook).
			SetBooking(b.ID).
			SetPayment(payment.ID).
			SetGatewayEvent(h.eventID))
	}
	return nil
}

// markPaymentSucceeded upserts the booking's payment by intent id and moves
// it to succeeded unless it already got there or further
func (h *eventHandler) markPaymentSucceeded(ctx context.Context, b *models.Booking, e *paygate.PaymentSucceeded, now time.Time) (*models.Payment, error) {
	s := h.svc
	payment, err := s.payments.GetByIntentID(ctx, e.PaymentIntentID)
	if err != nil {
		return nil, err
	}

	if payment == nil {
		intentID := e.PaymentIntentID
		payment = &models.Payment{
			ID:              uuid.New(),
			BookingID:       b.ID,
			TravelerID:      b.TravelerID,
			Amount:          e.Amount,
			Currency:        e.Currency,
			Type:            models.PaymentTypeFull,
			Status:          models.PaymentStatusPending,
			PaymentIntentID: &intentID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := s.payments.CreateIfAbsent(ctx, payment); err != nil {
			return nil, err
		}
		if payment, err = s.payments.GetByIntentID(ctx, intentID); err != nil {
			return nil, err
		}
		if payment == nil {
			return nil, fmt.Errorf("payment for intent %s not found after insert", intentID)
		}
	}

	if !payment.Status.CanTransitionTo(models.PaymentStatusSucceeded) {
		return payment, nil
	}

	from := payment.Status
	payment.Status = models.PaymentStatusSucceeded
	if e.ChargeID != "" {
		chargeID := e.ChargeID
		payment.ChargeID = &chargeID
	}
	payment.GatewayFee = e.Fee
	payment.NetAmount = e.Amount - e.Fee
	payment.PaidAt = &now
	payment.UpdatedAt = now

	ok, err := s.payments.UpdateStatus(ctx, payment, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.WithField("payment_id", payment.ID).Debug("Payment already moved on")
	}
	return payment, nil
}

func (h *eventHandler) VisitPaymentFailed(e *paygate.PaymentFailed) error {
	ctx := h.ctx
	s := h.svc
	now := s.now()

	b, err := h.bookingByIntent(ctx, e.PaymentIntentID)
	if err != nil {
		return err
	}

	payment, err := s.payments.GetByIntentID(ctx, e.PaymentIntentID)
	if err != nil {
		return err
	}
	if payment != nil && payment.Status.CanTransitionTo(models.PaymentStatusFailed) {
		from := payment.Status
		payment.Status = models.PaymentStatusFailed
		if e.FailureMessage != "" {
			msg := e.FailureMessage
			payment.FailureReason = &msg
		}
		payment.UpdatedAt = now
		if _, err := s.payments.UpdateStatus(ctx, payment, from); err != nil {
			return err
		}
	}

	audit := models.NewPaymentAudit(models.PaymentEventFailed, models.PaymentSourceWebhook).
		SetBooking(b.ID).
		SetGatewayEvent(h.eventID).
		SetGatewayRef(e.PaymentIntentID)
	if e.FailureMessage != "" {
		code := e.FailureCode
		audit.SetError(e.FailureMessage, &code)
	}
	s.logAudit(ctx, audit)

	prev := b.State
	err = b.MarkPaymentFailed(now)
	if errors.Is(err, models.ErrAlreadyApplied) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("payment failed for booking %s in status %s: %w", b.ID, prev.Status(), ErrTerminalState)
	}

	_, wasAwaiting := prev.(models.AwaitingPayment)
	ok, err := s.bookings.Transition(ctx, b, prev, database.TransitionOptions{RestoreSeats: wasAwaiting})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("booking %s changed while applying payment failure", b.ID)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":   b.ID,
		"failure_code": e.FailureCode,
	}).Info("Booking cancelled after failed payment")
	return nil
}

func (h *eventHandler) VisitChargeRefunded(e *paygate.ChargeRefunded) error {
	ctx := h.ctx
	s := h.svc
	now := s.now()

	var payment *models.Payment
	var err error
	if e.ChargeID != "" {
		if payment, err = s.payments.GetByChargeID(ctx, e.ChargeID); err != nil {
			return err
		}
	}
	if payment == nil && e.PaymentIntentID != "" {
		if payment, err = s.payments.GetByIntentID(ctx, e.PaymentIntentID); err != nil {
			return err
		}
	}
	ref := e.ChargeID
	if ref == "" {
		ref = e.PaymentIntentID
	}
	if payment == nil {
		return &ConsistencyError{Kind: ConsistencyUnknownCharge, Ref: ref}
	}

	b, err := s.bookings.GetByID(ctx, payment.BookingID)
	if err != nil {
		return err
	}
	if b == nil {
		return &ConsistencyError{Kind: ConsistencyUnknownCharge, Ref: ref}
	}

	refunded := e.AmountRefunded
	if refunded <= 0 || refunded > payment.Amount {
		return &ConsistencyError{Kind: ConsistencyAmountMismatch, Ref: ref}
	}

	// The refund can overtake the payment it reverses. Failing the event
	// keeps it for the replay job, which applies it once the payment landed.
	unpaid := payment.Status == models.PaymentStatusPending || payment.Status == models.PaymentStatusProcessing
	if _, awaiting := b.State.(models.AwaitingPayment); awaiting || unpaid {
		return fmt.Errorf("refund for booking %s in status %s: %w", b.ID, payment.Status, ErrRefundBeforePayment)
	}

	// Amounts are cumulative, so an older event delivered late must not
	// shrink what was already recorded.
	if payment.Status == models.PaymentStatusRefunded && payment.RefundAmount != nil && *payment.RefundAmount > refunded {
		refunded = *payment.RefundAmount
	}

	if err := h.recordPaymentRefund(ctx, payment, refunded, e.RefundID, now); err != nil {
		return err
	}

	prev := b.State
	err = b.MarkRefunded(now, refunded, e.RefundID)
	switch {
	case errors.Is(err, models.ErrAlreadyApplied):
	case err != nil:
		return &ConsistencyError{Kind: ConsistencyUnknownCharge, Ref: ref}
	default:
		_, wasConfirmed := prev.(models.Confirmed)
		ok, err := s.bookings.Transition(ctx, b, prev, database.TransitionOptions{RestoreSeats: wasConfirmed})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("booking %s changed while applying refund", b.ID)
		}
	}

	result, err := s.escrow.ApplyRefund(ctx, b, refunded, now)
	if err != nil {
		return err
	}

	eventType := models.PaymentEventRefundCompleted
	if !e.IsFull() {
		eventType = models.PaymentEventPartialRefund
	}
	s.logAudit(ctx, models.NewPaymentAudit(eventType, models.PaymentSourceWebhook).
		SetBooking(b.ID).
		SetPayment(payment.ID).
		SetGatewayEvent(h.eventID).
		SetGatewayRef(ref).
		SetPayload(map[string]interface{}{
			"refunded":         refunded,
			"refunded_entries": result.RefundedEntries,
			"clawed_back":      result.ClawedBack,
			"retained":         result.Retained,
		}))

	s.logger.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"refunded":    refunded,
		"clawed_back": result.ClawedBack,
		"retained":    result.Retained,
	}).Info("Refund applied")
	return nil
}

// recordPaymentRefund moves the payment to refunded, or raises the refunded
// amount of one that already is
func (h *eventHandler) recordPaymentRefund(ctx context.Context, payment *models.Payment, refunded int64, refundID string, now time.Time) error {
	from := payment.Status
	switch {
	case payment.Status.CanTransitionTo(models.PaymentStatusRefunded):
	case payment.Status == models.PaymentStatusRefunded && (payment.RefundAmount == nil || *payment.RefundAmount < refunded):
	default:
		return nil
	}

	status := string(models.RefundStatusProcessed)
	payment.Status = models.PaymentStatusRefunded
	payment.RefundAmount = &refunded
	payment.RefundStatus = &status
	payment.RefundedAt = &now
	if refundID != "" {
		payment.RefundID = &refundID
	}
	payment.UpdatedAt = now

	ok, err := h.svc.payments.UpdateStatus(ctx, payment, from)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("payment %s changed while applying refund", payment.ID)
	}
	return nil
}

// payoutForTransfer finds a payout by transfer id, falling back to the
// transfer group, which carries the payout id
func (h *eventHandler) payoutForTransfer(ctx context.Context, transferID, group string) (*models.Payout, error) {
	s := h.svc
	if transferID != "" {
		p, err := s.payouts.GetByTransferID(ctx, transferID)
		if err != nil || p != nil {
			return p, err
		}
	}
	if id, err := uuid.Parse(group); err == nil {
		p, err := s.payouts.GetByID(ctx, id)
		if err != nil || p != nil {
			return p, err
		}
	}
	ref := transferID
	if ref == "" {
		ref = group
	}
	return nil, &ConsistencyError{Kind: ConsistencyUnknownPayout, Ref: ref}
}

func (h *eventHandler) VisitTransferCreated(e *paygate.TransferCreated) error {
	ctx := h.ctx
	s := h.svc
	now := s.now()

	p, err := h.payoutForTransfer(ctx, e.TransferID, e.TransferGroup)
	if err != nil {
		return err
	}

	completed, err := s.payouts.MarkCompleted(ctx, p.ID, e.TransferID, now)
	if err != nil {
		return err
	}
	if !completed {
		return nil
	}

	s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventTransferCompleted, models.PaymentSourceWebhook).
		SetPayout(p.ID).
		SetGatewayEvent(h.eventID).
		SetGatewayRef(e.TransferID))

	if err := s.notifier.PayoutProcessed(ctx, notify.PayoutEvent{
		PayoutID:   p.ID,
		VendorID:   p.VendorID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		TransferID: e.TransferID,
		OccurredAt: now,
	}); err != nil {
		s.logger.WithError(err).WithField("payout_id", p.ID).Warn("Failed to publish notification")
	}
	return nil
}

func (h *eventHandler) VisitTransferFailed(e *paygate.TransferFailed) error {
	ctx := h.ctx
	s := h.svc

	p, err := h.payoutForTransfer(ctx, e.TransferID, e.TransferGroup)
	if err != nil {
		return err
	}

	reason := e.FailureMessage
	if reason == "" {
		reason = "transfer failed"
	}
	failed, err := s.payouts.MarkFailed(ctx, p.ID, reason)
	if err != nil {
		return err
	}
	if failed {
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventTransferFailed, models.PaymentSourceWebhook).
			SetPayout(p.ID).
			SetGatewayEvent(h.eventID).
			SetGatewayRef(e.TransferID).
			SetError(reason, nil))
		s.logger.WithFields(logrus.Fields{"payout_id": p.ID, "reason": reason}).Warn("Payout failed, entries returned to balance")
	}
	return nil
}

func (h *eventHandler) VisitAccountUpdated(e *paygate.AccountUpdated) error {
	ctx := h.ctx
	s := h.svc

	status := AccountVerificationStatus(e)
	ok, err := s.vendors.UpdateAccountStatus(ctx, e.AccountID, e.PayoutsEnabled, status)
	if err != nil {
		return err
	}
	if !ok {
		return &ConsistencyError{Kind: ConsistencyUnknownAccount, Ref: e.AccountID}
	}

	s.logger.WithFields(logrus.Fields{
		"account_id":      e.AccountID,
		"payouts_enabled": e.PayoutsEnabled,
		"verification":    status,
	}).Info("Vendor payout account updated")
	return nil
}

// AccountVerificationStatus maps a gateway account state to vendor verification
func AccountVerificationStatus(e *paygate.AccountUpdated) models.VerificationStatus {
	switch {
	case strings.HasPrefix(e.DisabledReason, "rejected"):
		return models.VerificationRejected
	case e.DetailsSubmitted && e.DisabledReason == "":
		return models.VerificationApproved
	}
	return models.VerificationPending
}
