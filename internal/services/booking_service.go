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
	"github.com/tripmarket/marketplace-backend/pkg/money"
	"github.com/tripmarket/marketplace-backend/pkg/notify"
	"github.com/tripmarket/marketplace-backend/pkg/paygate"
	"github.com/tripmarket/marketplace-backend/pkg/receipt"
)

// BookingServiceConfig holds booking settings
type BookingServiceConfig struct {
	Pricing         PricingConfig
	DefaultCurrency string
	// ReceiptVerifyURL is prefixed to the booking number in receipt QR codes
	ReceiptVerifyURL string
}

// Actor is the caller of a booking operation
type Actor struct {
	UserID   uuid.UUID
	VendorID *uuid.UUID
	Admin    bool
}

// CreateBookingResult is returned by Create
type CreateBookingResult struct {
	Booking      *models.Booking
	ClientSecret *string
	// Replayed is true when an earlier booking with the same idempotency key was returned
	Replayed bool
}

// BookingService owns the booking lifecycle
type BookingService struct {
	bookings BookingStore
	catalog  CatalogStore
	vendors  VendorStore
	payments PaymentStore
	promos   *PromoService
	gateway  paygate.Gateway
	notifier notify.Notifier
	audit    AuditLog
	config   BookingServiceConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewBookingService creates a new BookingService
func NewBookingService(
	bookings BookingStore,
	catalog CatalogStore,
	vendors VendorStore,
	payments PaymentStore,
	promos *PromoService,
	gateway paygate.Gateway,
	notifier notify.Notifier,
	audit AuditLog,
	config BookingServiceConfig,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		bookings: bookings,
		catalog:  catalog,
		vendors:  vendors,
		payments: payments,
		promos:   promos,
		gateway:  gateway,
		notifier: notifier,
		audit:    audit,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// ============================================================================
// PRICING
// ============================================================================

// quoteInput is the part of a booking request that determines its price
type quoteInput struct {
	travelerID  uuid.UUID
	tripID      uuid.UUID
	departureID uuid.UUID
	guestCount  int
	addOns      []models.AddOn
	promoCode   *string
}

// quote is a priced request plus the catalog rows it was priced from
type quote struct {
	trip      *models.Trip
	departure *models.Departure
	vendor    *models.Vendor
	price     PriceBreakdown
	promo     *models.PromoCode
}

func (s *BookingService) quote(ctx context.Context, in quoteInput, now time.Time) (*quote, error) {
	if in.guestCount < 1 {
		return nil, invalid("guest_count", "must be at least 1")
	}
	for _, a := range in.addOns {
		if a.Price < 0 || a.Quantity < 0 {
			return nil, invalid("add_ons", "price and quantity must not be negative")
		}
	}

	trip, err := s.catalog.GetTrip(ctx, in.tripID)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, notFound("trip_id")
	}
	if !trip.IsActive {
		return nil, invalid("trip_id", "trip is not available for booking")
	}

	dep, err := s.catalog.GetDeparture(ctx, in.departureID)
	if err != nil {
		return nil, err
	}
	if dep == nil || dep.TripID != trip.ID {
		return nil, notFound("departure_id")
	}
	if dep.HasDeparted(now) {
		return nil, invalid("departure_id", "departure has already started")
	}
	if dep.SeatsAvailable < in.guestCount {
		return nil, conflict("guest_count", "not enough seats available")
	}

	vendor, err := s.vendors.GetByID(ctx, trip.VendorID)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, invalid("trip_id", "trip vendor is not available")
	}

	currency := strings.ToUpper(trip.Currency)
	if currency == "" {
		currency = s.config.DefaultCurrency
	}

	input := PriceInput{
		UnitPrice:  trip.UnitPrice,
		GuestCount: in.guestCount,
		AddOns:     in.addOns,
		Currency:   currency,
		Tier:       vendor.SubscriptionTier,
	}
	q := &quote{trip: trip, departure: dep, vendor: vendor}

	if in.promoCode != nil && strings.TrimSpace(*in.promoCode) != "" {
		undiscounted := Price(input, s.config.Pricing)
		purchase := undiscounted.BasePrice + undiscounted.AddOnsTotal

		promo, err := s.promos.Validate(ctx, PromoCheck{
			Code:           *in.promoCode,
			PurchaseAmount: purchase,
			UserID:         in.travelerID,
			VendorID:       trip.VendorID,
			TripID:         trip.ID,
			Category:       trip.Category,
			Now:            now,
		})
		if err != nil {
			return nil, err
		}
		q.promo = promo
		input.PromoDiscount = CalculateDiscount(promo, purchase)
	}

	q.price = Price(input, s.config.Pricing)
	return q, nil
}

// CalculatePrice returns a read-only price quote
func (s *BookingService) CalculatePrice(ctx context.Context, travelerID uuid.UUID, req models.PriceQuoteRequest) (*PriceBreakdown, error) {
	q, err := s.quote(ctx, quoteInput{
		travelerID:  travelerID,
		tripID:      req.TripID,
		departureID: req.DepartureID,
		guestCount:  req.GuestCount,
		addOns:      req.AddOns,
		promoCode:   req.PromoCode,
	}, s.now())
	if err != nil {
		return nil, err
	}
	return &q.price, nil
}

// ============================================================================
// CREATE
// ============================================================================

// Create prices the request, opens a payment intent and persists the booking,
// its pending payment and any promo redemption together
func (s *BookingService) Create(ctx context.Context, travelerID uuid.UUID, req models.CreateBookingRequest) (*CreateBookingResult, error) {
	idemKey := ""
	if req.IdempotencyKey != nil {
		idemKey = strings.TrimSpace(*req.IdempotencyKey)
	}
	if idemKey != "" {
		existing, err := s.bookings.GetByIdempotencyKey(ctx, travelerID, idemKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.replayed(ctx, existing)
		}
	}

	if len(req.Guests) > 0 && len(req.Guests) != req.GuestCount {
		return nil, invalid("guests", "must list one entry per guest")
	}

	now := s.now()
	q, err := s.quote(ctx, quoteInput{
		travelerID:  travelerID,
		tripID:      req.TripID,
		departureID: req.DepartureID,
		guestCount:  req.GuestCount,
		addOns:      req.AddOns,
		promoCode:   req.PromoCode,
	}, now)
	if err != nil {
		return nil, err
	}

	bookingID := uuid.New()
	bookingNumber := models.GenerateBookingNumber(now)

	gatewayKey := "booking-" + bookingID.String()
	if idemKey != "" {
		gatewayKey = "booking-" + travelerID.String() + "-" + idemKey
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, paygate.PaymentIntentParams{
		Amount:      q.price.TotalPrice,
		Currency:    q.price.Currency,
		CustomerRef: travelerID.String(),
		Description: fmt.Sprintf("%s booking %s", q.trip.Title, bookingNumber),
		Metadata: map[string]string{
			"booking_id":     bookingID.String(),
			"booking_number": bookingNumber,
		},
		IdempotencyKey: gatewayKey,
	})
	if err != nil {
		s.logger.WithError(err).WithField("traveler_id", travelerID).Error("Failed to create payment intent")
		return nil, &GatewayError{Op: "create_payment_intent", Err: err}
	}

	intentID := intent.ID
	booking := &models.Booking{
		ID:              bookingID,
		BookingNumber:   bookingNumber,
		TripID:          q.trip.ID,
		DepartureID:     q.departure.ID,
		TravelerID:      travelerID,
		VendorID:        q.trip.VendorID,
		DepartureDate:   q.departure.StartDate,
		TripEndDate:     q.departure.EndDate,
		GuestCount:      req.GuestCount,
		Guests:          models.GuestDetails(req.Guests),
		AddOns:          models.AddOns(req.AddOns),
		Pricing:         q.price,
		PaymentIntentID: &intentID,
		State:           models.AwaitingPayment{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if idemKey != "" {
		booking.IdempotencyKey = &idemKey
	}

	payment := &models.Payment{
		ID:              uuid.New(),
		BookingID:       bookingID,
		TravelerID:      travelerID,
		Amount:          q.price.TotalPrice,
		Currency:        q.price.Currency,
		Type:            models.PaymentTypeFull,
		Status:          models.PaymentStatusPending,
		PaymentIntentID: &intentID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	params := database.CreateBookingParams{Booking: booking, Payment: payment}
	if q.promo != nil {
		code := q.promo.Code
		booking.PromoCode = &code
		params.Promo = &database.PromoRedemption{PromoCodeID: q.promo.ID, Discount: q.price.Discount}
	}

	if err := s.bookings.CreateWithPayment(ctx, params); err != nil {
		switch {
		case errors.Is(err, database.ErrInsufficientSeats):
			return nil, conflict("guest_count", "not enough seats available")
		case errors.Is(err, database.ErrPromoUsageLimitReached):
			return nil, &InvalidPromoError{Code: *booking.PromoCode, Reason: PromoUsageLimitReached}
		case errors.Is(err, database.ErrDuplicateIdempotencyKey):
			existing, getErr := s.bookings.GetByIdempotencyKey(ctx, travelerID, idemKey)
			if getErr != nil {
				return nil, getErr
			}
			if existing != nil {
				return s.replayed(ctx, existing)
			}
		}
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id":        bookingID,
			"payment_intent_id": intentID,
		}).Warn("Booking not persisted, payment intent left unused")
		return nil, err
	}

	s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventIntentCreated, models.PaymentSourceBackend).
		SetBooking(bookingID).
		SetPayment(payment.ID).
		SetGatewayRef(intentID).
		SetPayload(map[string]interface{}{
			"amount":   payment.Amount,
			"currency": payment.Currency,
		}))

	var clientSecret *string
	if intent.ClientSecret != "" {
		clientSecret = &intent.ClientSecret
	}
	return &CreateBookingResult{Booking: booking, ClientSecret: clientSecret}, nil
}

// replayed returns an earlier booking for a repeated idempotency key. A booking
// still awaiting payment gets its intent's client secret again so the retrying
// client can finish checkout.
func (s *BookingService) replayed(ctx context.Context, b *models.Booking) (*CreateBookingResult, error) {
	result := &CreateBookingResult{Booking: b, Replayed: true}
	if _, awaiting := b.State.(models.AwaitingPayment); !awaiting || b.PaymentIntentID == nil {
		return result, nil
	}

	intent, err := s.gateway.GetPaymentIntent(ctx, *b.PaymentIntentID)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id":        b.ID,
			"payment_intent_id": *b.PaymentIntentID,
		}).Error("Failed to fetch payment intent for replayed booking")
		return nil, &GatewayError{Op: "get_payment_intent", Err: err}
	}
	if intent.ClientSecret != "" {
		secret := intent.ClientSecret
		result.ClientSecret = &secret
	}
	return result, nil
}

// ============================================================================
// READ
// ============================================================================

// Get returns a booking the actor may see
func (s *BookingService) Get(ctx context.Context, id uuid.UUID, actor Actor) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, notFound("booking_id")
	}
	if !canAccess(b, actor) {
		return nil, ErrForbidden
	}
	return b, nil
}

func canAccess(b *models.Booking, actor Actor) bool {
	return actor.Admin || actor.UserID == b.TravelerID || isBookingVendor(b, actor)
}

func isBookingVendor(b *models.Booking, actor Actor) bool {
	return actor.VendorID != nil && *actor.VendorID == b.VendorID
}

// ============================================================================
// CONFIRM
// ============================================================================

// Confirm moves an awaiting booking to confirmed after payment. Returns true
// only for the call that made the transition; repeats are no-ops.
func (s *BookingService) Confirm(ctx context.Context, b *models.Booking) (bool, error) {
	prev := b.State
	err := b.Confirm(s.now())
	if errors.Is(err, models.ErrAlreadyApplied) {
		return false, nil
	}
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"status":     prev.Status(),
		}).Warn("Ignoring confirmation of booking in terminal state")
		return false, fmt.Errorf("confirm booking %s: %w", b.ID, ErrTerminalState)
	}

	ok, err := s.bookings.UpdateState(ctx, b, prev)
	if err != nil {
		return false, err
	}
	if !ok {
		current, err := s.bookings.GetByID(ctx, b.ID)
		if err != nil {
			return false, err
		}
		if current != nil {
			*b = *current
			switch current.State.(type) {
			case models.Confirmed, models.Completed:
				return false, nil
			}
		}
		return false, fmt.Errorf("confirm booking %s: %w", b.ID, ErrTerminalState)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":     b.ID,
		"booking_number": b.BookingNumber,
	}).Info("Booking confirmed")

	s.notify(func() error { return s.notifier.BookingConfirmed(ctx, bookingEvent(b, "")) }, "booking_confirmed", b.ID)
	return true, nil
}

// ============================================================================
// CANCEL
// ============================================================================

// Cancel cancels a pending or confirmed booking. Travelers are refunded
// according to the trip's cancellation policy; vendor and admin
// cancellations refund in full.
func (s *BookingService) Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*models.Booking, error) {
	b, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !b.IsCancellable() {
		return nil, conflict("status", fmt.Sprintf("booking in status %s cannot be cancelled", b.Status()))
	}

	trip, err := s.catalog.GetTrip(ctx, b.TripID)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, fmt.Errorf("trip %s of booking %s not found", b.TripID, b.ID)
	}

	now := s.now()
	percent := 100
	if actor.UserID == b.TravelerID && !actor.Admin {
		percent = trip.CancellationPolicy().RefundPercentage(DaysUntil(b.DepartureDate, now))
	}

	var refundAmount int64
	if b.PaymentStatus() == models.BookingPaymentCompleted {
		refundAmount = money.PercentOf(b.Pricing.TotalPrice, percent)
	}

	prev := b.State
	if err := b.Cancel(now, actor.UserID, reason, refundAmount); err != nil {
		return nil, conflict("status", err.Error())
	}

	_, wasAwaiting := prev.(models.AwaitingPayment)
	ok, err := s.bookings.Transition(ctx, b, prev, database.TransitionOptions{
		RestoreSeats:         true,
		CancelPendingPayment: wasAwaiting,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conflict("status", "booking changed while cancelling, retry")
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":     b.ID,
		"actor_id":       actor.UserID,
		"refund_percent": percent,
		"refund_amount":  refundAmount,
	}).Info("Booking cancelled")

	if b.Refund().Status == models.RefundStatusPending {
		s.requestRefund(ctx, b, reason)
	}

	s.notify(func() error { return s.notifier.BookingCancelled(ctx, bookingEvent(b, reason)) }, "booking_cancelled", b.ID)
	return b, nil
}

// requestRefund asks the gateway to refund a cancelled booking. A failed
// request leaves the booking cancelled with refund status failed for review.
func (s *BookingService) requestRefund(ctx context.Context, b *models.Booking, reason string) {
	refund := b.Refund()
	audit := models.NewPaymentAudit(models.PaymentEventRefundInitiated, models.PaymentSourceBackend).SetBooking(b.ID)

	payment, err := s.payments.GetLatestByBookingID(ctx, b.ID)
	if err == nil && (payment == nil || payment.ChargeID == nil) {
		err = fmt.Errorf("no captured payment for booking %s", b.ID)
	}

	var result *paygate.Refund
	if err == nil {
		audit.SetPayment(payment.ID).SetGatewayRef(*payment.ChargeID)
		params := paygate.RefundParams{
			ChargeID:       *payment.ChargeID,
			Amount:         refund.Amount,
			Reason:         "requested_by_customer",
			Metadata:       map[string]string{"booking_id": b.ID.String()},
			IdempotencyKey: "refund-" + b.ID.String(),
		}
		if payment.PaymentIntentID != nil {
			params.PaymentIntentID = *payment.PaymentIntentID
		}
		result, err = s.gateway.CreateRefund(ctx, params)
	}

	if err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Error("Refund request failed")
		b.SetRefundFailed()
		audit.SetError(err.Error(), nil).FlagForReview()
	} else {
		b.SetRefundRequested(result.ID)
		if recErr := s.payments.RecordRefundRequest(ctx, payment.ID, refund.Amount, result.ID, reason); recErr != nil {
			s.logger.WithError(recErr).WithField("booking_id", b.ID).Error("Failed to record refund request on payment")
		}
	}
	audit.SetPayload(map[string]interface{}{"amount": refund.Amount})

	if err := s.bookings.UpdateRefund(ctx, b.ID, b.Refund()); err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to store refund status")
	}
	s.logAudit(ctx, audit)
}

// DaysUntil is the number of started days between now and departure, rounded up
func DaysUntil(departure, now time.Time) int {
	const day = 24 * time.Hour
	d := departure.Sub(now)
	days := int(d / day)
	if d%day > 0 {
		days++
	}
	return days
}

// ============================================================================
// COMPLETE
// ============================================================================

// CompleteDue completes every confirmed booking whose trip has ended by now
func (s *BookingService) CompleteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.bookings.CompleteDue(ctx, now)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{"completed": len(ids), "as_of": now}).Info("Booking completion sweep finished")
	return len(ids), nil
}

// Complete completes one confirmed booking
func (s *BookingService) Complete(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, notFound("booking_id")
	}

	prev := b.State
	err = b.Complete(s.now())
	if errors.Is(err, models.ErrAlreadyApplied) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("complete booking %s: %w", b.ID, ErrTerminalState)
	}

	ok, err := s.bookings.UpdateState(ctx, b, prev)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conflict("status", "booking changed while completing, retry")
	}
	return b, nil
}

// ============================================================================
// RECEIPT
// ============================================================================

// Receipt renders the PDF receipt of a paid booking
func (s *BookingService) Receipt(ctx context.Context, id uuid.UUID, actor Actor) ([]byte, error) {
	b, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	switch b.State.(type) {
	case models.Confirmed, models.Completed:
	default:
		return nil, conflict("status", "receipts are only available for paid bookings")
	}

	data := receipt.Data{
		BookingNumber: b.BookingNumber,
		Status:        string(b.Status()),
		DepartureDate: b.DepartureDate,
		TripEndDate:   b.TripEndDate,
		Discount:      b.Pricing.Discount,
		Total:         b.Pricing.TotalPrice,
		Currency:      b.Pricing.Currency,
		IssuedAt:      s.now(),
	}
	if b.PromoCode != nil {
		data.PromoCode = *b.PromoCode
	}
	if s.config.ReceiptVerifyURL != "" {
		data.VerifyURL = strings.TrimRight(s.config.ReceiptVerifyURL, "/") + "/" + b.BookingNumber
	}

	if trip, err := s.catalog.GetTrip(ctx, b.TripID); err == nil && trip != nil {
		data.TripTitle = trip.Title
	}
	if vendor, err := s.vendors.GetByID(ctx, b.VendorID); err == nil && vendor != nil {
		data.VendorName = vendor.BusinessName
	}

	for _, g := range b.Guests {
		data.Guests = append(data.Guests, g.FullName)
	}
	data.Lines = append(data.Lines, receipt.Line{
		Label:  fmt.Sprintf("Base price (%d guests)", b.GuestCount),
		Amount: b.Pricing.BasePrice,
	})
	for _, a := range b.AddOns {
		data.Lines = append(data.Lines, receipt.Line{
			Label:  fmt.Sprintf("%s x%d", a.Name, a.Quantity),
			Amount: a.Price * int64(a.Quantity),
		})
	}
	data.Lines = append(data.Lines, receipt.Line{Label: "Platform fee", Amount: b.Pricing.PlatformFee})

	return receipt.Render(data)
}

// ============================================================================
// HELPERS
// ============================================================================

func bookingEvent(b *models.Booking, reason string) notify.BookingEvent {
	refund := b.Refund()
	return notify.BookingEvent{
		BookingID:     b.ID,
		BookingNumber: b.BookingNumber,
		TravelerID:    b.TravelerID,
		VendorID:      b.VendorID,
		TripID:        b.TripID,
		TotalPrice:    b.Pricing.TotalPrice,
		RefundAmount:  refund.Amount,
		RefundStatus:  string(refund.Status),
		Reason:        reason,
		Currency:      b.Pricing.Currency,
		OccurredAt:    b.UpdatedAt,
	}
}

// notify runs a fire-and-forget notification; failures are only logged
func (s *BookingService) notify(send func() error, event string, bookingID uuid.UUID) {
	if err := send(); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event":      event,
			"booking_id": bookingID,
		}).Warn("Failed to publish notification")
	}
}

func (s *BookingService) logAudit(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.audit.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Error("Failed to write payment audit")
	}
}
