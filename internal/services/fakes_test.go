package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/config"
	"github.com/tripmarket/marketplace-backend/internal/database"
	"github.com/tripmarket/marketplace-backend/internal/models"
	"github.com/tripmarket/marketplace-backend/pkg/notify"
	"github.com/tripmarket/marketplace-backend/pkg/paygate"
)

// memDB is an in-memory stand-in for the Postgres schema. Each fake store
// below mirrors the conditional writes of its repository in internal/database.
type memDB struct {
	mu sync.Mutex

	trips      map[uuid.UUID]*models.Trip
	departures map[uuid.UUID]*models.Departure
	vendors    map[uuid.UUID]*models.Vendor
	promos     map[string]*models.PromoCode
	usages     []models.PromoCodeUsage
	bookings   map[uuid.UUID]*models.Booking
	payments   map[uuid.UUID]*models.Payment
	entries    []*models.EscrowLedgerEntry
	payouts    map[uuid.UUID]*models.Payout
	events     map[string]*models.GatewayEvent
	audits     []*models.PaymentAudit

	// creditErr, when set, fails every escrow credit write
	creditErr error
}

func newMemDB() *memDB {
	return &memDB{
		trips:      make(map[uuid.UUID]*models.Trip),
		departures: make(map[uuid.UUID]*models.Departure),
		vendors:    make(map[uuid.UUID]*models.Vendor),
		promos:     make(map[string]*models.PromoCode),
		bookings:   make(map[uuid.UUID]*models.Booking),
		payments:   make(map[uuid.UUID]*models.Payment),
		payouts:    make(map[uuid.UUID]*models.Payout),
		events:     make(map[string]*models.GatewayEvent),
	}
}

func copyBooking(b *models.Booking) *models.Booking {
	cp := *b
	return &cp
}

// ============================================================================
// BOOKINGS
// ============================================================================

type fakeBookings struct{ db *memDB }

func (f *fakeBookings) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if b, ok := f.db.bookings[id]; ok {
		return copyBooking(b), nil
	}
	return nil, nil
}

func (f *fakeBookings) GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, b := range f.db.bookings {
		if b.PaymentIntentID != nil && *b.PaymentIntentID == intentID {
			return copyBooking(b), nil
		}
	}
	return nil, nil
}

func (f *fakeBookings) GetByIdempotencyKey(ctx context.Context, travelerID uuid.UUID, key string) (*models.Booking, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, b := range f.db.bookings {
		if b.TravelerID == travelerID && b.IdempotencyKey != nil && *b.IdempotencyKey == key {
			return copyBooking(b), nil
		}
	}
	return nil, nil
}

func (f *fakeBookings) CreateWithPayment(ctx context.Context, p database.CreateBookingParams) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := p.Booking

	dep, ok := f.db.departures[b.DepartureID]
	if !ok || dep.SeatsAvailable < b.GuestCount {
		return database.ErrInsufficientSeats
	}

	var promo *models.PromoCode
	if p.Promo != nil {
		for _, pc := range f.db.promos {
			if pc.ID == p.Promo.PromoCodeID {
				promo = pc
			}
		}
		if promo == nil || !promo.IsActive || (promo.UsageLimit != nil && promo.UsedCount >= *promo.UsageLimit) {
			return database.ErrPromoUsageLimitReached
		}
	}

	if b.IdempotencyKey != nil {
		for _, existing := range f.db.bookings {
			if existing.TravelerID == b.TravelerID && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *b.IdempotencyKey {
				return database.ErrDuplicateIdempotencyKey
			}
		}
	}

	// all conditions hold; apply the writes
	dep.SeatsAvailable -= b.GuestCount
	if promo != nil {
		promo.UsedCount++
		f.db.usages = append(f.db.usages, models.PromoCodeUsage{
			ID:              uuid.New(),
			PromoCodeID:     promo.ID,
			UserID:          b.TravelerID,
			BookingID:       b.ID,
			DiscountApplied: p.Promo.Discount,
			UsedAt:          b.CreatedAt,
		})
	}
	f.db.bookings[b.ID] = copyBooking(b)
	if p.Payment != nil {
		cp := *p.Payment
		f.db.payments[cp.ID] = &cp
	}
	return nil
}

func (f *fakeBookings) UpdateState(ctx context.Context, b *models.Booking, prev models.BookingState) (bool, error) {
	return f.Transition(ctx, b, prev, database.TransitionOptions{})
}

func (f *fakeBookings) Transition(ctx context.Context, b *models.Booking, prev models.BookingState, opts database.TransitionOptions) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()

	stored, ok := f.db.bookings[b.ID]
	if !ok || stored.Status() != prev.Status() || stored.PaymentStatus() != prev.PaymentStatus() {
		return false, nil
	}
	f.db.bookings[b.ID] = copyBooking(b)

	if opts.RestoreSeats {
		if dep, ok := f.db.departures[b.DepartureID]; ok {
			dep.SeatsAvailable += b.GuestCount
		}
	}
	if opts.CancelPendingPayment {
		for _, p := range f.db.payments {
			if p.BookingID == b.ID && p.Status == models.PaymentStatusPending {
				p.Status = models.PaymentStatusCancelled
			}
		}
	}
	return true, nil
}

func (f *fakeBookings) UpdateRefund(ctx context.Context, id uuid.UUID, refund models.RefundState) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b, ok := f.db.bookings[id]
	if !ok {
		return nil
	}
	if c, ok := b.State.(models.Cancelled); ok {
		c.Refund = refund
		b.State = c
	}
	return nil
}

func (f *fakeBookings) CompleteDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var ids []uuid.UUID
	for _, b := range f.db.bookings {
		if _, ok := b.State.(models.Confirmed); ok && !b.TripEndDate.After(now) {
			b.State = models.Completed{}
			b.CompletedAt = &now
			b.UpdatedAt = now
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

// ============================================================================
// CATALOG, VENDORS, PROMOS
// ============================================================================

type fakeCatalog struct{ db *memDB }

func (f *fakeCatalog) GetTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if t, ok := f.db.trips[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeCatalog) GetDeparture(ctx context.Context, id uuid.UUID) (*models.Departure, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if d, ok := f.db.departures[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

type fakeVendors struct{ db *memDB }

func (f *fakeVendors) GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if v, ok := f.db.vendors[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeVendors) ListPayoutCandidates(ctx context.Context, schedules []models.PayoutSchedule) ([]*models.Vendor, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.Vendor
	for _, v := range f.db.vendors {
		if !v.IsPayoutEligible() {
			continue
		}
		if len(schedules) > 0 {
			match := false
			for _, s := range schedules {
				if v.PayoutSchedule == s {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessName < out[j].BusinessName })
	return out, nil
}

func (f *fakeVendors) UpdateAccountStatus(ctx context.Context, accountID string, payoutsEnabled bool, verification models.VerificationStatus) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, v := range f.db.vendors {
		if v.PayoutAccountID != nil && *v.PayoutAccountID == accountID {
			v.PayoutsEnabled = payoutsEnabled
			v.VerificationStatus = verification
			return true, nil
		}
	}
	return false, nil
}

type fakePromos struct{ db *memDB }

func (f *fakePromos) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if p, ok := f.db.promos[models.NormalizePromoCode(code)]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakePromos) CountUserUsages(ctx context.Context, promoCodeID, userID uuid.UUID) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n := 0
	for _, u := range f.db.usages {
		if u.PromoCodeID == promoCodeID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakePromos) Deactivate(ctx context.Context, code string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.promos[models.NormalizePromoCode(code)]
	if !ok {
		return false, nil
	}
	p.IsActive = false
	return true, nil
}

// ============================================================================
// PAYMENTS
// ============================================================================

type fakePayments struct{ db *memDB }

func (f *fakePayments) CreateIfAbsent(ctx context.Context, p *models.Payment) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, existing := range f.db.payments {
		if existing.PaymentIntentID != nil && p.PaymentIntentID != nil && *existing.PaymentIntentID == *p.PaymentIntentID {
			return false, nil
		}
	}
	cp := *p
	f.db.payments[p.ID] = &cp
	return true, nil
}

func (f *fakePayments) find(match func(p *models.Payment) bool) *models.Payment {
	for _, p := range f.db.payments {
		if match(p) {
			cp := *p
			return &cp
		}
	}
	return nil
}

func (f *fakePayments) GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.find(func(p *models.Payment) bool {
		return p.PaymentIntentID != nil && *p.PaymentIntentID == intentID
	}), nil
}

func (f *fakePayments) GetByChargeID(ctx context.Context, chargeID string) (*models.Payment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.find(func(p *models.Payment) bool {
		return p.ChargeID != nil && *p.ChargeID == chargeID
	}), nil
}

func (f *fakePayments) GetLatestByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var latest *models.Payment
	for _, p := range f.db.payments {
		if p.BookingID == bookingID && p.Type != models.PaymentTypeRefund {
			if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
				latest = p
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakePayments) UpdateStatus(ctx context.Context, p *models.Payment, from models.PaymentStatus) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	stored, ok := f.db.payments[p.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	chargeID := stored.ChargeID
	cp := *p
	if cp.ChargeID == nil {
		cp.ChargeID = chargeID
	}
	f.db.payments[p.ID] = &cp
	return true, nil
}

func (f *fakePayments) RecordRefundRequest(ctx context.Context, paymentID uuid.UUID, amount int64, refundID, reason string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.payments[paymentID]
	if !ok {
		return nil
	}
	status := "pending"
	p.RefundAmount = &amount
	p.RefundID = &refundID
	p.RefundReason = &reason
	p.RefundStatus = &status
	return nil
}

// ============================================================================
// ESCROW
// ============================================================================

type fakeEscrow struct{ db *memDB }

func (f *fakeEscrow) CreateBookingCredit(ctx context.Context, e *models.EscrowLedgerEntry) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.creditErr != nil {
		return false, f.db.creditErr
	}
	for _, existing := range f.db.entries {
		if existing.BookingID != nil && *existing.BookingID == *e.BookingID &&
			existing.Type == models.EntryCredit && existing.Description == models.EntryDescBooking {
			return false, nil
		}
	}
	cp := *e
	f.db.entries = append(f.db.entries, &cp)
	return true, nil
}

func (f *fakeEscrow) ReleaseDue(ctx context.Context, now time.Time) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var n int64
	for _, e := range f.db.entries {
		if e.EscrowStatus == models.EscrowHeld && !e.ReleaseDate.After(now) {
			e.EscrowStatus = models.EscrowReleased
			at := now
			e.ReleasedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeEscrow) VendorBalance(ctx context.Context, vendorID uuid.UUID) (*models.VendorBalance, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := &models.VendorBalance{VendorID: vendorID}
	for _, e := range f.db.entries {
		if e.VendorID == vendorID && e.EscrowStatus == models.EscrowReleased && e.PayoutStatus == models.EntryPayoutPending {
			b.Amount += e.Signed()
			b.EntryCount++
			b.Currency = e.Currency
		}
	}
	return b, nil
}

func (f *fakeEscrow) VendorStatement(ctx context.Context, vendorID uuid.UUID) (*models.VendorStatement, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	st := &models.VendorStatement{VendorID: vendorID}
	for _, e := range f.db.entries {
		if e.VendorID != vendorID {
			continue
		}
		switch {
		case e.EscrowStatus == models.EscrowHeld:
			st.Held += e.Signed()
		case e.EscrowStatus == models.EscrowReleased && e.PayoutStatus == models.EntryPayoutPending:
			st.Released += e.Signed()
		case e.EscrowStatus == models.EscrowReleased:
			st.Paid += e.Signed()
		case e.EscrowStatus == models.EscrowRefunded:
			st.Refunded += e.Signed()
		}
	}
	return st, nil
}

func (f *fakeEscrow) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.EscrowLedgerEntry, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.EscrowLedgerEntry
	for _, e := range f.db.entries {
		if e.BookingID != nil && *e.BookingID == bookingID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeEscrow) ApplyRefund(ctx context.Context, adj database.RefundAdjustment) (*database.RefundResult, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	result := &database.RefundResult{}

	var booking []*models.EscrowLedgerEntry
	for _, e := range f.db.entries {
		if e.BookingID != nil && *e.BookingID == adj.BookingID {
			booking = append(booking, e)
		}
	}
	plan := models.PlanRefund(booking, adj.Retained)

	for _, e := range booking {
		if plan.Void.Contains(e.ID) && e.PayoutStatus == models.EntryPayoutPending {
			e.EscrowStatus = models.EscrowRefunded
			result.RefundedEntries++
		}
	}

	bookingID := adj.BookingID
	if plan.ClawBack > 0 {
		at := adj.Now
		f.db.entries = append(f.db.entries, &models.EscrowLedgerEntry{
			ID: uuid.New(), VendorID: adj.VendorID, BookingID: &bookingID,
			Type: models.EntryDebit, Amount: plan.ClawBack, Currency: adj.Currency,
			EscrowStatus: models.EscrowReleased, PayoutStatus: models.EntryPayoutPending,
			ReleaseDate: adj.Now, ReleasedAt: &at, Description: models.EntryDescRefundReverse,
		})
		result.ClawedBack = plan.ClawBack
	}
	if plan.Retain > 0 {
		f.db.entries = append(f.db.entries, &models.EscrowLedgerEntry{
			ID: uuid.New(), VendorID: adj.VendorID, BookingID: &bookingID,
			Type: models.EntryCredit, Amount: plan.Retain, Currency: adj.Currency,
			EscrowStatus: models.EscrowHeld, PayoutStatus: models.EntryPayoutPending,
			ReleaseDate: adj.ReleaseDate, Description: models.EntryDescRetained,
		})
		result.Retained = plan.Retain
	}
	return result, nil
}

// ============================================================================
// PAYOUTS
// ============================================================================

type fakePayouts struct{ db *memDB }

func (f *fakePayouts) CreateWithClaim(ctx context.Context, payout *models.Payout, minimum int64, fee *models.EscrowLedgerEntry) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()

	candidates := f.db.entries
	if fee != nil {
		cp := *fee
		candidates = append(append([]*models.EscrowLedgerEntry{}, f.db.entries...), &cp)
	}

	var amount int64
	var claimed []*models.EscrowLedgerEntry
	for _, e := range candidates {
		if e.VendorID == payout.VendorID && e.EscrowStatus == models.EscrowReleased && e.PayoutStatus == models.EntryPayoutPending {
			amount += e.Signed()
			claimed = append(claimed, e)
		}
	}
	if amount < minimum || amount <= 0 {
		return fmt.Errorf("%w: claimed %d, minimum %d", database.ErrBelowMinimum, amount, minimum)
	}

	f.db.entries = candidates
	id := payout.ID
	for _, e := range claimed {
		e.PayoutStatus = models.EntryPayoutIncluded
		e.PayoutID = &id
		payout.EntryIDs = append(payout.EntryIDs, e.ID)
		if e.BookingID != nil && !payout.BookingIDs.Contains(*e.BookingID) {
			payout.BookingIDs = append(payout.BookingIDs, *e.BookingID)
		}
	}
	payout.Amount = amount
	payout.Status = models.PayoutStatusProcessing
	cp := *payout
	f.db.payouts[payout.ID] = &cp
	return nil
}

func (f *fakePayouts) GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if p, ok := f.db.payouts[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakePayouts) GetByTransferID(ctx context.Context, transferID string) (*models.Payout, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, p := range f.db.payouts {
		if p.TransferID != nil && *p.TransferID == transferID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePayouts) ListStalled(ctx context.Context, olderThan time.Time) ([]*models.Payout, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.Payout
	for _, p := range f.db.payouts {
		if p.Status == models.PayoutStatusProcessing && p.TransferID == nil && p.UpdatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePayouts) MarkSubmitted(ctx context.Context, id uuid.UUID, transferID string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.payouts[id]
	if !ok || p.Status != models.PayoutStatusProcessing {
		return false, nil
	}
	p.Status = models.PayoutStatusInTransit
	p.TransferID = &transferID
	return true, nil
}

func (f *fakePayouts) MarkCompleted(ctx context.Context, id uuid.UUID, transferID string, now time.Time) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.payouts[id]
	if !ok || (p.Status != models.PayoutStatusProcessing && p.Status != models.PayoutStatusInTransit) {
		return false, nil
	}
	p.Status = models.PayoutStatusCompleted
	if p.TransferID == nil {
		p.TransferID = &transferID
	}
	p.CompletedAt = &now
	return true, nil
}

func (f *fakePayouts) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.payouts[id]
	if !ok || (p.Status != models.PayoutStatusProcessing && p.Status != models.PayoutStatusInTransit) {
		return false, nil
	}
	p.Status = models.PayoutStatusFailed
	p.FailureReason = &reason
	for _, e := range f.db.entries {
		if e.PayoutID == nil || *e.PayoutID != id {
			continue
		}
		if e.Type == models.EntryDebit && e.Description == models.EntryDescEarlyPayout {
			e.EscrowStatus = models.EscrowRefunded
		}
		e.PayoutStatus = models.EntryPayoutPending
		e.PayoutID = nil
	}
	return true, nil
}

// ============================================================================
// GATEWAY EVENTS, AUDIT
// ============================================================================

type fakeEvents struct{ db *memDB }

func (f *fakeEvents) Record(ctx context.Context, ev *models.GatewayEvent) (*models.GatewayEvent, bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if existing, ok := f.db.events[ev.ID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *ev
	cp.Status = models.GatewayEventReceived
	cp.UpdatedAt = ev.ReceivedAt
	f.db.events[ev.ID] = &cp
	out := cp
	return &out, true, nil
}

func (f *fakeEvents) finish(id string, status models.GatewayEventStatus, lastError string, now time.Time) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	ev, ok := f.db.events[id]
	if !ok || ev.Status == models.GatewayEventProcessed {
		return nil
	}
	ev.Status = status
	ev.Attempts++
	ev.UpdatedAt = now
	if lastError != "" {
		ev.LastError = &lastError
	}
	if status == models.GatewayEventProcessed {
		ev.ProcessedAt = &now
	}
	return nil
}

func (f *fakeEvents) MarkProcessed(ctx context.Context, id string, now time.Time) error {
	return f.finish(id, models.GatewayEventProcessed, "", now)
}

func (f *fakeEvents) MarkIgnored(ctx context.Context, id string, reason string, now time.Time) error {
	return f.finish(id, models.GatewayEventIgnored, reason, now)
}

func (f *fakeEvents) MarkFailed(ctx context.Context, id string, cause string, now time.Time) error {
	return f.finish(id, models.GatewayEventFailed, cause, now)
}

func (f *fakeEvents) ListReplayable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]*models.GatewayEvent, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.GatewayEvent
	for _, ev := range f.db.events {
		if ev.Attempts >= maxAttempts {
			continue
		}
		if ev.Status == models.GatewayEventFailed || (ev.Status == models.GatewayEventReceived && ev.UpdatedAt.Before(staleBefore)) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeAudit struct{ db *memDB }

func (f *fakeAudit) Log(ctx context.Context, a *models.PaymentAudit) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.audits = append(f.db.audits, a)
	return nil
}

func (f *fakeAudit) ListRequiringReview(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.PaymentAudit
	for i := len(f.db.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if f.db.audits[i].RequiresReview {
			out = append(out, f.db.audits[i])
		}
	}
	return out, nil
}

func (f *fakeAudit) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.PaymentAudit
	for _, a := range f.db.audits {
		if a.BookingID != nil && *a.BookingID == bookingID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ============================================================================
// GATEWAY, NOTIFIER
// ============================================================================

type fakeGateway struct {
	mu sync.Mutex

	intents   map[string]*paygate.PaymentIntent
	refunds   []paygate.RefundParams
	transfers map[string]*paygate.Transfer

	intentErr   error
	lookupErr   error
	refundErr   error
	transferErr error
	seq         int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents:   make(map[string]*paygate.PaymentIntent),
		transfers: make(map[string]*paygate.Transfer),
	}
}

func (g *fakeGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%04d", prefix, g.seq)
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, p paygate.PaymentIntentParams) (*paygate.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	if pi, ok := g.intents[p.IdempotencyKey]; ok {
		return pi, nil
	}
	pi := &paygate.PaymentIntent{ID: g.next("pi"), Status: "requires_payment_method", Amount: p.Amount, Currency: p.Currency}
	pi.ClientSecret = pi.ID + "_secret"
	g.intents[p.IdempotencyKey] = pi
	return pi, nil
}

func (g *fakeGateway) GetPaymentIntent(ctx context.Context, id string) (*paygate.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	for _, pi := range g.intents {
		if pi.ID == id {
			return pi, nil
		}
	}
	return nil, &paygate.APIError{StatusCode: 404, Code: "resource_missing", Message: "no such payment intent"}
}

func (g *fakeGateway) CreateRefund(ctx context.Context, p paygate.RefundParams) (*paygate.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, p)
	return &paygate.Refund{ID: g.next("re"), Status: "pending", Amount: p.Amount}, nil
}

func (g *fakeGateway) CreateTransfer(ctx context.Context, p paygate.TransferParams) (*paygate.Transfer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.transferErr != nil {
		return nil, g.transferErr
	}
	if tr, ok := g.transfers[p.IdempotencyKey]; ok {
		return tr, nil
	}
	tr := &paygate.Transfer{ID: g.next("tr"), Status: "pending", Amount: p.Amount, TransferGroup: p.TransferGroup}
	g.transfers[p.IdempotencyKey] = tr
	return tr, nil
}

func (g *fakeGateway) intentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.intents)
}

type fakeNotifier struct {
	mu        sync.Mutex
	confirmed []notify.BookingEvent
	cancelled []notify.BookingEvent
	payouts   []notify.PayoutEvent
	err       error
}

func (n *fakeNotifier) BookingConfirmed(ctx context.Context, e notify.BookingEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, e)
	return n.err
}

func (n *fakeNotifier) BookingCancelled(ctx context.Context, e notify.BookingEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, e)
	return n.err
}

func (n *fakeNotifier) PayoutProcessed(ctx context.Context, e notify.PayoutEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payouts = append(n.payouts, e)
	return n.err
}

// ============================================================================
// HARNESS
// ============================================================================

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testPricingConfig() PricingConfig {
	return NewPricingConfig(config.PricingConfig{
		PlatformFeeBps:          1000,
		BasicCommissionBps:      1500,
		PremiumCommissionBps:    1000,
		EnterpriseCommissionBps: 700,
	})
}

// harness wires every service to one memDB and a fixed clock
type harness struct {
	t        *testing.T
	db       *memDB
	gateway  *fakeGateway
	notifier *fakeNotifier
	clock    time.Time

	promos     *PromoService
	escrow     *EscrowService
	bookings   *BookingService
	payouts    *PayoutService
	reconciler *ReconcilerService
	cron       *CronService
	review     *ReviewService

	travelerID uuid.UUID
	vendor     *models.Vendor
	trip       *models.Trip
	departure  *models.Departure
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newMemDB()
	h := &harness{
		t:          t,
		db:         db,
		gateway:    newFakeGateway(),
		notifier:   &fakeNotifier{},
		clock:      testNow,
		travelerID: uuid.New(),
	}
	logger := quietLogger()
	now := func() time.Time { return h.clock }

	bookings := &fakeBookings{db}
	catalog := &fakeCatalog{db}
	vendors := &fakeVendors{db}
	payments := &fakePayments{db}
	escrow := &fakeEscrow{db}
	payouts := &fakePayouts{db}
	audit := &fakeAudit{db}

	payoutCfg := config.PayoutConfig{MinimumAmount: 5000, EarlyPayoutFeeBps: 200, StalledAfter: 15 * time.Minute}

	h.promos = NewPromoService(&fakePromos{db}, logger)
	h.escrow = NewEscrowService(escrow, logger)
	h.bookings = NewBookingService(bookings, catalog, vendors, payments, h.promos, h.gateway, h.notifier, audit,
		BookingServiceConfig{Pricing: testPricingConfig(), DefaultCurrency: "USD"}, logger)
	h.bookings.now = now
	h.payouts = NewPayoutService(vendors, escrow, payouts, h.gateway, h.notifier, audit, payoutCfg, "USD", logger)
	h.payouts.now = now
	h.reconciler = NewReconcilerService(&fakeEvents{db}, bookings, payments, payouts, vendors, h.bookings, h.escrow,
		h.notifier, audit, ReconcilerConfig{ReplayMaxAttempts: 3}, logger)
	h.reconciler.now = now
	h.cron = NewCronService(h.escrow, h.bookings, h.payouts, h.reconciler,
		config.JobsConfig{}, payoutCfg, logger)
	h.cron.now = now
	h.review = NewReviewService(audit, bookings, payments, h.escrow, logger)

	account := "acct_vendor_1"
	h.vendor = &models.Vendor{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		BusinessName:       "Hill Country Tours",
		SubscriptionTier:   models.TierBasic,
		VerificationStatus: models.VerificationApproved,
		PayoutsEnabled:     true,
		PayoutAccountID:    &account,
		PayoutSchedule:     models.PayoutScheduleDaily,
		DefaultCurrency:    "USD",
	}
	h.trip = &models.Trip{
		ID:                      uuid.New(),
		VendorID:                h.vendor.ID,
		Title:                   "Ella Rock Sunrise Hike",
		Category:                "hiking",
		UnitPrice:               4500,
		Currency:                "USD",
		IsActive:                true,
		FullRefundDays:          7,
		PartialRefundDays:       3,
		PartialRefundPercentage: 50,
	}
	h.departure = &models.Departure{
		ID:             uuid.New(),
		TripID:         h.trip.ID,
		StartDate:      testNow.Add(10 * 24 * time.Hour),
		EndDate:        testNow.Add(12 * 24 * time.Hour),
		SeatsAvailable: 20,
	}
	db.vendors[h.vendor.ID] = h.vendor
	db.trips[h.trip.ID] = h.trip
	db.departures[h.departure.ID] = h.departure
	return h
}

func (h *harness) addPromo(p *models.PromoCode) *models.PromoCode {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Code = models.NormalizePromoCode(p.Code)
	if p.ValidFrom.IsZero() {
		p.ValidFrom = testNow.Add(-24 * time.Hour)
	}
	if p.ValidUntil.IsZero() {
		p.ValidUntil = testNow.Add(30 * 24 * time.Hour)
	}
	p.IsActive = true
	h.db.promos[p.Code] = p
	return p
}

func (h *harness) createRequest(guests int) models.CreateBookingRequest {
	return models.CreateBookingRequest{
		TripID:      h.trip.ID,
		DepartureID: h.departure.ID,
		GuestCount:  guests,
	}
}

// book creates an awaiting-payment booking for the harness traveler
func (h *harness) book(guests int) *models.Booking {
	h.t.Helper()
	res, err := h.bookings.Create(context.Background(), h.travelerID, h.createRequest(guests))
	if err != nil {
		h.t.Fatalf("create booking: %v", err)
	}
	return res.Booking
}

// pay delivers a payment-succeeded webhook for b
func (h *harness) pay(b *models.Booking) {
	h.t.Helper()
	body := paymentSucceededPayload(uuid.NewString(), *b.PaymentIntentID, "ch_"+b.BookingNumber, b.Pricing.TotalPrice, b.Pricing.Currency)
	if err := h.reconciler.Ingest(context.Background(), body, RequestMeta{}); err != nil {
		h.t.Fatalf("ingest payment: %v", err)
	}
}

func (h *harness) booking(id uuid.UUID) *models.Booking {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	return copyBooking(h.db.bookings[id])
}

func (h *harness) entriesFor(bookingID uuid.UUID) []*models.EscrowLedgerEntry {
	entries, _ := h.escrow.ListByBooking(context.Background(), bookingID)
	return entries
}

func (h *harness) auditsOf(t models.PaymentEventType) []*models.PaymentAudit {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	var out []*models.PaymentAudit
	for _, a := range h.db.audits {
		if a.EventType == t {
			out = append(out, a)
		}
	}
	return out
}

// ============================================================================
// WEBHOOK PAYLOADS
// ============================================================================

func envelope(id, typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"created":%d,"data":{"object":%s}}`, id, typ, testNow.Unix(), object))
}

func paymentSucceededPayload(eventID, intentID, chargeID string, amount int64, currency string) []byte {
	return envelope(eventID, paygate.TypePaymentSucceeded, fmt.Sprintf(
		`{"id":%q,"amount":%d,"amount_received":%d,"currency":%q,"latest_charge":%q,"fee":120}`,
		intentID, amount, amount, strings.ToLower(currency), chargeID))
}

func paymentFailedPayload(eventID, intentID string) []byte {
	return envelope(eventID, paygate.TypePaymentFailed, fmt.Sprintf(
		`{"id":%q,"last_payment_error":{"code":"card_declined","message":"Your card was declined."}}`, intentID))
}

func chargeRefundedPayload(eventID, chargeID, intentID string, amount, refunded int64) []byte {
	return envelope(eventID, paygate.TypeChargeRefunded, fmt.Sprintf(
		`{"id":%q,"payment_intent":%q,"amount":%d,"amount_refunded":%d,"currency":"usd","refunds":{"data":[{"id":"re_1"}]}}`,
		chargeID, intentID, amount, refunded))
}

func transferPayload(eventID, typ, transferID, group string) []byte {
	return envelope(eventID, typ, fmt.Sprintf(
		`{"id":%q,"amount":100,"currency":"usd","destination":"acct_vendor_1","transfer_group":%q,"failure_message":"account closed"}`,
		transferID, group))
}

func accountUpdatedPayload(eventID, accountID string, enabled, submitted bool, disabledReason string) []byte {
	return envelope(eventID, paygate.TypeAccountUpdated, fmt.Sprintf(
		`{"id":%q,"payouts_enabled":%t,"details_submitted":%t,"requirements":{"disabled_reason":%q}}`,
		accountID, enabled, submitted, disabledReason))
}

var errGatewayDown = errors.New("gateway unavailable")
