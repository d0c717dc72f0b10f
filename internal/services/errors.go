package services

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminalState is returned when a transition is requested from a state
	// that can no longer make it. Callers log it and carry on.
	ErrTerminalState = errors.New("transition not allowed from current state")
	// ErrForbidden is returned when the actor may not touch the resource
	ErrForbidden = errors.New("not allowed to access this resource")
	// ErrRefundBeforePayment is returned for a refund event that arrived
	// before its payment succeeded; the event is retried later
	ErrRefundBeforePayment = errors.New("refund received before payment succeeded")
)

// ValidationKind tells handlers which client error a ValidationError is
type ValidationKind int

const (
	ValidationInvalid ValidationKind = iota
	ValidationNotFound
	ValidationConflict
)

// ValidationError is a client-correctable rejection raised before any write
type ValidationError struct {
	Field  string
	Reason string
	Kind   ValidationKind
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason, Kind: ValidationInvalid}
}

func notFound(field string) error {
	return &ValidationError{Field: field, Reason: "not found", Kind: ValidationNotFound}
}

func conflict(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason, Kind: ValidationConflict}
}

// PromoRejection is a stable reason code for a refused promo code
type PromoRejection string

const (
	PromoNotFound              PromoRejection = "not_found"
	PromoInactive              PromoRejection = "inactive"
	PromoNotYetValid           PromoRejection = "not_yet_valid"
	PromoExpired               PromoRejection = "expired"
	PromoUsageLimitReached     PromoRejection = "usage_limit_reached"
	PromoUserLimitReached      PromoRejection = "user_limit_reached"
	PromoMinPurchaseNotMet     PromoRejection = "min_purchase_not_met"
	PromoVendorExcluded        PromoRejection = "vendor_excluded"
	PromoVendorNotApplicable   PromoRejection = "vendor_not_applicable"
	PromoTripExcluded          PromoRejection = "trip_excluded"
	PromoTripNotApplicable     PromoRejection = "trip_not_applicable"
	PromoCategoryExcluded      PromoRejection = "category_excluded"
	PromoCategoryNotApplicable PromoRejection = "category_not_applicable"
)

// InvalidPromoError is a promo rejection. errors.As also matches it as a
// *ValidationError on the promo_code field.
type InvalidPromoError struct {
	Code   string
	Reason PromoRejection
}

func (e *InvalidPromoError) Error() string {
	return fmt.Sprintf("promo code %q rejected: %s", e.Code, e.Reason)
}

// As exposes the rejection as a ValidationError
func (e *InvalidPromoError) As(target interface{}) bool {
	v, ok := target.(**ValidationError)
	if !ok {
		return false
	}
	*v = &ValidationError{Field: "promo_code", Reason: string(e.Reason), Kind: ValidationInvalid}
	return true
}

// GatewayError wraps a failed payment gateway call
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Consistency error kinds
const (
	ConsistencyUnknownIntent   = "unknown_payment_intent"
	ConsistencyUnknownCharge   = "unknown_charge"
	ConsistencyUnknownPayout   = "unknown_payout"
	ConsistencyUnknownAccount  = "unknown_payout_account"
	ConsistencyPaidAfterCancel = "payment_after_cancellation"
	ConsistencyAmountMismatch  = "amount_mismatch"
)

// ConsistencyError means a gateway event points at state we cannot reconcile.
// The event is acknowledged, audited for review and not applied.
type ConsistencyError struct {
	Kind string
	Ref  string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency error: %s (%s)", e.Kind, e.Ref)
}
