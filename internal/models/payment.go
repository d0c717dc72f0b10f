package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the status of one payment attempt
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusDisputed   PaymentStatus = "disputed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// validPaymentTransitions only ever moves forward
var validPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusSucceeded, PaymentStatusFailed},
	PaymentStatusSucceeded:  {PaymentStatusRefunded, PaymentStatusDisputed},
	PaymentStatusDisputed:   {PaymentStatusRefunded},
	PaymentStatusFailed:     {},
	PaymentStatusRefunded:   {},
	PaymentStatusCancelled:  {},
}

// IsValid returns true if the status is a recognized payment status
func (s PaymentStatus) IsValid() bool {
	_, exists := validPaymentTransitions[s]
	return exists
}

// CanTransitionTo returns true if a transition from this status to the target is allowed
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, t := range validPaymentTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible
func (s PaymentStatus) IsTerminal() bool {
	return len(validPaymentTransitions[s]) == 0
}

// PaymentType is what the payment collects or returns
type PaymentType string

const (
	PaymentTypeFull    PaymentType = "full_payment"
	PaymentTypeDeposit PaymentType = "deposit"
	PaymentTypeBalance PaymentType = "balance"
	PaymentTypeRefund  PaymentType = "refund"
)

// Payment is one attempt to collect (or return) money for a booking
type Payment struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	BookingID       uuid.UUID     `json:"booking_id" db:"booking_id"`
	TravelerID      uuid.UUID     `json:"traveler_id" db:"traveler_id"`
	Amount          int64         `json:"amount" db:"amount"`
	Currency        string        `json:"currency" db:"currency"`
	Type            PaymentType   `json:"type" db:"type"`
	Status          PaymentStatus `json:"status" db:"status"`
	PaymentIntentID *string       `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	ChargeID        *string       `json:"charge_id,omitempty" db:"charge_id"`
	TransferID      *string       `json:"transfer_id,omitempty" db:"transfer_id"`

	// Fees
	GatewayFee int64 `json:"gateway_fee" db:"gateway_fee"`
	NetAmount  int64 `json:"net_amount" db:"net_amount"`

	// Refund sub-record
	RefundAmount *int64     `json:"refund_amount,omitempty" db:"refund_amount"`
	RefundReason *string    `json:"refund_reason,omitempty" db:"refund_reason"`
	RefundStatus *string    `json:"refund_status,omitempty" db:"refund_status"`
	RefundID     *string    `json:"refund_id,omitempty" db:"refund_id"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty" db:"refunded_at"`

	FailureReason *string `json:"failure_reason,omitempty" db:"failure_reason"`

	PaidAt    *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}
