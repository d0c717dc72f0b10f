package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventIntentCreated          PaymentEventType = "payment_intent_created"
	PaymentEventWebhookReceived        PaymentEventType = "webhook_received"
	PaymentEventSuccess                PaymentEventType = "payment_success"
	PaymentEventFailed                 PaymentEventType = "payment_failed"
	PaymentEventBookingConfirmed       PaymentEventType = "booking_confirmed"
	PaymentEventRefundInitiated        PaymentEventType = "refund_initiated"
	PaymentEventRefundCompleted        PaymentEventType = "refund_completed"
	PaymentEventPartialRefund          PaymentEventType = "partial_refund"
	PaymentEventTransferSubmitted      PaymentEventType = "transfer_submitted"
	PaymentEventTransferCompleted      PaymentEventType = "transfer_completed"
	PaymentEventTransferFailed         PaymentEventType = "transfer_failed"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
	PaymentEventError                  PaymentEventType = "error"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend PaymentEventSource = "backend"
	PaymentSourceWebhook PaymentEventSource = "gateway_webhook"
	PaymentSourceAPI     PaymentEventSource = "gateway_api"
	PaymentSourceSystem  PaymentEventSource = "system"
)

// PaymentAudit represents an immutable audit log entry for payment events
type PaymentAudit struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	BookingID      *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	PaymentID      *uuid.UUID `json:"payment_id,omitempty" db:"payment_id"`
	PayoutID       *uuid.UUID `json:"payout_id,omitempty" db:"payout_id"`
	GatewayEventID *string    `json:"gateway_event_id,omitempty" db:"gateway_event_id"`
	GatewayRef     *string    `json:"gateway_ref,omitempty" db:"gateway_ref"`

	// Event info
	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	// Amount tracking
	ExpectedAmount *int64  `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *int64  `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool   `json:"amounts_match,omitempty" db:"amounts_match"`

	PaymentStatus *string `json:"payment_status,omitempty" db:"payment_status"`
	Payload       JSONB   `json:"payload,omitempty" db:"payload"`

	// Error tracking; RequiresReview flags rows for manual follow-up
	ErrorMessage   *string `json:"error_message,omitempty" db:"error_message"`
	ErrorCode      *string `json:"error_code,omitempty" db:"error_code"`
	RequiresReview bool    `json:"requires_review" db:"requires_review"`

	// Request metadata
	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`
	Client    *string `json:"client,omitempty" db:"client"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetBooking sets the booking the event concerns
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID) *PaymentAudit {
	pa.BookingID = &bookingID
	return pa
}

// SetPayment sets the payment the event concerns
func (pa *PaymentAudit) SetPayment(paymentID uuid.UUID) *PaymentAudit {
	pa.PaymentID = &paymentID
	return pa
}

// SetPayout sets the payout the event concerns
func (pa *PaymentAudit) SetPayout(payoutID uuid.UUID) *PaymentAudit {
	pa.PayoutID = &payoutID
	return pa
}

// SetGatewayEvent links the audit row to a stored webhook event
func (pa *PaymentAudit) SetGatewayEvent(eventID string) *PaymentAudit {
	pa.GatewayEventID = &eventID
	return pa
}

// SetGatewayRef sets the external intent/charge/transfer id
func (pa *PaymentAudit) SetGatewayRef(ref string) *PaymentAudit {
	if ref != "" {
		pa.GatewayRef = &ref
	}
	return pa
}

// SetAmounts sets and verifies amounts - returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received int64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency
	match := expected == received
	pa.AmountsMatch = &match
	return match
}

// SetPaymentStatus sets the payment status reported by the gateway
func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	pa.PaymentStatus = &status
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string, code *string) *PaymentAudit {
	pa.ErrorMessage = &message
	pa.ErrorCode = code
	return pa
}

// SetPayload stores structured event details
func (pa *PaymentAudit) SetPayload(payload map[string]interface{}) *PaymentAudit {
	pa.Payload = JSONB(payload)
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent, client string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if client != "" {
		pa.Client = &client
	}
	return pa
}

// FlagForReview marks the row for manual review
func (pa *PaymentAudit) FlagForReview() *PaymentAudit {
	pa.RequiresReview = true
	return pa
}
