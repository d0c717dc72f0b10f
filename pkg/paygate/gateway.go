// Package paygate is the outbound and inbound boundary to the card payment
// provider: payment intents, refunds and vendor transfers go out through a
// Gateway, signed webhook notifications come back in as typed Events.
package paygate

import (
	"context"
	"errors"
	"fmt"
)

// Gateway is the subset of the provider API the marketplace calls
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, p RefundParams) (*Refund, error)
	CreateTransfer(ctx context.Context, p TransferParams) (*Transfer, error)
}

// ErrDevGatewayUnavailable is returned when the development gateway is
// requested from a production build
var ErrDevGatewayUnavailable = errors.New("paygate: development gateway is not compiled into production builds")

// PaymentIntentParams describes a charge the traveler will authorize client side
type PaymentIntentParams struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	CustomerRef    string            `json:"customer_ref,omitempty"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// PaymentIntent is the provider's handle for a pending charge
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// RefundParams requests a full or partial refund of a captured charge
type RefundParams struct {
	ChargeID        string            `json:"charge,omitempty"`
	PaymentIntentID string            `json:"payment_intent,omitempty"`
	Amount          int64             `json:"amount"`
	Reason          string            `json:"reason,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	IdempotencyKey  string            `json:"-"`
}

// Refund is the provider's record of a refund request
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// TransferParams moves funds to a connected vendor account. TransferGroup
// carries the payout id so webhooks can be matched before the transfer id is known.
type TransferParams struct {
	Destination    string            `json:"destination"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	TransferGroup  string            `json:"transfer_group,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// Transfer is the provider's record of a transfer
type Transfer struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	TransferGroup string `json:"transfer_group,omitempty"`
}

// APIError is a non-2xx answer from the provider
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("paygate: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("paygate: %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
