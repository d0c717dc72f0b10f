package paygate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Webhook event types the marketplace consumes
const (
	TypePaymentSucceeded = "payment_intent.succeeded"
	TypePaymentFailed    = "payment_intent.payment_failed"
	TypeChargeRefunded   = "charge.refunded"
	TypeTransferCreated  = "transfer.created"
	TypeTransferFailed   = "transfer.failed"
	TypeAccountUpdated   = "account.updated"
)

var (
	ErrMalformedEvent   = errors.New("paygate: malformed event")
	ErrUnsupportedEvent = errors.New("paygate: unsupported event type")
)

// Envelope is the outer JSON of every webhook delivery
type Envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEnvelope decodes the outer envelope without interpreting the payload
func ParseEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	return &env, nil
}

// Event is one of the closed set of typed notifications below
type Event interface {
	EventID() string
	EventType() string
	Accept(v EventVisitor) error
}

// EventVisitor has one method per event variant. Adding a variant breaks
// every visitor until it handles the new case.
type EventVisitor interface {
	VisitPaymentSucceeded(e *PaymentSucceeded) error
	VisitPaymentFailed(e *PaymentFailed) error
	VisitChargeRefunded(e *ChargeRefunded) error
	VisitTransferCreated(e *TransferCreated) error
	VisitTransferFailed(e *TransferFailed) error
	VisitAccountUpdated(e *AccountUpdated) error
}

// Meta is shared by every event
type Meta struct {
	ID      string
	Type    string
	Created time.Time
}

func (m Meta) EventID() string { return m.ID }
func (m Meta) EventType() string { return m.Type }

// PaymentSucceeded: a payment intent was captured
type PaymentSucceeded struct {
	Meta
	PaymentIntentID string
	ChargeID        string
	Amount          int64
	Currency        string
	Fee             int64
	Metadata        map[string]string
}

// PaymentFailed: the traveler's payment attempt failed
type PaymentFailed struct {
	Meta
	PaymentIntentID string
	FailureCode     string
	FailureMessage  string
}

// ChargeRefunded: all or part of a charge went back to the traveler.
// AmountRefunded is cumulative.
type ChargeRefunded struct {
	Meta
	ChargeID        string
	PaymentIntentID string
	Amount          int64
	AmountRefunded  int64
	RefundID        string
	Currency        string
}

// IsFull reports whether the whole charge has been refunded
func (e *ChargeRefunded) IsFull() bool {
	return e.AmountRefunded >= e.Amount
}

// TransferCreated: funds reached a vendor account
type TransferCreated struct {
	Meta
	TransferID    string
	TransferGroup string
	Destination   string
	Amount        int64
	Currency      string
}

// TransferFailed: a vendor transfer was rejected or reversed
type TransferFailed struct {
	Meta
	TransferID     string
	TransferGroup  string
	FailureMessage string
}

// AccountUpdated: a vendor's connected account changed capability
type AccountUpdated struct {
	Meta
	AccountID        string
	PayoutsEnabled   bool
	DetailsSubmitted bool
	DisabledReason   string
}

func (e *PaymentSucceeded) Accept(v EventVisitor) error { return v.VisitPaymentSucceeded(e) }
func (e *PaymentFailed) Accept(v EventVisitor) error { return v.VisitPaymentFailed(e) }
func (e *ChargeRefunded) Accept(v EventVisitor) error { return v.VisitChargeRefunded(e) }
func (e *TransferCreated) Accept(v EventVisitor) error { return v.VisitTransferCreated(e) }
func (e *TransferFailed) Accept(v EventVisitor) error { return v.VisitTransferFailed(e) }
func (e *AccountUpdated) Accept(v EventVisitor) error { return v.VisitAccountUpdated(e) }

// ============================================================================
// WIRE SHAPES
// ============================================================================

type paymentIntentObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	Currency         string            `json:"currency"`
	LatestCharge     string            `json:"latest_charge"`
	Fee              int64             `json:"fee"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type chargeObject struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Refunds        struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"refunds"`
}

type transferObject struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Destination    string `json:"destination"`
	TransferGroup  string `json:"transfer_group"`
	FailureMessage string `json:"failure_message"`
}

type accountObject struct {
	ID               string `json:"id"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
	Requirements     struct {
		DisabledReason string `json:"disabled_reason"`
	} `json:"requirements"`
}

// Decode turns the envelope into its typed event. Unknown types return
// ErrUnsupportedEvent so the caller can acknowledge and ignore them.
func (env *Envelope) Decode() (Event, error) {
	meta := Meta{ID: env.ID, Type: env.Type, Created: time.Unix(env.Created, 0).UTC()}
	if len(env.Data.Object) == 0 {
		return nil, fmt.Errorf("%w: empty data object", ErrMalformedEvent)
	}

	switch env.Type {
	case TypePaymentSucceeded, TypePaymentFailed:
		var obj paymentIntentObject
		if err := decodeObject(env.Data.Object, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("%w: payment intent without id", ErrMalformedEvent)
		}
		if env.Type == TypePaymentFailed {
			e := &PaymentFailed{Meta: meta, PaymentIntentID: obj.ID}
			if obj.LastPaymentError != nil {
				e.FailureCode = obj.LastPaymentError.Code
				e.FailureMessage = obj.LastPaymentError.Message
			}
			return e, nil
		}
		amount := obj.AmountReceived
		if amount == 0 {
			amount = obj.Amount
		}
		return &PaymentSucceeded{
			Meta:            meta,
			PaymentIntentID: obj.ID,
			ChargeID:        obj.LatestCharge,
			Amount:          amount,
			Currency:        strings.ToUpper(obj.Currency),
			Fee:             obj.Fee,
			Metadata:        obj.Metadata,
		}, nil

	case TypeChargeRefunded:
		var obj chargeObject
		if err := decodeObject(env.Data.Object, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" && obj.PaymentIntent == "" {
			return nil, fmt.Errorf("%w: charge without id", ErrMalformedEvent)
		}
		e := &ChargeRefunded{
			Meta:            meta,
			ChargeID:        obj.ID,
			PaymentIntentID: obj.PaymentIntent,
			Amount:          obj.Amount,
			AmountRefunded:  obj.AmountRefunded,
			Currency:        strings.ToUpper(obj.Currency),
		}
		if n := len(obj.Refunds.Data); n > 0 {
			e.RefundID = obj.Refunds.Data[n-1].ID
		}
		return e, nil

	case TypeTransferCreated, TypeTransferFailed:
		var obj transferObject
		if err := decodeObject(env.Data.Object, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" && obj.TransferGroup == "" {
			return nil, fmt.Errorf("%w: transfer without id or group", ErrMalformedEvent)
		}
		if env.Type == TypeTransferFailed {
			return &TransferFailed{
				Meta:           meta,
				TransferID:     obj.ID,
				TransferGroup:  obj.TransferGroup,
				FailureMessage: obj.FailureMessage,
			}, nil
		}
		return &TransferCreated{
			Meta:          meta,
			TransferID:    obj.ID,
			TransferGroup: obj.TransferGroup,
			Destination:   obj.Destination,
			Amount:        obj.Amount,
			Currency:      strings.ToUpper(obj.Currency),
		}, nil

	case TypeAccountUpdated:
		var obj accountObject
		if err := decodeObject(env.Data.Object, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("%w: account without id", ErrMalformedEvent)
		}
		return &AccountUpdated{
			Meta:             meta,
			AccountID:        obj.ID,
			PayoutsEnabled:   obj.PayoutsEnabled,
			DetailsSubmitted: obj.DetailsSubmitted,
			DisabledReason:   obj.Requirements.DisabledReason,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, env.Type)
}

func decodeObject(raw json.RawMessage, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// ParseEvent decodes a verified webhook body into its typed event
func ParseEvent(payload []byte) (Event, error) {
	env, err := ParseEnvelope(payload)
	if err != nil {
		return nil, err
	}
	return env.Decode()
}
