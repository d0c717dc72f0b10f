//go:build !production

package paygate

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DevGatewayAvailable reports that this build includes the development gateway
const DevGatewayAvailable = true

// devGateway answers every call locally with fake provider ids. It lets the
// booking flow run without provider credentials during local development.
type devGateway struct {
	logger *logrus.Logger
}

// NewDevGateway returns the local fake gateway
func NewDevGateway(logger *logrus.Logger) (Gateway, error) {
	logger.Warn("Using development payment gateway: no real charges are made")
	return &devGateway{logger: logger}, nil
}

func fakeID(prefix string) string {
	return prefix + "_dev_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (g *devGateway) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	if p.Amount < 0 {
		return nil, &APIError{StatusCode: 400, Code: "amount_invalid", Message: "amount must not be negative"}
	}
	id := fakeID("pi")
	g.logger.WithFields(logrus.Fields{"payment_intent_id": id, "amount": p.Amount}).Debug("Dev payment intent")
	return &PaymentIntent{
		ID:           id,
		ClientSecret: fmt.Sprintf("%s_secret_dev", id),
		Status:       "requires_payment_method",
		Amount:       p.Amount,
		Currency:     p.Currency,
	}, nil
}

// GetPaymentIntent rebuilds the intent from its id; amount and currency are not kept locally
func (g *devGateway) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	if !strings.HasPrefix(id, "pi_dev_") {
		return nil, &APIError{StatusCode: 404, Code: "resource_missing", Message: "no such payment intent"}
	}
	return &PaymentIntent{
		ID:           id,
		ClientSecret: fmt.Sprintf("%s_secret_dev", id),
		Status:       "requires_payment_method",
	}, nil
}

func (g *devGateway) CreateRefund(ctx context.Context, p RefundParams) (*Refund, error) {
	return &Refund{ID: fakeID("re"), Status: "pending", Amount: p.Amount}, nil
}

func (g *devGateway) CreateTransfer(ctx context.Context, p TransferParams) (*Transfer, error) {
	return &Transfer{ID: fakeID("tr"), Status: "pending", Amount: p.Amount, TransferGroup: p.TransferGroup}, nil
}
