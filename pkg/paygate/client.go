package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTimeout = 15 * time.Second

// ClientConfig configures the HTTP client
type ClientConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Client talks to the provider's REST API
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	logger    *logrus.Logger
}

// NewClient creates a new provider client
func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// IsConfigured returns true if the client has credentials
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.secretKey != ""
}

// CreatePaymentIntent creates a payment intent for a booking total
func (c *Client) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	var out PaymentIntent
	if err := c.post(ctx, "/v1/payment_intents", p.IdempotencyKey, p, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("paygate: payment intent response without id")
	}

	c.logger.WithFields(logrus.Fields{
		"payment_intent_id": out.ID,
		"amount":            p.Amount,
		"currency":          p.Currency,
	}).Info("Payment intent created")
	return &out, nil
}

// GetPaymentIntent fetches an existing payment intent, including its client secret
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	if id == "" {
		return nil, fmt.Errorf("paygate: payment intent id is required")
	}
	var out PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRefund refunds all or part of a charge
func (c *Client) CreateRefund(ctx context.Context, p RefundParams) (*Refund, error) {
	var out Refund
	if err := c.post(ctx, "/v1/refunds", p.IdempotencyKey, p, &out); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"refund_id": out.ID,
		"charge_id": p.ChargeID,
		"amount":    p.Amount,
	}).Info("Refund requested")
	return &out, nil
}

// CreateTransfer sends funds to a vendor's connected account
func (c *Client) CreateTransfer(ctx context.Context, p TransferParams) (*Transfer, error) {
	var out Transfer
	if err := c.post(ctx, "/v1/transfers", p.IdempotencyKey, p, &out); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"transfer_id":    out.ID,
		"transfer_group": p.TransferGroup,
		"amount":         p.Amount,
	}).Info("Transfer created")
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, in, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, idempotencyKey, in, out)
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, in, out interface{}) error {
	if !c.IsConfigured() {
		return fmt.Errorf("paygate: client not configured: missing base url or secret key")
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Error("Failed to call payment gateway")
		return fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var wrapped struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(respBody, &wrapped) == nil && wrapped.Error != nil {
			apiErr.Code = wrapped.Error.Code
			apiErr.Message = wrapped.Error.Message
		} else {
			apiErr.Message = string(respBody)
		}
		c.logger.WithFields(logrus.Fields{
			"path":        path,
			"status_code": resp.StatusCode,
			"code":        apiErr.Code,
		}).Warn("Payment gateway returned an error")
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
