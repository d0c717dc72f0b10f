package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/services"
	"github.com/tripmarket/marketplace-backend/internal/utils"
	"github.com/tripmarket/marketplace-backend/pkg/paygate"
)

// maxWebhookBody caps the accepted webhook payload size
const maxWebhookBody = 1 << 20

// EventIngester stores and applies verified gateway events
type EventIngester interface {
	Ingest(ctx context.Context, payload []byte, meta services.RequestMeta) error
}

// WebhookConfig holds the webhook verification settings
type WebhookConfig struct {
	Secret    string
	Tolerance time.Duration
}

// WebhookHandler receives payment gateway notifications
type WebhookHandler struct {
	events EventIngester
	config WebhookConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(events EventIngester, config WebhookConfig, logger *logrus.Logger) *WebhookHandler {
	if config.Tolerance <= 0 {
		config.Tolerance = paygate.DefaultTolerance
	}
	return &WebhookHandler{
		events: events,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// HandlePaymentWebhook handles POST /api/v1/payments/webhook
//
// Once the signature checks out the gateway always gets the same
// acknowledgement, whatever happened while applying the event. The only
// exception is a failure to store the event, answered with 503 so the
// gateway delivers it again.
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	ip := utils.GetRealIP(c)
	log := h.logger.WithField("ip", ip)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		log.WithError(err).Warn("Failed to read webhook body")
		badRequest(c, "Could not read request body", nil)
		return
	}
	if len(payload) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "payload_too_large",
			"message": "Webhook payload exceeds the size limit",
		})
		return
	}

	sigHeader := c.GetHeader(paygate.SignatureHeader)
	if err := paygate.VerifySignature(payload, sigHeader, h.config.Secret, h.config.Tolerance, h.now()); err != nil {
		log.WithError(err).Warn("Rejected webhook with invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_signature",
			"message": "Webhook signature verification failed",
		})
		return
	}

	userAgent := utils.GetUserAgent(c)
	meta := services.RequestMeta{
		IP:        ip,
		UserAgent: userAgent,
		Client:    utils.ParseUserAgent(userAgent).Label(),
	}

	if err := h.events.Ingest(c.Request.Context(), payload, meta); err != nil {
		if errors.Is(err, paygate.ErrMalformedEvent) {
			// a redelivery would be just as malformed
			log.WithError(err).Error("Signed webhook is not an event envelope")
		} else {
			log.WithError(err).Error("Failed to store gateway event")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "unavailable",
				"message": "Event could not be recorded, retry later",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
