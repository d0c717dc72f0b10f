package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/middleware"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

// LedgerReader exposes a vendor's escrow position
type LedgerReader interface {
	VendorBalance(ctx context.Context, vendorID uuid.UUID) (*models.VendorBalance, error)
	VendorStatement(ctx context.Context, vendorID uuid.UUID) (*models.VendorStatement, error)
}

// EarlyPayouts creates on-demand payouts
type EarlyPayouts interface {
	RequestEarlyPayout(ctx context.Context, vendorID uuid.UUID) (*models.Payout, error)
}

// VendorHandler handles vendor balance and payout requests
type VendorHandler struct {
	ledger  LedgerReader
	payouts EarlyPayouts
	logger  *logrus.Logger
}

// NewVendorHandler creates a new VendorHandler
func NewVendorHandler(ledger LedgerReader, payouts EarlyPayouts, logger *logrus.Logger) *VendorHandler {
	return &VendorHandler{
		ledger:  ledger,
		payouts: payouts,
		logger:  logger,
	}
}

func (h *VendorHandler) vendor(c *gin.Context) (*models.Vendor, bool) {
	vendor, ok := middleware.GetVendor(c)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_vendor",
			"message": "Vendor account not found",
		})
		return nil, false
	}
	return vendor, true
}

// GetBalance handles GET /api/v1/vendor/balance
func (h *VendorHandler) GetBalance(c *gin.Context) {
	vendor, ok := h.vendor(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	balance, err := h.ledger.VendorBalance(ctx, vendor.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	statement, err := h.ledger.VendorStatement(ctx, vendor.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":         balance,
		"statement":       statement,
		"payout_schedule": vendor.PayoutSchedule,
		"payouts_enabled": vendor.PayoutsEnabled,
	})
}

// RequestEarlyPayout handles POST /api/v1/vendor/payouts/early
func (h *VendorHandler) RequestEarlyPayout(c *gin.Context) {
	vendor, ok := h.vendor(c)
	if !ok {
		return
	}

	payout, err := h.payouts.RequestEarlyPayout(c.Request.Context(), vendor.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"vendor_id": vendor.ID,
		"payout_id": payout.ID,
		"amount":    payout.Amount,
		"fee":       payout.EarlyFee,
	}).Info("Early payout requested")
	c.JSON(http.StatusCreated, payout)
}
