package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/middleware"
	"github.com/tripmarket/marketplace-backend/internal/models"
	"github.com/tripmarket/marketplace-backend/internal/services"
)

// JobRunner triggers the background jobs on demand
type JobRunner interface {
	RunEscrowReleaseNow(ctx context.Context) (int64, error)
	RunCompleteBookingsNow(ctx context.Context) (int, error)
	RunPayoutBatchNow(ctx context.Context, tag models.ScheduleTag) (*models.PayoutBatchResult, error)
	RunResumeStalledNow(ctx context.Context) (int, error)
	RunReplayEventsNow(ctx context.Context) (int, error)
	GetJobStatus() map[string]interface{}
}

// PromoAdmin manages promo codes
type PromoAdmin interface {
	Deactivate(ctx context.Context, code string) error
}

// ReviewReader exposes what reconciliation flagged for manual review
type ReviewReader interface {
	ReviewQueue(ctx context.Context, limit int) ([]*models.PaymentAudit, error)
	BookingLedger(ctx context.Context, bookingID uuid.UUID) (*services.BookingLedger, error)
}

// AdminHandler handles admin-only operations
type AdminHandler struct {
	jobs   JobRunner
	promos PromoAdmin
	review ReviewReader
	logger *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(jobs JobRunner, promos PromoAdmin, review ReviewReader, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		jobs:   jobs,
		promos: promos,
		review: review,
		logger: logger,
	}
}

func (h *AdminHandler) logAction(c *gin.Context, action string, fields logrus.Fields) {
	userCtx := middleware.MustGetUserContext(c)
	h.logger.WithFields(fields).
		WithField("admin_id", userCtx.UserID).
		WithField("action", action).
		Info("Admin action")
}

// ===================================================================
// JOBS
// ===================================================================

// GetJobStatus handles GET /api/v1/admin/jobs
func (h *AdminHandler) GetJobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.GetJobStatus())
}

// RunEscrowRelease handles POST /api/v1/admin/jobs/escrow-release
func (h *AdminHandler) RunEscrowRelease(c *gin.Context) {
	released, err := h.jobs.RunEscrowReleaseNow(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logAction(c, services.JobEscrowRelease, logrus.Fields{"released": released})
	c.JSON(http.StatusOK, gin.H{"released": released})
}

// RunCompleteBookings handles POST /api/v1/admin/jobs/complete-bookings
func (h *AdminHandler) RunCompleteBookings(c *gin.Context) {
	completed, err := h.jobs.RunCompleteBookingsNow(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logAction(c, services.JobCompleteBookings, logrus.Fields{"completed": completed})
	c.JSON(http.StatusOK, gin.H{"completed": completed})
}

// RunPayoutBatch handles POST /api/v1/admin/jobs/payout-batch?tag=
func (h *AdminHandler) RunPayoutBatch(c *gin.Context) {
	tag, ok := models.ParseScheduleTag(c.Query("tag"))
	if !ok {
		badRequest(c, "tag must be one of all, daily, weekly, monthly", nil)
		return
	}

	result, err := h.jobs.RunPayoutBatchNow(c.Request.Context(), tag)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logAction(c, services.JobPayoutBatch, logrus.Fields{
		"tag":       tag,
		"submitted": result.Submitted,
		"failed":    result.Failed,
	})
	c.JSON(http.StatusOK, result)
}

// RunResumeStalled handles POST /api/v1/admin/jobs/resume-stalled
func (h *AdminHandler) RunResumeStalled(c *gin.Context) {
	resumed, err := h.jobs.RunResumeStalledNow(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logAction(c, services.JobResumeStalled, logrus.Fields{"resumed": resumed})
	c.JSON(http.StatusOK, gin.H{"resumed": resumed})
}

// RunReplayEvents handles POST /api/v1/admin/jobs/replay-events
func (h *AdminHandler) RunReplayEvents(c *gin.Context) {
	replayed, err := h.jobs.RunReplayEventsNow(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logAction(c, services.JobReplayEvents, logrus.Fields{"replayed": replayed})
	c.JSON(http.StatusOK, gin.H{"replayed": replayed})
}

// ===================================================================
// PROMO CODES
// ===================================================================

// DeactivatePromoCode handles POST /api/v1/admin/promo-codes/:code/deactivate
func (h *AdminHandler) DeactivatePromoCode(c *gin.Context) {
	code := c.Param("code")
	if err := h.promos.Deactivate(c.Request.Context(), code); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logAction(c, "deactivate_promo_code", logrus.Fields{"promo_code": code})
	c.JSON(http.StatusOK, gin.H{
		"promo_code": models.NormalizePromoCode(code),
		"is_active":  false,
	})
}

// ===================================================================
// RECONCILIATION REVIEW
// ===================================================================

// ListReviewQueue handles GET /api/v1/admin/payment-audits/review?limit=
func (h *AdminHandler) ListReviewQueue(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	audits, err := h.review.ReviewQueue(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"audits": audits,
		"count":  len(audits),
	})
}

// GetBookingLedger handles GET /api/v1/admin/bookings/:id/ledger
func (h *AdminHandler) GetBookingLedger(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid booking ID", err)
		return
	}

	ledger, err := h.review.BookingLedger(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"booking":        models.NewBookingResponse(ledger.Booking, nil),
		"payment":        ledger.Payment,
		"escrow_entries": ledger.Entries,
		"audits":         ledger.Audits,
	})
}
