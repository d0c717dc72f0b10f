package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/middleware"
	"github.com/tripmarket/marketplace-backend/internal/models"
	"github.com/tripmarket/marketplace-backend/internal/services"
)

// BookingAPI is the booking lifecycle as seen by the HTTP layer
type BookingAPI interface {
	Create(ctx context.Context, travelerID uuid.UUID, req models.CreateBookingRequest) (*services.CreateBookingResult, error)
	CalculatePrice(ctx context.Context, travelerID uuid.UUID, req models.PriceQuoteRequest) (*services.PriceBreakdown, error)
	Get(ctx context.Context, id uuid.UUID, actor services.Actor) (*models.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID, actor services.Actor, reason string) (*models.Booking, error)
	Receipt(ctx context.Context, id uuid.UUID, actor services.Actor) ([]byte, error)
}

// BookingHandler handles traveler booking requests
type BookingHandler struct {
	bookings BookingAPI
	logger   *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingAPI, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// actorFrom builds the service actor from the authenticated caller
func actorFrom(userCtx middleware.UserContext) services.Actor {
	return services.Actor{
		UserID:   userCtx.UserID,
		VendorID: userCtx.VendorID,
		Admin:    userCtx.IsAdmin(),
	}
}

func bookingIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid booking ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// CreateBooking handles POST /api/v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if req.IdempotencyKey == nil {
		if key := c.GetHeader("Idempotency-Key"); key != "" {
			req.IdempotencyKey = &key
		}
	}

	result, err := h.bookings.Create(c.Request.Context(), userCtx.UserID, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	} else {
		h.logger.WithFields(logrus.Fields{
			"booking_id":     result.Booking.ID,
			"booking_number": result.Booking.BookingNumber,
			"traveler_id":    userCtx.UserID,
			"total":          result.Booking.Pricing.TotalPrice,
		}).Info("Booking created")
	}
	c.JSON(status, models.NewBookingResponse(result.Booking, result.ClientSecret))
}

// QuotePrice handles POST /api/v1/pricing/quote
func (h *BookingHandler) QuotePrice(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req models.PriceQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	price, err := h.bookings.CalculatePrice(c.Request.Context(), userCtx.UserID, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, price)
}

// GetBooking handles GET /api/v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	id, ok := bookingIDParam(c)
	if !ok {
		return
	}

	booking, err := h.bookings.Get(c.Request.Context(), id, actorFrom(middleware.MustGetUserContext(c)))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, models.NewBookingResponse(booking, nil))
}

// CancelBooking handles POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	id, ok := bookingIDParam(c)
	if !ok {
		return
	}

	// the body is optional
	var req models.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}

	userCtx := middleware.MustGetUserContext(c)
	booking, err := h.bookings.Cancel(c.Request.Context(), id, actorFrom(userCtx), req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"booking_id":    booking.ID,
		"cancelled_by":  userCtx.UserID,
		"refund_amount": booking.Refund().Amount,
	}).Info("Booking cancelled")
	c.JSON(http.StatusOK, models.NewBookingResponse(booking, nil))
}

// GetReceipt handles GET /api/v1/bookings/:id/receipt
func (h *BookingHandler) GetReceipt(c *gin.Context) {
	id, ok := bookingIDParam(c)
	if !ok {
		return
	}

	pdf, err := h.bookings.Receipt(c.Request.Context(), id, actorFrom(middleware.MustGetUserContext(c)))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="receipt-%s.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
