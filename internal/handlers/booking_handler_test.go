package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/marketplace-backend/internal/middleware"
	"github.com/tripmarket/marketplace-backend/internal/models"
	"github.com/tripmarket/marketplace-backend/internal/services"
)

type fakeBookingAPI struct {
	create  func(travelerID uuid.UUID, req models.CreateBookingRequest) (*services.CreateBookingResult, error)
	quote   func(req models.PriceQuoteRequest) (*services.PriceBreakdown, error)
	get     func(id uuid.UUID, actor services.Actor) (*models.Booking, error)
	cancel  func(id uuid.UUID, actor services.Actor, reason string) (*models.Booking, error)
	receipt func(id uuid.UUID, actor services.Actor) ([]byte, error)
}

func (f *fakeBookingAPI) Create(_ context.Context, travelerID uuid.UUID, req models.CreateBookingRequest) (*services.CreateBookingResult, error) {
	return f.create(travelerID, req)
}

func (f *fakeBookingAPI) CalculatePrice(_ context.Context, _ uuid.UUID, req models.PriceQuoteRequest) (*services.PriceBreakdown, error) {
	return f.quote(req)
}

func (f *fakeBookingAPI) Get(_ context.Context, id uuid.UUID, actor services.Actor) (*models.Booking, error) {
	return f.get(id, actor)
}

func (f *fakeBookingAPI) Cancel(_ context.Context, id uuid.UUID, actor services.Actor, reason string) (*models.Booking, error) {
	return f.cancel(id, actor, reason)
}

func (f *fakeBookingAPI) Receipt(_ context.Context, id uuid.UUID, actor services.Actor) ([]byte, error) {
	return f.receipt(id, actor)
}

func bookingRouter(api BookingAPI, userCtx middleware.UserContext) *gin.Engine {
	h := NewBookingHandler(api, testLogger())
	r := newTestRouter(&userCtx)
	r.POST("/bookings", h.CreateBooking)
	r.POST("/pricing/quote", h.QuotePrice)
	r.GET("/bookings/:id", h.GetBooking)
	r.POST("/bookings/:id/cancel", h.CancelBooking)
	r.GET("/bookings/:id/receipt", h.GetReceipt)
	return r
}

func sampleBooking(state models.BookingState) *models.Booking {
	return &models.Booking{
		ID:            uuid.New(),
		BookingNumber: "TM-20260301-ABC123",
		GuestCount:    2,
		Pricing: models.PricingSnapshot{
			BasePrice: 9000, PlatformFee: 900, TotalPrice: 9900,
			VendorPayoutAmount: 7650, CommissionBps: 1500, Currency: "USD",
		},
		State: state,
	}
}

func createBody() map[string]interface{} {
	return map[string]interface{}{
		"trip_id":      uuid.New(),
		"departure_id": uuid.New(),
		"guest_count":  2,
	}
}

func TestCreateBooking_Success(t *testing.T) {
	user := travelerCtx()
	secret := "pi_123_secret"
	var gotTraveler uuid.UUID
	var gotKey *string
	api := &fakeBookingAPI{
		create: func(travelerID uuid.UUID, req models.CreateBookingRequest) (*services.CreateBookingResult, error) {
			gotTraveler = travelerID
			gotKey = req.IdempotencyKey
			return &services.CreateBookingResult{Booking: sampleBooking(models.AwaitingPayment{}), ClientSecret: &secret}, nil
		},
	}

	r := bookingRouter(api, user)
	req := createBody()
	req["idempotency_key"] = "checkout-1"
	w := doJSON(t, r, http.MethodPost, "/bookings", req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "pending", body["payment_status"])
	assert.Equal(t, secret, body["client_secret"])
	assert.Equal(t, float64(9900), body["pricing"].(map[string]interface{})["total_price"])

	assert.Equal(t, user.UserID, gotTraveler)
	require.NotNil(t, gotKey)
	assert.Equal(t, "checkout-1", *gotKey)
}

func TestCreateBooking_ReplayReturnsOK(t *testing.T) {
	api := &fakeBookingAPI{
		create: func(uuid.UUID, models.CreateBookingRequest) (*services.CreateBookingResult, error) {
			return &services.CreateBookingResult{Booking: sampleBooking(models.Confirmed{}), Replayed: true}, nil
		},
	}
	w := doJSON(t, bookingRouter(api, travelerCtx()), http.MethodPost, "/bookings", createBody())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, decode(t, w), "client_secret")
}

func TestCreateBooking_InvalidBody(t *testing.T) {
	api := &fakeBookingAPI{}
	r := bookingRouter(api, travelerCtx())

	w := doJSON(t, r, http.MethodPost, "/bookings", map[string]interface{}{"guest_count": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode(t, w)["error"])
}

func TestCreateBooking_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "invalid field",
			err:    &services.ValidationError{Field: "guest_count", Reason: "not enough seats", Kind: services.ValidationInvalid},
			status: http.StatusBadRequest,
			code:   "validation_failed",
		},
		{
			name:   "missing departure",
			err:    &services.ValidationError{Field: "departure_id", Reason: "not found", Kind: services.ValidationNotFound},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "conflict",
			err:    &services.ValidationError{Field: "departure_id", Reason: "departure is full", Kind: services.ValidationConflict},
			status: http.StatusConflict,
			code:   "conflict",
		},
		{
			name:   "promo rejected",
			err:    &services.InvalidPromoError{Code: "SUMMER", Reason: services.PromoExpired},
			status: http.StatusBadRequest,
			code:   "invalid_promo_code",
		},
		{
			name:   "gateway down",
			err:    &services.GatewayError{Op: "create_payment_intent", Err: errors.New("timeout")},
			status: http.StatusBadGateway,
			code:   "payment_gateway_error",
		},
		{
			name:   "unexpected",
			err:    fmt.Errorf("failed to insert booking: %w", errors.New("connection reset")),
			status: http.StatusInternalServerError,
			code:   "internal_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeBookingAPI{
				create: func(uuid.UUID, models.CreateBookingRequest) (*services.CreateBookingResult, error) {
					return nil, tt.err
				},
			}
			w := doJSON(t, bookingRouter(api, travelerCtx()), http.MethodPost, "/bookings", createBody())
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["error"])
		})
	}
}

func TestCreateBooking_PromoRejectionCarriesReason(t *testing.T) {
	api := &fakeBookingAPI{
		create: func(uuid.UUID, models.CreateBookingRequest) (*services.CreateBookingResult, error) {
			return nil, &services.InvalidPromoError{Code: "SUMMER", Reason: services.PromoUserLimitReached}
		},
	}
	w := doJSON(t, bookingRouter(api, travelerCtx()), http.MethodPost, "/bookings", createBody())
	assert.Equal(t, "user_limit_reached", decode(t, w)["code"])
}

func TestQuotePrice(t *testing.T) {
	api := &fakeBookingAPI{
		quote: func(req models.PriceQuoteRequest) (*services.PriceBreakdown, error) {
			assert.Equal(t, 3, req.GuestCount)
			return &services.PriceBreakdown{BasePrice: 13500, PlatformFee: 1350, TotalPrice: 14850, Currency: "USD"}, nil
		},
	}
	body := createBody()
	body["guest_count"] = 3
	w := doJSON(t, bookingRouter(api, travelerCtx()), http.MethodPost, "/pricing/quote", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(14850), decode(t, w)["total_price"])
}

func TestGetBooking(t *testing.T) {
	b := sampleBooking(models.Confirmed{})
	user := adminCtx()
	api := &fakeBookingAPI{
		get: func(id uuid.UUID, actor services.Actor) (*models.Booking, error) {
			assert.Equal(t, b.ID, id)
			assert.True(t, actor.Admin)
			assert.Equal(t, user.UserID, actor.UserID)
			return b, nil
		},
	}
	w := doJSON(t, bookingRouter(api, user), http.MethodGet, "/bookings/"+b.ID.String(), nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, "completed", body["payment_status"])
	assert.Equal(t, b.BookingNumber, body["booking_number"])
}

func TestGetBooking_InvalidID(t *testing.T) {
	w := doJSON(t, bookingRouter(&fakeBookingAPI{}, travelerCtx()), http.MethodGet, "/bookings/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBooking_Forbidden(t *testing.T) {
	api := &fakeBookingAPI{
		get: func(uuid.UUID, services.Actor) (*models.Booking, error) { return nil, services.ErrForbidden },
	}
	w := doJSON(t, bookingRouter(api, travelerCtx()), http.MethodGet, "/bookings/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCancelBooking(t *testing.T) {
	b := sampleBooking(models.Cancelled{
		Payment: models.BookingPaymentCompleted,
		Refund:  models.RefundState{Status: models.RefundStatusPending, Amount: 4950},
	})
	var gotReason string
	api := &fakeBookingAPI{
		cancel: func(id uuid.UUID, actor services.Actor, reason string) (*models.Booking, error) {
			gotReason = reason
			return b, nil
		},
	}

	w := doJSON(t, bookingRouter(api, travelerCtx()), http.MethodPost, "/bookings/"+b.ID.String()+"/cancel",
		map[string]string{"reason": "change of plans"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "change of plans", gotReason)
	body := decode(t, w)
	assert.Equal(t, "cancelled", body["status"])
	refund := body["refund"].(map[string]interface{})
	assert.Equal(t, float64(4950), refund["amount"])
}

func TestCancelBooking_WithoutBody(t *testing.T) {
	b := sampleBooking(models.Cancelled{Payment: models.BookingPaymentPending})
	api := &fakeBookingAPI{
		cancel: func(uuid.UUID, services.Actor, string) (*models.Booking, error) { return b, nil },
	}
	w := doJSON(t, bookingRouter(api, travelerCtx()), http.MethodPost, "/bookings/"+b.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCancelBooking_AlreadyCancelled(t *testing.T) {
	api := &fakeBookingAPI{
		cancel: func(uuid.UUID, services.Actor, string) (*models.Booking, error) {
			return nil, &services.ValidationError{Field: "status", Reason: "booking in status cancelled cannot be cancelled", Kind: services.ValidationConflict}
		},
	}
	w := doJSON(t, bookingRouter(api, travelerCtx()), http.MethodPost, "/bookings/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetReceipt(t *testing.T) {
	api := &fakeBookingAPI{
		receipt: func(uuid.UUID, services.Actor) ([]byte, error) { return []byte("%PDF-1.3 test"), nil },
	}
	w := doJSON(t, bookingRouter(api, travelerCtx()), http.MethodGet, "/bookings/"+uuid.NewString()+"/receipt", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "receipt-")
	assert.Equal(t, "%PDF-1.3 test", w.Body.String())
}

func TestGetReceipt_UnpaidBooking(t *testing.T) {
	api := &fakeBookingAPI{
		receipt: func(uuid.UUID, services.Actor) ([]byte, error) {
			return nil, &services.ValidationError{Field: "status", Reason: "receipts are only available for paid bookings", Kind: services.ValidationConflict}
		},
	}
	w := doJSON(t, bookingRouter(api, travelerCtx()), http.MethodGet, "/bookings/"+uuid.NewString()+"/receipt", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
