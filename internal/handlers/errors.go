package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/services"
)

// respondError maps a service error to its HTTP response
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var promoErr *services.InvalidPromoError
	var vErr *services.ValidationError
	var gwErr *services.GatewayError

	switch {
	case errors.As(err, &promoErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_promo_code",
			"code":    promoErr.Reason,
			"message": promoErr.Error(),
		})

	case errors.As(err, &vErr):
		status := http.StatusBadRequest
		code := "validation_failed"
		switch vErr.Kind {
		case services.ValidationNotFound:
			status, code = http.StatusNotFound, "not_found"
		case services.ValidationConflict:
			status, code = http.StatusConflict, "conflict"
		}
		c.JSON(status, gin.H{
			"error":   code,
			"field":   vErr.Field,
			"message": vErr.Reason,
		})

	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You do not have permission to access this resource",
		})

	case errors.As(err, &gwErr):
		logger.WithError(err).WithField("op", gwErr.Op).Error("Payment gateway call failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "payment_gateway_error",
			"message": "The payment provider could not be reached, please try again",
		})

	case errors.Is(err, services.ErrTerminalState):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})

	default:
		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": "invalid_request", "message": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
