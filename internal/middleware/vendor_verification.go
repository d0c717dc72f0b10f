package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

// VendorContextKey holds the *models.Vendor resolved by RequireVendor
const VendorContextKey = "vendor"

// VendorLookup resolves the vendor owned by a user account
type VendorLookup interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Vendor, error)
}

// RequireVendor checks the caller owns an approved vendor account.
// Must be used after AuthMiddleware to have userCtx available.
func RequireVendor(vendors VendorLookup, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abortUnauthorized(c, "MISSING_USER_CONTEXT", "User context not found")
			return
		}

		vendor, err := vendors.GetByUserID(c.Request.Context(), userCtx.UserID)
		if err != nil {
			logger.WithError(err).WithField("user_id", userCtx.UserID).Error("Failed to get vendor for verification check")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to verify vendor account",
			})
			c.Abort()
			return
		}

		if vendor == nil {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_vendor",
				"code":    "NOT_VENDOR",
				"message": "Vendor account not found",
			})
			c.Abort()
			return
		}

		if vendor.VerificationStatus != models.VerificationApproved {
			c.JSON(http.StatusForbidden, gin.H{
				"error":               "not_verified",
				"code":                "ACCOUNT_NOT_VERIFIED",
				"message":             "Your vendor account is not verified yet",
				"verification_status": vendor.VerificationStatus,
			})
			c.Abort()
			return
		}

		c.Set(VendorContextKey, vendor)
		c.Next()
	}
}

// GetVendor returns the vendor stored by RequireVendor
func GetVendor(c *gin.Context) (*models.Vendor, bool) {
	value, exists := c.Get(VendorContextKey)
	if !exists {
		return nil, false
	}
	vendor, ok := value.(*models.Vendor)
	return vendor, ok && vendor != nil
}
