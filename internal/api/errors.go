package api

import (
	"errors"
	"net/http"

	"storefront-orders/internal/lifecycle"
	"storefront-orders/internal/models"
	"storefront-orders/internal/service"
	"storefront-orders/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errorStatus = []struct {
	err     error
	status  int
	message string
}{
	{models.ErrNotFound, http.StatusNotFound, "Not found"},
	{models.ErrVersionConflict, http.StatusConflict, "Order was modified, reload and retry"},
	{service.ErrDuplicateRequest, http.StatusConflict, "Duplicate request"},
	{service.ErrDeliveryPersonUnavailable, http.StatusConflict, "Delivery person unavailable"},
	{service.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{service.ErrOtpLocked, http.StatusTooManyRequests, "Too many OTP attempts"},
	{lifecycle.ErrOtpMismatch, http.StatusUnprocessableEntity, "Invalid OTP"},
	{lifecycle.ErrOtpNotIssued, http.StatusUnprocessableEntity, "No OTP issued for this order"},
	{lifecycle.ErrInvalidTransition, http.StatusUnprocessableEntity, "Invalid status transition"},
	{lifecycle.ErrInvalidCancellation, http.StatusUnprocessableEntity, "Order cannot be cancelled"},
	{service.ErrInvalidOrder, http.StatusBadRequest, "Invalid order"},
	{service.ErrUnsupportedPayment, http.StatusBadRequest, "Unsupported payment method"},
}

// respondError maps domain errors to status codes. Unknown errors are logged
// and reported without details.
func respondError(c *gin.Context, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			c.JSON(e.status, gin.H{
				"error":   e.message,
				"details": err.Error(),
			})
			return
		}
	}

	util.GetLogger().Error("Request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Internal server error",
	})
}
