package middleware

import (
	"errors"
	"net/http"

	"voicelink/internal/core/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyInRoom),
		errors.Is(err, domain.ErrNotInRoom),
		errors.Is(err, domain.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConstraintsUnsatisfiable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSignalingUnavailable),
		errors.Is(err, domain.ErrConnectionTimeout),
		errors.Is(err, domain.ErrMaxRetriesExceeded):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrRenegotiationRejected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandlerMiddleware turns errors attached by handlers into JSON
// responses with the mapped status.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		status := statusFor(err)

		if status >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			logger.Debugw("request rejected",
				"error", err.Error(),
				"status", status,
				"path", c.Request.URL.Path,
			)
		}

		c.JSON(status, gin.H{"error": err.Error()})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
