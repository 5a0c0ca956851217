package middlewares

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProfileSecretHeader carries the shared secret issued to the clinic apps.
const ProfileSecretHeader = "X-Profile-Secret"

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// ValidateProfileSecret rejects requests whose X-Profile-Secret header does
// not match the configured secret.
func ValidateProfileSecret(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader(ProfileSecretHeader)
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "profile secret header is missing"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(secret), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "invalid profile secret"))
			return
		}
		c.Next()
	}
}

// LoggingMiddleware logs one line per request and tags it with a request id,
// reusing an inbound X-Request-ID when the caller sent one.
func LoggingMiddleware(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
