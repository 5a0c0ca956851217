package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig holds the configuration for the rate limiter
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// NewStreamAdmission bounds how fast new live subscriptions may open. Only
// requests for which isStream reports true are counted; plain reads pass.
// The limiter is shared by every caller.
func NewStreamAdmission(config RateLimiterConfig, isStream func(*gin.Context) bool) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)

	return func(c *gin.Context) {
		if isStream != nil && !isStream(c) {
			c.Next()
			return
		}
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody("rate_limited", "too many live subscriptions, retry shortly"))
			return
		}
		c.Next()
	}
}
