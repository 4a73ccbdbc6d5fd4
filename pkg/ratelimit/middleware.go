package ratelimit

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"postdeck/pkg/logging"
)

// KeyFunc derives the rate-limit key from a request. The default keys by
// client IP.
type KeyFunc func(c *gin.Context) string

// Middleware returns a gin middleware enforcing the limiter. Requests over
// the limit get 429; store failures are logged and the request proceeds.
func Middleware(limiter *Limiter, keyFn KeyFunc, logger logging.Logger) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = func(c *gin.Context) string { return c.ClientIP() }
	}
	return func(c *gin.Context) {
		key := keyFn(c)
		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil && logger != nil {
			logger.WithFields(logging.Fields{
				"key":   key,
				"error": err.Error(),
			}).Warn("Rate limit store error, allowing request")
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
