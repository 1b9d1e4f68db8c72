package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ideabot/internal/ratelimit"
)

// KeyFunc selects the bucket for a request.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys by X-User-ID when present, else by client IP.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != anonymousUser {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

// IsRateBypass reports whether IdempotencyValidator marked a replay.
func IsRateBypass(c *gin.Context) bool {
	return c.GetBool(ctxKeyRateBypass)
}

// RateLimit rejects requests over the per-key budget with 429. Idempotent
// replays are served without consuming a token.
func RateLimit(lim *ratelimit.Keyed, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || lim.Allow(key(c)) {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
