package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID names the caller for idempotency scoping and rate limiting.
// It is an identity hint, not authentication.
const HeaderUserID = "X-User-ID"

const (
	ctxKeyUserID  = "userID"
	anonymousUser = "anonymous"
)

// Identity stores the trimmed X-User-ID header under the "userID" key.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
			if len(uid) > 64 {
				uid = uid[:64]
			}
			c.Set(ctxKeyUserID, uid)
		}
		c.Next()
	}
}

// UserID returns the caller identity set by Identity, or "anonymous".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return anonymousUser
}

// AdminAuth requires "Authorization: Bearer <token>". With an empty token
// the routes are disabled and answer 503.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "admin_disabled",
				"message":    "admin routes are disabled: ADMIN_TOKEN is not set",
			})
			return
		}
		got, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="ideabot"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "admin token required",
			})
			return
		}
		c.Next()
	}
}
