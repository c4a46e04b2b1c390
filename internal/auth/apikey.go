// Package auth guards the versioned API surface. Uploads and asset reads
// share one static key; health, readiness and metrics stay open for probes.
package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Header carries the client key on every authenticated request.
const Header = "X-API-Key"

// RequireAPIKey rejects requests whose X-API-Key header does not match key.
// An empty configured key disables the check entirely, which is the expected
// mode for local development.
func RequireAPIKey(key string) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		if len(want) == 0 {
			return
		}

		got := c.GetHeader(Header)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": Header + " header required",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			slog.Warn("api key rejected", "ip", c.ClientIP(), "route", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}
	}
}
