package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/dexgate/dexgate/internal/config"
	"github.com/gin-gonic/gin"
)

const HeaderAPIKey = "X-Api-Key"

// AuthMiddleware checks the shared API key. With require_api_key off the
// gate is open, which is the default for local paper-trading runs.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || !cfg.Auth.RequireAPIKey {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderAPIKey)
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Auth.APIKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
