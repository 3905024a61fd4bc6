package auth

import (
	"maps"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cdr.dev/slog/v3"
)

const (
	// HeaderAPIKey carries the caller's key on every protected route.
	HeaderAPIKey = "X-API-Key"

	clientCtxKey = "client"
)

// APIKeyMiddleware resolves X-API-Key to the client name configured for it.
// Requests without a known key stop here with 401.
func APIKeyMiddleware(logger slog.Logger, keys map[string]string) gin.HandlerFunc {
	keys = maps.Clone(keys)
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if apiKey == "" {
			logger.Debug(c.Request.Context(), "request without api key", slog.F("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}
		client, ok := keys[apiKey]
		if !ok {
			logger.Warn(c.Request.Context(), "unknown api key",
				slog.F("path", c.FullPath()),
				slog.F("remote", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(clientCtxKey, client)
		c.Next()
	}
}

// Client is the name behind the request's API key, empty outside protected routes.
func Client(c *gin.Context) string {
	s, _ := c.Value(clientCtxKey).(string)
	return s
}
