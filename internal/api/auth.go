package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sendlater/sendlater/internal/database"
)

// Header names for API key and tenant identification.
const (
	apiKeyHeader    = "X-API-Key"
	workspaceHeader = "X-Workspace-ID"
	userHeader      = "X-User-ID"
)

const tenantContextKey = "tenant"

// apiKeyAuth validates the API key header against the configured keys.
// With no keys configured the check is bypassed.
func apiKeyAuth(apiKeys []string, log *slog.Logger) gin.HandlerFunc {
	if len(apiKeys) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		provided := c.GetHeader(apiKeyHeader)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "API key is required in the '" + apiKeyHeader + "' header",
			})
			return
		}

		for _, key := range apiKeys {
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
				c.Next()
				return
			}
		}

		log.WarnContext(c.Request.Context(), "Rejected request with invalid API key",
			"client_ip", c.ClientIP(), "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
	}
}

// tenantAuth requires the workspace and user identification headers and
// stores the resulting tenant key in the request context.
func tenantAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID := c.GetHeader(workspaceHeader)
		userID := c.GetHeader(userHeader)
		if workspaceID == "" || userID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "both '" + workspaceHeader + "' and '" + userHeader + "' headers are required",
			})
			return
		}

		c.Set(tenantContextKey, database.TenantKey{
			WorkspaceID: workspaceID,
			UserID:      userID,
		})
		c.Next()
	}
}

// tenantFrom returns the tenant key stored by tenantAuth.
func tenantFrom(c *gin.Context) database.TenantKey {
	return c.MustGet(tenantContextKey).(database.TenantKey)
}
