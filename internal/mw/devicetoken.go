package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DeviceToken enforces the shared-secret credential the machines present
// on telemetry ingest: "Authorization: Token <secret>". This is the
// device trust boundary, entirely separate from the dashboard session
// system. Missing or mismatched token aborts with 403 before any
// mutation happens.
func DeviceToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "falta header Authorization"})
			return
		}
		token = strings.TrimPrefix(token, "Token ")
		if secret == "" || token != secret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token inválido"})
			return
		}
		c.Next()
	}
}
