package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/teamshot/internal/auditctx"
)

// AuditOrigin records the client IP and user agent on the request context so audit entries
// written further down carry them.
func AuditOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auditctx.WithOrigin(c.Request.Context(), auditctx.Origin{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
