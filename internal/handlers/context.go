package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/teamshot/internal/middleware"
	"github.com/charlesng35/teamshot/internal/policy"
	"github.com/charlesng35/teamshot/pkg/errors"
	"github.com/charlesng35/teamshot/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID returns the authenticated user id, writing a 401 when it is missing.
func currentUserID(c *gin.Context) (string, bool) {
	userID := middleware.UserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// teamScope returns the team context resolved by middleware.TeamScope.
func teamScope(c *gin.Context) (policy.TeamContext, bool) {
	tc, ok := middleware.TeamFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return policy.TeamContext{}, false
	}
	return tc, true
}
