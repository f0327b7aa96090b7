package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/teamshot/internal/models"
	"github.com/charlesng35/teamshot/internal/policy"
	"github.com/charlesng35/teamshot/pkg/errors"
	"github.com/charlesng35/teamshot/pkg/metrics"
	"github.com/charlesng35/teamshot/pkg/response"
)

// CtxTeamKey stores the resolved policy.TeamContext for slug-scoped routes.
const CtxTeamKey = "teamContext"

var errNotTeamMember = errors.ErrForbidden.WithMessage("You are not a member of this team")

// TeamResolver loads teams and the caller's relationship to them.
type TeamResolver interface {
	GetBySlug(ctx context.Context, slug string) (*models.Team, error)
	Context(ctx context.Context, teamID, actorID string) (policy.TeamContext, error)
}

// TeamScope resolves the :slug route parameter into the caller's team context and rejects
// callers who are neither the owner nor an active member. It must run after Auth.
func TeamScope(resolver TeamResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		team, err := resolver.GetBySlug(c.Request.Context(), c.Param("slug"))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		tc, err := resolver.Context(c.Request.Context(), team.ID, userID)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !policy.Can(tc, policy.ActionViewTeam) {
			metrics.TeamAuthorizations.WithLabelValues(policy.ActionViewTeam.String(), "denied").Inc()
			response.Error(c, errNotTeamMember)
			c.Abort()
			return
		}

		c.Set(CtxTeamKey, tc)
		c.Next()
	}
}

// RequireTeamAction checks the team context resolved by TeamScope against action.
func RequireTeamAction(action policy.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := TeamFromContext(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !policy.Can(tc, action) {
			metrics.TeamAuthorizations.WithLabelValues(action.String(), "denied").Inc()
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		metrics.TeamAuthorizations.WithLabelValues(action.String(), "allowed").Inc()
		c.Next()
	}
}

// TeamFromContext returns the team context stored by TeamScope.
func TeamFromContext(c *gin.Context) (policy.TeamContext, bool) {
	v, ok := c.Get(CtxTeamKey)
	if !ok {
		return policy.TeamContext{}, false
	}
	tc, ok := v.(policy.TeamContext)
	return tc, ok && tc.Team != nil
}
