package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/teamshot/internal/handlers"
	"github.com/charlesng35/teamshot/internal/middleware"
	"github.com/charlesng35/teamshot/internal/policy"
)

type teamRouteDeps struct {
	Teams       *handlers.TeamHandler
	Invitations *handlers.InvitationHandler
	Credits     *handlers.CreditHandler
	Audit       *handlers.AuditHandler
	Analytics   *handlers.AnalyticsHandler
}

// registerTeamRoutes mounts /api/teams. Everything under /:slug runs through TeamScope, so handlers
// always see the caller's resolved team context. Services repeat the role checks on their own.
func registerTeamRoutes(teams *gin.RouterGroup, resolver middleware.TeamResolver, deps teamRouteDeps) {
	teams.GET("", deps.Teams.List)
	teams.POST("", deps.Teams.Create)

	team := teams.Group("/:slug")
	team.Use(middleware.TeamScope(resolver))
	{
		team.GET("", deps.Teams.Get)
		team.PATCH("", middleware.RequireTeamAction(policy.ActionUpdateSettings), deps.Teams.Update)
		team.DELETE("", middleware.RequireTeamAction(policy.ActionDeleteTeam), deps.Teams.Delete)

		team.GET("/members", deps.Teams.ListMembers)
		team.PATCH("/members/:memberId", middleware.RequireTeamAction(policy.ActionManageMembers), deps.Teams.UpdateMember)
		// Members may remove themselves, so the service decides.
		team.DELETE("/members/:memberId", deps.Teams.RemoveMember)

		team.GET("/audit", middleware.RequireTeamAction(policy.ActionManageMembers), deps.Audit.List)
		team.GET("/analytics", deps.Analytics.Team)
	}

	invitations := team.Group("/invitations")
	invitations.Use(middleware.RequireTeamAction(policy.ActionManageInvitations))
	{
		invitations.GET("", deps.Invitations.List)
		invitations.POST("", deps.Invitations.Create)
		invitations.POST("/batch", deps.Invitations.CreateBatch)
		invitations.POST("/link", deps.Invitations.GenerateLink)
		invitations.DELETE("/:invitationId", deps.Invitations.Revoke)
	}

	credits := team.Group("/credits")
	{
		credits.GET("", deps.Credits.Overview)
		credits.GET("/me", deps.Credits.Me)
		credits.POST("/deduct", middleware.RequireTeamAction(policy.ActionUseCredits), deps.Credits.Deduct)
		credits.POST("/allocate", middleware.RequireTeamAction(policy.ActionManageCredits), deps.Credits.Allocate)
		credits.POST("/auto-distribute", middleware.RequireTeamAction(policy.ActionManageCredits), deps.Credits.AutoDistribute)
		credits.POST("/reassign", middleware.RequireTeamAction(policy.ActionManageCredits), deps.Credits.Reassign)
		credits.POST("/manual", middleware.RequireTeamAction(policy.ActionGrantCredits), deps.Credits.ManualGrant)
	}
}
