package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/teamshot/internal/services"
	"github.com/charlesng35/teamshot/pkg/response"
)

// AnalyticsHandler serves the team analytics and personal dashboard views.
type AnalyticsHandler struct {
	svc *services.AnalyticsService
}

// NewAnalyticsHandler constructs an AnalyticsHandler.
func NewAnalyticsHandler(svc *services.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

// GET /api/teams/:slug/analytics
func (h *AnalyticsHandler) Team(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	analytics, err := h.svc.TeamAnalytics(requestContext(c), tc.ActorID, tc.Team.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, analytics)
}

// GET /api/dashboard/stats
func (h *AnalyticsHandler) Dashboard(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	stats, err := h.svc.DashboardStats(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}
