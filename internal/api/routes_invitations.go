package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/teamshot/internal/handlers"
)

func registerInvitationRoutes(public, protected *gin.RouterGroup, handler *handlers.InvitationHandler) {
	public.GET("/invitations/:token", handler.Get)
	protected.GET("/invitations", handler.ListOwned)
	protected.POST("/invitations/:token/accept", handler.Accept)
}

func registerDashboardRoutes(protected *gin.RouterGroup, handler *handlers.AnalyticsHandler) {
	protected.GET("/dashboard/stats", handler.Dashboard)
}

func registerPaymentRoutes(public *gin.RouterGroup, handler *handlers.PaymentHandler) {
	public.POST("/payments/webhook", handler.Webhook)
}
