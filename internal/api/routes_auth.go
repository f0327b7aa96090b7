package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/teamshot/internal/handlers"
)

func registerAuthRoutes(public, protected *gin.RouterGroup, handler *handlers.AuthHandler) {
	auth := public.Group("/auth")
	{
		auth.POST("/signup", handler.SignUp)
		auth.POST("/login", handler.Login)
	}

	protected.GET("/auth/me", handler.Me)
}
