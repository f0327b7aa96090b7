package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/teamshot/internal/app"
	iauth "github.com/charlesng35/teamshot/internal/auth"
	"github.com/charlesng35/teamshot/internal/handlers"
	"github.com/charlesng35/teamshot/internal/middleware"
	"github.com/charlesng35/teamshot/internal/monitoring"
)

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(svc *Services, jwt *iauth.JWTService, cfg *app.Config, health *monitoring.HealthManager) (*gin.Engine, error) {
	if svc == nil {
		return nil, fmt.Errorf("services must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(allowedOrigins(cfg)...))
	r.Use(middleware.AuditOrigin())

	registerHealthRoutes(r, cfg, handlers.NewHealthHandler(health))

	// Public routes
	public := r.Group("/api")

	// Protected routes
	protected := r.Group("/api")
	protected.Use(middleware.Auth(jwt))

	registerAuthRoutes(public, protected, handlers.NewAuthHandler(svc.Users, svc.Teams, jwt))
	invitations := handlers.NewInvitationHandler(svc.Invitations)
	analytics := handlers.NewAnalyticsHandler(svc.Analytics)
	registerInvitationRoutes(public, protected, invitations)
	registerPaymentRoutes(public, handlers.NewPaymentHandler(svc.Credits, cfg.Payments.WebhookSecret))
	registerDashboardRoutes(protected, analytics)

	teams := protected.Group("/teams")
	registerTeamRoutes(teams, svc.Teams, teamRouteDeps{
		Teams:       handlers.NewTeamHandler(svc.Teams),
		Invitations: invitations,
		Credits:     handlers.NewCreditHandler(svc.Credits, cfg.Payments.ManualGrantsEnabled),
		Audit:       handlers.NewAuditHandler(svc.Audit),
		Analytics:   analytics,
	})

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func allowedOrigins(cfg *app.Config) []string {
	origin := strings.TrimRight(strings.TrimSpace(cfg.Server.BaseURL), "/")
	if origin == "" {
		return nil
	}
	return []string{origin}
}
