package api

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/teamshot/internal/app"
	"github.com/charlesng35/teamshot/internal/services"
)

// Services bundles the domain services shared by the HTTP layer and background jobs.
type Services struct {
	Audit       *services.AuditService
	Users       *services.UserService
	Teams       *services.TeamService
	Invitations *services.InvitationService
	Credits     *services.CreditService
	Analytics   *services.AnalyticsService
}

// NewServices wires every domain service against db using cfg. A nil mailer leaves invitations
// undelivered but still created.
func NewServices(db *gorm.DB, cfg *app.Config, mailer services.InvitationMailer) (*Services, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	users, err := services.NewUserService(db, audit)
	if err != nil {
		return nil, err
	}
	teams, err := services.NewTeamService(db, audit)
	if err != nil {
		return nil, err
	}
	invitations, err := services.NewInvitationService(db, mailer, audit, cfg.Invitations.ServiceOptions(cfg.Server.BaseURL)...)
	if err != nil {
		return nil, err
	}
	credits, err := services.NewCreditService(db, audit, cfg.Credits.ServiceOptions()...)
	if err != nil {
		return nil, err
	}

	analytics, err := services.NewAnalyticsService(db)
	if err != nil {
		return nil, err
	}

	return &Services{
		Audit:       audit,
		Users:       users,
		Teams:       teams,
		Invitations: invitations,
		Credits:     credits,
		Analytics:   analytics,
	}, nil
}
