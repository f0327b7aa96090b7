package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/teamshot/internal/api"
	"github.com/charlesng35/teamshot/internal/app"
	"github.com/charlesng35/teamshot/internal/app/maintenance"
	iauth "github.com/charlesng35/teamshot/internal/auth"
	"github.com/charlesng35/teamshot/internal/database"
	"github.com/charlesng35/teamshot/internal/monitoring"
	"github.com/charlesng35/teamshot/internal/monitoring/checks"
	"github.com/charlesng35/teamshot/internal/security"
	"github.com/charlesng35/teamshot/internal/services"
	"github.com/charlesng35/teamshot/pkg/logger"
	"github.com/charlesng35/teamshot/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Services *api.Services
	Jobs     *monitoring.JobTracker
	Health   *monitoring.HealthManager
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// bootstrapRuntime opens the database, wires services and background jobs, and builds the router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	mailer, err := invitationMailer(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.Services, err = api.NewServices(stack.DB, cfg, mailer)
	if err != nil {
		return nil, err
	}

	logSecurityReview(log, security.NewReviewer(stack.DB, cfg).Run(context.Background()))

	stack.Jobs = monitoring.NewJobTracker()
	stack.Health = monitoring.NewHealthManager()
	stack.Health.RegisterReadiness(checks.Database(stack.DB, 0))
	stack.Health.RegisterReadiness(checks.Maintenance(stack.Jobs, 0))

	stack.Cleaner = maintenance.NewCleaner(
		stack.Services.Invitations,
		stack.Services.Audit,
		maintenance.WithRecorder(stack.Jobs),
		maintenance.WithInvitationSchedule(cfg.Maintenance.InvitationSweep),
		maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(stack.Services, jwtSvc, cfg, stack.Health)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func logSecurityReview(log *zap.Logger, result security.Result) {
	for _, check := range result.Checks {
		fields := []zap.Field{zap.String("check", check.ID), zap.String("remediation", check.Remediation)}
		switch check.Status {
		case security.StatusFail:
			log.Error(check.Message, fields...)
		case security.StatusWarn:
			log.Warn(check.Message, fields...)
		}
	}
}

// invitationMailer returns nil when SMTP is disabled so invitations are created without delivery.
func invitationMailer(cfg *app.Config, log *zap.Logger) (services.InvitationMailer, error) {
	if !cfg.Email.SMTP.Enabled {
		log.Info("smtp disabled; invitation emails will not be sent")
		return nil, nil
	}

	smtpMailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	sender, err := mail.NewInvitationSender(smtpMailer)
	if err != nil {
		return nil, fmt.Errorf("initialise invitation sender: %w", err)
	}
	return sender, nil
}

// Shutdown stops background jobs, runs a final sweep and releases the database.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
		s.Cleaner = nil
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
		s.DB = nil
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("prepare database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
