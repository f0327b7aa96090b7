package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/teamshot/internal/app"
)

func testConfig() *app.Config {
	return &app.Config{
		Server:   app.ServerConfig{BaseURL: "http://localhost:3000"},
		Database: app.DatabaseConfig{Driver: "sqlite", DSN: "file:bootstrap?mode=memory&cache=shared&_foreign_keys=1"},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: "bootstrap-secret", Issuer: "teamshot", TTL: time.Hour},
		},
		Invitations: app.InvitationConfig{Expiry: 7 * 24 * time.Hour, RemovalCooldown: 24 * time.Hour},
		Maintenance: app.MaintenanceConfig{InvitationSweep: "@hourly", AuditSchedule: "@daily", AuditRetentionDays: 30},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
}

func TestBootstrapRuntimeServesReadiness(t *testing.T) {
	stack, err := bootstrapRuntime(testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.NotNil(t, stack.Services.Invitations)
	require.NotNil(t, stack.Services.Credits)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestShutdownRecordsFinalMaintenanceRun(t *testing.T) {
	stack, err := bootstrapRuntime(testConfig(), zap.NewNop())
	require.NoError(t, err)

	jobs := stack.Jobs
	stack.Shutdown(context.Background(), zap.NewNop())

	runs := jobs.Snapshot()
	require.Len(t, runs, 2)
	for _, run := range runs {
		require.Zero(t, run.ConsecutiveFailures, run.Job)
	}
	require.Nil(t, stack.DB)

	// A second shutdown is a no-op.
	stack.Shutdown(context.Background(), zap.NewNop())
}

func TestBootstrapRuntimeRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Database.DSN = "file:bootstrap-bad?mode=memory&cache=shared&_foreign_keys=1"
	cfg.Maintenance.InvitationSweep = "not a schedule"

	_, err := bootstrapRuntime(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestBootstrapRuntimeRequiresSMTPHostWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Database.DSN = "file:bootstrap-smtp?mode=memory&cache=shared&_foreign_keys=1"
	cfg.Email.SMTP.Enabled = true

	_, err := bootstrapRuntime(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig("/definitely/not/here")
	require.Error(t, err)
}
