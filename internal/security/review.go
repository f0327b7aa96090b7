// Package security reviews the deployment's security posture at startup.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/teamshot/internal/app"
	"github.com/charlesng35/teamshot/internal/models"
)

// CheckStatus captures the outcome of a posture check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

const (
	minJWTSecret      = 32
	strongJWTSecret   = 48
	minWebhookSecret  = 24
	maxAccessTokenTTL = 7 * 24 * time.Hour
)

// Check contains the result of a single verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a per-status tally.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// Failed reports whether any check failed outright.
func (r Result) Failed() bool {
	return r.Summary[string(StatusFail)] > 0
}

// Reviewer evaluates configuration and stored data for risky settings.
type Reviewer struct {
	db  *gorm.DB
	cfg *app.Config
	now func() time.Time
}

// NewReviewer constructs a Reviewer. A nil db skips the data checks with a warning.
func NewReviewer(db *gorm.DB, cfg *app.Config) *Reviewer {
	return &Reviewer{db: db, cfg: cfg, now: time.Now}
}

// WithClock overrides the clock used in results.
func (r *Reviewer) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Run executes every check.
func (r *Reviewer) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []Check{
		r.checkTeamOwners(ctx),
		r.checkJWTSecret(),
		r.checkAccessTokenTTL(),
		r.checkWebhookSecret(),
		r.checkManualGrants(),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: r.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

// checkTeamOwners flags teams left without an active owner, which nobody could then administer.
func (r *Reviewer) checkTeamOwners(ctx context.Context) Check {
	const id = "team_owner_present"
	if r.db == nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Database unavailable, unable to verify team ownership.",
			Remediation: "Ensure database connectivity before running the review.",
		}
	}

	var orphaned int64
	err := r.db.WithContext(ctx).
		Model(&models.Team{}).
		Where("NOT EXISTS (SELECT 1 FROM memberships m WHERE m.team_id = teams.id AND m.role = ? AND m.removed_at IS NULL)", models.TeamRoleOwner).
		Count(&orphaned).Error
	if err != nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Could not verify team ownership: %v", err),
			Remediation: "Retry after resolving database errors.",
		}
	}
	if orphaned > 0 {
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     fmt.Sprintf("%d team(s) have no active owner.", orphaned),
			Remediation: "Restore an owner membership for every team.",
			Details:     map[string]any{"count": orphaned},
		}
	}
	return Check{ID: id, Status: StatusPass, Message: "Every team has an active owner."}
}

func (r *Reviewer) checkJWTSecret() Check {
	const id = "jwt_secret_strength"
	if r.cfg == nil {
		return missingConfig(id)
	}

	length := len(strings.TrimSpace(r.cfg.Auth.JWT.Secret))
	switch {
	case length == 0:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     "Missing JWT signing secret.",
			Remediation: "Provide a cryptographically secure signing secret (>= 32 bytes).",
		}
	case length < minJWTSecret:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
			Details:     map[string]any{"length": length},
		}
	case length < strongJWTSecret:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes. Consider increasing to 48+ bytes.", length),
			Remediation: "Increase TEAMSHOT_AUTH_JWT_SECRET to at least 48 bytes.",
			Details:     map[string]any{"length": length},
		}
	default:
		return Check{
			ID:      id,
			Status:  StatusPass,
			Message: fmt.Sprintf("JWT signing secret length is %d bytes.", length),
			Details: map[string]any{"length": length},
		}
	}
}

func (r *Reviewer) checkAccessTokenTTL() Check {
	const id = "access_token_ttl"
	if r.cfg == nil {
		return missingConfig(id)
	}

	ttl := r.cfg.Auth.JWT.TTL
	if ttl > maxAccessTokenTTL {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Access token TTL (%s) exceeds recommended maximum (%s).", ttl, maxAccessTokenTTL),
			Remediation: "Lower auth.jwt.access_token_ttl to limit exposure of leaked tokens.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	}
	return Check{ID: id, Status: StatusPass, Message: fmt.Sprintf("Access token TTL is %s.", ttl)}
}

func (r *Reviewer) checkWebhookSecret() Check {
	const id = "payment_webhook_secret"
	if r.cfg == nil {
		return missingConfig(id)
	}

	length := len(strings.TrimSpace(r.cfg.Payments.WebhookSecret))
	switch {
	case length == 0:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Payment webhook secret is empty; purchased credits cannot be granted.",
			Remediation: "Set TEAMSHOT_PAYMENTS_WEBHOOK_SECRET to the secret shared with the payment provider.",
		}
	case length < minWebhookSecret:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Payment webhook secret is short (%d bytes).", length),
			Remediation: "Rotate to a secret of at least 24 bytes.",
			Details:     map[string]any{"length": length},
		}
	default:
		return Check{ID: id, Status: StatusPass, Message: "Payment webhook secret configured."}
	}
}

func (r *Reviewer) checkManualGrants() Check {
	const id = "manual_credit_grants"
	if r.cfg == nil {
		return missingConfig(id)
	}
	if r.cfg.Payments.ManualGrantsEnabled {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Team owners can grant credits without a payment.",
			Remediation: "Set payments.manual_grants_enabled to false outside development.",
		}
	}
	return Check{ID: id, Status: StatusPass, Message: "Manual credit grants disabled."}
}

func missingConfig(id string) Check {
	return Check{
		ID:          id,
		Status:      StatusWarn,
		Message:     "Configuration not loaded, unable to evaluate.",
		Remediation: "Load configuration before running the review.",
	}
}
