package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/teamshot/internal/app"
	testutil "github.com/charlesng35/teamshot/internal/database/testutil"
	"github.com/charlesng35/teamshot/internal/models"
)

func seedTeam(t *testing.T, db *gorm.DB, slug string, withOwner bool) *models.Team {
	t.Helper()
	owner := &models.User{Name: "Owner " + slug, Email: slug + "@example.com", Password: "hashed"}
	require.NoError(t, db.Create(owner).Error)
	team := &models.Team{Name: slug, Slug: slug, OwnerID: owner.ID}
	require.NoError(t, db.Create(team).Error)
	if withOwner {
		require.NoError(t, db.Create(&models.Membership{
			TeamID:   team.ID,
			UserID:   owner.ID,
			Role:     models.TeamRoleOwner,
			JoinedAt: time.Now(),
		}).Error)
	}
	return team
}

func checkByID(t *testing.T, result Result, id string) Check {
	t.Helper()
	for _, check := range result.Checks {
		if check.ID == id {
			return check
		}
	}
	t.Fatalf("check %s not found", id)
	return Check{}
}

func TestReviewerRunHealthyDeployment(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	seedTeam(t, db, "alpha", true)

	cfg := &app.Config{
		Auth: app.AuthConfig{JWT: app.JWTSettings{
			Secret: "0123456789abcdef0123456789abcdef0123456789abcdef",
			TTL:    time.Hour,
		}},
		Payments: app.PaymentConfig{WebhookSecret: "whsec_0123456789abcdefghijkl"},
	}

	reviewer := NewReviewer(db, cfg)
	fixed := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	reviewer.WithClock(func() time.Time { return fixed })

	result := reviewer.Run(context.Background())
	require.Equal(t, fixed, result.CheckedAt)
	require.Len(t, result.Checks, 5)
	require.Equal(t, 5, result.Summary[string(StatusPass)])
	require.False(t, result.Failed())
}

func TestReviewerFlagsRiskySettings(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	seedTeam(t, db, "alpha", true)
	seedTeam(t, db, "orphan", false)

	cfg := &app.Config{
		Auth:     app.AuthConfig{JWT: app.JWTSettings{Secret: "short", TTL: 30 * 24 * time.Hour}},
		Payments: app.PaymentConfig{ManualGrantsEnabled: true},
	}

	result := NewReviewer(db, cfg).Run(context.Background())
	require.True(t, result.Failed())

	owners := checkByID(t, result, "team_owner_present")
	require.Equal(t, StatusFail, owners.Status)
	require.Equal(t, map[string]any{"count": int64(1)}, owners.Details)

	require.Equal(t, StatusFail, checkByID(t, result, "jwt_secret_strength").Status)
	require.Equal(t, StatusWarn, checkByID(t, result, "access_token_ttl").Status)
	require.Equal(t, StatusWarn, checkByID(t, result, "payment_webhook_secret").Status)
	require.Equal(t, StatusWarn, checkByID(t, result, "manual_credit_grants").Status)
}

func TestReviewerWithoutDependencies(t *testing.T) {
	result := NewReviewer(nil, nil).Run(context.Background())
	require.Equal(t, 5, result.Summary[string(StatusWarn)])
	require.False(t, result.Failed())
}
