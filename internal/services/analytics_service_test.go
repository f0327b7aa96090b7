package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/teamshot/internal/models"
)

func newAnalytics(t *testing.T, f *fixture) *AnalyticsService {
	t.Helper()
	svc, err := NewAnalyticsService(f.db, WithAnalyticsClock(f.clock.Now))
	require.NoError(t, err)
	return svc
}

func TestAnalyticsServiceTeamAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	analytics := newAnalytics(t, f)

	ana := f.user(t, "Ana", "ana@example.com")
	bo := f.user(t, "Bo", "bo@example.com")
	dee := f.user(t, "Dee", "dee@example.com")
	eve := f.user(t, "Eve", "eve@example.com")
	zed := f.user(t, "Zed", "zed@example.com")
	team := f.team(t, ana, "Studio")

	f.join(t, team, ana, bo, models.TeamRoleMember)
	f.join(t, team, ana, dee, models.TeamRoleMember)
	removed := f.join(t, team, ana, eve, models.TeamRoleMember)
	require.NoError(t, f.teams.RemoveMember(ctx, ana.ID, team.ID, removed.ID))
	_, err := f.invitations.Create(ctx, ana.ID, team.ID, "cy@example.com", models.TeamRoleMember)
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Membership{}).
		Where("team_id = ? AND user_id = ?", team.ID, bo.ID).
		Updates(map[string]any{"first_headshots": true, "uploaded_to_linkedin": true}).Error)

	tenDaysAgo := f.clock.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, f.db.Model(&models.Membership{}).
		Where("team_id = ? AND user_id = ?", team.ID, dee.ID).
		Updates(map[string]any{"joined_at": tenDaysAgo, "headshot_favorite": true}).Error)
	require.NoError(t, f.db.Model(&models.Invitation{}).
		Where("team_id = ? AND email = ?", team.ID, dee.Email).
		Update("created_at", tenDaysAgo).Error)

	out, err := analytics.TeamAnalytics(ctx, bo.ID, team.ID)
	require.NoError(t, err)
	require.Equal(t, team.ID, out.TeamID)
	require.Equal(t, AnalyticsTotals{
		Invites:            4,
		Signups:            3,
		FirstHeadshots:     1,
		HeadshotFavorite:   1,
		UploadedToLinkedIn: 1,
	}, out.Totals)
	require.Equal(t, AnalyticsWeekly{Invites: 3, Signups: 2, FirstHeadshots: 1}, out.Weekly)

	require.Len(t, out.Daily, 7)
	require.Equal(t, "2025-02-23", out.Daily[0].Date)
	require.Equal(t, DailyActivity{Date: "2025-03-01", Signups: 2, FirstHeadshots: 1, Uploaded: 1}, out.Daily[6])
	for _, day := range out.Daily[:6] {
		require.Zero(t, day.Signups, day.Date)
	}

	_, err = analytics.TeamAnalytics(ctx, zed.ID, team.ID)
	require.ErrorIs(t, err, ErrTeamForbidden)
	_, err = analytics.TeamAnalytics(ctx, eve.ID, team.ID)
	require.ErrorIs(t, err, ErrTeamForbidden)
}

func TestAnalyticsServiceDashboardStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	analytics := newAnalytics(t, f)

	ana := f.user(t, "Ana", "ana@example.com")
	bo := f.user(t, "Bo", "bo@example.com")

	studio := f.team(t, ana, "Studio")
	f.join(t, studio, ana, bo, models.TeamRoleMember)
	side := f.team(t, ana, "Side Project")
	require.NoError(t, f.db.Model(&models.Team{}).
		Where("id = ?", side.ID).
		Update("created_at", f.clock.Now().Add(-10*24*time.Hour)).Error)

	boTeam := f.team(t, bo, "Bo Team")
	f.join(t, boTeam, bo, ana, models.TeamRoleMember)

	_, err := f.invitations.Create(ctx, ana.ID, studio.ID, "cy@example.com", models.TeamRoleMember)
	require.NoError(t, err)
	_, err = f.invitations.Create(ctx, ana.ID, studio.ID, "late@example.com", models.TeamRoleMember)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.Invitation{}).
		Where("email = ?", "late@example.com").
		Update("expires_at", f.clock.Now().Add(-time.Hour)).Error)

	stats, err := analytics.DashboardStats(ctx, ana.ID)
	require.NoError(t, err)
	require.Equal(t, DashboardStats{
		TotalTeams:        3,
		ActiveInvitations: 1,
		TotalMembers:      3,
		RecentActivity:    4,
	}, *stats)

	stats, err = analytics.DashboardStats(ctx, bo.ID)
	require.NoError(t, err)
	require.Equal(t, DashboardStats{
		TotalTeams:        2,
		ActiveInvitations: 0,
		TotalMembers:      2,
		RecentActivity:    2,
	}, *stats)

	_, err = analytics.DashboardStats(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestInvitationServiceListForOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ana := f.user(t, "Ana", "ana@example.com")
	bo := f.user(t, "Bo", "bo@example.com")
	studio := f.team(t, ana, "Studio")
	f.clock.Advance(time.Minute)
	side := f.team(t, ana, "Side Project")

	membership := f.join(t, studio, ana, bo, models.TeamRoleMember)
	require.NoError(t, f.teams.RemoveMember(ctx, ana.ID, studio.ID, membership.ID))
	_, err := f.invitations.Create(ctx, ana.ID, studio.ID, "cy@example.com", models.TeamRoleAdmin)
	require.NoError(t, err)
	_, err = f.invitations.Create(ctx, ana.ID, studio.ID, "dee@example.com", models.TeamRoleMember)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.Invitation{}).
		Where("email = ?", "dee@example.com").
		Update("expires_at", f.clock.Now().Add(-time.Hour)).Error)

	grouped, err := f.invitations.ListForOwner(ctx, ana.ID)
	require.NoError(t, err)
	require.Len(t, grouped, 2)

	require.Equal(t, studio.ID, grouped[0].TeamID)
	require.Equal(t, "studio", grouped[0].Slug)
	statuses := map[string]models.InvitationStatus{}
	for _, v := range grouped[0].Invitations {
		statuses[v.Email] = v.Status
	}
	require.Equal(t, map[string]models.InvitationStatus{
		"cy@example.com":  models.InvitationPending,
		"dee@example.com": models.InvitationExpired,
	}, statuses)

	require.Equal(t, side.ID, grouped[1].TeamID)
	require.Empty(t, grouped[1].Invitations)

	none, err := f.invitations.ListForOwner(ctx, bo.ID)
	require.NoError(t, err)
	require.Empty(t, none)
}
