package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/teamshot/internal/models"
	"github.com/charlesng35/teamshot/internal/policy"
)

const (
	analyticsWindow = 7 * 24 * time.Hour
	analyticsDays   = 7
	dayLayout       = "2006-01-02"
)

// AnalyticsTotals counts a team's invitations and its active members by milestone.
type AnalyticsTotals struct {
	Invites            int64 `json:"invites"`
	Signups            int64 `json:"signups"`
	FirstHeadshots     int64 `json:"first_headshots"`
	HeadshotFavorite   int64 `json:"headshot_favorite"`
	UploadedToLinkedIn int64 `json:"uploaded_to_linkedin"`
}

// AnalyticsWeekly covers the last seven days.
type AnalyticsWeekly struct {
	Invites        int64 `json:"invites"`
	Signups        int64 `json:"signups"`
	FirstHeadshots int64 `json:"first_headshots"`
}

// DailyActivity is one UTC day of member sign-ups.
type DailyActivity struct {
	Date           string `json:"date"`
	Signups        int64  `json:"signups"`
	FirstHeadshots int64  `json:"first_headshots"`
	Uploaded       int64  `json:"uploaded"`
}

// TeamAnalytics is the team dashboard. Daily always holds seven entries, oldest first, with zeros
// for days without sign-ups.
type TeamAnalytics struct {
	TeamID string          `json:"team_id"`
	Totals AnalyticsTotals `json:"totals"`
	Weekly AnalyticsWeekly `json:"weekly"`
	Daily  []DailyActivity `json:"daily"`
}

// DashboardStats summarises every team a user owns or belongs to.
type DashboardStats struct {
	TotalTeams        int64 `json:"total_teams"`
	ActiveInvitations int64 `json:"active_invitations"`
	TotalMembers      int64 `json:"total_members"`
	RecentActivity    int64 `json:"recent_activity"`
}

// AnalyticsOption customises AnalyticsService behaviour.
type AnalyticsOption func(*AnalyticsService)

// WithAnalyticsClock injects the clock used for the seven day window.
func WithAnalyticsClock(clock func() time.Time) AnalyticsOption {
	return func(s *AnalyticsService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// AnalyticsService computes read-only team and user dashboards.
type AnalyticsService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAnalyticsService constructs an AnalyticsService.
func NewAnalyticsService(db *gorm.DB, opts ...AnalyticsOption) (*AnalyticsService, error) {
	if db == nil {
		return nil, errors.New("analytics service: db is required")
	}
	svc := &AnalyticsService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// TeamAnalytics reports invitation and member milestone counts. Any active member may read it.
func (s *AnalyticsService) TeamAnalytics(ctx context.Context, actorID, teamID string) (*TeamAnalytics, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	tc, err := authorizeTeam(db, teamID, actorID, policy.ActionViewTeam)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	since := now.Add(-analyticsWindow)
	out := &TeamAnalytics{TeamID: tc.Team.ID}

	if err := db.Model(&models.Invitation{}).
		Where("team_id = ?", tc.Team.ID).
		Count(&out.Totals.Invites).Error; err != nil {
		return nil, fmt.Errorf("analytics service: count invitations: %w", err)
	}
	if err := db.Model(&models.Invitation{}).
		Where("team_id = ? AND created_at >= ?", tc.Team.ID, since).
		Count(&out.Weekly.Invites).Error; err != nil {
		return nil, fmt.Errorf("analytics service: count weekly invitations: %w", err)
	}

	var members []models.Membership
	if err := models.ActiveMemberships(db).
		Select("joined_at", "first_headshots", "headshot_favorite", "uploaded_to_linkedin").
		Where("team_id = ?", tc.Team.ID).
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("analytics service: list members: %w", err)
	}

	out.Daily = make([]DailyActivity, analyticsDays)
	index := make(map[string]int, analyticsDays)
	first := startOfDay(now).AddDate(0, 0, -(analyticsDays - 1))
	for i := range out.Daily {
		day := first.AddDate(0, 0, i).Format(dayLayout)
		out.Daily[i].Date = day
		index[day] = i
	}

	for _, m := range members {
		out.Totals.Signups++
		if m.FirstHeadshots {
			out.Totals.FirstHeadshots++
		}
		if m.HeadshotFavorite {
			out.Totals.HeadshotFavorite++
		}
		if m.UploadedToLinkedIn {
			out.Totals.UploadedToLinkedIn++
		}

		if !m.JoinedAt.Before(since) {
			out.Weekly.Signups++
			if m.FirstHeadshots {
				out.Weekly.FirstHeadshots++
			}
		}

		i, ok := index[m.JoinedAt.UTC().Format(dayLayout)]
		if !ok {
			continue
		}
		out.Daily[i].Signups++
		if m.FirstHeadshots {
			out.Daily[i].FirstHeadshots++
		}
		if m.UploadedToLinkedIn {
			out.Daily[i].Uploaded++
		}
	}
	return out, nil
}

// DashboardStats counts the user's teams, the pending invitations and members of the teams they
// own, and how many teams and invitations they created in the last seven days.
func (s *AnalyticsService) DashboardStats(ctx context.Context, userID string) (*DashboardStats, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserNotFound
	}
	if err := db.Select("id").First(&models.User{}, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("analytics service: load user: %w", err)
	}

	now := s.now()
	since := now.UTC().Add(-analyticsWindow)

	var owned []models.Team
	if err := db.Select("id", "created_at").Where("owner_id = ?", userID).Find(&owned).Error; err != nil {
		return nil, fmt.Errorf("analytics service: list owned teams: %w", err)
	}
	var memberOf []string
	if err := models.ActiveMemberships(db.Model(&models.Membership{})).
		Where("user_id = ?", userID).
		Pluck("team_id", &memberOf).Error; err != nil {
		return nil, fmt.Errorf("analytics service: list memberships: %w", err)
	}

	teams := make(map[string]struct{}, len(owned)+len(memberOf))
	ownedIDs := make([]string, 0, len(owned))
	stats := &DashboardStats{}
	for _, t := range owned {
		teams[t.ID] = struct{}{}
		ownedIDs = append(ownedIDs, t.ID)
		if t.CreatedSince(since) {
			stats.RecentActivity++
		}
	}
	for _, id := range memberOf {
		teams[id] = struct{}{}
	}
	stats.TotalTeams = int64(len(teams))
	if len(owned) == 0 {
		return stats, nil
	}

	if err := db.Model(&models.Invitation{}).
		Where("team_id IN ? AND status = ? AND expires_at >= ?", ownedIDs, models.InvitationPending, now).
		Count(&stats.ActiveInvitations).Error; err != nil {
		return nil, fmt.Errorf("analytics service: count pending invitations: %w", err)
	}
	if err := models.ActiveMemberships(db.Model(&models.Membership{})).
		Where("team_id IN ?", ownedIDs).
		Count(&stats.TotalMembers).Error; err != nil {
		return nil, fmt.Errorf("analytics service: count members: %w", err)
	}

	var recentInvites int64
	if err := db.Model(&models.Invitation{}).
		Where("team_id IN ? AND created_at >= ?", ownedIDs, since).
		Count(&recentInvites).Error; err != nil {
		return nil, fmt.Errorf("analytics service: count recent invitations: %w", err)
	}
	stats.RecentActivity += recentInvites
	return stats, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
