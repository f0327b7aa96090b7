package models

import (
	"time"

	"gorm.io/gorm"
)

// Membership links a user to a team with a role. Removal is recorded rather than deleted
// so the re-invite cooldown can be enforced.
type Membership struct {
	BaseModel

	TeamID    string     `gorm:"type:uuid;not null;index:idx_memberships_team_user" json:"team_id"`
	UserID    string     `gorm:"type:uuid;not null;index:idx_memberships_team_user" json:"user_id"`
	Role      TeamRole   `gorm:"type:varchar(16);not null" json:"role"`
	JoinedAt  time.Time  `gorm:"not null" json:"joined_at"`
	RemovedAt *time.Time `gorm:"index" json:"removed_at,omitempty"`
	RemovedBy *string    `gorm:"type:uuid" json:"removed_by,omitempty"`

	// Headshot milestones reported for team analytics.
	FirstHeadshots     bool `gorm:"not null;default:false" json:"first_headshots"`
	HeadshotFavorite   bool `gorm:"not null;default:false" json:"headshot_favorite"`
	UploadedToLinkedIn bool `gorm:"column:uploaded_to_linkedin;not null;default:false" json:"uploaded_to_linkedin"`

	Team *Team `gorm:"constraint:OnDelete:CASCADE" json:"team,omitempty"`
	User *User `gorm:"constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

// MembershipState is the lifecycle view of a membership row.
type MembershipState struct {
	Removed   bool
	RemovedAt time.Time
	RemovedBy string
}

// State reports whether the membership is active or removed, and by whom.
func (m *Membership) State() MembershipState {
	if m == nil || m.RemovedAt == nil {
		return MembershipState{}
	}
	state := MembershipState{Removed: true, RemovedAt: *m.RemovedAt}
	if m.RemovedBy != nil {
		state.RemovedBy = *m.RemovedBy
	}
	return state
}

// IsActive reports whether the membership currently grants access.
func (m *Membership) IsActive() bool {
	return m != nil && m.RemovedAt == nil
}

// RemovedWithin reports whether the membership was removed less than window before now.
func (m *Membership) RemovedWithin(window time.Duration, now time.Time) bool {
	state := m.State()
	if !state.Removed {
		return false
	}
	return now.Sub(state.RemovedAt) < window
}

// ActiveMemberships scopes a query to memberships that have not been removed.
func ActiveMemberships(db *gorm.DB) *gorm.DB {
	return db.Where("memberships.removed_at IS NULL")
}
