package models

import "time"

// InvitationStatus is the stored lifecycle status of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation grants the holder of its token a membership in a team.
// Revoked invitations are deleted, so revocation has no stored status.
type Invitation struct {
	BaseModel

	TeamID     string           `gorm:"type:uuid;not null;index:idx_invitations_team_email" json:"team_id"`
	Email      string           `gorm:"not null;index:idx_invitations_team_email" json:"email"`
	Role       TeamRole         `gorm:"type:varchar(16);not null" json:"role"`
	TokenHash  string           `gorm:"uniqueIndex;not null" json:"-"`
	Status     InvitationStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	IsLink     bool             `gorm:"not null;default:false" json:"is_link"`
	InvitedBy  string           `gorm:"type:uuid;not null" json:"invited_by"`
	ExpiresAt  time.Time        `gorm:"not null;index" json:"expires_at"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
	AcceptedBy *string          `gorm:"type:uuid" json:"accepted_by,omitempty"`

	Team    *Team `gorm:"constraint:OnDelete:CASCADE" json:"team,omitempty"`
	Inviter *User `gorm:"foreignKey:InvitedBy;constraint:OnDelete:CASCADE" json:"inviter,omitempty"`
}

// EffectiveStatus derives the status visible to callers. A pending invitation whose
// expiry has passed is expired even before the row is updated.
func (i *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && now.After(i.ExpiresAt) {
		return InvitationExpired
	}
	return i.Status
}
