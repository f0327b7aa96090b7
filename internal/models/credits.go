package models

import "time"

// TeamCredit is the purchased credit pool of a team.
type TeamCredit struct {
	TeamID       string    `gorm:"primaryKey;type:uuid" json:"team_id"`
	TotalCredits int64     `gorm:"not null;default:0" json:"total_credits"`
	UsedCredits  int64     `gorm:"not null;default:0" json:"used_credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Team *Team `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Available returns the credits purchased but not yet spent.
func (c TeamCredit) Available() int64 {
	return c.TotalCredits - c.UsedCredits
}

// MemberCredit is the slice of a team's credits allocated to a single user.
type MemberCredit struct {
	BaseModel

	TeamID           string `gorm:"type:uuid;not null;uniqueIndex:idx_member_credits_team_user" json:"team_id"`
	UserID           string `gorm:"type:uuid;not null;uniqueIndex:idx_member_credits_team_user" json:"user_id"`
	AllocatedCredits int64  `gorm:"not null;default:0" json:"allocated_credits"`
	UsedCredits      int64  `gorm:"not null;default:0" json:"used_credits"`

	Team *Team `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	User *User `gorm:"constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

// Available returns the allocated credits the member can still spend.
func (c MemberCredit) Available() int64 {
	return c.AllocatedCredits - c.UsedCredits
}
