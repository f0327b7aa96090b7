package models

import (
	"strings"
	"time"
)

// User is an account that can own teams, hold memberships and accept invitations.
type User struct {
	BaseModel

	Name     string `gorm:"not null" json:"name"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// DisplayName prefers the user's name and falls back to the email address.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	return u.Email
}
