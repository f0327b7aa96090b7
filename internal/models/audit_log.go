package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog captures a single state-changing action against a team.
type AuditLog struct {
	ID       string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID   *string        `gorm:"type:uuid;index" json:"user_id"`
	TeamID   *string        `gorm:"type:uuid;index" json:"team_id"`
	Action   string         `gorm:"not null;index" json:"action"`
	Resource string         `gorm:"index" json:"resource"`
	Result   string         `gorm:"not null" json:"result"`
	Metadata datatypes.JSON `json:"metadata"`

	IPAddress string `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent string `gorm:"size:255" json:"user_agent,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
