package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel carries the UUID primary key and audit timestamps shared by every table. Rows are
// hard-deleted; memberships track removal explicitly instead of soft deletes.
type BaseModel struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none is set, rejects ids that Postgres would refuse for a uuid
// column, and stores caller-supplied timestamps in UTC so day buckets agree across drivers.
func (m *BaseModel) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	} else if err := uuid.Validate(m.ID); err != nil {
		return fmt.Errorf("models: invalid id %q: %w", m.ID, err)
	}
	if !m.CreatedAt.IsZero() {
		m.CreatedAt = m.CreatedAt.UTC()
	}
	if !m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.UpdatedAt.UTC()
	}
	return nil
}

// CreatedSince reports whether the row was created at or after since.
func (m BaseModel) CreatedSince(since time.Time) bool {
	return !m.CreatedAt.Before(since)
}
