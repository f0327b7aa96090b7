package models

import "time"

// PaymentStatus records the provider outcome of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Granted reports whether the payment has already added credits to the pool.
func (s PaymentStatus) Granted() bool {
	return s == PaymentSucceeded
}

// Payment is the durable record of a credit grant. The external transaction id is unique
// so replayed confirmations cannot grant twice.
type Payment struct {
	BaseModel

	TeamID                string        `gorm:"type:uuid;not null;index" json:"team_id"`
	UserID                *string       `gorm:"type:uuid" json:"user_id,omitempty"`
	ExternalTransactionID string        `gorm:"uniqueIndex;not null;size:255" json:"external_transaction_id"`
	CreditsGranted        int64         `gorm:"not null" json:"credits_granted"`
	AmountCharged         int64         `gorm:"not null;default:0" json:"amount_charged"`
	Currency              string        `gorm:"size:8" json:"currency"`
	Source                string        `gorm:"size:32;not null" json:"source"`
	Status                PaymentStatus `gorm:"type:varchar(16);not null" json:"status"`
	CompletedAt           *time.Time    `json:"completed_at,omitempty"`

	Team *Team `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
