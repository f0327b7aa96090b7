package models

// Team groups users under a shared owner, credit pool and invitation list.
type Team struct {
	BaseModel

	Name        string `gorm:"not null" json:"name"`
	Slug        string `gorm:"uniqueIndex;not null;size:255" json:"slug"`
	Description string `json:"description"`
	OwnerID     string `gorm:"type:uuid;not null;index" json:"owner_id"`

	Owner *User `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"owner,omitempty"`
}
