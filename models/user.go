package models

import (
	"time"
)

type User struct {
	ID           string    `gorm:"primaryKey;size:255" json:"id"`
	Email        *string   `gorm:"uniqueIndex;size:255" json:"email,omitempty"`
	PhoneNumber  *string   `gorm:"size:50" json:"phone_number,omitempty"`
	Name         string    `gorm:"size:255" json:"name,omitempty"`
	AuthProvider string    `gorm:"size:50;default:'google'" json:"auth_provider"`
	CreatedAt    time.Time `json:"created_at"`

	// Relationships
	Meetings []Meeting `gorm:"foreignKey:UserID" json:"meetings,omitempty"`
	Prompts  []Prompt  `gorm:"foreignKey:UserID" json:"prompts,omitempty"`
}
