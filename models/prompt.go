package models

import (
	"time"
)

// Prompt is a reusable assistant instruction. System prompts have a nil
// UserID; user prompts cascade away with their owner.
type Prompt struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"size:255;uniqueIndex;not null" json:"name"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	PromptType string    `gorm:"size:50;default:'user'" json:"prompt_type"`
	UserID     *string   `gorm:"size:255;index" json:"user_id,omitempty"`
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Relationships
	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}
