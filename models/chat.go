package models

import (
	"time"
)

// ChatMessage is one turn of the transcript chat. Sender is either
// "user" or "ai".
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:512;index;not null;column:session_id" json:"session_id"`
	Sender    string    `gorm:"size:50;not null" json:"sender"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Relationships
	Meeting Meeting `gorm:"foreignKey:SessionID;references:UniqueSessionID;constraint:OnDelete:CASCADE" json:"-"`
}
