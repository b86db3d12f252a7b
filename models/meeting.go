package models

import (
	"time"
)

// Meeting is one user's view of one Google Meet call. The primary key is
// "{meeting_id}-{user_id}" with an optional "-YYYY-MM-DD" suffix when the
// same call id resurfaces more than 24 hours later.
type Meeting struct {
	UniqueSessionID  string    `gorm:"primaryKey;size:512;column:unique_session_id" json:"unique_session_id"`
	MeetingID        string    `gorm:"size:255;index;not null" json:"meeting_id"`
	UserID           string    `gorm:"size:255;index;not null" json:"user_id"`
	Title            string    `gorm:"size:512" json:"title"`
	SubscriptionPlan *string   `gorm:"size:50" json:"subscription_plan,omitempty"`
	CreatedAt        time.Time `json:"created_at"`

	// Relationships
	User     User                `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	Segments []TranscriptSegment `gorm:"foreignKey:SessionID;references:UniqueSessionID" json:"segments,omitempty"`
	Messages []ChatMessage       `gorm:"foreignKey:SessionID;references:UniqueSessionID" json:"messages,omitempty"`
}

// TranscriptSegment is a single caption line pushed by the extension.
// MessageID/Version come from the decoded Meet payload and drive
// deduplication; both may be absent for manually posted segments.
type TranscriptSegment struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SessionID       string    `gorm:"size:512;index;not null;column:session_id" json:"session_id"`
	DeviceID        string    `gorm:"size:500;column:google_meet_user_id" json:"google_meet_user_id"`
	SpeakerUsername string    `gorm:"size:200" json:"speaker_username"`
	Timestamp       time.Time `gorm:"not null" json:"timestamp"`
	Text            string    `gorm:"type:text;not null" json:"text"`
	Version         int       `gorm:"default:1" json:"version"`
	MessageID       *string   `gorm:"size:100" json:"message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`

	// Relationships
	Meeting Meeting `gorm:"foreignKey:SessionID;references:UniqueSessionID;constraint:OnDelete:CASCADE" json:"-"`
}
