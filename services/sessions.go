package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/dapmeet/backend/models"
	"github.com/dapmeet/backend/repository"
)

// SessionWindow is how long one meeting row keeps collecting segments
// before the same call id rolls over into a fresh session.
const SessionWindow = 24 * time.Hour

// SessionResolver maps an incoming (meeting id, user) pair onto the
// meeting row for the current 24h window, creating one when needed.
type SessionResolver struct {
	repo *repository.GORMRepository
	now  func() time.Time
}

func NewSessionResolver(repo *repository.GORMRepository) *SessionResolver {
	return &SessionResolver{
		repo: repo,
		now:  time.Now,
	}
}

// SessionBase returns the undated session id for a meeting and user.
func SessionBase(meetingID, userID string) string {
	return meetingID + "-" + userID
}

// DatedSessionID returns the rollover session id carrying the UTC date.
func DatedSessionID(meetingID, userID string, at time.Time) string {
	return SessionBase(meetingID, userID) + "-" + at.UTC().Format("2006-01-02")
}

// ResolveSessionID decides which session id the current moment maps to,
// given the newest existing meeting for the base (nil when none). The
// bool result reports whether the id refers to an existing row.
//
// A second rollover on the same UTC day produces the same dated id as
// the first, so that case resolves back to the existing row.
func ResolveSessionID(meetingID, userID string, latest *models.Meeting, now time.Time) (string, bool) {
	if latest == nil {
		return SessionBase(meetingID, userID), false
	}
	if now.Sub(latest.CreatedAt) < SessionWindow {
		return latest.UniqueSessionID, true
	}
	dated := DatedSessionID(meetingID, userID, now)
	if dated == latest.UniqueSessionID {
		return dated, true
	}
	return dated, false
}

// GetOrCreateMeeting resolves the meeting row for the current window.
// The bool result reports whether a row was created.
func (s *SessionResolver) GetOrCreateMeeting(ctx context.Context, meetingID, title string, user *models.User) (*models.Meeting, bool, error) {
	base := SessionBase(meetingID, user.ID)

	latest, err := s.repo.GetLatestMeetingByPrefix(ctx, base)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	sessionID, exists := ResolveSessionID(meetingID, user.ID, latest, now)
	if exists {
		slog.Info("Reusing meeting session", "session_id", sessionID, "user_id", user.ID)
		return latest, false, nil
	}
	if latest != nil {
		slog.Info("Session window expired, starting new session", "previous", latest.UniqueSessionID, "session_id", sessionID)
	}

	meeting := &models.Meeting{
		UniqueSessionID: sessionID,
		MeetingID:       meetingID,
		UserID:          user.ID,
		Title:           title,
		CreatedAt:       now,
	}
	if err := s.repo.CreateMeeting(ctx, meeting); err != nil {
		return nil, false, err
	}
	return meeting, true, nil
}

// GetActiveMeeting returns the newest meeting for the call id when it is
// still inside the window, nil otherwise.
func (s *SessionResolver) GetActiveMeeting(ctx context.Context, meetingID string, user *models.User) (*models.Meeting, error) {
	base := SessionBase(meetingID, user.ID)

	latest, err := s.repo.GetLatestMeetingByPrefix(ctx, base)
	if err != nil {
		return nil, err
	}
	if latest == nil || s.now().Sub(latest.CreatedAt) >= SessionWindow {
		return nil, nil
	}
	return latest, nil
}
