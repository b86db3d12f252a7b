package repository

import (
	"context"
	"log/slog"

	"github.com/dapmeet/backend/models"
)

// GetDedupedSegments returns the session's transcript with retransmitted
// caption lines collapsed. Meet resends each line as it grows, so rows
// sharing a device and message id are ranked by version and only the
// newest survives, ordered by when the line first appeared.
//
// Sessions recorded before message ids were captured have none at all;
// those fall back to plain chronological order.
func (r *GORMRepository) GetDedupedSegments(ctx context.Context, sessionID string) ([]models.TranscriptSegment, error) {
	var withIDs int64
	err := r.db.WithContext(ctx).
		Model(&models.TranscriptSegment{}).
		Where("session_id = ? AND message_id IS NOT NULL", sessionID).
		Count(&withIDs).Error
	if err != nil {
		slog.Error("Failed to count segment message ids", "error", err, "session_id", sessionID)
		return nil, err
	}

	var segments []models.TranscriptSegment
	if withIDs == 0 {
		err = r.db.WithContext(ctx).
			Where("session_id = ?", sessionID).
			Order("timestamp, version").
			Find(&segments).Error
		if err != nil {
			slog.Error("Failed to get segments", "error", err, "session_id", sessionID)
			return nil, err
		}
		return segments, nil
	}

	err = r.db.WithContext(ctx).Raw(`
		WITH ranked AS (
			SELECT s.*,
				row_number() OVER (
					PARTITION BY s.google_meet_user_id || '-' || s.message_id
					ORDER BY s.message_id, s.version DESC
				) AS row_num,
				min(s.created_at) OVER (
					PARTITION BY s.google_meet_user_id || '-' || s.message_id
				) AS min_timestamp
			FROM transcript_segments s
			WHERE s.session_id = ?
		)
		SELECT * FROM ranked
		WHERE row_num = 1
		ORDER BY min_timestamp, timestamp, version`, sessionID).
		Scan(&segments).Error
	if err != nil {
		slog.Error("Failed to get deduped segments", "error", err, "session_id", sessionID)
		return nil, err
	}
	return segments, nil
}

// GetSessionSpeakers returns the distinct speaker names per session for
// the given session ids.
func (r *GORMRepository) GetSessionSpeakers(ctx context.Context, sessionIDs []string) (map[string][]string, error) {
	speakers := make(map[string][]string)
	if len(sessionIDs) == 0 {
		return speakers, nil
	}

	var rows []struct {
		SessionID       string
		SpeakerUsername string
	}
	err := r.db.WithContext(ctx).
		Model(&models.TranscriptSegment{}).
		Distinct("session_id", "speaker_username").
		Where("session_id IN ? AND speaker_username <> ''", sessionIDs).
		Order("session_id, speaker_username").
		Find(&rows).Error
	if err != nil {
		slog.Error("Failed to get session speakers", "error", err)
		return nil, err
	}

	for _, row := range rows {
		speakers[row.SessionID] = append(speakers[row.SessionID], row.SpeakerUsername)
	}
	return speakers, nil
}

// GetLatestAssistantMessages returns the newest assistant chat message
// per session for the given session ids.
func (r *GORMRepository) GetLatestAssistantMessages(ctx context.Context, sessionIDs []string) (map[string]models.ChatMessage, error) {
	latest := make(map[string]models.ChatMessage)
	if len(sessionIDs) == 0 {
		return latest, nil
	}

	var messages []models.ChatMessage
	err := r.db.WithContext(ctx).Raw(`
		SELECT id, session_id, sender, content, created_at FROM (
			SELECT cm.*,
				row_number() OVER (
					PARTITION BY cm.session_id
					ORDER BY cm.created_at DESC, cm.id DESC
				) AS row_num
			FROM chat_messages cm
			WHERE cm.session_id IN ? AND cm.sender = 'ai'
		) ranked
		WHERE row_num = 1`, sessionIDs).
		Scan(&messages).Error
	if err != nil {
		slog.Error("Failed to get latest assistant messages", "error", err)
		return nil, err
	}

	for _, message := range messages {
		latest[message.SessionID] = message
	}
	return latest, nil
}
