package repository

import (
	"context"
	"log/slog"

	"github.com/dapmeet/backend/models"
	"gorm.io/gorm"
)

type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.User{},
		&models.Meeting{},
		&models.TranscriptSegment{},
		&models.ChatMessage{},
		&models.Prompt{},
	)
}

// User operations
func (r *GORMRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		slog.Error("Failed to create user", "error", err)
		return err
	}
	slog.Info("User created", "user_id", user.ID)
	return nil
}

func (r *GORMRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get user by ID", "error", err, "user_id", id)
		return nil, err
	}
	return &user, nil
}

func (r *GORMRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get user by email", "error", err, "email", email)
		return nil, err
	}
	return &user, nil
}

// Meeting operations
func (r *GORMRepository) CreateMeeting(ctx context.Context, meeting *models.Meeting) error {
	if err := r.db.WithContext(ctx).Create(meeting).Error; err != nil {
		slog.Error("Failed to create meeting", "error", err, "session_id", meeting.UniqueSessionID)
		return err
	}
	slog.Info("Meeting created", "session_id", meeting.UniqueSessionID, "user_id", meeting.UserID)
	return nil
}

// GetLatestMeetingByPrefix returns the newest meeting whose session id
// starts with the given base. Dated rollover sessions share the base
// prefix, so this finds the current window regardless of suffix.
func (r *GORMRepository) GetLatestMeetingByPrefix(ctx context.Context, base string) (*models.Meeting, error) {
	var meeting models.Meeting
	err := r.db.WithContext(ctx).
		Where("unique_session_id LIKE ?", base+"%").
		Order("created_at DESC").
		First(&meeting).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get latest meeting by prefix", "error", err, "base", base)
		return nil, err
	}
	return &meeting, nil
}

func (r *GORMRepository) GetMeeting(ctx context.Context, sessionID, userID string) (*models.Meeting, error) {
	var meeting models.Meeting
	err := r.db.WithContext(ctx).
		Where("unique_session_id = ? AND user_id = ?", sessionID, userID).
		First(&meeting).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get meeting", "error", err, "session_id", sessionID, "user_id", userID)
		return nil, err
	}
	return &meeting, nil
}

func (r *GORMRepository) GetMeetingWithSegments(ctx context.Context, sessionID, userID string) (*models.Meeting, error) {
	var meeting models.Meeting
	err := r.db.WithContext(ctx).
		Where("unique_session_id = ? AND user_id = ?", sessionID, userID).
		Preload("Segments", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp, version")
		}).
		First(&meeting).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get meeting with segments", "error", err, "session_id", sessionID, "user_id", userID)
		return nil, err
	}
	return &meeting, nil
}

func (r *GORMRepository) ListMeetings(ctx context.Context, userID string, limit, offset int) ([]models.Meeting, int64, error) {
	var meetings []models.Meeting
	var total int64

	err := r.db.WithContext(ctx).
		Model(&models.Meeting{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	if err != nil {
		slog.Error("Failed to count meetings", "error", err, "user_id", userID)
		return nil, 0, err
	}

	err = r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&meetings).Error
	if err != nil {
		slog.Error("Failed to list meetings", "error", err, "user_id", userID)
		return nil, 0, err
	}
	return meetings, total, nil
}

func (r *GORMRepository) DeleteMeeting(ctx context.Context, sessionID, userID string) error {
	// Dependent rows first so the delete works without FK cascade support
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.TranscriptSegment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("unique_session_id = ? AND user_id = ?", sessionID, userID).
			Delete(&models.Meeting{}).Error
	})
	if err != nil {
		slog.Error("Failed to delete meeting", "error", err, "session_id", sessionID, "user_id", userID)
		return err
	}
	slog.Info("Meeting deleted", "session_id", sessionID, "user_id", userID)
	return nil
}

// Segment operations
func (r *GORMRepository) CreateSegment(ctx context.Context, segment *models.TranscriptSegment) error {
	if err := r.db.WithContext(ctx).Create(segment).Error; err != nil {
		slog.Error("Failed to create segment", "error", err, "session_id", segment.SessionID)
		return err
	}
	return nil
}

// Chat operations
func (r *GORMRepository) CreateChatMessage(ctx context.Context, message *models.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		slog.Error("Failed to create chat message", "error", err, "session_id", message.SessionID)
		return err
	}
	return nil
}

func (r *GORMRepository) GetChatMessage(ctx context.Context, sessionID string, messageID uint) (*models.ChatMessage, error) {
	var message models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("id = ? AND session_id = ?", messageID, sessionID).
		First(&message).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get chat message", "error", err, "session_id", sessionID, "message_id", messageID)
		return nil, err
	}
	return &message, nil
}

func (r *GORMRepository) GetChatHistory(ctx context.Context, sessionID string, page, size int) ([]models.ChatMessage, int64, error) {
	var messages []models.ChatMessage
	var total int64

	err := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("session_id = ?", sessionID).
		Count(&total).Error
	if err != nil {
		slog.Error("Failed to count chat messages", "error", err, "session_id", sessionID)
		return nil, 0, err
	}

	err = r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Limit(size).
		Offset((page - 1) * size).
		Find(&messages).Error
	if err != nil {
		slog.Error("Failed to get chat history", "error", err, "session_id", sessionID)
		return nil, 0, err
	}
	return messages, total, nil
}

// ReplaceChatHistory deletes the session's chat and writes the given
// messages in order inside one transaction.
func (r *GORMRepository) ReplaceChatHistory(ctx context.Context, sessionID string, messages []models.ChatMessage) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		for i := range messages {
			messages[i].ID = 0
			messages[i].SessionID = sessionID
			if err := tx.Create(&messages[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to replace chat history", "error", err, "session_id", sessionID)
		return err
	}
	slog.Info("Chat history replaced", "session_id", sessionID, "count", len(messages))
	return nil
}

func (r *GORMRepository) DeleteChatHistory(ctx context.Context, sessionID string) error {
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.ChatMessage{}).Error; err != nil {
		slog.Error("Failed to delete chat history", "error", err, "session_id", sessionID)
		return err
	}
	slog.Info("Chat history deleted", "session_id", sessionID)
	return nil
}

// Prompt operations
func (r *GORMRepository) CreatePrompt(ctx context.Context, prompt *models.Prompt) error {
	if err := r.db.WithContext(ctx).Create(prompt).Error; err != nil {
		slog.Error("Failed to create prompt", "error", err, "name", prompt.Name)
		return err
	}
	slog.Info("Prompt created", "prompt_id", prompt.ID, "name", prompt.Name)
	return nil
}

func (r *GORMRepository) GetPromptByID(ctx context.Context, promptID uint) (*models.Prompt, error) {
	var prompt models.Prompt
	if err := r.db.WithContext(ctx).Where("id = ?", promptID).First(&prompt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get prompt by ID", "error", err, "prompt_id", promptID)
		return nil, err
	}
	return &prompt, nil
}

func (r *GORMRepository) GetPromptByName(ctx context.Context, name string) (*models.Prompt, error) {
	var prompt models.Prompt
	err := r.db.WithContext(ctx).
		Where("name = ? AND is_active = ?", name, true).
		First(&prompt).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get prompt by name", "error", err, "name", name)
		return nil, err
	}
	return &prompt, nil
}

func (r *GORMRepository) GetPrompts(ctx context.Context, userID string, page, limit int) ([]models.Prompt, int64, error) {
	var prompts []models.Prompt
	var total int64

	err := r.db.WithContext(ctx).
		Model(&models.Prompt{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	if err != nil {
		slog.Error("Failed to count prompts", "error", err, "user_id", userID)
		return nil, 0, err
	}

	err = r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&prompts).Error
	if err != nil {
		slog.Error("Failed to get prompts", "error", err, "user_id", userID)
		return nil, 0, err
	}
	return prompts, total, nil
}

func (r *GORMRepository) GetActivePromptNames(ctx context.Context, userID string) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&models.Prompt{}).
		Where("is_active = ? AND (user_id IS NULL OR user_id = ?)", true, userID).
		Order("name").
		Pluck("name", &names).Error
	if err != nil {
		slog.Error("Failed to get prompt names", "error", err, "user_id", userID)
		return nil, err
	}
	return names, nil
}

func (r *GORMRepository) UpdatePrompt(ctx context.Context, prompt *models.Prompt) error {
	if err := r.db.WithContext(ctx).Save(prompt).Error; err != nil {
		slog.Error("Failed to update prompt", "error", err, "prompt_id", prompt.ID)
		return err
	}
	slog.Info("Prompt updated", "prompt_id", prompt.ID, "name", prompt.Name)
	return nil
}

func (r *GORMRepository) DeletePrompt(ctx context.Context, promptID uint) error {
	if err := r.db.WithContext(ctx).Where("id = ?", promptID).Delete(&models.Prompt{}).Error; err != nil {
		slog.Error("Failed to delete prompt", "error", err, "prompt_id", promptID)
		return err
	}
	slog.Info("Prompt deleted", "prompt_id", promptID)
	return nil
}
