package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dapmeet/backend/models"
	"github.com/dapmeet/backend/repository"
)

// DatabaseSeeder handles database seeding operations
type DatabaseSeeder struct {
	repo *repository.GORMRepository
}

// NewDatabaseSeeder creates a new database seeder
func NewDatabaseSeeder(repo *repository.GORMRepository) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo}
}

// SeedDatabase seeds the shared assistant prompts (idempotent). Shared
// prompts carry no user id and are readable by every user.
func (s *DatabaseSeeder) SeedDatabase() error {
	ctx := context.Background()

	sharedPrompts := []models.Prompt{
		{
			Name:       "meeting-summary",
			Content:    "Summarize the meeting transcript below. List the main topics, decisions made, and action items with their owners. Keep it short and refer to speakers by name.",
			PromptType: "admin",
			IsActive:   true,
		},
		{
			Name:       "action-items",
			Content:    "Extract every action item from the transcript below. For each one name the owner, the task, and any deadline that was mentioned. Answer as a bullet list.",
			PromptType: "admin",
			IsActive:   true,
		},
		{
			Name:       "meeting-qa",
			Content:    defaultAssistantPrompt,
			PromptType: "admin",
			IsActive:   true,
		},
	}

	for _, prompt := range sharedPrompts {
		if err := s.seedPrompt(ctx, prompt); err != nil {
			slog.Error("Failed to seed prompt", "name", prompt.Name, "error", err)
		}
	}

	slog.Info("Database seeding completed")
	return nil
}

// seedPrompt seeds a single shared prompt (idempotent)
func (s *DatabaseSeeder) seedPrompt(ctx context.Context, prompt models.Prompt) error {
	existing, err := s.repo.GetPromptByName(ctx, prompt.Name)
	if err != nil {
		return fmt.Errorf("error checking prompt %s: %w", prompt.Name, err)
	}
	if existing != nil {
		slog.Info("Prompt already exists, skipping", "name", prompt.Name)
		return nil
	}

	if err := s.repo.CreatePrompt(ctx, &prompt); err != nil {
		return fmt.Errorf("failed to create prompt %s: %w", prompt.Name, err)
	}

	slog.Info("Created shared prompt", "name", prompt.Name)
	return nil
}
