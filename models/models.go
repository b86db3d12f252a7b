package models

// This file serves as the central export point for all database models
// Import this package to access all model types

// All models are automatically exported from their respective files:
// - User from user.go
// - Meeting, TranscriptSegment from meeting.go
// - ChatMessage from chat.go
// - Prompt from prompt.go

// Database schema overview:
// 1. users - Provisioned out-of-band, keyed by the provider's user id
// 2. meetings - One row per user per 24h window of a Google Meet call
// 3. transcript_segments - Caption lines, deduplicated by (device, message id, version)
// 4. chat_messages - Per-meeting chat between the user and the assistant
// 5. prompts - Reusable assistant instructions, system-wide or per-user
