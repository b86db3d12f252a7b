package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dapmeet/backend/models"
	openai "github.com/sashabaranov/go-openai"
)

const defaultAssistantPrompt = "You are a meeting assistant. Answer questions about the meeting " +
	"using only the transcript below. Be concise and refer to speakers by name."

// AssistantService generates chat replies over a meeting transcript.
type AssistantService struct {
	client *openai.Client
	model  string
}

func NewAssistantService(apiKey, model string) *AssistantService {
	return &AssistantService{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// GenerateReply asks the model for a reply to userMessage, grounded on
// the deduplicated transcript. The stored chat history is replayed so
// the conversation keeps its context; instructions defaults to the
// built-in prompt when empty.
func (s *AssistantService) GenerateReply(ctx context.Context, instructions string, segments []models.TranscriptSegment, history []models.ChatMessage, userMessage string) (string, error) {
	if instructions == "" {
		instructions = defaultAssistantPrompt
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: instructions + "\n\nTranscript:\n" + FormatTranscript(segments),
		},
	}

	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Sender == "ai" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("Chat completion failed", "error", err, "model", s.model)
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Info("Assistant reply generated", "model", s.model, "history_len", len(history), "reply_len", len(reply))
	return reply, nil
}

// FormatTranscript renders deduplicated segments as "Speaker: text"
// lines for the model context.
func FormatTranscript(segments []models.TranscriptSegment) string {
	if len(segments) == 0 {
		return "(no transcript yet)"
	}

	var b strings.Builder
	for _, segment := range segments {
		speaker := segment.SpeakerUsername
		if speaker == "" {
			speaker = UnknownName(segment.DeviceID)
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(segment.Text)
		b.WriteString("\n")
	}
	return b.String()
}
