package services

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dapmeet/backend/models"
	"github.com/dapmeet/backend/repository"
	"github.com/go-chi/chi/v5"
)

type ChatEndpoints struct {
	repo      *repository.GORMRepository
	assistant *AssistantService
}

type ChatMessageCreate struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type ChatHistoryBulkRequest struct {
	SessionID string              `json:"session_id"`
	Messages  []ChatMessageCreate `json:"messages"`
}

type ChatHistoryResponse struct {
	SessionID     string               `json:"session_id"`
	TotalMessages int64                `json:"total_messages"`
	Messages      []models.ChatMessage `json:"messages"`
}

type AssistantRequest struct {
	Message    string `json:"message"`
	PromptName string `json:"prompt_name,omitempty"`
}

type AssistantResponse struct {
	UserMessage models.ChatMessage `json:"user_message"`
	Reply       models.ChatMessage `json:"reply"`
}

func NewChatEndpoints(repo *repository.GORMRepository, assistant *AssistantService) *ChatEndpoints {
	return &ChatEndpoints{repo: repo, assistant: assistant}
}

func (e *ChatEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/{sessionID}/history", e.GetHistoryHandler)
		r.Put("/{sessionID}/history", e.ReplaceHistoryHandler)
		r.Delete("/{sessionID}/history", e.DeleteHistoryHandler)
		r.Post("/{sessionID}/messages", e.AddMessageHandler)
		r.Get("/{sessionID}/messages/{messageID}", e.GetMessageHandler)
		r.Post("/{sessionID}/ai", e.AskAssistantHandler)
	})
}

// verifyAccess resolves the URL's meeting id to the caller's own session
// row. A missing row and a foreign session look the same to the caller.
func (e *ChatEndpoints) verifyAccess(r *http.Request, user *models.User) (*models.Meeting, error) {
	sessionID := SessionBase(chi.URLParam(r, "sessionID"), user.ID)
	return e.repo.GetMeeting(r.Context(), sessionID, user.ID)
}

func (e *ChatEndpoints) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		page = max(v, 1)
	}
	size := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil {
		size = min(max(v, 1), 100)
	}

	meeting, err := e.verifyAccess(r, user)
	if err != nil {
		http.Error(w, "Failed to get chat history", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found or access denied", http.StatusNotFound)
		return
	}

	messages, total, err := e.repo.GetChatHistory(r.Context(), meeting.UniqueSessionID, page, size)
	if err != nil {
		http.Error(w, "Failed to get chat history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ChatHistoryResponse{
		SessionID:     chi.URLParam(r, "sessionID"),
		TotalMessages: total,
		Messages:      messages,
	})
}

func (e *ChatEndpoints) AddMessageHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req ChatMessageCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Sender == "" || req.Content == "" {
		http.Error(w, "Sender and content are required", http.StatusBadRequest)
		return
	}

	meeting, err := e.verifyAccess(r, user)
	if err != nil {
		http.Error(w, "Failed to save message", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found or access denied", http.StatusNotFound)
		return
	}

	message := &models.ChatMessage{
		SessionID: meeting.UniqueSessionID,
		Sender:    req.Sender,
		Content:   req.Content,
	}
	if err := e.repo.CreateChatMessage(r.Context(), message); err != nil {
		http.Error(w, "Failed to save message", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(message)

	slog.Info("Chat message added", "session_id", meeting.UniqueSessionID, "sender", req.Sender)
}

func (e *ChatEndpoints) ReplaceHistoryHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req ChatHistoryBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID != chi.URLParam(r, "sessionID") {
		http.Error(w, "Session ID in URL must match session ID in request body", http.StatusBadRequest)
		return
	}

	meeting, err := e.verifyAccess(r, user)
	if err != nil {
		http.Error(w, "Failed to replace chat history", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found or access denied", http.StatusNotFound)
		return
	}

	messages := make([]models.ChatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, models.ChatMessage{
			Sender:  msg.Sender,
			Content: msg.Content,
		})
	}

	if err := e.repo.ReplaceChatHistory(r.Context(), meeting.UniqueSessionID, messages); err != nil {
		http.Error(w, "Failed to replace chat history", http.StatusInternalServerError)
		return
	}

	stored, total, err := e.repo.GetChatHistory(r.Context(), meeting.UniqueSessionID, 1, 100)
	if err != nil {
		http.Error(w, "Failed to replace chat history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ChatHistoryResponse{
		SessionID:     req.SessionID,
		TotalMessages: total,
		Messages:      stored,
	})

	slog.Info("Chat history replaced", "session_id", meeting.UniqueSessionID, "count", len(messages))
}

func (e *ChatEndpoints) DeleteHistoryHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	meeting, err := e.verifyAccess(r, user)
	if err != nil {
		http.Error(w, "Failed to delete chat history", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found or access denied", http.StatusNotFound)
		return
	}

	if err := e.repo.DeleteChatHistory(r.Context(), meeting.UniqueSessionID); err != nil {
		http.Error(w, "Failed to delete chat history", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (e *ChatEndpoints) GetMessageHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	messageID, err := strconv.ParseUint(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	meeting, err := e.verifyAccess(r, user)
	if err != nil {
		http.Error(w, "Failed to get message", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found or access denied", http.StatusNotFound)
		return
	}

	message, err := e.repo.GetChatMessage(r.Context(), meeting.UniqueSessionID, uint(messageID))
	if err != nil {
		http.Error(w, "Failed to get message", http.StatusInternalServerError)
		return
	}
	if message == nil {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(message)
}

// AskAssistantHandler stores the user's question, generates a grounded
// reply over the deduplicated transcript, stores it as an "ai" message
// and returns both rows.
func (e *ChatEndpoints) AskAssistantHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req AssistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	meeting, err := e.verifyAccess(r, user)
	if err != nil {
		http.Error(w, "Failed to generate reply", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found or access denied", http.StatusNotFound)
		return
	}

	instructions := ""
	if req.PromptName != "" {
		prompt, err := e.repo.GetPromptByName(r.Context(), req.PromptName)
		if err != nil {
			http.Error(w, "Failed to generate reply", http.StatusInternalServerError)
			return
		}
		if prompt == nil {
			http.Error(w, "Prompt not found", http.StatusNotFound)
			return
		}
		if prompt.UserID != nil && *prompt.UserID != user.ID {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}
		instructions = prompt.Content
	}

	segments, err := e.repo.GetDedupedSegments(r.Context(), meeting.UniqueSessionID)
	if err != nil {
		http.Error(w, "Failed to generate reply", http.StatusInternalServerError)
		return
	}

	// History is captured before the question is stored, the question
	// goes to the model separately.
	history, _, err := e.repo.GetChatHistory(r.Context(), meeting.UniqueSessionID, 1, 100)
	if err != nil {
		http.Error(w, "Failed to generate reply", http.StatusInternalServerError)
		return
	}

	userMessage := &models.ChatMessage{
		SessionID: meeting.UniqueSessionID,
		Sender:    "user",
		Content:   req.Message,
	}
	if err := e.repo.CreateChatMessage(r.Context(), userMessage); err != nil {
		http.Error(w, "Failed to generate reply", http.StatusInternalServerError)
		return
	}

	reply, err := e.assistant.GenerateReply(r.Context(), instructions, segments, history, req.Message)
	if err != nil {
		http.Error(w, "Failed to generate reply", http.StatusBadGateway)
		return
	}

	aiMessage := &models.ChatMessage{
		SessionID: meeting.UniqueSessionID,
		Sender:    "ai",
		Content:   reply,
	}
	if err := e.repo.CreateChatMessage(r.Context(), aiMessage); err != nil {
		http.Error(w, "Failed to save reply", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(AssistantResponse{
		UserMessage: *userMessage,
		Reply:       *aiMessage,
	})

	slog.Info("Assistant reply stored", "session_id", meeting.UniqueSessionID, "user_id", user.ID)
}
