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

type PromptEndpoints struct {
	repo *repository.GORMRepository
}

type CreatePromptRequest struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	IsActive *bool  `json:"is_active,omitempty"`
}

type UpdatePromptRequest struct {
	Name     *string `json:"name,omitempty"`
	Content  *string `json:"content,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type PromptListResponse struct {
	Prompts    []models.Prompt `json:"prompts"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"total_pages"`
	HasNext    bool            `json:"has_next"`
	HasPrev    bool            `json:"has_prev"`
}

func NewPromptEndpoints(repo *repository.GORMRepository) *PromptEndpoints {
	return &PromptEndpoints{repo: repo}
}

func (e *PromptEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/prompts", func(r chi.Router) {
		r.Post("/", e.CreatePromptHandler)
		r.Get("/", e.ListPromptsHandler)
		r.Get("/names", e.PromptNamesHandler)
		r.Get("/{id}", e.GetPromptHandler)
		r.Put("/{id}", e.UpdatePromptHandler)
		r.Delete("/{id}", e.DeletePromptHandler)
	})
}

func (e *PromptEndpoints) CreatePromptHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req CreatePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Content == "" {
		http.Error(w, "Name and content are required", http.StatusBadRequest)
		return
	}

	existing, err := e.repo.GetPromptByName(r.Context(), req.Name)
	if err != nil {
		http.Error(w, "Failed to create prompt", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "Prompt with this name already exists", http.StatusBadRequest)
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	prompt := &models.Prompt{
		Name:       req.Name,
		Content:    req.Content,
		PromptType: "user",
		UserID:     &user.ID,
		IsActive:   isActive,
	}
	if err := e.repo.CreatePrompt(r.Context(), prompt); err != nil {
		http.Error(w, "Failed to create prompt", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(prompt)

	slog.Info("Prompt created", "prompt_id", prompt.ID, "user_id", user.ID, "name", prompt.Name)
}

func (e *PromptEndpoints) ListPromptsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		page = max(v, 1)
	}
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = min(max(v, 1), 100)
	}

	prompts, total, err := e.repo.GetPrompts(r.Context(), user.ID, page, limit)
	if err != nil {
		http.Error(w, "Failed to list prompts", http.StatusInternalServerError)
		return
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	response := PromptListResponse{
		Prompts:    prompts,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// PromptNamesHandler lists the active prompt names the caller can use,
// their own plus the shared ones.
func (e *PromptEndpoints) PromptNamesHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	names, err := e.repo.GetActivePromptNames(r.Context(), user.ID)
	if err != nil {
		http.Error(w, "Failed to list prompt names", http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(names)
}

func (e *PromptEndpoints) GetPromptHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	promptID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid prompt ID", http.StatusBadRequest)
		return
	}

	prompt, err := e.repo.GetPromptByID(r.Context(), uint(promptID))
	if err != nil {
		http.Error(w, "Failed to get prompt", http.StatusInternalServerError)
		return
	}
	if prompt == nil {
		http.Error(w, "Prompt not found", http.StatusNotFound)
		return
	}
	if prompt.UserID == nil || *prompt.UserID != user.ID {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(prompt)
}

func (e *PromptEndpoints) UpdatePromptHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	promptID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid prompt ID", http.StatusBadRequest)
		return
	}

	var req UpdatePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	prompt, err := e.repo.GetPromptByID(r.Context(), uint(promptID))
	if err != nil {
		http.Error(w, "Failed to update prompt", http.StatusInternalServerError)
		return
	}
	if prompt == nil {
		http.Error(w, "Prompt not found", http.StatusNotFound)
		return
	}
	if prompt.UserID == nil || *prompt.UserID != user.ID {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	if req.Name != nil && *req.Name != prompt.Name {
		existing, err := e.repo.GetPromptByName(r.Context(), *req.Name)
		if err != nil {
			http.Error(w, "Failed to update prompt", http.StatusInternalServerError)
			return
		}
		if existing != nil && existing.ID != prompt.ID {
			http.Error(w, "Prompt with this name already exists", http.StatusBadRequest)
			return
		}
		prompt.Name = *req.Name
	}
	if req.Content != nil {
		prompt.Content = *req.Content
	}
	if req.IsActive != nil {
		prompt.IsActive = *req.IsActive
	}

	if err := e.repo.UpdatePrompt(r.Context(), prompt); err != nil {
		http.Error(w, "Failed to update prompt", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(prompt)

	slog.Info("Prompt updated", "prompt_id", prompt.ID, "user_id", user.ID)
}

func (e *PromptEndpoints) DeletePromptHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	promptID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid prompt ID", http.StatusBadRequest)
		return
	}

	prompt, err := e.repo.GetPromptByID(r.Context(), uint(promptID))
	if err != nil {
		http.Error(w, "Failed to delete prompt", http.StatusInternalServerError)
		return
	}
	if prompt == nil {
		http.Error(w, "Prompt not found", http.StatusNotFound)
		return
	}
	if prompt.UserID == nil || *prompt.UserID != user.ID {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	if err := e.repo.DeletePrompt(r.Context(), prompt.ID); err != nil {
		http.Error(w, "Failed to delete prompt", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
