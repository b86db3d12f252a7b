package services

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dapmeet/backend/models"
	"github.com/dapmeet/backend/repository"
	ws "github.com/dapmeet/backend/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// janitorInterval is how often the in-memory stores are swept for
// expired entries.
const janitorInterval = 10 * time.Minute

// Server holds all server dependencies
type Server struct {
	config           *Config
	gormDB           *repository.GORMRepository
	rawDB            interface{} // Store the raw GORM DB for services that need it
	authService      *AuthService
	sessionResolver  *SessionResolver
	mappingStore     *MappingStore
	messageCache     *MessageCache
	decoder          *Decoder
	assistantService *AssistantService
	meetingEndpoints *MeetingEndpoints
	chatEndpoints    *ChatEndpoints
	promptEndpoints  *PromptEndpoints
	wsHub            *ws.Hub
	upgrader         websocket.Upgrader
}

// NewServer creates a new server instance
func NewServer(config *Config) *Server {
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// InitializeServices initializes all server services
func (s *Server) InitializeServices() error {
	if s.config.Database.URL != "" {
		// Database initialization is handled in main.go
		slog.Info("Database connection will be initialized in main.go")
	} else {
		slog.Warn("Database URL not configured, running without database")
	}

	s.mappingStore = NewMappingStore()
	s.messageCache = NewMessageCache()
	s.decoder = NewDecoder()

	if s.config.OpenAI.APIKey != "" {
		s.assistantService = NewAssistantService(s.config.OpenAI.APIKey, s.config.OpenAI.Model)
		slog.Info("Assistant service initialized", "model", s.config.OpenAI.Model)
	}

	if s.config.JWT.Secret != "" && s.gormDB != nil {
		s.authService = NewAuthService(s.gormDB, s.config.JWT.Secret)
		slog.Info("Authentication service initialized")
	}

	s.wsHub = ws.NewHub()
	go s.wsHub.Run()

	if s.gormDB != nil {
		s.sessionResolver = NewSessionResolver(s.gormDB)
		s.meetingEndpoints = NewMeetingEndpoints(s.gormDB, s.sessionResolver, s.mappingStore, s.decoder, s.messageCache, s.wsHub)
		s.promptEndpoints = NewPromptEndpoints(s.gormDB)
		if s.assistantService != nil {
			s.chatEndpoints = NewChatEndpoints(s.gormDB, s.assistantService)
		}
	}

	go s.runJanitor()

	return nil
}

// SetDatabase sets the database connection
func (s *Server) SetDatabase(db *repository.GORMRepository, rawDB interface{}) {
	s.gormDB = db
	s.rawDB = rawDB
}

// runJanitor sweeps the in-memory stores so participant mappings,
// duplicate-detection entries and cached users do not grow unbounded.
func (s *Server) runJanitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mappingStore.CleanupExpired()
		s.messageCache.CleanupExpired()
		if s.authService != nil {
			s.authService.CleanupExpired()
		}
	}
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health endpoint
	r.Get("/health", s.healthHandler)

	// API v1 route group
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.apiV1Handler)

		// WebSocket route (protected)
		if s.authService != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.authService.Middleware)
				r.Get("/ws", s.websocketHandlerFunc)
			})
		}

		// Meeting routes (protected)
		if s.meetingEndpoints != nil && s.authService != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.authService.Middleware)
				s.meetingEndpoints.RegisterRoutes(r)
			})
		}

		// Chat routes (protected)
		if s.chatEndpoints != nil && s.authService != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.authService.Middleware)
				s.chatEndpoints.RegisterRoutes(r)
			})
		}

		// Prompt routes (protected)
		if s.promptEndpoints != nil && s.authService != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.authService.Middleware)
				s.promptEndpoints.RegisterRoutes(r)
			})
		}
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	// Graceful shutdown
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	// If no allowed origins are configured, deny all requests for security
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	// Parse allowed origins (comma-separated list)
	allowedOrigins := strings.Split(allowedOriginsStr, ",")

	// Trim whitespace from origins
	for i := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
	}

	// Check if origin is in allowed list
	for _, allowed := range allowedOrigins {
		if allowed == origin {
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"

	if s.rawDB != nil {
		if gormDB, ok := s.rawDB.(*gorm.DB); ok {
			if sqlDB, err := gormDB.DB(); err == nil {
				if err := sqlDB.Ping(); err != nil {
					dbStatus = "down"
					status = "degraded"
				} else {
					dbStatus = "up"
				}
			} else {
				dbStatus = "down"
				status = "degraded"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"` + status + `","database":"` + dbStatus + `"}`))
}

func (s *Server) apiV1Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"API v1","version":"1.0.0"}`))
}

// websocketHandlerFunc subscribes the caller to the live transcript feed
// of one of their sessions. The session is checked before the upgrade so
// rejections still travel as plain HTTP errors.
func (s *Server) websocketHandlerFunc(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		slog.Error("WebSocket connection failed - user not found in context")
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	meetingID := r.URL.Query().Get("session_id")
	if meetingID == "" {
		http.Error(w, "Session ID is required", http.StatusBadRequest)
		return
	}

	meeting, err := s.gormDB.GetLatestMeetingByPrefix(r.Context(), SessionBase(meetingID, user.ID))
	if err != nil {
		http.Error(w, "Failed to resolve session", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := s.wsHub.RegisterClient(conn, user.ID, meeting.UniqueSessionID)

	go client.WritePump()
	go client.ReadPump()
}
