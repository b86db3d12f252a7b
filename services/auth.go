package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dapmeet/backend/models"
	"github.com/dapmeet/backend/repository"
	"github.com/golang-jwt/jwt/v5"
)

// UserCacheTTL is how long a verified user row is served from memory
// before the database is consulted again.
const UserCacheTTL = 5 * time.Minute

type AuthService struct {
	repo      *repository.GORMRepository
	jwtSecret []byte

	cacheMu   sync.RWMutex
	userCache map[string]cachedUser
	now       func() time.Time
}

type cachedUser struct {
	user     *models.User
	cachedAt time.Time
}

// AccessClaims carries the token payload; the subject is the user id.
type AccessClaims struct {
	jwt.RegisteredClaims
}

func NewAuthService(repo *repository.GORMRepository, jwtSecret string) *AuthService {
	return &AuthService{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		userCache: make(map[string]cachedUser),
		now:       time.Now,
	}
}

// VerifyAccessToken parses and validates a bearer token and loads the
// user it names. The extension holds tokens for hours, so every request
// re-checks the user still exists, through the cache.
func (s *AuthService) VerifyAccessToken(ctx context.Context, token string) (*models.User, error) {
	claims := &AccessClaims{}

	parsedToken, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsedToken.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	user, err := s.getUser(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}
	return user, nil
}

func (s *AuthService) getUser(ctx context.Context, userID string) (*models.User, error) {
	s.cacheMu.RLock()
	cached, ok := s.userCache[userID]
	s.cacheMu.RUnlock()
	if ok && s.now().Sub(cached.cachedAt) < UserCacheTTL {
		return cached.user, nil
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		s.cacheMu.Lock()
		s.userCache[userID] = cachedUser{user: user, cachedAt: s.now()}
		s.cacheMu.Unlock()
	}
	return user, nil
}

// CleanupExpired drops stale user cache rows.
func (s *AuthService) CleanupExpired() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	now := s.now()
	for userID, cached := range s.userCache {
		if now.Sub(cached.cachedAt) >= UserCacheTTL {
			delete(s.userCache, userID)
		}
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Middleware for bearer-token authentication
func (s *AuthService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := s.VerifyAccessToken(r.Context(), token)
		if err != nil {
			slog.Warn("Token verification failed", "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "user", user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
