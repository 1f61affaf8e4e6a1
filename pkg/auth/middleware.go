package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Middleware provides HTTP session middleware.
type Middleware struct {
	sessions *SessionStore
	logger   *zap.Logger
}

// NewMiddleware creates a new session middleware.
func NewMiddleware(sessions *SessionStore, logger *zap.Logger) *Middleware {
	return &Middleware{
		sessions: sessions,
		logger:   logger,
	}
}

// Session places the session's user, if any, into the request context.
// Anonymous requests pass through unchanged.
func (m *Middleware) Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, ok := m.sessions.UserID(r); ok {
			r = r.WithContext(WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects requests without a signed-in user with 401.
func (m *Middleware) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserIDFromContext(r.Context()); !ok {
			m.logger.Debug("Rejected anonymous request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path))
			m.unauthorized(w)
			return
		}
		next(w, r)
	}
}

func (m *Middleware) unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": "Authentication required",
	}); err != nil {
		m.logger.Error("Failed to write error response", zap.Error(err))
	}
}
