package auth

import (
	"crypto/sha256"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

// SessionName is the name of the session cookie.
const SessionName = "materials-session"

// SessionKeyUserID holds the signed-in user's UUID as a string.
const SessionKeyUserID = "user_id"

// SessionStore reads and writes the user identity carried in the session cookie.
// Sign-in itself happens elsewhere; this service only consumes the identity.
type SessionStore struct {
	store     *sessions.CookieStore
	ephemeral bool
}

// NewSessionStore creates a cookie-based session store.
//
// The secret is SHA-256 hashed to derive a 32-byte signing key, so any
// passphrase works. It must be the same across restarts and replicas.
// An empty secret gets a random key for this process only: cookies from
// other processes and earlier runs are rejected.
func NewSessionStore(secret string, maxAge int, secure bool) *SessionStore {
	var key []byte
	if secret == "" {
		key = securecookie.GenerateRandomKey(32)
		if key == nil {
			panic("auth: failed to generate a random session key")
		}
	} else {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionStore{store: store, ephemeral: secret == ""}
}

// Ephemeral reports whether the signing key was generated for this process.
func (s *SessionStore) Ephemeral() bool {
	return s.ephemeral
}

// UserID returns the user stored in the request's session, if any.
// A missing, expired or tampered cookie yields false.
func (s *SessionStore) UserID(r *http.Request) (uuid.UUID, bool) {
	session, err := s.store.Get(r, SessionName)
	if err != nil {
		return uuid.Nil, false
	}
	raw, ok := session.Values[SessionKeyUserID].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// SetUserID writes userID into the session cookie on w.
//
// Nothing in this service signs users in, so no handler calls this. It is
// the entry point for the sign-in service sharing SESSION_SECRET and for
// tests that need an authenticated request.
func (s *SessionStore) SetUserID(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error {
	session, err := s.store.Get(r, SessionName)
	if err != nil && session == nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	session.Values[SessionKeyUserID] = userID.String()
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear expires the session cookie. Like SetUserID it exists for the
// sign-in side and for tests; this service never ends sessions itself.
func (s *SessionStore) Clear(w http.ResponseWriter, r *http.Request) error {
	session, err := s.store.Get(r, SessionName)
	if err != nil && session == nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	session.Options.MaxAge = -1
	delete(session.Values, SessionKeyUserID)
	return session.Save(r, w)
}
