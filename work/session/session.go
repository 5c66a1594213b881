package session

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"iptv-relay/work/logger"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/crypto/bcrypt"
)

// CookieName carries the session identifier in the browser.
const CookieName = "relay_session"

// Store holds established browser sessions. The relay endpoint treats a
// valid session purely as an opaque "caller is authorized" signal; the only
// way to establish one is the password login below.
type Store struct {
	sessions     *xsync.MapOf[string, time.Time] // id -> expiry
	passwordHash []byte
	ttl          time.Duration
	logger       *logger.Logger
}

// New creates a session store. passwordHash is the bcrypt hash gating the
// login endpoint; when empty, login is disabled and only token auth can
// reach the relay.
func New(passwordHash string, ttl time.Duration, lg *logger.Logger) *Store {
	return &Store{
		sessions:     xsync.NewMapOf[string, time.Time](),
		passwordHash: []byte(passwordHash),
		ttl:          ttl,
		logger:       lg,
	}
}

// HandleLogin establishes a session: POST with a "password" form value,
// verified against the configured bcrypt hash. On success a new random
// session ID is issued in an HttpOnly, SameSite=Lax cookie.
func (s *Store) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if len(s.passwordHash) == 0 {
		http.Error(w, "Login disabled", http.StatusForbidden)
		return
	}

	password := r.PostFormValue("password")
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		s.logger.Warn("{session - HandleLogin} rejected login from %s", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	id := newSessionID()
	s.sessions.Store(id, time.Now().Add(s.ttl))

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogout drops the caller's session.
func (s *Store) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if id := s.ID(r); id != "" {
		s.sessions.Delete(id)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Valid reports whether the request carries a live session cookie. Expired
// sessions are removed on sight.
func (s *Store) Valid(r *http.Request) bool {
	id := s.ID(r)
	if id == "" {
		return false
	}
	expiry, ok := s.sessions.Load(id)
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		s.sessions.Delete(id)
		return false
	}
	return true
}

// ID returns the session identifier from the request cookie, or "".
// The relay uses it as the cache/rate-limit caller scope.
func (s *Store) ID(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// Establish creates a session directly, bypassing the password check. Used
// by tests and by deployments that gate the UI elsewhere.
func (s *Store) Establish() string {
	id := newSessionID()
	s.sessions.Store(id, time.Now().Add(s.ttl))
	return id
}

func newSessionID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
