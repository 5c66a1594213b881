package session

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"iptv-relay/work/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testStore(t *testing.T, password string) *Store {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return New(string(hash), time.Hour, logger.New("ERROR"))
}

func loginRequest(password string) *http.Request {
	form := url.Values{"password": {password}}
	r := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestLoginIssuesSession(t *testing.T) {
	s := testStore(t, "hunter2")

	rec := httptest.NewRecorder()
	s.HandleLogin(rec, loginRequest("hunter2"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	r := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	r.AddCookie(cookies[0])
	assert.True(t, s.Valid(r))
	assert.Equal(t, cookies[0].Value, s.ID(r))
}

func TestLoginWrongPassword(t *testing.T) {
	s := testStore(t, "hunter2")

	rec := httptest.NewRecorder()
	s.HandleLogin(rec, loginRequest("letmein"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	s := New("", time.Hour, logger.New("ERROR"))

	rec := httptest.NewRecorder()
	s.HandleLogin(rec, loginRequest("anything"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoginRejectsNonPost(t *testing.T) {
	s := testStore(t, "hunter2")

	rec := httptest.NewRecorder()
	s.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestValidRejectsUnknownAndExpired(t *testing.T) {
	s := testStore(t, "hunter2")

	r := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	assert.False(t, s.Valid(r), "no cookie")

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "forged"})
	assert.False(t, s.Valid(r), "unknown id")

	// Expired sessions stop validating and are dropped.
	s.ttl = -time.Minute
	id := s.Establish()
	r2 := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	r2.AddCookie(&http.Cookie{Name: CookieName, Value: id})
	assert.False(t, s.Valid(r2))
}

func TestLogoutDropsSession(t *testing.T) {
	s := testStore(t, "hunter2")
	id := s.Establish()

	r := httptest.NewRequest(http.MethodDelete, "/session", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: id})
	rec := httptest.NewRecorder()
	s.HandleLogout(rec, r)
	require.Equal(t, http.StatusNoContent, rec.Code)

	r2 := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	r2.AddCookie(&http.Cookie{Name: CookieName, Value: id})
	assert.False(t, s.Valid(r2))
}
