package auth_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/email-verifier/internal/auth"
)

func protected(m *auth.Manager) http.Handler {
	return m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(auth.OwnerFrom(r.Context())))
	}))
}

func TestMiddlewareMissingCredentials(t *testing.T) {
	h := protected(auth.NewManager("secret-key", "jwt-secret"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareWrongKey(t *testing.T) {
	h := protected(auth.NewManager("secret-key", "jwt-secret"))
	req := httptest.NewRequest("GET", "/api/jobs", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddlewareValidKey(t *testing.T) {
	h := protected(auth.NewManager("secret-key", "jwt-secret"))
	req := httptest.NewRequest("GET", "/api/jobs", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.DefaultOwner, rec.Body.String())
}

func TestMiddlewareDisabledAllowsAll(t *testing.T) {
	h := protected(auth.NewManager("", "jwt-secret"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenRoundTrip(t *testing.T) {
	m := auth.NewManager("secret-key", "jwt-secret")

	token, _, err := m.IssueToken("owner-42")
	require.NoError(t, err)

	owner, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "owner-42", owner)

	// The bearer token passes the middleware and carries the owner.
	h := protected(m)
	req := httptest.NewRequest("GET", "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "owner-42", rec.Body.String())
}

func TestTokenWrongSecretRejected(t *testing.T) {
	token, _, err := auth.NewManager("k", "secret-a").IssueToken("owner")
	require.NoError(t, err)

	_, err = auth.NewManager("k", "secret-b").ParseToken(token)
	assert.Error(t, err)
}

func TestHandleToken(t *testing.T) {
	m := auth.NewManager("secret-key", "jwt-secret")

	req := httptest.NewRequest("POST", "/auth/token", strings.NewReader(`{"owner_id":"acme"}`))
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	m.HandleToken(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token"`)
	assert.Contains(t, rec.Body.String(), `"Bearer"`)
}

func TestHandleTokenWrongKey(t *testing.T) {
	m := auth.NewManager("secret-key", "jwt-secret")

	req := httptest.NewRequest("POST", "/auth/token", nil)
	req.Header.Set("X-API-Key", "nope")
	rec := httptest.NewRecorder()
	m.HandleToken(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
