// Package auth guards the API: a static API key checked on every request,
// exchangeable for a short-lived HS256 JWT so clients do not have to ship
// the raw key with every call.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ignite/email-verifier/internal/pkg/httputil"
)

// TokenTTL is the lifetime of an issued JWT.
const TokenTTL = 60 * time.Minute

// DefaultOwner is the job owner recorded when a client authenticates with
// the raw API key and names no owner.
const DefaultOwner = "default"

type contextKey string

const ownerKey contextKey = "owner"

// Manager validates API keys and issues JWTs.
type Manager struct {
	apiKey    string
	jwtSecret []byte
	now       func() time.Time
}

// NewManager creates a Manager. An empty apiKey disables authentication
// entirely (local development).
func NewManager(apiKey, jwtSecret string) *Manager {
	return &Manager{
		apiKey:    apiKey,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

// Enabled reports whether requests must authenticate.
func (m *Manager) Enabled() bool { return m.apiKey != "" }

// Middleware authenticates requests by X-API-Key header or bearer JWT.
// A missing credential is 401, a wrong one 403.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), DefaultOwner)))
			return
		}

		if key := r.Header.Get("X-API-Key"); key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(m.apiKey)) != 1 {
				httputil.Forbidden(w, "invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), DefaultOwner)))
			return
		}

		if bearer := bearerToken(r); bearer != "" {
			owner, err := m.ParseToken(bearer)
			if err != nil {
				httputil.Forbidden(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
			return
		}

		httputil.Unauthorized(w, "missing credentials")
	})
}

// HandleToken exchanges a valid API key for a JWT.
//
//	POST /auth/token {"owner_id": "..."} (owner optional)
func (m *Manager) HandleToken(w http.ResponseWriter, r *http.Request) {
	if !m.Enabled() {
		httputil.Error(w, http.StatusServiceUnavailable, "authentication not configured")
		return
	}
	key := r.Header.Get("X-API-Key")
	if key == "" {
		httputil.Unauthorized(w, "missing credentials")
		return
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(m.apiKey)) != 1 {
		httputil.Forbidden(w, "invalid API key")
		return
	}

	owner := DefaultOwner
	var body struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.OwnerID != "" {
		owner = body.OwnerID
	}

	token, expires, err := m.IssueToken(owner)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	httputil.OK(w, map[string]interface{}{
		"token":      token,
		"token_type": "Bearer",
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

// IssueToken signs a JWT for the owner.
func (m *Manager) IssueToken(owner string) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(TokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   owner,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expires, nil
}

// ParseToken validates a JWT and returns its owner.
func (m *Manager) ParseToken(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token without subject")
	}
	return claims.Subject, nil
}

// WithOwner stores the authenticated owner on a context.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFrom returns the authenticated owner, or DefaultOwner.
func OwnerFrom(ctx context.Context) string {
	if owner, ok := ctx.Value(ownerKey).(string); ok && owner != "" {
		return owner
	}
	return DefaultOwner
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
