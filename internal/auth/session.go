// session.go issues and verifies signed session tokens (HS256 JWTs) carried in
// the console's session cookie. Tokens carry a unique ID so logout can revoke
// them before they expire.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/orion-pds/orion/internal/db/models"
)

// SessionSecretEnv names the environment variable holding the signing secret.
const SessionSecretEnv = "ORION_SESSION_SECRET"

const issuer = "orion"

var (
	// ErrInvalidSession is returned for malformed, expired or badly signed tokens.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionRevoked is returned for tokens revoked by logout.
	ErrSessionRevoked = errors.New("session revoked")
)

// Claims represents the session token claims
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// isDevMode checks if we're running in development mode
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

// ResolveSessionSecret reads the signing secret from ORION_SESSION_SECRET.
// In dev mode a random secret is generated instead, so sessions do not survive
// restarts; outside dev mode a missing secret is an error.
func ResolveSessionSecret() ([]byte, error) {
	secret := os.Getenv(SessionSecretEnv)
	if secret == "" {
		if !isDevMode() {
			return nil, fmt.Errorf("%s is required; generate one with: openssl rand -hex 32", SessionSecretEnv)
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		slog.Warn("session secret not set, using a random secret for development", "env", SessionSecretEnv)
		return []byte(hex.EncodeToString(buf)), nil
	}
	if len(secret) < 32 {
		slog.Warn("session secret is shorter than the recommended 32 characters", "env", SessionSecretEnv)
	}
	return []byte(secret), nil
}

// SessionManager issues, validates and revokes session tokens.
type SessionManager struct {
	secret      []byte
	ttl         time.Duration
	revocations RevocationList
	now         func() time.Time
}

// NewSessionManager creates a SessionManager
func NewSessionManager(secret []byte, ttl time.Duration, revocations RevocationList) *SessionManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionManager{
		secret:      secret,
		ttl:         ttl,
		revocations: revocations,
		now:         time.Now,
	}
}

// TTL returns the lifetime of issued tokens.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue creates a signed token for user.
func (m *SessionManager) Issue(user *models.User) (string, *Claims, error) {
	now := m.now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session: %w", err)
	}
	return token, claims, nil
}

// Validate parses token and rejects it if expired, badly signed or revoked.
func (m *SessionManager) Validate(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	if m.revocations != nil {
		revoked, err := m.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check session revocation: %w", err)
		}
		if revoked {
			return nil, ErrSessionRevoked
		}
	}
	return claims, nil
}

// Revoke invalidates claims until they would have expired anyway.
func (m *SessionManager) Revoke(ctx context.Context, claims *Claims) error {
	if m.revocations == nil || claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	return m.revocations.Revoke(ctx, claims.ID, ttl)
}
