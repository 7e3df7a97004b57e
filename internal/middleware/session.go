// session.go authenticates console operators from the signed session cookie
// issued at login.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/orion-pds/orion/internal/auth"
)

// Context keys set for authenticated requests.
const (
	UserIDKey   = "user_id"
	UsernameKey = "username"
	ClaimsKey   = "session_claims"
)

// SessionValidator validates a session token.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*auth.Claims, error)
}

// SessionMiddleware requires a valid session. Requests without one are
// redirected to the login page with the original location in ?next=.
func SessionMiddleware(sessions SessionValidator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, sessions, cookieName) {
			c.Redirect(http.StatusFound, LoginRedirect(c.Request.URL.RequestURI()))
			c.Abort()
			return
		}
		c.Next()
	}
}

// OptionalSessionMiddleware populates the user context when a valid session
// cookie is present but never rejects the request.
func OptionalSessionMiddleware(sessions SessionValidator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, sessions, cookieName)
		c.Next()
	}
}

func authenticate(c *gin.Context, sessions SessionValidator, cookieName string) bool {
	token, err := c.Cookie(cookieName)
	if err != nil || token == "" {
		return false
	}

	claims, err := sessions.Validate(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidSession) && !errors.Is(err, auth.ErrSessionRevoked) {
			slog.Error("session validation failed", "path", c.Request.URL.Path, "error", err)
		}
		return false
	}

	c.Set(UserIDKey, claims.UserID)
	c.Set(UsernameKey, claims.Username)
	c.Set(ClaimsKey, claims)
	return true
}

// LoginRedirect returns the login URL that sends the operator back to next
// after signing in.
func LoginRedirect(next string) string {
	if next == "" || next == "/" {
		return "/"
	}
	return "/?next=" + url.QueryEscape(next)
}

// SessionClaims returns the claims of the authenticated session, if any.
func SessionClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
