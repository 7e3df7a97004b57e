// Package console implements the HTTP handlers of the operator console: login
// and logout, the accounts dashboard, moderation actions and the audit log.
//
// Handlers respond with JSON view models; rendering is left to whatever sits in
// front of the console. Every security-relevant event is written to the audit
// trail before the response is sent.
package console

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orion-pds/orion/internal/auth"
	"github.com/orion-pds/orion/internal/config"
	"github.com/orion-pds/orion/internal/db/models"
	"github.com/orion-pds/orion/internal/middleware"
	"github.com/orion-pds/orion/internal/telemetry"
)

const (
	dashboardPath = "/dashboard/"
	loginPath     = "/"

	invalidLoginMessage = "Please enter a correct username and password."
)

// Authenticator verifies operator credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
}

// Sessions issues and revokes session tokens.
type Sessions interface {
	Issue(user *models.User) (string, *auth.Claims, error)
	Revoke(ctx context.Context, claims *auth.Claims) error
	TTL() time.Duration
}

// AuditAppender records security-relevant events.
type AuditAppender interface {
	Append(ctx context.Context, actorID string, event models.AuditEvent, description string) (*models.AuditLog, error)
}

// AuthHandlers handles login, logout and password changes.
type AuthHandlers struct {
	cfg      config.AuthConfig
	authn    Authenticator
	sessions Sessions
	audit    AuditAppender
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(cfg config.AuthConfig, authn Authenticator, sessions Sessions, audit AuditAppender) *AuthHandlers {
	if cfg.CookieName == "" {
		cfg.CookieName = "orion_session"
	}
	return &AuthHandlers{cfg: cfg, authn: authn, sessions: sessions, audit: audit}
}

// LoginPageHandler returns the login page model.
// GET /
func (h *AuthHandlers) LoginPageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := middleware.SessionClaims(c); ok {
			c.Redirect(http.StatusFound, safeNext(c.Query("next")))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"title": "Sign In",
			"next":  c.Query("next"),
		})
	}
}

// LoginHandler verifies the submitted form, starts a session and records LOGIN.
// POST /
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := strings.TrimSpace(c.PostForm("username"))
		password := c.PostForm("password")
		next := c.PostForm("next")
		if next == "" {
			next = c.Query("next")
		}

		if username == "" || password == "" {
			telemetry.LoginAttemptsTotal.WithLabelValues("failure").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"title": "Sign In", "error": invalidLoginMessage, "next": next})
			return
		}

		user, err := h.authn.Authenticate(c.Request.Context(), username, password)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			telemetry.LoginAttemptsTotal.WithLabelValues("failure").Inc()
			slog.Info("login failed", "username", username, "ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"title": "Sign In", "error": invalidLoginMessage, "next": next})
			return
		}
		if err != nil {
			slog.Error("login failed", "username", username, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login is temporarily unavailable"})
			return
		}

		token, _, err := h.sessions.Issue(user)
		if err != nil {
			slog.Error("failed to issue session", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
			return
		}

		if _, err := h.audit.Append(c.Request.Context(), user.ID, models.AuditEventLogin, "User logged in successfully"); err != nil {
			slog.Error("failed to record login", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record login"})
			return
		}
		telemetry.LoginAttemptsTotal.WithLabelValues("success").Inc()

		h.setSessionCookie(c, token, int(h.sessions.TTL().Seconds()))
		c.Redirect(http.StatusFound, safeNext(next))
	}
}

// LogoutHandler records LOGOUT for an authenticated operator, revokes the
// session and clears the cookie. Anonymous requests are simply redirected.
// GET|POST /logout/
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := middleware.SessionClaims(c); ok {
			if _, err := h.audit.Append(c.Request.Context(), claims.UserID, models.AuditEventLogout, "User logged out"); err != nil {
				slog.Error("failed to record logout", "user_id", claims.UserID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record logout"})
				return
			}
			if err := h.sessions.Revoke(c.Request.Context(), claims); err != nil {
				slog.Warn("failed to revoke session", "user_id", claims.UserID, "error", err)
			}
		}

		h.setSessionCookie(c, "", -1)
		c.Redirect(http.StatusFound, loginPath)
	}
}

// ChangePasswordPageHandler returns the change-password form model.
// GET /change-password/
func (h *AuthHandlers) ChangePasswordPageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"title":    "Change Password",
			"username": c.GetString(middleware.UsernameKey),
		})
	}
}

// ChangePasswordHandler verifies the old password, stores the new one and
// records PASSWORD_CHANGE.
// POST /change-password/
func (h *AuthHandlers) ChangePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		oldPassword := c.PostForm("old_password")
		newPassword := c.PostForm("new_password1")

		if newPassword != c.PostForm("new_password2") {
			c.JSON(http.StatusBadRequest, gin.H{"title": "Change Password", "error": "The two password fields didn't match."})
			return
		}

		err := h.authn.ChangePassword(c.Request.Context(), userID, oldPassword, newPassword)
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"title": "Change Password", "error": "Your old password was entered incorrectly."})
			return
		case errors.Is(err, auth.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"title": "Change Password", "error": err.Error()})
			return
		case err != nil:
			slog.Error("failed to change password", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to change password"})
			return
		}

		if _, err := h.audit.Append(c.Request.Context(), userID, models.AuditEventPasswordChange, "User changed their password"); err != nil {
			slog.Error("failed to record password change", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record password change"})
			return
		}

		c.Redirect(http.StatusFound, dashboardPath)
	}
}

func (h *AuthHandlers) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.CookieName, value, maxAge, "/", "", h.cfg.SecureCookies, true)
}

// safeNext returns next if it is a local path, else the dashboard.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") ||
		strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return dashboardPath
	}
	if next == loginPath {
		return dashboardPath
	}
	return next
}
