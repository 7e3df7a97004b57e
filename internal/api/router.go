// Package api wires together all HTTP routes of the console.
//
// Route grouping:
//   - /health/, /ready/ and the login page are public.
//   - /logout/ reads the session when present but never requires one.
//   - Everything else requires an operator session; anonymous requests are
//     redirected to the login page with ?next= preserving the original path.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/orion-pds/orion/internal/api/console"
	"github.com/orion-pds/orion/internal/config"
	"github.com/orion-pds/orion/internal/middleware"
)

// SessionManager issues, validates and revokes operator sessions.
type SessionManager interface {
	console.Sessions
	middleware.SessionValidator
}

// AuditTrail appends and reads audit records.
type AuditTrail interface {
	console.AuditAppender
	console.AuditQuerier
}

// Dependencies are the domain services the routes are bound to.
type Dependencies struct {
	DB            *sql.DB
	Redis         redis.UniversalClient // nil when Redis is disabled
	Authenticator console.Authenticator
	Sessions      SessionManager
	Audit         AuditTrail
	PDS           console.HealthChecker
	Accounts      console.AccountLister
	Dispatcher    console.ActionDispatcher
}

// BackgroundServices holds resources that must be stopped during graceful
// shutdown. The caller (cmd/server) calls Shutdown after the HTTP server has
// drained in-flight requests.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.DefaultSecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	// Rate limiters: Redis-backed when available so limits hold across replicas.
	var general, login middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		generalCfg := middleware.RateLimitConfigFrom(cfg.Security.RateLimiting)
		loginCfg := middleware.LoginRateLimitConfig(cfg.Security.RateLimiting)
		if deps.Redis != nil {
			general = middleware.NewRedisRateLimiter(deps.Redis, "orion:ratelimit:general:", generalCfg)
			login = middleware.NewRedisRateLimiter(deps.Redis, "orion:ratelimit:login:", loginCfg)
		} else {
			generalLimiter := middleware.NewRateLimiter(generalCfg)
			loginLimiter := middleware.NewRateLimiter(loginCfg)
			bg.rateLimiters = append(bg.rateLimiters, generalLimiter, loginLimiter)
			general, login = generalLimiter, loginLimiter
		}
		router.Use(middleware.RateLimitMiddleware(general))
	}

	cookieName := cfg.Auth.CookieName
	requireSession := middleware.SessionMiddleware(deps.Sessions, cookieName)
	optionalSession := middleware.OptionalSessionMiddleware(deps.Sessions, cookieName)

	authHandlers := console.NewAuthHandlers(cfg.Auth, deps.Authenticator, deps.Sessions, deps.Audit)
	dashboardHandler := console.NewDashboardHandler(deps.PDS, deps.Accounts)
	accountHandlers := console.NewAccountHandlers(deps.Dispatcher)
	auditLogHandler := console.NewAuditLogHandler(deps.Audit)

	// Public
	router.GET("/health/", healthCheckHandler())
	router.GET("/ready/", readinessHandler(deps.DB))

	loginGroup := router.Group("/")
	loginGroup.Use(optionalSession)
	if login != nil {
		loginGroup.Use(middleware.LoginRateLimitMiddleware(login))
	}
	{
		loginGroup.GET("/", authHandlers.LoginPageHandler())
		loginGroup.POST("/", authHandlers.LoginHandler())
	}
	router.GET("/logout/", optionalSession, authHandlers.LogoutHandler())
	router.POST("/logout/", optionalSession, authHandlers.LogoutHandler())

	// Operator session required
	authenticated := router.Group("/")
	authenticated.Use(requireSession)
	{
		authenticated.GET("/dashboard/", dashboardHandler.GetDashboard)
		authenticated.Any("/accounts/:did/:action/", accountHandlers.ActionHandler())
		authenticated.GET("/audit-log/", auditLogHandler.ListAuditLogs)
		authenticated.GET("/change-password/", authHandlers.ChangePasswordPageHandler())
		authenticated.POST("/change-password/", authHandlers.ChangePasswordHandler())
	}

	return router, bg
}

// healthCheckHandler answers liveness probes.
// GET /health/
func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	}
}

// readinessHandler reports whether the console can serve operators. Unlike
// /health/ it checks the database, which holds users and the audit trail.
// GET /ready/
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": "database not configured"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": gin.H{"database": "unhealthy"},
				"error":  "database not ready",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": gin.H{"database": "healthy"},
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// LoggerMiddleware logs one structured record per request. The slog handler
// (JSON or text) is chosen by telemetry.SetupLogger; cfg selects the level
// used for successful requests.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		case c.Request.URL.Path == "/health/" && cfg.Logging.Level != "debug":
			return
		}

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_id", c.GetString(middleware.UserIDKey)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
