package api

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/orion-pds/orion/internal/accounts"
	"github.com/orion-pds/orion/internal/auth"
	"github.com/orion-pds/orion/internal/config"
	"github.com/orion-pds/orion/internal/db/models"
	"github.com/orion-pds/orion/internal/db/repositories"
	"github.com/orion-pds/orion/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// minimal dependencies
// ---------------------------------------------------------------------------

type stubAuthn struct{}

func (stubAuthn) Authenticate(_ context.Context, username, password string) (*models.User, error) {
	return nil, auth.ErrInvalidCredentials
}
func (stubAuthn) ChangePassword(context.Context, string, string, string) error { return nil }

type stubTrail struct{ appended int }

func (s *stubTrail) Append(_ context.Context, actorID string, event models.AuditEvent, _ string) (*models.AuditLog, error) {
	s.appended++
	return &models.AuditLog{UserID: actorID, Event: event}, nil
}
func (s *stubTrail) Query(context.Context, repositories.AuditFilters) ([]*models.AuditLog, error) {
	return nil, nil
}

type stubPDS struct{}

func (stubPDS) HealthCheck(context.Context) bool                { return true }
func (stubPDS) ListAccounts(context.Context) []accounts.Account { return nil }
func (stubPDS) Confirm(context.Context, string, string) (*accounts.Confirmation, error) {
	return &accounts.Confirmation{}, nil
}
func (stubPDS) Execute(context.Context, string, string, string) (*accounts.Outcome, error) {
	return &accounts.Outcome{Succeeded: true}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.CookieName = "orion_session"
	cfg.Security.RateLimiting = config.RateLimitingConfig{
		Enabled:                true,
		RequestsPerMinute:      600,
		Burst:                  100,
		LoginRequestsPerMinute: 2,
	}
	return cfg
}

func newTestRouter(t *testing.T, db *sql.DB) (*gin.Engine, *auth.SessionManager) {
	t.Helper()
	sessions := auth.NewSessionManager([]byte("router-test-secret-32-characters!"), time.Hour, auth.NewMemoryRevocationList())
	router, bg := NewRouter(testConfig(), Dependencies{
		DB:            db,
		Authenticator: stubAuthn{},
		Sessions:      sessions,
		Audit:         &stubTrail{},
		PDS:           stubPDS{},
		Accounts:      stubPDS{},
		Dispatcher:    stubPDS{},
	})
	t.Cleanup(bg.Shutdown)
	return router, sessions
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// health / readiness
// ---------------------------------------------------------------------------

func TestHealthCheck(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health/", nil))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("GET /health/ = %d %q, want 200 OK", w.Code, w.Body.String())
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("X-Request-ID missing")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name   string
		pingOK bool
		want   int
	}{
		{"database up", true, http.StatusOK},
		{"database down", false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			if err != nil {
				t.Fatalf("sqlmock.New: %v", err)
			}
			defer db.Close()
			if tt.pingOK {
				mock.ExpectPing()
			} else {
				mock.ExpectPing().WillReturnError(sql.ErrConnDone)
			}

			r, _ := newTestRouter(t, db)
			w := serve(r, httptest.NewRequest(http.MethodGet, "/ready/", nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestReadiness_NoDatabase(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/ready/", nil)); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ---------------------------------------------------------------------------
// route protection
// ---------------------------------------------------------------------------

func TestProtectedRoutesRedirectToLogin(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/dashboard/"},
		{http.MethodGet, "/audit-log/"},
		{http.MethodGet, "/change-password/"},
		{http.MethodPost, "/change-password/"},
		{http.MethodGet, "/accounts/did:plc:abc/takedown/"},
		{http.MethodPost, "/accounts/did:plc:abc/delete/"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(r, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", w.Code)
			}
			want := "/?next=" + url.QueryEscape(tt.path)
			if got := w.Header().Get("Location"); got != want {
				t.Errorf("Location = %q, want %q", got, want)
			}
		})
	}
}

func TestProtectedRoutesWithSession(t *testing.T) {
	r, sessions := newTestRouter(t, nil)
	token, _, err := sessions.Issue(&models.User{ID: "user-1", Username: "alice"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for _, path := range []string{"/dashboard/", "/audit-log/", "/change-password/", "/accounts/did:plc:abc/takedown/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.AddCookie(&http.Cookie{Name: "orion_session", Value: token})
		if w := serve(r, req); w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, w.Code)
		}
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("username=alice&password=nope"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = "203.0.113.7:5000"
		return serve(r, req).Code
	}

	// Burst for 2 logins/minute is 2.
	for i := 0; i < 2; i++ {
		if code := post(); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, code)
		}
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Errorf("attempt 3 status = %d, want 429", code)
	}
}

func TestLogoutWithoutSession(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	w := serve(r, httptest.NewRequest(http.MethodGet, "/logout/", nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Errorf("GET /logout/ = %d -> %q, want 302 -> /", w.Code, w.Header().Get("Location"))
	}
}
