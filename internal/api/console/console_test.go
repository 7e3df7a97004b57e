package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orion-pds/orion/internal/accounts"
	"github.com/orion-pds/orion/internal/audit"
	"github.com/orion-pds/orion/internal/auth"
	"github.com/orion-pds/orion/internal/config"
	"github.com/orion-pds/orion/internal/db/models"
	"github.com/orion-pds/orion/internal/db/repositories"
	"github.com/orion-pds/orion/internal/middleware"
	"github.com/orion-pds/orion/internal/pds"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const cookieName = "orion_session"

var operator = &models.User{ID: "user-1", Username: "alice", IsActive: true}

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeAuthn struct {
	password    string
	err         error
	changeErr   error
	changeCalls int
}

func (f *fakeAuthn) Authenticate(_ context.Context, username, password string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if username != operator.Username || password != f.password {
		return nil, auth.ErrInvalidCredentials
	}
	return operator, nil
}

func (f *fakeAuthn) ChangePassword(_ context.Context, _, oldPassword, newPassword string) error {
	f.changeCalls++
	if f.changeErr != nil {
		return f.changeErr
	}
	if oldPassword != f.password {
		return auth.ErrInvalidCredentials
	}
	f.password = newPassword
	return nil
}

type fakeTrail struct {
	mu      sync.Mutex
	records []*models.AuditLog
	err     error
	filters repositories.AuditFilters
}

func (f *fakeTrail) Append(_ context.Context, actorID string, event models.AuditEvent, description string) (*models.AuditLog, error) {
	if f.err != nil {
		return nil, fmt.Errorf("%w: %w", audit.ErrStorage, f.err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	desc := description
	log := &models.AuditLog{
		ID:          fmt.Sprintf("log-%d", len(f.records)+1),
		UserID:      actorID,
		Username:    operator.Username,
		Event:       event,
		Description: &desc,
		CreatedAt:   time.Now(),
	}
	f.records = append(f.records, log)
	return log, nil
}

func (f *fakeTrail) Query(_ context.Context, filters repositories.AuditFilters) ([]*models.AuditLog, error) {
	f.filters = filters
	if f.err != nil {
		return nil, fmt.Errorf("%w: %w", audit.ErrStorage, f.err)
	}
	out := make([]*models.AuditLog, 0, len(f.records))
	for i := len(f.records) - 1; i >= 0; i-- {
		out = append(out, f.records[i])
	}
	return out, nil
}

func (f *fakeTrail) events() []models.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var events []models.AuditEvent
	for _, r := range f.records {
		events = append(events, r.Event)
	}
	return events
}

type fakePDS struct {
	healthy  bool
	result   bool
	info     *pds.AccountInfo
	accounts []accounts.Account
	calls    []string
}

func (f *fakePDS) HealthCheck(context.Context) bool { return f.healthy }
func (f *fakePDS) ListAccounts(context.Context) []accounts.Account {
	return f.accounts
}
func (f *fakePDS) GetAccountInfo(context.Context, string) *pds.AccountInfo { return f.info }
func (f *fakePDS) Takedown(_ context.Context, did string) bool {
	f.calls = append(f.calls, "takedown "+did)
	return f.result
}
func (f *fakePDS) Untakedown(_ context.Context, did string) bool {
	f.calls = append(f.calls, "untakedown "+did)
	return f.result
}
func (f *fakePDS) DeleteAccount(_ context.Context, did string) bool {
	f.calls = append(f.calls, "delete "+did)
	return f.result
}

// ---------------------------------------------------------------------------
// harness
// ---------------------------------------------------------------------------

type harness struct {
	router   *gin.Engine
	sessions *auth.SessionManager
	authn    *fakeAuthn
	trail    *fakeTrail
	pds      *fakePDS
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sessions: auth.NewSessionManager([]byte("console-test-secret-32-characters"), time.Hour, auth.NewMemoryRevocationList()),
		authn:    &fakeAuthn{password: "correct-password"},
		trail:    &fakeTrail{},
		pds:      &fakePDS{healthy: true, result: true},
	}

	cfg := config.AuthConfig{CookieName: cookieName, SecureCookies: true}
	authHandlers := NewAuthHandlers(cfg, h.authn, h.sessions, h.trail)
	dispatcher := accounts.NewDispatcher(accounts.NewRegistry(h.pds), h.pds, h.trail)

	r := gin.New()
	optional := middleware.OptionalSessionMiddleware(h.sessions, cookieName)
	required := middleware.SessionMiddleware(h.sessions, cookieName)

	r.GET("/", optional, authHandlers.LoginPageHandler())
	r.POST("/", authHandlers.LoginHandler())
	r.GET("/logout/", optional, authHandlers.LogoutHandler())
	r.POST("/logout/", optional, authHandlers.LogoutHandler())

	g := r.Group("/", required)
	g.GET("/dashboard/", NewDashboardHandler(h.pds, h.pds).GetDashboard)
	g.Any("/accounts/:did/:action/", NewAccountHandlers(dispatcher).ActionHandler())
	g.GET("/audit-log/", NewAuditLogHandler(h.trail).ListAuditLogs)
	g.GET("/change-password/", authHandlers.ChangePasswordPageHandler())
	g.POST("/change-password/", authHandlers.ChangePasswordHandler())

	h.router = r
	return h
}

// token issues a session for operator.
func (h *harness) token(t *testing.T) string {
	t.Helper()
	token, _, err := h.sessions.Issue(operator)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func (h *harness) do(method, target, token string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	return nil
}

var errDB = errors.New("connection refused")
