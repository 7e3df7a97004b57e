package console

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-pds/orion/internal/auth"
	"github.com/orion-pds/orion/internal/db/models"
	"github.com/orion-pds/orion/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLoginPage(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/?next=/audit-log/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"Sign In"`)

	w = h.do(http.MethodGet, "/", h.token(t), nil)
	assert.Equal(t, http.StatusFound, w.Code, "authenticated operators skip the login page")
	assert.Equal(t, "/dashboard/", w.Header().Get("Location"))
}

func TestLogin_Success(t *testing.T) {
	h := newHarness(t)
	success := prometheus.Labels{"result": "success"}
	before := telemetry.CounterValue(telemetry.LoginAttemptsTotal, success)

	w := h.do(http.MethodPost, "/", "", url.Values{"username": {"alice"}, "password": {"correct-password"}})

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard/", w.Header().Get("Location"))

	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, 3600, cookie.MaxAge)

	claims, err := h.sessions.Validate(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)

	require.Len(t, h.trail.records, 1)
	assert.Equal(t, models.AuditEventLogin, h.trail.records[0].Event)
	assert.Equal(t, "User logged in successfully", *h.trail.records[0].Description)
	assert.Equal(t, "user-1", h.trail.records[0].UserID)
	assert.Equal(t, 1.0, telemetry.CounterValue(telemetry.LoginAttemptsTotal, success)-before)
}

func TestLogin_RedirectsToNext(t *testing.T) {
	tests := []struct {
		next string
		want string
	}{
		{"/audit-log/", "/audit-log/"},
		{"/accounts/did:plc:abc/takedown/", "/accounts/did:plc:abc/takedown/"},
		{"https://evil.example/", "/dashboard/"},
		{"//evil.example/", "/dashboard/"},
		{"/\\evil.example", "/dashboard/"},
		{"/", "/dashboard/"},
	}
	for _, tt := range tests {
		t.Run(tt.next, func(t *testing.T) {
			h := newHarness(t)
			w := h.do(http.MethodPost, "/", "", url.Values{
				"username": {"alice"}, "password": {"correct-password"}, "next": {tt.next},
			})
			require.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Location"))
		})
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	for name, form := range map[string]url.Values{
		"wrong password": {"username": {"alice"}, "password": {"nope"}},
		"unknown user":   {"username": {"mallory"}, "password": {"correct-password"}},
		"empty form":     {},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			w := h.do(http.MethodPost, "/", "", form)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Nil(t, sessionCookie(w))
			assert.Empty(t, h.trail.records, "failed logins are not audited")
		})
	}
}

func TestLogin_AuthenticatorError(t *testing.T) {
	h := newHarness(t)
	h.authn.err = errDB

	w := h.do(http.MethodPost, "/", "", url.Values{"username": {"alice"}, "password": {"correct-password"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Nil(t, sessionCookie(w))
}

func TestLogin_AuditFailureDeniesSession(t *testing.T) {
	h := newHarness(t)
	h.trail.err = errDB

	w := h.do(http.MethodPost, "/", "", url.Values{"username": {"alice"}, "password": {"correct-password"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Nil(t, sessionCookie(w))
}

// ---------------------------------------------------------------------------
// Logout
// ---------------------------------------------------------------------------

func TestLogout_Authenticated(t *testing.T) {
	h := newHarness(t)
	token := h.token(t)

	w := h.do(http.MethodPost, "/logout/", token, nil)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)

	require.Len(t, h.trail.records, 1)
	assert.Equal(t, models.AuditEventLogout, h.trail.records[0].Event)
	assert.Equal(t, "User logged out", *h.trail.records[0].Description)

	_, err := h.sessions.Validate(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrSessionRevoked)

	w = h.do(http.MethodGet, "/dashboard/", token, nil)
	assert.Equal(t, http.StatusFound, w.Code, "revoked session must not reach the dashboard")
}

func TestLogout_Anonymous(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/logout/", "", nil)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.Empty(t, h.trail.records)
}

// ---------------------------------------------------------------------------
// Change password
// ---------------------------------------------------------------------------

func TestChangePassword(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		changeErr  error
		wantStatus int
		wantAudit  bool
	}{
		{
			name:       "success",
			form:       url.Values{"old_password": {"correct-password"}, "new_password1": {"brand-new-pw"}, "new_password2": {"brand-new-pw"}},
			wantStatus: http.StatusFound,
			wantAudit:  true,
		},
		{
			name:       "mismatch",
			form:       url.Values{"old_password": {"correct-password"}, "new_password1": {"brand-new-pw"}, "new_password2": {"other"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong old password",
			form:       url.Values{"old_password": {"guess"}, "new_password1": {"brand-new-pw"}, "new_password2": {"brand-new-pw"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "weak password",
			form:       url.Values{"old_password": {"correct-password"}, "new_password1": {"123"}, "new_password2": {"123"}},
			changeErr:  auth.ErrWeakPassword,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "store error",
			form:       url.Values{"old_password": {"correct-password"}, "new_password1": {"brand-new-pw"}, "new_password2": {"brand-new-pw"}},
			changeErr:  errDB,
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.authn.changeErr = tt.changeErr

			w := h.do(http.MethodPost, "/change-password/", h.token(t), tt.form)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantAudit {
				assert.Equal(t, "/dashboard/", w.Header().Get("Location"))
				assert.Equal(t, []models.AuditEvent{models.AuditEventPasswordChange}, h.trail.events())
			} else {
				assert.Empty(t, h.trail.records)
			}
		})
	}
}

func TestChangePassword_RequiresSession(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/change-password/", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/?next=%2Fchange-password%2F", w.Header().Get("Location"))

	w = h.do(http.MethodGet, "/change-password/", h.token(t), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"alice"`)
}

func TestSafeNext(t *testing.T) {
	assert.Equal(t, "/dashboard/", safeNext(""))
	assert.Equal(t, "/audit-log/?event=LOGIN", safeNext("/audit-log/?event=LOGIN"))
	assert.Equal(t, "/dashboard/", safeNext("javascript:alert(1)"))
}
