package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func serveWithHeaders(config SecurityHeadersConfig) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(SecurityHeadersMiddleware(config))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestDefaultSecurityHeadersConfig(t *testing.T) {
	plain := DefaultSecurityHeadersConfig(false)
	if plain.EnableHSTS {
		t.Error("EnableHSTS = true without TLS")
	}
	if plain.FrameOptionsValue != "DENY" {
		t.Errorf("FrameOptionsValue = %q, want DENY", plain.FrameOptionsValue)
	}
	if !DefaultSecurityHeadersConfig(true).EnableHSTS {
		t.Error("EnableHSTS = false with TLS")
	}
}

func TestSecurityHeadersMiddleware_HSTS(t *testing.T) {
	tests := []struct {
		name   string
		config SecurityHeadersConfig
		want   string
	}{
		{"disabled", SecurityHeadersConfig{}, ""},
		{"max-age only", SecurityHeadersConfig{EnableHSTS: true, HSTSMaxAge: 600}, "max-age=600"},
		{"with subdomains", SecurityHeadersConfig{EnableHSTS: true, HSTSMaxAge: 31536000, HSTSIncludeSubdomains: true}, "max-age=31536000; includeSubDomains"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveWithHeaders(tt.config)
			if got := w.Header().Get("Strict-Transport-Security"); got != tt.want {
				t.Errorf("Strict-Transport-Security = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecurityHeadersMiddleware_OptionalHeaders(t *testing.T) {
	w := serveWithHeaders(SecurityHeadersConfig{})
	for _, h := range []string{"X-Frame-Options", "Content-Security-Policy", "Referrer-Policy"} {
		if got := w.Header().Get(h); got != "" {
			t.Errorf("%s = %q, want unset", h, got)
		}
	}
}

func TestSecurityHeadersMiddleware_DefaultConfig(t *testing.T) {
	w := serveWithHeaders(DefaultSecurityHeadersConfig(true))

	want := map[string]string{
		"X-Frame-Options":              "DENY",
		"X-Content-Type-Options":       "nosniff",
		"Referrer-Policy":              "same-origin",
		"Cross-Origin-Opener-Policy":   "same-origin",
		"Cross-Origin-Resource-Policy": "same-origin",
		"Cache-Control":                "no-store",
	}
	for h, v := range want {
		if got := w.Header().Get(h); got != v {
			t.Errorf("%s = %q, want %q", h, got, v)
		}
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "frame-ancestors 'none'") {
		t.Errorf("Content-Security-Policy = %q, want frame-ancestors 'none'", csp)
	}
	if hsts := w.Header().Get("Strict-Transport-Security"); !strings.HasPrefix(hsts, "max-age=31536000") {
		t.Errorf("Strict-Transport-Security = %q", hsts)
	}
}
