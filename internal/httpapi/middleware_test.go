package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"etiasassist.app/internal/auth"
	"etiasassist.app/internal/obs"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitExceeded(t *testing.T) {
	handler := RequestID(RateLimit(okHandler(), 1, 1))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	assert.NotEmpty(t, rr2.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr2.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.NotNil(t, body["request_id"])

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	assert.Equal(t, http.StatusOK, rr3.Code, "separate bucket per client")
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rr.Header().Get(requestIDHeader))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc-123", seen)
}

func TestLoggingEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := obs.SetLogger(zap.New(core))
	defer restore()

	handler := RequestID(Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request_complete").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	for _, key := range []string{"request_id", "method", "path", "status", "duration_ms", "remote_ip"} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	handler := CORS(okHandler(), "https://etias.example")

	for origin, allowed := range map[string]bool{
		"https://etias.example": true,
		"http://localhost:3000": true,
		"https://evil.example":  false,
	} {
		req := httptest.NewRequest(http.MethodOptions, "/v1/applications", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusNoContent, rr.Code, "preflight")
		got := rr.Header().Get("Access-Control-Allow-Origin") == origin
		assert.Equal(t, allowed, got, origin)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		assert.NotEmpty(t, rr.Header().Get(h), h)
	}
}

func withPrincipal(req *http.Request, role auth.Role) *http.Request {
	return req.WithContext(auth.ContextWithPrincipal(req.Context(), auth.Principal{UserID: "user-1", Role: role}))
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name     string
		required auth.Role
		role     auth.Role
		want     int
		msg      string
	}{
		{"anonymous", auth.RoleUser, "", http.StatusUnauthorized, "authentication required"},
		{"user on user route", auth.RoleUser, auth.RoleUser, http.StatusOK, ""},
		{"user on admin route", auth.RoleAdmin, auth.RoleUser, http.StatusForbidden, "admin access required"},
		{"admin on admin route", auth.RoleAdmin, auth.RoleAdmin, http.StatusOK, ""},
		{"super admin on admin route", auth.RoleAdmin, auth.RoleSuperAdmin, http.StatusOK, ""},
		{"admin on super admin route", auth.RoleSuperAdmin, auth.RoleAdmin, http.StatusForbidden, "super admin access required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/internal", nil)
			if tc.role != "" {
				req = withPrincipal(req, tc.role)
			}
			rr := httptest.NewRecorder()
			RequireRole(tc.required)(okHandler()).ServeHTTP(rr, req)
			require.Equal(t, tc.want, rr.Code)
			if tc.msg == "" {
				return
			}
			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.msg, body["error"])
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := extractBearerToken("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	for _, h := range []string{"", "Basic abc", "Bearer   "} {
		_, err := extractBearerToken(h)
		assert.Errorf(t, err, "header %q", h)
	}
}
