package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etiasassist.app/internal/admin"
	"etiasassist.app/internal/analytics"
	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/application"
	"etiasassist.app/internal/auth"
	"etiasassist.app/internal/eligibility"
	"etiasassist.app/internal/ids"
	"etiasassist.app/internal/payment"
	"etiasassist.app/internal/store/memory"
	"etiasassist.app/internal/stream"
)

type fakeProvider struct {
	mu  sync.Mutex
	seq int
}

func (p *fakeProvider) CreateCheckout(_ context.Context, _ payment.CheckoutRequest) (payment.Checkout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("cs_test_%d", p.seq)
	return payment.Checkout{SessionID: id, URL: "https://checkout.test/" + id}, nil
}

func (p *fakeProvider) ParseEvent(payload []byte, signature string) (payment.Event, error) {
	if signature != "ok" {
		return payment.Event{}, fmt.Errorf("%w: bad signature", apperr.ErrSignatureInvalid)
	}
	var ev payment.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return payment.Event{}, err
	}
	return ev, nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *memory.Store
	hub     *stream.Hub
	tokens  *auth.Tokens
	users   *auth.Directory
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := memory.New()
	hub := stream.New()
	watchedApps := stream.WatchApplications(store, hub)
	tracker := analytics.NewRecorder(store)
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err, "tokens")
	users := auth.NewDirectory(store)
	apps, err := application.NewService(watchedApps, application.WithTracker(tracker))
	require.NoError(t, err, "application service")
	payments, err := payment.NewReconciler(stream.WatchPayments(store, hub), watchedApps, &fakeProvider{},
		payment.WithTracker(tracker), payment.WithBaseURL("https://etias.example"))
	require.NoError(t, err, "reconciler")
	adm, err := admin.NewService(store)
	require.NoError(t, err, "admin service")

	api, err := New(ReadyProbe{Store: store}, Deps{
		Tokens:       tokens,
		Users:        users,
		Eligibility:  eligibility.NewChecker(store, tracker),
		Applications: apps,
		Payments:     payments,
		Admin:        adm,
		Tracker:      tracker,
	}, WithVersion("test"), WithRateLimit(1000, 1000), WithStatusStream(hub, time.Second))
	require.NoError(t, err, "new api")

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
		hub:     hub,
		tokens:  tokens,
		users:   users,
	}
}

// userWithRole stores an account directly and returns a bearer token for it.
func (c *apiClient) userWithRole(role auth.Role) (auth.User, string) {
	c.t.Helper()
	now := time.Now().UTC()
	u := auth.User{
		ID:          ids.New(),
		Email:       strings.ToLower(ids.New()) + "@example.com",
		Name:        string(role) + " user",
		Role:        role,
		LoginMethod: auth.LoginMethodLocal,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(c.t, c.store.CreateUser(context.Background(), u), "create user")
	token, _, err := c.tokens.Issue(u)
	require.NoError(c.t, err, "issue token")
	return u, token
}

func (c *apiClient) do(method, path string, body any, token string, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(c.t, err, "marshal body")
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	require.NoError(c.t, err, "new request")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err, "do request")
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out), "decode body")
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.FailNowf(t, "unexpected status", "expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func TestHealthReadyInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/healthz", nil, "", nil)
	expectStatus(t, resp, http.StatusOK)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/readyz", nil, "", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/info", nil, "", nil)
	expectStatus(t, resp, http.StatusOK)
	info := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "test", info["version"])
	assert.Equal(t, serviceName, info["name"])
}

func TestUnknownRouteAndMethod(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/nope", nil, "", nil)
	expectStatus(t, resp, http.StatusNotFound)
	body := decodeBody[map[string]any](t, resp)
	assert.NotNil(t, body["error"])
	assert.NotNil(t, body["request_id"])

	resp = c.do(http.MethodDelete, "/v1/eligibility/check", nil, "", nil)
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	resp.Body.Close()
}

func TestLoginCookieAndMe(t *testing.T) {
	c := newTestAPI(t)
	_, err := c.users.SeedSuperAdmin(context.Background(), "root@example.com", "correct horse", "Root")
	require.NoError(t, err, "seed")

	resp := c.do(http.MethodGet, "/v1/auth/me", nil, "", nil)
	expectStatus(t, resp, http.StatusOK)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "null", strings.TrimSpace(string(raw)))

	resp = c.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "ROOT@example.com", "password": "correct horse"}, "", nil)
	expectStatus(t, resp, http.StatusOK)
	var cookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	require.NotEmpty(t, cookie.Value)
	login := decodeBody[loginResponse](t, resp)
	assert.Equal(t, cookie.Value, login.Token)
	assert.Equal(t, auth.RoleSuperAdmin, login.User.Role)

	req, _ := http.NewRequest(http.MethodGet, c.baseURL+"/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: cookie.Value})
	resp, err = c.client.Do(req)
	require.NoError(t, err, "me")
	expectStatus(t, resp, http.StatusOK)
	me := decodeBody[auth.User](t, resp)
	assert.Equal(t, "root@example.com", me.Email)
	assert.True(t, me.Immutable)

	resp = c.do(http.MethodPost, "/v1/auth/logout", nil, "", nil)
	expectStatus(t, resp, http.StatusOK)
	cleared := false
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie && ck.MaxAge < 0 {
			cleared = true
		}
	}
	resp.Body.Close()
	assert.True(t, cleared, "session cookie cleared")
}

func TestLoginFailureIsUnauthenticated(t *testing.T) {
	c := newTestAPI(t)
	_, err := c.users.SeedSuperAdmin(context.Background(), "root@example.com", "correct horse", "Root")
	require.NoError(t, err, "seed")
	for _, creds := range []map[string]string{
		{"email": "root@example.com", "password": "wrong password"},
		{"email": "ghost@example.com", "password": "correct horse"},
	} {
		resp := c.do(http.MethodPost, "/v1/auth/login", creds, "", nil)
		expectStatus(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	}
}

func TestEligibilityAnonymousWithSession(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/eligibility/check",
		map[string]any{"nationality": "Canada", "hasValidPassport": true, "travelPurpose": "tourism"},
		"", map[string]string{sessionIDHeader: "sess-1"})
	expectStatus(t, resp, http.StatusOK)
	decision := decodeBody[eligibility.Decision](t, resp)
	assert.True(t, decision.IsEligible)
	assert.False(t, decision.RequiresVisa)

	checks := c.store.Checks()
	require.Len(t, checks, 1)
	assert.Equal(t, "sess-1", checks[0].SessionID)
	assert.Empty(t, checks[0].UserID)

	resp = c.do(http.MethodPost, "/v1/eligibility/check",
		map[string]any{"nationality": "Canada", "hasValidPassport": true, "travelPurpose": "smuggling"}, "", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/eligibility/countries", nil, "", nil)
	expectStatus(t, resp, http.StatusOK)
	lists := decodeBody[map[string][]string](t, resp)
	assert.Len(t, lists["eligible"], 63)
	assert.Len(t, lists["purposes"], 6)
}

func TestApplicationsRequireAuthentication(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/v1/applications", nil, "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/applications", nil, "not-a-token", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestDeletedAccountLosesAccess(t *testing.T) {
	c := newTestAPI(t)
	u, token := c.userWithRole(auth.RoleUser)
	require.NoError(t, c.store.DeleteUser(context.Background(), u.ID), "delete")
	resp := c.do(http.MethodGet, "/v1/applications", nil, token, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestApplicationLifecycle(t *testing.T) {
	c := newTestAPI(t)
	_, token := c.userWithRole(auth.RoleUser)
	_, otherToken := c.userWithRole(auth.RoleUser)

	resp := c.do(http.MethodPost, "/v1/applications", map[string]string{"nationality": "Japan", "travelPurpose": "business"}, token, nil)
	expectStatus(t, resp, http.StatusCreated)
	created := decodeBody[map[string]string](t, resp)
	id := created["id"]
	require.NotEmpty(t, id)

	resp = c.do(http.MethodGet, "/v1/applications/draft", nil, token, nil)
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, id, decodeBody[application.Application](t, resp).ID)

	resp = c.do(http.MethodPatch, "/v1/applications/"+id, map[string]any{
		"firstName":      "Aiko",
		"currentStep":    3,
		"completedSteps": []int{1, 2},
	}, token, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodPatch, "/v1/applications/"+id, map[string]any{"currentStep": 9}, token, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/applications/"+id, nil, token, nil)
	expectStatus(t, resp, http.StatusOK)
	app := decodeBody[application.Application](t, resp)
	assert.Equal(t, 3, app.CurrentStep)
	require.NotNil(t, app.FirstName)
	assert.Equal(t, "Aiko", *app.FirstName)
	assert.True(t, app.CompletedSteps.Has(2))

	resp = c.do(http.MethodGet, "/v1/applications/"+id, nil, otherToken, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
	resp = c.do(http.MethodGet, "/v1/applications/"+ids.New(), nil, token, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/applications/"+id+"/steps/2/validation", nil, token, nil)
	expectStatus(t, resp, http.StatusOK)
	v := decodeBody[stepValidation](t, resp)
	assert.False(t, v.Valid)
	assert.Equal(t, "Personal Info", v.Title)
	assert.NotEmpty(t, v.Errors)

	resp = c.do(http.MethodGet, "/v1/applications", nil, token, nil)
	expectStatus(t, resp, http.StatusOK)
	assert.Len(t, decodeBody[[]application.Application](t, resp), 1)

	resp = c.do(http.MethodPost, "/v1/applications/"+id+"/redirect", nil, token, nil)
	expectStatus(t, resp, http.StatusOK)
	redirect := decodeBody[successResponse](t, resp)
	assert.True(t, redirect.Success)
	assert.Equal(t, OfficialPortalURL, redirect.URL)

	resp = c.do(http.MethodPatch, "/v1/applications/"+id, map[string]any{"status": "draft"}, token, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestCheckoutAndWebhookReconcile(t *testing.T) {
	c := newTestAPI(t)
	u, token := c.userWithRole(auth.RoleUser)

	resp := c.do(http.MethodPost, "/v1/applications", map[string]string{"nationality": "Canada"}, token, nil)
	expectStatus(t, resp, http.StatusCreated)
	id := decodeBody[map[string]string](t, resp)["id"]

	resp = c.do(http.MethodPost, "/v1/applications/"+id+"/checkout", nil, token, nil)
	expectStatus(t, resp, http.StatusOK)
	checkout := decodeBody[payment.Checkout](t, resp)
	require.NotEmpty(t, checkout.SessionID)
	require.NotEmpty(t, checkout.URL)
	require.NotEmpty(t, checkout.PaymentID)

	event, _ := json.Marshal(payment.Event{
		ID:        "evt_1",
		Type:      payment.EventCheckoutCompleted,
		SessionID: checkout.SessionID,
		IntentID:  "pi_1",
		Metadata:  payment.Correlation{UserID: u.ID, ApplicationID: id, PaymentID: checkout.PaymentID}.Metadata(),
	})

	resp = c.do(http.MethodPost, "/v1/webhooks/stripe", event, "", map[string]string{"Stripe-Signature": "bad"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	for i := 0; i < 2; i++ {
		resp = c.do(http.MethodPost, "/v1/webhooks/stripe", event, "", map[string]string{"Stripe-Signature": "ok"})
		expectStatus(t, resp, http.StatusOK)
		assert.True(t, decodeBody[payment.Ack](t, resp).Received)
	}

	resp = c.do(http.MethodGet, "/v1/applications/"+id+"/payment", nil, token, nil)
	expectStatus(t, resp, http.StatusOK)
	p := decodeBody[payment.Payment](t, resp)
	assert.Equal(t, payment.StatusSucceeded, p.Status)
	assert.Equal(t, "pi_1", p.PaymentIntentID)

	resp = c.do(http.MethodGet, "/v1/applications/"+id, nil, token, nil)
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, application.StatusReadyToSubmit, decodeBody[application.Application](t, resp).Status)

	resp = c.do(http.MethodPost, "/v1/applications/"+id+"/checkout", nil, token, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestStatusEventsStream(t *testing.T) {
	c := newTestAPI(t)
	u, token := c.userWithRole(auth.RoleUser)

	resp := c.do(http.MethodPost, "/v1/applications", map[string]string{"nationality": "Canada"}, token, nil)
	expectStatus(t, resp, http.StatusCreated)
	id := decodeBody[map[string]string](t, resp)["id"]

	resp = c.do(http.MethodGet, "/v1/applications/events", nil, "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/applications/events", nil)
	require.NoError(t, err, "new request")
	req.Header.Set("Authorization", "Bearer "+token)
	sse, err := c.client.Do(req)
	require.NoError(t, err, "open stream")
	defer sse.Body.Close()
	expectStatus(t, sse, http.StatusOK)
	assert.Equal(t, "text/event-stream", sse.Header.Get("Content-Type"))

	lines := bufio.NewReader(sse.Body)
	line, err := lines.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)
	require.Eventually(t, func() bool { return c.hub.Subscribers(u.ID) > 0 }, time.Second, 5*time.Millisecond)

	resp = c.do(http.MethodPost, "/v1/applications/"+id+"/checkout", nil, token, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	for {
		line, err := lines.ReadString('\n')
		require.NoError(t, err, "read stream")
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var evt stream.StatusEvent
		require.NoError(t, json.Unmarshal([]byte(data), &evt), "decode event")
		if evt.Kind == stream.KindApplication && evt.ApplicationID == id && evt.Status == string(application.StatusPaymentPending) {
			return
		}
	}
}

func TestRoleGate(t *testing.T) {
	c := newTestAPI(t)
	_, userToken := c.userWithRole(auth.RoleUser)
	_, adminToken := c.userWithRole(auth.RoleAdmin)
	superUser, err := c.users.SeedSuperAdmin(context.Background(), "root@example.com", "correct horse", "Root")
	require.NoError(t, err, "seed")
	superToken, _, err := c.tokens.Issue(superUser)
	require.NoError(t, err, "issue")

	resp := c.do(http.MethodGet, "/v1/admin/stats", nil, userToken, nil)
	expectStatus(t, resp, http.StatusForbidden)
	assert.Equal(t, "admin access required", decodeBody[map[string]string](t, resp)["error"])

	resp = c.do(http.MethodGet, "/v1/admin/stats", nil, adminToken, nil)
	expectStatus(t, resp, http.StatusOK)
	stats := decodeBody[admin.Stats](t, resp)
	assert.EqualValues(t, 3, stats.Users.Total)
	assert.Equal(t, "0.0", stats.Conversion.ApplicationToPayment)

	newUser := map[string]string{"email": "staff@example.com", "name": "Staff", "password": "longenough", "role": "admin"}
	resp = c.do(http.MethodPost, "/v1/admin/users", newUser, adminToken, nil)
	expectStatus(t, resp, http.StatusForbidden)
	assert.Equal(t, "super admin access required", decodeBody[map[string]string](t, resp)["error"])

	resp = c.do(http.MethodPost, "/v1/admin/users", newUser, superToken, nil)
	expectStatus(t, resp, http.StatusCreated)
	created := decodeBody[auth.User](t, resp)
	assert.Equal(t, auth.RoleAdmin, created.Role)

	resp = c.do(http.MethodPost, "/v1/admin/users", newUser, superToken, nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = c.do(http.MethodPatch, "/v1/admin/users/"+superUser.ID, map[string]string{"role": "user"}, superToken, nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/admin/users/"+superUser.ID, nil, superToken, nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/admin/users/"+created.ID, nil, superToken, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestAdminQueries(t *testing.T) {
	c := newTestAPI(t)
	_, adminToken := c.userWithRole(auth.RoleAdmin)

	resp := c.do(http.MethodPost, "/v1/analytics/events", map[string]any{"eventType": "page_view", "pageUrl": "/"}, "", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/admin/daily?days=7", nil, adminToken, nil)
	expectStatus(t, resp, http.StatusOK)
	series := decodeBody[[]admin.DayCount](t, resp)
	require.Len(t, series, 1)
	assert.EqualValues(t, 1, series[0].Count)

	resp = c.do(http.MethodGet, "/v1/admin/daily?days=400", nil, adminToken, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/admin/analytics?from=2000-01-01", nil, adminToken, nil)
	expectStatus(t, resp, http.StatusOK)
	ev := decodeBody[admin.EventStats](t, resp)
	assert.EqualValues(t, 1, ev.TotalEvents)
	assert.EqualValues(t, 1, ev.ByType["page_view"])

	resp = c.do(http.MethodGet, "/v1/admin/analytics?from=2026-02-01&to=2026-01-01", nil, adminToken, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/admin/users?limit=0", nil, adminToken, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/admin/users?limit=5", nil, adminToken, nil)
	expectStatus(t, resp, http.StatusOK)
	assert.Len(t, decodeBody[[]auth.User](t, resp), 1)
}

func TestTrackEventValidation(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/analytics/events", map[string]any{"eventType": ""}, "", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/analytics/events", map[string]any{"eventType": "x", "unknown": 1}, "", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(ReadyProbe{}, Deps{})
	assert.Error(t, err)
}
