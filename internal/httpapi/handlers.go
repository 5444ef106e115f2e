package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"etiasassist.app/internal/admin"
	"etiasassist.app/internal/analytics"
	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/application"
	"etiasassist.app/internal/auth"
	"etiasassist.app/internal/eligibility"
	"etiasassist.app/internal/obs"
	"etiasassist.app/internal/payment"
	"etiasassist.app/internal/stream"
)

const (
	serviceName = "etias-assist-api"

	// OfficialPortalURL is where applicants finish the real submission.
	OfficialPortalURL = "https://travel-europe.europa.eu/etias_en"

	maxBodyBytes = 1 << 20
)

// Pinger is satisfied by both stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks that the backing store answers.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Deps are the services the API routes to. All are required.
type Deps struct {
	Tokens       *auth.Tokens
	Users        *auth.Directory
	Eligibility  *eligibility.Checker
	Applications *application.Service
	Payments     *payment.Reconciler
	Admin        *admin.Service
	Tracker      analytics.Tracker
}

func (d Deps) validate() error {
	switch {
	case d.Tokens == nil:
		return errors.New("httpapi: tokens are required")
	case d.Users == nil:
		return errors.New("httpapi: user directory is required")
	case d.Eligibility == nil:
		return errors.New("httpapi: eligibility checker is required")
	case d.Applications == nil:
		return errors.New("httpapi: application service is required")
	case d.Payments == nil:
		return errors.New("httpapi: payment reconciler is required")
	case d.Admin == nil:
		return errors.New("httpapi: admin service is required")
	case d.Tracker == nil:
		return errors.New("httpapi: analytics tracker is required")
	}
	return nil
}

// API is the HTTP layer.
type API struct {
	router     *mux.Router
	readyProbe ReadyProbe
	deps       Deps

	version       string
	portalURL     string
	secureCookies bool
	origins       []string
	rateBurst     int
	ratePerSec    float64
	now           func() time.Time

	hub       *stream.Hub
	keepAlive time.Duration
}

// Option configures the API.
type Option func(*API)

func WithVersion(v string) Option {
	return func(a *API) {
		if v != "" {
			a.version = v
		}
	}
}

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst int, perSec float64) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSec
	}
}

// WithAllowedOrigins adds CORS origins beyond localhost.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.origins = append(a.origins, origins...) }
}

// WithSecureCookies marks the session cookie Secure.
func WithSecureCookies(on bool) Option {
	return func(a *API) { a.secureCookies = on }
}

func WithPortalURL(u string) Option {
	return func(a *API) {
		if u != "" {
			a.portalURL = u
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *API) {
		if now != nil {
			a.now = now
		}
	}
}

// WithStatusStream enables GET /v1/applications/events, fed by hub.
func WithStatusStream(hub *stream.Hub, keepAlive time.Duration) Option {
	return func(a *API) {
		a.hub = hub
		if keepAlive > 0 {
			a.keepAlive = keepAlive
		}
	}
}

func New(rp ReadyProbe, deps Deps, opts ...Option) (*API, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	a := &API{
		router:     mux.NewRouter(),
		readyProbe: rp,
		deps:       deps,
		version:    "dev",
		portalURL:  OfficialPortalURL,
		rateBurst:  60,
		ratePerSec: 20,
		now:        time.Now,
		keepAlive:  15 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/info", a.Info).Methods(http.MethodGet)

	v1.HandleFunc("/auth/login", a.login).Methods(http.MethodPost)
	v1.HandleFunc("/auth/logout", a.logout).Methods(http.MethodPost)
	v1.HandleFunc("/auth/me", a.me).Methods(http.MethodGet)

	v1.HandleFunc("/eligibility/check", a.checkEligibility).Methods(http.MethodPost)
	v1.HandleFunc("/eligibility/countries", a.countries).Methods(http.MethodGet)
	v1.HandleFunc("/analytics/events", a.trackEvent).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/stripe", a.stripeWebhook).Methods(http.MethodPost)

	apps := v1.PathPrefix("/applications").Subrouter()
	apps.Use(RequireRole(auth.RoleUser))
	apps.HandleFunc("", a.createApplication).Methods(http.MethodPost)
	apps.HandleFunc("", a.listApplications).Methods(http.MethodGet)
	apps.HandleFunc("/draft", a.draftApplication).Methods(http.MethodGet)
	if a.hub != nil {
		apps.HandleFunc("/events", a.statusEvents).Methods(http.MethodGet)
	}
	apps.HandleFunc("/{id}", a.getApplication).Methods(http.MethodGet)
	apps.HandleFunc("/{id}", a.updateApplication).Methods(http.MethodPatch)
	apps.HandleFunc("/{id}/redirect", a.redirectApplication).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/steps/{step:[0-9]+}/validation", a.validateStep).Methods(http.MethodGet)
	apps.HandleFunc("/{id}/checkout", a.createCheckout).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/payment", a.paymentStatus).Methods(http.MethodGet)

	adm := v1.PathPrefix("/admin").Subrouter()
	adm.Use(RequireRole(auth.RoleAdmin))
	adm.HandleFunc("/stats", a.adminStats).Methods(http.MethodGet)
	adm.HandleFunc("/applications", a.adminApplications).Methods(http.MethodGet)
	adm.HandleFunc("/users", a.adminUsers).Methods(http.MethodGet)
	adm.HandleFunc("/daily", a.adminDaily).Methods(http.MethodGet)
	adm.HandleFunc("/analytics", a.adminAnalytics).Methods(http.MethodGet)

	superOnly := RequireRole(auth.RoleSuperAdmin)
	adm.Handle("/users", superOnly(http.HandlerFunc(a.createUser))).Methods(http.MethodPost)
	adm.Handle("/users/{id}", superOnly(http.HandlerFunc(a.updateUser))).Methods(http.MethodPatch)
	adm.Handle("/users/{id}", superOnly(http.HandlerFunc(a.deleteUser))).Methods(http.MethodDelete)
}

// Handler returns the router wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = a.authenticate(h)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins...)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeDomainError maps error kinds to status codes. Unknown errors are
// logged and reported as 500 without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrExternalService):
		obs.Logger().Warn("external service failure",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusBadGateway, "payment provider unavailable")
	case errors.Is(err, apperr.ErrSignatureInvalid):
		writeError(w, r, http.StatusBadRequest, "invalid signature")
	default:
		obs.Logger().Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(name, raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New(name + " must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

type successResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
}
