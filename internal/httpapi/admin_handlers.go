package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"etiasassist.app/internal/application"
	"etiasassist.app/internal/audit"
	"etiasassist.app/internal/auth"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (a *API) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.deps.Admin.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) adminApplications(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt("limit", r.URL.Query().Get("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	apps, err := a.deps.Admin.Applications(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if apps == nil {
		apps = []application.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (a *API) adminUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt("limit", r.URL.Query().Get("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	users, err := a.deps.Admin.Users(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) adminDaily(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = n
	}
	series, err := a.deps.Admin.DailySeries(r.Context(), days)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (a *API) adminAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseBound(q.Get("from"), false)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := parseBound(q.Get("to"), true)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	stats, err := a.deps.Admin.Analytics(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseBound accepts RFC 3339 or a plain date. A plain upper bound covers
// the whole day.
func parseBound(raw string, upper bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, errors.New("expected RFC 3339 timestamp or YYYY-MM-DD")
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var in auth.NewUser
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.deps.Users.Create(r.Context(), principal(r), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.create", map[string]any{
		"target_id": user.ID,
		"role":      string(user.Role),
	})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	var upd auth.UserUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	user, err := a.deps.Users.Update(r.Context(), principal(r), id, upd)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.update", map[string]any{
		"target_id": id,
		"role":      string(user.Role),
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.deps.Users.Delete(r.Context(), principal(r), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.delete", map[string]any{"target_id": id})
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
