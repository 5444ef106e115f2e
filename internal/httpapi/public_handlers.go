package httpapi

import (
	"io"
	"net/http"
	"strings"

	"etiasassist.app/internal/analytics"
	"etiasassist.app/internal/eligibility"
)

const sessionIDHeader = "X-Session-ID"

func (a *API) checkEligibility(w http.ResponseWriter, r *http.Request) {
	var req eligibility.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = principal(r).UserID
	req.SessionID = strings.TrimSpace(r.Header.Get(sessionIDHeader))

	decision, err := a.deps.Eligibility.Check(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) countries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"eligible": eligibility.EligibleNationalities(),
		"schengen": eligibility.SchengenCountries(),
		"purposes": eligibility.Purposes(),
	})
}

type trackRequest struct {
	EventType string         `json:"eventType"`
	EventData map[string]any `json:"eventData,omitempty"`
	PageURL   string         `json:"pageUrl,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
}

func (a *API) trackEvent(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.Header.Get(sessionIDHeader))
	}
	err := a.deps.Tracker.Track(r.Context(), analytics.Event{
		UserID:    principal(r).UserID,
		SessionID: sessionID,
		Type:      req.EventType,
		Data:      req.EventData,
		PageURL:   req.PageURL,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// stripeWebhook needs the raw body for signature verification. Only a
// signature failure is answered with an error status.
func (a *API) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unable to read body")
		return
	}
	ack, err := a.deps.Payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}
