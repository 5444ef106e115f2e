package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"etiasassist.app/internal/application"
	"etiasassist.app/internal/audit"
	"etiasassist.app/internal/payment"
)

func (a *API) createApplication(w http.ResponseWriter, r *http.Request) {
	var in application.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	app, err := a.deps.Applications.Create(r.Context(), principal(r).UserID, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/applications/%s", app.ID))
	writeJSON(w, http.StatusCreated, map[string]string{"id": app.ID})
}

func (a *API) listApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := a.deps.Applications.List(r.Context(), principal(r).UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if apps == nil {
		apps = []application.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (a *API) draftApplication(w http.ResponseWriter, r *http.Request) {
	app, err := a.deps.Applications.Draft(r.Context(), principal(r).UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (a *API) getApplication(w http.ResponseWriter, r *http.Request) {
	app, err := a.deps.Applications.Get(r.Context(), mux.Vars(r)["id"], principal(r).UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (a *API) updateApplication(w http.ResponseWriter, r *http.Request) {
	var patch application.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := a.deps.Applications.Update(r.Context(), mux.Vars(r)["id"], principal(r).UserID, patch); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) redirectApplication(w http.ResponseWriter, r *http.Request) {
	app, err := a.deps.Applications.MarkRedirected(r.Context(), mux.Vars(r)["id"], principal(r).UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "application.redirected", map[string]any{"application_id": app.ID})
	writeJSON(w, http.StatusOK, successResponse{Success: true, URL: a.portalURL})
}

type stepValidation struct {
	Step   int                      `json:"step"`
	Title  string                   `json:"title"`
	Valid  bool                     `json:"valid"`
	Errors []application.FieldError `json:"errors"`
}

func (a *API) validateStep(w http.ResponseWriter, r *http.Request) {
	step, err := strconv.Atoi(mux.Vars(r)["step"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "step must be an integer")
		return
	}
	app, err := a.deps.Applications.Get(r.Context(), mux.Vars(r)["id"], principal(r).UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	errs, err := application.ValidateStep(app, step)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if errs == nil {
		errs = []application.FieldError{}
	}
	writeJSON(w, http.StatusOK, stepValidation{
		Step:   step,
		Title:  application.StepTitle(step),
		Valid:  len(errs) == 0,
		Errors: errs,
	})
}

func (a *API) createCheckout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	checkout, err := a.deps.Payments.CreateCheckoutSession(r.Context(),
		payment.Customer{UserID: p.UserID, Email: p.Email}, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "payment.checkout.created", map[string]any{
		"application_id": mux.Vars(r)["id"],
		"payment_id":     checkout.PaymentID,
	})
	writeJSON(w, http.StatusOK, checkout)
}

func (a *API) paymentStatus(w http.ResponseWriter, r *http.Request) {
	p, err := a.deps.Payments.GetStatus(r.Context(), mux.Vars(r)["id"], principal(r).UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
