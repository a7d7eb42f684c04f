package threeds

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alovak/threeds-flow/internal/authmsg"
	"github.com/alovak/threeds-flow/threeds/models"
	"github.com/go-chi/chi/v5"
)

// API is a HTTP API for the threeds service
type API struct {
	service *Service
}

func NewAPI(service *Service) *API {
	return &API{
		service: service,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/transactions", func(r chi.Router) {
		r.Post("/", a.createTransaction)
		r.Get("/", a.listTransactions)
		r.Route("/{txID}", func(r chi.Router) {
			r.Get("/", a.getTransaction)
			r.Get("/authorization", a.getAuthorization)
		})
	})
	r.Route("/threeds", func(r chi.Router) {
		r.Get("/return/{txID}", a.shopperReturn)
		r.Post("/return/{txID}", a.shopperReturn)
		r.Post("/cancel/{txID}", a.cancel)
		r.Post("/events/{txID}", a.navigation)
	})
}

func (a *API) createTransaction(w http.ResponseWriter, r *http.Request) {
	create := CreateTransaction{}
	err := json.NewDecoder(r.Body).Decode(&create)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := a.service.Create(r.Context(), create)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusAccepted, tx)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := a.service.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) getTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")

	tx, err := a.service.Get(r.Context(), txID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// getAuthorization returns the packed ISO 8583 message, hex encoded.
func (a *API) getAuthorization(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")

	packed, err := a.service.Authorization(r.Context(), txID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		TransactionID string `json:"transaction_id"`
		MTI           string `json:"mti"`
		Message       string `json:"message"`
	}{txID, string(packed[:4]), hex.EncodeToString(packed)})
}

// shopperReturn is where the issuer sends the shopper's browser once the
// challenge ends.
func (a *API) shopperReturn(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")

	next, err := a.service.Return(r.Context(), txID, r.URL.RequestURI())
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if next != "" {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Authentication finished. You can close this window.\n"))
}

func (a *API) cancel(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")

	if err := a.service.Cancel(r.Context(), txID); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// navigation accepts navigations observed by a web view, e.g.
// {"kind":"redirect","url":"https://..."}.
func (a *API) navigation(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")
	var body struct {
		Kind  string `json:"kind"`
		URL   string `json:"url"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ev := NavigationEvent{Kind: NavigationEventKind(body.Kind), URL: body.URL}
	if body.Error != "" {
		ev.Err = errors.New(body.Error)
	}
	if err := a.service.Navigation(r.Context(), txID, ev); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func statusFor(err error) int {
	var cerr *models.ConstructionError
	switch {
	case errors.As(err, &cerr), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotAuthorizable), errors.Is(err, ErrTransactionBusy):
		return http.StatusConflict
	case errors.Is(err, authmsg.ErrUnsupportedCurrency), errors.Is(err, authmsg.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNoSessionSource):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
