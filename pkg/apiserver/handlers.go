package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/agentstudio/tunnel-proxy/pkg/backend"
	"github.com/agentstudio/tunnel-proxy/pkg/cloudflare"
	"github.com/agentstudio/tunnel-proxy/pkg/db"
	"github.com/agentstudio/tunnel-proxy/pkg/model"
	"github.com/agentstudio/tunnel-proxy/pkg/version"
	"github.com/gorilla/mux"
)

const (
	defaultListFilter = model.FilterActive
	defaultListLimit  = 100
)

type handler struct {
	backend backend.Backend
}

func newHandler(b backend.Backend) *handler {
	return &handler{
		backend: b,
	}
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{
		"service": "tunnel-proxy",
		"version": version.Get().String(),
		"status":  "running",
	})
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	var input model.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := h.backend.CreateSubdomain(r.Context(), input)
	if err != nil {
		handleError(w, err)
		return
	}

	writeSuccess(w, resp)
}

func (h *handler) check(w http.ResponseWriter, r *http.Request) {
	subdomain := mux.Vars(r)["subdomain"]

	resp, err := h.backend.CheckSubdomain(r.Context(), subdomain)
	if err != nil {
		handleError(w, err)
		return
	}

	writeSuccess(w, resp)
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	subdomain := mux.Vars(r)["subdomain"]

	resp, err := h.backend.DeleteSubdomain(r.Context(), subdomain)
	if err != nil {
		handleError(w, err)
		return
	}

	writeSuccess(w, resp)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("status")
	if filter == "" {
		filter = defaultListFilter
	}
	if err := model.IsValidFilter(filter); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusUnprocessableEntity, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	resp, err := h.backend.ListSubdomains(filter, limit)
	if err != nil {
		handleError(w, err)
		return
	}

	writeSuccess(w, resp)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	subdomain := mux.Vars(r)["subdomain"]

	resp, err := h.backend.GetSubdomain(subdomain)
	if err != nil {
		handleError(w, err)
		return
	}

	writeSuccess(w, resp)
}

// handleError maps the error taxonomy to HTTP statuses: validation 422,
// conflict 409, not found 404, upstream provider failures 502, anything
// else 500.
func handleError(w http.ResponseWriter, err error) {
	var validationErr *backend.ValidationError
	var apiErr *cloudflare.APIError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, db.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
