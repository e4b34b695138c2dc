package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/service"
	"github.com/kjstillabower/store-monitor/internal/store"
	"github.com/kjstillabower/store-monitor/internal/validation"
)

type storeRequest struct {
	StoreID  string `json:"store_id"`
	Timezone string `json:"timezone"`
}

// ListStores handles GET /stores?after=&limit=.
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}
	stores, next, err := h.stores.List(r.Context(), q.Get("after"), limit)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	resp := map[string]interface{}{"stores": stores}
	if next != "" {
		resp["next_after"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateStore handles POST /stores with {"store_id", "timezone"}.
func (h *Handler) CreateStore(w http.ResponseWriter, r *http.Request) {
	var body storeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	s, err := h.stores.Create(r.Context(), models.Store{ID: strings.TrimSpace(body.StoreID), Timezone: body.Timezone})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.Header().Set("Location", "/stores/"+s.ID)
	writeJSON(w, http.StatusCreated, s)
}

// GetStore handles GET /stores/{id}.
func (h *Handler) GetStore(w http.ResponseWriter, r *http.Request) {
	s, err := h.stores.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateStore handles PUT /stores/{id} with {"timezone"}. A store_id in the
// body, when present, must match the path.
func (h *Handler) UpdateStore(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body storeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if body.StoreID != "" && body.StoreID != id {
		writeError(w, r, http.StatusBadRequest, "STORE_ID_MISMATCH", "store_id in body does not match path")
		return
	}
	s, err := h.stores.Update(r.Context(), models.Store{ID: id, Timezone: body.Timezone})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DeleteStore handles DELETE /stores/{id}. Hours and observations go with it.
func (h *Handler) DeleteStore(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validation.ErrStoreIDEmpty),
		errors.Is(err, validation.ErrStoreIDTooLong),
		errors.Is(err, validation.ErrStoreIDInvalidChars):
		writeError(w, r, http.StatusBadRequest, "INVALID_STORE_ID", err.Error())
	case errors.Is(err, service.ErrInvalidTimezone):
		writeError(w, r, http.StatusBadRequest, "INVALID_TIMEZONE", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "STORE_NOT_FOUND", "store not found")
	case errors.Is(err, store.ErrExists):
		writeError(w, r, http.StatusConflict, "STORE_EXISTS", "store already exists")
	default:
		writeInternalError(w, r, err)
	}
}
