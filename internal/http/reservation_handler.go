package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/stats"
	"github.com/fjod/go_cart/reservation-service/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// StatsProvider is the statistics read side used by the API
type StatsProvider interface {
	Snapshot(limit int) stats.Snapshot
}

type ReservationHandler struct {
	store    store.ReservationStore
	stats    StatsProvider
	topLimit int
	log      *zap.Logger
}

func NewReservationHandler(s store.ReservationStore, st StatsProvider, topLimit int, log *zap.Logger) *ReservationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReservationHandler{
		store:    s,
		stats:    st,
		topLimit: topLimit,
		log:      log,
	}
}

type ReserveRequestDTO struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	SessionID string `json:"session_id"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type TransitionResponseDTO struct {
	ReservationID string `json:"reservation_id"`
	Released      *bool  `json:"released,omitempty"`
	Confirmed     *bool  `json:"confirmed,omitempty"`
}

type SessionResponseDTO struct {
	SessionID string `json:"session_id"`
	Released  *int   `json:"released,omitempty"`
	Confirmed *int   `json:"confirmed,omitempty"`
}

type SweepResponseDTO struct {
	Expired int `json:"expired"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	res, err := h.store.Reserve(r.Context(), req.ProductID, req.Quantity, req.SessionID)
	if err != nil {
		h.mapStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, res)
}

func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{
		State:     domain.State(q.Get("state")),
		SessionID: q.Get("session_id"),
	}
	if filter.State != "" && !filter.State.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_state", "state must be active, confirmed or expired")
		return
	}
	if raw := q.Get("product_id"); raw != "" {
		productID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || productID <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
			return
		}
		filter.ProductID = productID
	}

	respondJSON(w, http.StatusOK, h.store.List(filter))
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.mapStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// UpdateQuantity replaces the hold with one of the new quantity
func (h *ReservationHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	res, err := h.store.Replace(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		h.mapStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	released := h.store.Release(id)
	respondJSON(w, http.StatusOK, TransitionResponseDTO{ReservationID: id, Released: &released})
}

func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	confirmed := h.store.Confirm(id)
	respondJSON(w, http.StatusOK, TransitionResponseDTO{ReservationID: id, Confirmed: &confirmed})
}

func (h *ReservationHandler) ReleaseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	released := h.store.ReleaseSession(sessionID)
	respondJSON(w, http.StatusOK, SessionResponseDTO{SessionID: sessionID, Released: &released})
}

func (h *ReservationHandler) ConfirmSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	confirmed := h.store.ConfirmSession(sessionID)
	respondJSON(w, http.StatusOK, SessionResponseDTO{SessionID: sessionID, Confirmed: &confirmed})
}

func (h *ReservationHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SweepResponseDTO{Expired: h.store.SweepExpired()})
}

func (h *ReservationHandler) Availability(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	a, err := h.store.Availability(r.Context(), productID)
	if err != nil {
		h.mapStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *ReservationHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	limit := h.topLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	respondJSON(w, http.StatusOK, h.stats.Snapshot(limit))
}

func (h *ReservationHandler) mapStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrReservationNotFound):
		respondError(w, http.StatusNotFound, "reservation_not_found", err.Error())
	case errors.Is(err, store.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, store.ErrInsufficientStock):
		respondError(w, http.StatusConflict, "insufficient_stock", err.Error())
	case errors.Is(err, store.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, store.ErrInvalidSession):
		respondError(w, http.StatusBadRequest, "invalid_session", err.Error())
	default:
		h.log.Error("Reservation request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
