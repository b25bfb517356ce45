package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/store"
	"go.uber.org/zap"
)

// Events streams a full reservation snapshot as a server-sent event after every
// store change. Slow clients skip intermediate snapshots and get the latest one.
func (h *ReservationHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}

	updates := make(chan []domain.Reservation, 1)
	unsubscribe := h.store.Subscribe(func(list []domain.Reservation) {
		for {
			select {
			case updates <- list:
				return
			default:
			}
			// replace the snapshot the client has not read yet
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSnapshot(w, h.store.List(store.Filter{})); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case list := <-updates:
			if err := writeSnapshot(w, list); err != nil {
				h.log.Debug("Event stream closed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSnapshot(w http.ResponseWriter, list []domain.Reservation) error {
	payload, err := json.Marshal(list)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
	return err
}
