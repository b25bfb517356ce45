package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Handler        *ReservationHandler
	Metrics        http.Handler // optional
	NodeID         string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter wires the reservation API, health and metrics endpoints
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	h := cfg.Handler

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "node_id": cfg.NodeID})
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// long-lived stream, no request timeout
		r.Get("/events", h.Events)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))

			r.Route("/reservations", func(r chi.Router) {
				r.Post("/", h.Reserve)
				r.Get("/", h.List)
				r.Get("/{id}", h.Get)
				r.Put("/{id}", h.UpdateQuantity)
				r.Post("/{id}/release", h.Release)
				r.Post("/{id}/confirm", h.Confirm)
			})
			r.Route("/sessions/{session_id}", func(r chi.Router) {
				r.Delete("/reservations", h.ReleaseSession)
				r.Post("/confirm", h.ConfirmSession)
			})
			r.Post("/sweep", h.Sweep)
			r.Get("/availability/{product_id}", h.Availability)
			r.Get("/statistics", h.Statistics)
		})
	})

	return otelhttp.NewHandler(r, "reservation-api")
}
