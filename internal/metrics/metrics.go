// Package metrics exposes reservation engine activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reservation"

// Recorder implements the store observer, the sweeper recorder and the
// synchronizer recorder, each backed by its own registry.
type Recorder struct {
	registry *prometheus.Registry

	reservations   *prometheus.GaugeVec
	reservedQty    *prometheus.GaugeVec
	rejected       *prometheus.CounterVec
	syncConflicts  prometheus.Counter
	sweeps         prometheus.Counter
	sweptExpired   prometheus.Counter
	eventsSent     prometheus.Counter
	eventsReceived *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		reservations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reservations",
			Help:      "Reservations currently held, by state.",
		}, []string{"state"}),
		reservedQty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reserved_quantity",
			Help:      "Units held by active reservations, by product.",
		}, []string{"product_id"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Reserve requests rejected for insufficient stock, by product.",
		}, []string{"product_id"}),
		syncConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_conflicts_total",
			Help:      "Concurrent updates resolved by merge precedence.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed expiry sweeps.",
		}),
		sweptExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_expired_total",
			Help:      "Reservations expired by the sweeper.",
		}),
		eventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_published_total",
			Help:      "Reservation events broadcast to other nodes.",
		}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_received_total",
			Help:      "Reservation events received from other nodes, by outcome.",
		}, []string{"applied"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.reservations,
		r.reservedQty,
		r.rejected,
		r.syncConflicts,
		r.sweeps,
		r.sweptExpired,
		r.eventsSent,
		r.eventsReceived,
	)
	return r
}

// Registry returns the registry the collectors are registered with
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveSnapshot refreshes the gauges from a full store snapshot. It is meant to
// be subscribed to the store's notification bus.
func (r *Recorder) ObserveSnapshot(list []domain.Reservation) {
	counts := stats.CountByState(list)
	r.reservations.WithLabelValues(string(domain.StateActive)).Set(float64(counts.Active))
	r.reservations.WithLabelValues(string(domain.StateConfirmed)).Set(float64(counts.Confirmed))
	r.reservations.WithLabelValues(string(domain.StateExpired)).Set(float64(counts.Expired))

	r.reservedQty.Reset()
	for _, p := range stats.TopReserved(list, 0) {
		r.reservedQty.WithLabelValues(productLabel(p.ProductID)).Set(float64(p.TotalQuantity))
	}
}

func (r *Recorder) ReserveRejected(productID int64) {
	r.rejected.WithLabelValues(productLabel(productID)).Inc()
}

func (r *Recorder) SyncConflict() {
	r.syncConflicts.Inc()
}

func (r *Recorder) SweepCompleted(expired int) {
	r.sweeps.Inc()
	r.sweptExpired.Add(float64(expired))
}

func (r *Recorder) EventPublished() {
	r.eventsSent.Inc()
}

func (r *Recorder) EventReceived(applied bool) {
	r.eventsReceived.WithLabelValues(strconv.FormatBool(applied)).Inc()
}

func productLabel(productID int64) string {
	return strconv.FormatInt(productID, 10)
}
