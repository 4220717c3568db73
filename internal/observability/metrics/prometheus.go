// Package metrics provides Prometheus metrics for the medication reminder services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SchedulesSaved         prometheus.Counter
	SchedulesDeleted       prometheus.Counter
	Reconciliations        *prometheus.CounterVec
	ReconciliationDuration prometheus.Histogram
	RequestsScheduled      prometheus.Counter
	PendingNotifications   prometheus.Gauge
	RequestsEvicted        prometheus.Counter
	Deliveries             *prometheus.CounterVec
	CardOperations         *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SchedulesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medication_schedules_saved_total",
			Help: "Total medication schedules created or updated",
		}),
		SchedulesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medication_schedules_deleted_total",
			Help: "Total medication schedules deleted",
		}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_reconciliations_total",
			Help: "Notification reconciliations by outcome",
		}, []string{"outcome"}),
		ReconciliationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reminder_reconciliation_duration_seconds",
			Help:    "Duration of a full cancel-and-reschedule pass",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		RequestsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminder_requests_scheduled_total",
			Help: "Total notification requests submitted to the backend",
		}),
		PendingNotifications: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reminder_pending_notifications",
			Help: "Notification requests currently pending in the notification center",
		}),
		RequestsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminder_requests_evicted_total",
			Help: "Requests dropped because the pending ceiling was reached",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_deliveries_total",
			Help: "Fired reminders by delivery outcome",
		}, []string{"outcome"}),
		CardOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthcard_password_operations_total",
			Help: "Health card password operations by mode and response",
		}, []string{"mode", "response"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.SchedulesSaved,
		m.SchedulesDeleted,
		m.Reconciliations,
		m.ReconciliationDuration,
		m.RequestsScheduled,
		m.PendingNotifications,
		m.RequestsEvicted,
		m.Deliveries,
		m.CardOperations,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveReconciliation records the outcome and duration of one reconciliation.
func (m *Metrics) ObserveReconciliation(outcome string, started time.Time, scheduled int) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(outcome).Inc()
	m.ReconciliationDuration.Observe(time.Since(started).Seconds())
	m.RequestsScheduled.Add(float64(scheduled))
}

// SchedulesChanged records saved and deleted schedule counts.
func (m *Metrics) SchedulesChanged(saved, deleted int) {
	if m == nil {
		return
	}
	m.SchedulesSaved.Add(float64(saved))
	m.SchedulesDeleted.Add(float64(deleted))
}

// SetPending records the notification center's pending count.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingNotifications.Set(float64(n))
}

// Evicted records requests dropped at the pending ceiling.
func (m *Metrics) Evicted() {
	if m == nil {
		return
	}
	m.RequestsEvicted.Inc()
}

// Delivered records a delivery outcome ("sent", "duplicate", "failed").
func (m *Metrics) Delivered(outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
}

// CardOperation records a classified health card response.
func (m *Metrics) CardOperation(mode, response string) {
	if m == nil {
		return
	}
	m.CardOperations.WithLabelValues(mode, response).Inc()
}

// BreakerState records a circuit breaker transition.
func (m *Metrics) BreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(state)
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
