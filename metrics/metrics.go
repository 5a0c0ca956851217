// Package metrics exposes Prometheus collectors for the booking queue.
// Every method is safe to call on a nil *Metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "clinicqueue"

type Metrics struct {
	bookings      *prometheus.CounterVec
	statusChanges *prometheus.CounterVec
	archiveUnits  *prometheus.CounterVec
	subscriptions prometheus.Gauge
	streamPolls   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// New registers the collectors on reg, or on the default registerer when reg
// is nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by variant and outcome",
		}, []string{"variant", "result"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_changes_total",
			Help:      "Applied slot status transitions",
		}, []string{"variant", "status"}),
		archiveUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_units_total",
			Help:      "Archival units processed by outcome",
		}, []string{"variant", "outcome"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscriptions",
			Help:      "Live stream subscriptions currently open",
		}),
		streamPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_polls_total",
			Help:      "Snapshot polls performed by live subscriptions",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache coordinator lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.statusChanges, m.archiveUnits, m.subscriptions, m.streamPolls, m.cacheLookups)
	return m
}

func (m *Metrics) ObserveBooking(variant, result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(variant, result).Inc()
}

func (m *Metrics) ObserveStatusChange(variant, status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(variant, status).Inc()
}

func (m *Metrics) ObserveArchiveUnit(variant, outcome string) {
	if m == nil {
		return
	}
	m.archiveUnits.WithLabelValues(variant, outcome).Inc()
}

// SubscriptionOpened increments the open stream gauge and returns the
// matching decrement.
func (m *Metrics) SubscriptionOpened() func() {
	if m == nil {
		return func() {}
	}
	m.subscriptions.Inc()
	return m.subscriptions.Dec
}

func (m *Metrics) ObservePoll(outcome string) {
	if m == nil {
		return
	}
	m.streamPolls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
