package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics exposes counters/histograms for session resolution,
// booking, and live-session handoff flows.
type SchedulingMetrics struct {
	resolutionsTotal    *prometheus.CounterVec
	bookingsTotal       *prometheus.CounterVec
	compensationsTotal  *prometheus.CounterVec
	handoffLookupsTotal *prometheus.CounterVec
	handoffAttempts     prometheus.Histogram
	httpLatency         *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healme",
			Subsystem: "session",
			Name:      "resolutions_total",
			Help:      "Settled session resolutions by role and registration state",
		}, []string{"role", "registration"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healme",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Appointment commit attempts by result",
		}, []string{"result"}),
		compensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healme",
			Subsystem: "scheduling",
			Name:      "compensations_total",
			Help:      "Requester-side rollbacks after a failed provider-side write",
		}, []string{"result"}),
		handoffLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healme",
			Subsystem: "handoff",
			Name:      "lookups_total",
			Help:      "Rendezvous lookups by result",
		}, []string{"result"}),
		handoffAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "healme",
			Subsystem: "handoff",
			Name:      "await_attempts",
			Help:      "Polling attempts needed before a rendezvous lookup settled",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "healme",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.resolutionsTotal, m.bookingsTotal, m.compensationsTotal, m.handoffLookupsTotal, m.handoffAttempts, m.httpLatency)
	return m
}

func (m *SchedulingMetrics) ObserveResolution(role, registration string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(role, registration).Inc()
}

func (m *SchedulingMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *SchedulingMetrics) ObserveCompensation(result string) {
	if m == nil {
		return
	}
	m.compensationsTotal.WithLabelValues(result).Inc()
}

// ObserveHandoffLookup records a settled await: its result and how many
// polls it took.
func (m *SchedulingMetrics) ObserveHandoffLookup(result string, attempts int) {
	if m == nil {
		return
	}
	m.handoffLookupsTotal.WithLabelValues(result).Inc()
	if attempts > 0 {
		m.handoffAttempts.Observe(float64(attempts))
	}
}

func (m *SchedulingMetrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}
