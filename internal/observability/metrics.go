package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Claim outcome labels.
const (
	ClaimConfirmed = "confirmed"
	ClaimRejected  = "rejected"
	ClaimNotFound  = "not_found"
	ClaimFailed    = "failed"
)

// Metrics owns the service's Prometheus collectors.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	ticketsCreated  *prometheus.CounterVec
	claims          *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_http_requests_total",
			Help: "HTTP requests by path, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_http_errors_total",
			Help: "HTTP errors by path, method and error code.",
		}, []string{"path", "method", "code"}),
		ticketsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_tickets_created_total",
			Help: "Tickets created by type.",
		}, []string{"type"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_ticket_claims_total",
			Help: "Claim attempts by outcome.",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_notification_deliveries_total",
			Help: "Notification sends and edits by outcome.",
		}, []string{"op", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration, m.errors, m.ticketsCreated, m.claims, m.deliveries,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordTicketCreated counts a created ticket.
func (m *Metrics) RecordTicketCreated(ticketType string) {
	if m == nil {
		return
	}
	m.ticketsCreated.WithLabelValues(ticketType).Inc()
}

// RecordClaim counts a claim attempt by outcome.
func (m *Metrics) RecordClaim(outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(outcome).Inc()
}

// RecordDelivery counts one send or edit against a surface.
func (m *Metrics) RecordDelivery(op string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.deliveries.WithLabelValues(op, outcome).Inc()
}
