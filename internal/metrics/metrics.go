package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the warden server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Admission metrics.
	AdmissionDecisionsTotal *prometheus.CounterVec
	InFlightActions         prometheus.Gauge
	KillSwitchActive        prometheus.Gauge

	// Trust metrics.
	TrustRecomputationsTotal  prometheus.Counter
	EndorsementsDroppedTotal  prometheus.Counter
	MutualAuthTotal           *prometheus.CounterVec
	CredentialOperationsTotal *prometheus.CounterVec

	// Replicator metrics.
	ReplicatorPendingSize  prometheus.Gauge
	ReplicatorFlushesTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		AdmissionDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_admission_decisions_total",
			Help: "Total number of admission decisions by result and denial code.",
		}, []string{"result", "code"}),

		InFlightActions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_in_flight_actions",
			Help: "Number of admitted actions without a reported outcome.",
		}),

		KillSwitchActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_kill_switch_active",
			Help: "Whether the kill switch is engaged (1) or not (0).",
		}),

		TrustRecomputationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_trust_recomputations_total",
			Help: "Total number of trust score recomputations.",
		}),

		EndorsementsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_endorsements_dropped_total",
			Help: "Total number of endorsements dropped for low endorser trust.",
		}),

		MutualAuthTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_mutual_auth_total",
			Help: "Total number of mutual authentication completions by result.",
		}, []string{"result"}),

		CredentialOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_credential_operations_total",
			Help: "Total number of credential issue and verify operations.",
		}, []string{"operation", "result"}),

		ReplicatorPendingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_replicator_pending_size",
			Help: "Current number of agent records awaiting write-back.",
		}),

		ReplicatorFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_replicator_flushes_total",
			Help: "Total number of replicator flushes.",
		}, []string{"status"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AdmissionDecisionsTotal,
		m.InFlightActions,
		m.KillSwitchActive,
		m.TrustRecomputationsTotal,
		m.EndorsementsDroppedTotal,
		m.MutualAuthTotal,
		m.CredentialOperationsTotal,
		m.ReplicatorPendingSize,
		m.ReplicatorFlushesTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveDecision counts one admission decision.
func (m *Metrics) ObserveDecision(allowed bool, code string) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.AdmissionDecisionsTotal.WithLabelValues(result, code).Inc()
}

// SetInFlight sets the in-flight action gauge.
func (m *Metrics) SetInFlight(total int) {
	m.InFlightActions.Set(float64(total))
}

// SetKillSwitch sets the kill switch gauge.
func (m *Metrics) SetKillSwitch(active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	m.KillSwitchActive.Set(v)
}

// IncMutualAuth counts one mutual authentication attempt.
func (m *Metrics) IncMutualAuth(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.MutualAuthTotal.WithLabelValues(result).Inc()
}

// IncCredentialOperation counts one credential issue or verify.
func (m *Metrics) IncCredentialOperation(operation string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.CredentialOperationsTotal.WithLabelValues(operation, result).Inc()
}

// SetReplicatorPending sets the pending write-back gauge.
func (m *Metrics) SetReplicatorPending(n int) {
	m.ReplicatorPendingSize.Set(float64(n))
}

// ObserveReplicatorFlush counts one replicator flush.
func (m *Metrics) ObserveReplicatorFlush(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ReplicatorFlushesTotal.WithLabelValues(status).Inc()
}

// IncRecomputation counts one trust score recomputation.
func (m *Metrics) IncRecomputation() {
	m.TrustRecomputationsTotal.Inc()
}

// IncEndorsementDropped counts one endorsement dropped at the trust gate.
func (m *Metrics) IncEndorsementDropped() {
	m.EndorsementsDroppedTotal.Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, pathPattern string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, fmt.Sprintf("%d", statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}
