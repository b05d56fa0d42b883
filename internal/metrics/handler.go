package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the condensed metrics endpoint. The full
// Prometheus exposition lives on /metrics; this view feeds dashboards that
// want a handful of headline numbers.
type Summary struct {
	HTTP       httpSummary      `json:"http"`
	Admission  admissionSummary `json:"admission"`
	Trust      trustSummary     `json:"trust"`
	Replicator replicatorInfo   `json:"replicator"`
	DB         dbInfo           `json:"db"`
	Server     serverInfo       `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
}

type admissionSummary struct {
	Allowed          float64 `json:"allowed"`
	Denied           float64 `json:"denied"`
	InFlight         float64 `json:"inFlight"`
	KillSwitchActive bool    `json:"killSwitchActive"`
}

type trustSummary struct {
	Recomputations      float64 `json:"recomputations"`
	EndorsementsDropped float64 `json:"endorsementsDropped"`
	MutualAuthSuccesses float64 `json:"mutualAuthSuccesses"`
	MutualAuthFailures  float64 `json:"mutualAuthFailures"`
	CredentialsIssued   float64 `json:"credentialsIssued"`
	CredentialsVerified float64 `json:"credentialsVerified"`
}

type replicatorInfo struct {
	PendingSize  float64 `json:"pendingSize"`
	TotalFlushes float64 `json:"totalFlushes"`
	FlushErrors  float64 `json:"flushErrors"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Handler returns an http.HandlerFunc serving the condensed JSON summary.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleSummary(w)
	}
}

func (m *Metrics) handleSummary(w http.ResponseWriter) {
	families, err := m.registry.Gather()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	summary := Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["warden_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["warden_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["warden_http_request_duration_seconds"], 0.95),
		},
		Admission: admissionSummary{
			Allowed:          counterWithLabel(fam["warden_admission_decisions_total"], "result", "allowed"),
			Denied:           counterWithLabel(fam["warden_admission_decisions_total"], "result", "denied"),
			InFlight:         gaugeValue(fam["warden_in_flight_actions"]),
			KillSwitchActive: gaugeValue(fam["warden_kill_switch_active"]) > 0,
		},
		Trust: trustSummary{
			Recomputations:      sumCounter(fam["warden_trust_recomputations_total"]),
			EndorsementsDropped: sumCounter(fam["warden_endorsements_dropped_total"]),
			MutualAuthSuccesses: counterWithLabel(fam["warden_mutual_auth_total"], "result", "success"),
			MutualAuthFailures:  counterWithLabel(fam["warden_mutual_auth_total"], "result", "failure"),
			CredentialsIssued:   counterWithLabel(fam["warden_credential_operations_total"], "operation", "issue"),
			CredentialsVerified: counterWithLabel(fam["warden_credential_operations_total"], "operation", "verify"),
		},
		Replicator: replicatorInfo{
			PendingSize:  gaugeValue(fam["warden_replicator_pending_size"]),
			TotalFlushes: sumCounter(fam["warden_replicator_flushes_total"]),
			FlushErrors:  counterWithLabel(fam["warden_replicator_flushes_total"], "status", "error"),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["warden_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["warden_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["warden_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     gaugeValue(fam["warden_server_start_time_seconds"]),
			UptimeSeconds: float64(time.Now().Unix()) - gaugeValue(fam["warden_server_start_time_seconds"]),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 || ms[0].GetGauge() == nil {
		return 0
	}
	return ms[0].GetGauge().GetValue()
}

// counterWithLabel sums every counter in the family carrying the given label.
func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName && lp.GetValue() == labelValue {
				total += m.GetCounter().GetValue()
				break
			}
		}
	}
	return total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)
	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
