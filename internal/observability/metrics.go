package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	opDurationBuckets   = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
	// Hours from action to action on a step; approvals are human-paced.
	stepLatencyBuckets = []float64{1, 4, 8, 24, 48, 72, 168}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Approval metrics
	ApprovalSubmitsTotal     *prometheus.CounterVec
	ApprovalActionsTotal     *prometheus.CounterVec
	ApprovalCompletionsTotal *prometheus.CounterVec
	ApprovalActiveRuns       *prometheus.GaugeVec
	ApprovalActionDuration   *prometheus.HistogramVec
	ApprovalStepLatencyHours *prometheus.HistogramVec

	// SLA and notification metrics
	SLAOverdueItems           *prometheus.GaugeVec
	NotificationsEmittedTotal *prometheus.CounterVec

	// Project bridge metrics
	ProjectAdvancesTotal *prometheus.CounterVec

	// Audit metrics
	AuditDeliveriesTotal *prometheus.CounterVec
	AuditBreakerState    prometheus.Gauge
	AuditQueueDropped    prometheus.Counter

	// Identity metrics
	RoleCacheHitsTotal   prometheus.Counter
	RoleCacheMissesTotal prometheus.Counter

	// System metrics
	FlowSeedTotal *prometheus.CounterVec
	FlowsLoaded   prometheus.Gauge
}

// InitMetrics creates all metric instruments registered against reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	}
	histogramVec := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		HTTPRequestsTotal: counterVec("rollout_http_requests_total",
			"Total number of HTTP requests.",
			"method", "path_pattern", "status"),
		HTTPRequestDuration: histogramVec("rollout_http_request_duration_seconds",
			"HTTP request duration in seconds.", httpDurationBuckets,
			"method", "path_pattern"),
		HTTPRequestSizeBytes: histogramVec("rollout_http_request_size_bytes",
			"HTTP request body size in bytes.", bodySizeBuckets,
			"method", "path_pattern"),
		HTTPResponseSizeBytes: histogramVec("rollout_http_response_size_bytes",
			"HTTP response body size in bytes.", bodySizeBuckets,
			"method", "path_pattern"),

		ApprovalSubmitsTotal: counterVec("rollout_approval_submits_total",
			"Total number of approval runs started.",
			"process_type", "kind"),
		ApprovalActionsTotal: counterVec("rollout_approval_actions_total",
			"Total number of recorded approval actions.",
			"process_type", "action"),
		ApprovalCompletionsTotal: counterVec("rollout_approval_completions_total",
			"Total number of completed approval runs.",
			"process_type", "final_status"),
		ApprovalActiveRuns: gaugeVec("rollout_approval_active_runs",
			"Number of approval runs awaiting action.",
			"process_type"),
		ApprovalActionDuration: histogramVec("rollout_approval_action_duration_seconds",
			"Approval action processing duration in seconds.", opDurationBuckets,
			"action"),
		ApprovalStepLatencyHours: histogramVec("rollout_approval_step_latency_hours",
			"Hours an approval step waited before being acted on.", stepLatencyBuckets,
			"process_type"),

		SLAOverdueItems: gaugeVec("rollout_sla_overdue_items",
			"Number of inbox items past their SLA deadline.",
			"process_type"),
		NotificationsEmittedTotal: counterVec("rollout_notifications_emitted_total",
			"Total number of SLA notifications emitted.",
			"tier"),

		ProjectAdvancesTotal: counterVec("rollout_project_advances_total",
			"Total number of project status advances on approval completion.",
			"process_type"),

		AuditDeliveriesTotal: counterVec("rollout_audit_deliveries_total",
			"Total number of audit event deliveries.",
			"status"),
		AuditBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "rollout_audit_breaker_state",
			Help: "Audit delivery breaker state (0=closed, 1=half-open, 2=open).",
		}),
		AuditQueueDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "rollout_audit_queue_dropped_total",
			Help: "Total audit events dropped due to a full queue.",
		}),

		RoleCacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "rollout_role_cache_hits_total",
			Help: "Total role cache hits.",
		}),
		RoleCacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "rollout_role_cache_misses_total",
			Help: "Total role cache misses.",
		}),

		FlowSeedTotal: counterVec("rollout_flow_seed_total",
			"Total flow seed runs.",
			"status"),
		FlowsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "rollout_flows_loaded",
			Help: "Number of configured approval flows.",
		}),
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordApprovalSubmit records an approval run start. kind is "submit" or
// "revise".
func (m *Metrics) RecordApprovalSubmit(processType, kind string) {
	m.ApprovalSubmitsTotal.WithLabelValues(processType, kind).Inc()
	m.ApprovalActiveRuns.WithLabelValues(processType).Inc()
}

// RecordApprovalAction records one approve/reject decision.
func (m *Metrics) RecordApprovalAction(processType, action string, duration time.Duration) {
	m.ApprovalActionsTotal.WithLabelValues(processType, action).Inc()
	m.ApprovalActionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordApprovalCompletion records a run reaching a terminal status.
func (m *Metrics) RecordApprovalCompletion(processType, finalStatus string) {
	m.ApprovalCompletionsTotal.WithLabelValues(processType, finalStatus).Inc()
	m.ApprovalActiveRuns.WithLabelValues(processType).Dec()
}

// RecordStepLatency records how long a step waited before its action.
func (m *Metrics) RecordStepLatency(processType string, waited time.Duration) {
	m.ApprovalStepLatencyHours.WithLabelValues(processType).Observe(waited.Hours())
}

// SetSLAOverdue sets the number of overdue inbox items for a process type.
func (m *Metrics) SetSLAOverdue(processType string, count float64) {
	m.SLAOverdueItems.WithLabelValues(processType).Set(count)
}

// RecordNotification records an emitted SLA notification.
func (m *Metrics) RecordNotification(tier string) {
	m.NotificationsEmittedTotal.WithLabelValues(tier).Inc()
}

// RecordProjectAdvance records a project status advance.
func (m *Metrics) RecordProjectAdvance(processType string) {
	m.ProjectAdvancesTotal.WithLabelValues(processType).Inc()
}

// RecordAuditDelivery records an audit delivery outcome.
func (m *Metrics) RecordAuditDelivery(status string) {
	m.AuditDeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordAuditQueueDrop counts an event discarded because the queue was full.
func (m *Metrics) RecordAuditQueueDrop() {
	m.AuditQueueDropped.Inc()
}

// SetAuditBreakerState sets the audit breaker gauge.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetAuditBreakerState(state float64) {
	m.AuditBreakerState.Set(state)
}

// RecordRoleCacheHit records a role cache hit.
func (m *Metrics) RecordRoleCacheHit() {
	m.RoleCacheHitsTotal.Inc()
}

// RecordRoleCacheMiss records a role cache miss.
func (m *Metrics) RecordRoleCacheMiss() {
	m.RoleCacheMissesTotal.Inc()
}

// RecordFlowSeed records a flow seed run.
func (m *Metrics) RecordFlowSeed(status string) {
	m.FlowSeedTotal.WithLabelValues(status).Inc()
}

// SetFlowsLoaded sets the number of configured flows.
func (m *Metrics) SetFlowsLoaded(count float64) {
	m.FlowsLoaded.Set(count)
}

// MetricsMiddleware records request metrics labelled with chi's route
// pattern, not the raw URL path, to keep label cardinality bounded.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mw := &meteredWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(mw, r)

		var reqSize int
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), mw.status, time.Since(start), reqSize, mw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context,
// falling back to the raw URL path when no route matched.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// meteredWriter captures the response status and body size.
type meteredWriter struct {
	http.ResponseWriter
	status int
	bytes  int
	wrote  bool
}

func (w *meteredWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *meteredWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.wrote = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
