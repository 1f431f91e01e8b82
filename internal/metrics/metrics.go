package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rps"

// Recorder owns the service's Prometheus collectors. All methods are safe on
// a nil receiver so callers can run without metrics.
type Recorder struct {
	registry *prometheus.Registry

	transitions      *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	settledFunds     prometheus.Counter
	refunds          *prometheus.CounterVec
	notifyDropped    prometheus.Counter
	notifyFailures   prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	operationLatency *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_operations_total",
			Help:      "Match operations by name and result.",
		}, []string{"operation", "result"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_version_conflicts_total",
			Help:      "Optimistic concurrency collisions that caused a retry.",
		}, []string{"operation"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_settlements_total",
			Help:      "Finished matches by outcome.",
		}, []string{"outcome"}),
		settledFunds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_settled_funds_total",
			Help:      "Funds credited back to players on settlement.",
		}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_refunds_total",
			Help:      "Waiting matches refunded, by trigger.",
		}, []string{"trigger"}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_dropped_total",
			Help:      "Match events dropped because the queue was full.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Match events the publisher failed to deliver.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_operation_duration_seconds",
			Help:      "Latency of coordinator operations including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.transitions,
		r.conflicts,
		r.settlements,
		r.settledFunds,
		r.refunds,
		r.notifyDropped,
		r.notifyFailures,
		r.httpRequests,
		r.httpDuration,
		r.operationLatency,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordOperation counts a coordinator call and its latency.
func (r *Recorder) RecordOperation(op, result string, duration time.Duration) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(op, result).Inc()
	r.operationLatency.WithLabelValues(op).Observe(duration.Seconds())
}

func (r *Recorder) RecordConflict(op string) {
	if r == nil {
		return
	}
	r.conflicts.WithLabelValues(op).Inc()
}

// RecordSettlement counts a finished match and the funds it paid out.
func (r *Recorder) RecordSettlement(outcome string, paid int64) {
	if r == nil {
		return
	}
	r.settlements.WithLabelValues(outcome).Inc()
	r.settledFunds.Add(float64(paid))
}

func (r *Recorder) RecordRefund(trigger string) {
	if r == nil {
		return
	}
	r.refunds.WithLabelValues(trigger).Inc()
}

func (r *Recorder) RecordNotifyDropped() {
	if r == nil {
		return
	}
	r.notifyDropped.Inc()
}

func (r *Recorder) RecordNotifyFailure() {
	if r == nil {
		return
	}
	r.notifyFailures.Inc()
}

// RecordHTTPRequest tracks basic HTTP metrics. route must be a pattern, not a raw path.
func (r *Recorder) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
