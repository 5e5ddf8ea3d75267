// Package metrics exposes Prometheus counters for the engine, the store,
// the channel adapter and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/adrecon/internal/ir"
)

const namespace = "adrecon"

// Recorder implements engine.Observer, store.Observer and channel.Observer.
// Labels are view, table or topic names, all bounded by configuration.
type Recorder struct {
	registry *prometheus.Registry

	factsTotal       *prometheus.CounterVec
	rowsMatched      *prometheus.CounterVec
	factsUnmatched   *prometheus.CounterVec
	factsAmbiguous   *prometheus.CounterVec
	envelopeRejected *prometheus.CounterVec

	blobWrites       *prometheus.CounterVec
	blobLoadFailures *prometheus.CounterVec

	streamReconnects *prometheus.CounterVec
	streamEvents     *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every metric on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		factsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_total",
			Help:      "Facts parsed, by view and kind",
		}, []string{"view", "kind"}),
		rowsMatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_matched_total",
			Help:      "Rows matched by applied facts",
		}, []string{"view"}),
		factsUnmatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_unmatched_total",
			Help:      "State-changing facts that matched no row",
		}, []string{"view"}),
		factsAmbiguous: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_ambiguous_total",
			Help:      "Item facts dropped for matching several rows",
		}, []string{"view"}),
		envelopeRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_rejected_total",
			Help:      "Pushed payloads whose envelope could not be decoded",
		}, []string{"view"}),

		blobWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_writes_total",
			Help:      "Encrypted record writes, by table and result",
		}, []string{"table", "result"}),
		blobLoadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_load_failures_total",
			Help:      "Records that could not be decrypted or parsed and loaded as empty",
		}, []string{"table"}),

		streamReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Channel reconnect attempts, by topic",
		}, []string{"topic"}),
		streamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Payloads delivered by the channel, by topic",
		}, []string{"topic"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Registry returns the registry to serve.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WatchQueue exports the engine queue depth as a gauge.
func (r *Recorder) WatchQueue(depth func() int) {
	promauto.With(r.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Events waiting for the engine loop",
	}, func() float64 { return float64(depth()) })
}

// FactObserved implements engine.Observer.
func (r *Recorder) FactObserved(view string, kind ir.FactKind) {
	r.factsTotal.WithLabelValues(view, string(kind)).Inc()
}

// FactApplied implements engine.Observer.
func (r *Recorder) FactApplied(view string, rows int) {
	r.rowsMatched.WithLabelValues(view).Add(float64(rows))
}

// FactUnmatched implements engine.Observer.
func (r *Recorder) FactUnmatched(view string) {
	r.factsUnmatched.WithLabelValues(view).Inc()
}

// FactAmbiguous implements engine.Observer.
func (r *Recorder) FactAmbiguous(view string) {
	r.factsAmbiguous.WithLabelValues(view).Inc()
}

// EnvelopeRejected implements engine.Observer.
func (r *Recorder) EnvelopeRejected(view string) {
	r.envelopeRejected.WithLabelValues(view).Inc()
}

// BlobWritten implements store.Observer.
func (r *Recorder) BlobWritten(table string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.blobWrites.WithLabelValues(table, result).Inc()
}

// BlobLoadFailed implements store.Observer.
func (r *Recorder) BlobLoadFailed(table string) {
	r.blobLoadFailures.WithLabelValues(table).Inc()
}

// StreamReconnecting implements channel.Observer.
func (r *Recorder) StreamReconnecting(topic string, _ error) {
	r.streamReconnects.WithLabelValues(topic).Inc()
}

// StreamDelivered implements channel.Observer.
func (r *Recorder) StreamDelivered(topic string) {
	r.streamEvents.WithLabelValues(topic).Inc()
}

// ObserveRequest records one served HTTP request.
func (r *Recorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.httpRequests.With(labels).Inc()
	r.httpDuration.With(labels).Observe(elapsed.Seconds())
}
