// Package metrics exposes Prometheus instruments for the ingestion engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinigraph"

// Outcome labels for ingested records.
const (
	OutcomeCommitted = "committed"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

// Recorder groups the ingestion instruments. A nil *Recorder is valid and
// records nothing, so components can be built without metrics in tests.
type Recorder struct {
	registry  *prometheus.Registry
	records   *prometheus.CounterVec
	retries   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	batches   *prometheus.CounterVec
	lastBatch *prometheus.GaugeVec
}

// New builds a Recorder backed by its own registry, including the Go runtime
// and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Ingested records by mode and outcome.",
		}, []string{"mode", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_retries_total",
			Help:      "Transactions replayed after a retryable write conflict.",
		}, []string{"mode"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_duration_seconds",
			Help:      "Wall time spent writing one record, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"mode"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Completed batch runs by result.",
		}, []string{"result"}),
		lastBatch: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_records",
			Help:      "Record counts of the most recent batch run.",
		}, []string{"state"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.records, r.retries, r.duration, r.batches, r.lastBatch,
	)
	return r
}

// ObserveRecord counts one finished record and its duration.
func (r *Recorder) ObserveRecord(mode, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.records.WithLabelValues(mode, outcome).Inc()
	r.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// IncRetry counts one replayed transaction.
func (r *Recorder) IncRetry(mode string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(mode).Inc()
}

// ObserveBatch records the totals of a finished batch.
func (r *Recorder) ObserveBatch(result string, succeeded, failed int) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(result).Inc()
	r.lastBatch.WithLabelValues("succeeded").Set(float64(succeeded))
	r.lastBatch.WithLabelValues("failed").Set(float64(failed))
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
