// Package metrics holds the prometheus collectors of the resize service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
)

// Batch results
const (
	ResultSuccess    = "success"
	ResultInvalid    = "invalid"
	ResultError      = "error"
	ResultUploadFail = "upload_failed"
)

// Metrics groups the service collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	Batches       *prometheus.CounterVec
	Variants      *prometheus.CounterVec
	BatchDuration prometheus.Histogram
	Uploads       *prometheus.CounterVec
}

// New registers the collectors. The gate gauges read gate on every scrape.
func New(gate *resize.Gate) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resize_batches_total",
			Help: "Resize batches by result.",
		}, []string{"result"}),
		Variants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resize_variants_total",
			Help: "Requested sizes by outcome.",
		}, []string{"outcome"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "resize_batch_duration_seconds",
			Help:    "Time from decode to the last encoded variant.",
			Buckets: prometheus.DefBuckets,
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resize_uploads_total",
			Help: "Variant uploads by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(m.Batches, m.Variants, m.BatchDuration, m.Uploads)
	if gate != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "resize_gate_in_use",
				Help: "Resize permits currently held.",
			}, func() float64 { return float64(gate.InUse()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "resize_gate_capacity",
				Help: "Resize permits available in total.",
			}, func() float64 { return float64(gate.Size()) }),
		)
	}
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBatch records one finished batch.
func (m *Metrics) ObserveBatch(result string, produced, skipped int, took time.Duration) {
	m.Batches.WithLabelValues(result).Inc()
	m.Variants.WithLabelValues("produced").Add(float64(produced))
	m.Variants.WithLabelValues("skipped").Add(float64(skipped))
	m.BatchDuration.Observe(took.Seconds())
}

// ObserveUpload records one upload; it satisfies upload.Observer.
func (m *Metrics) ObserveUpload(err error) {
	if err != nil {
		m.Uploads.WithLabelValues(ResultError).Inc()
		return
	}
	m.Uploads.WithLabelValues(ResultSuccess).Inc()
}
