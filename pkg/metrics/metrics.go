// Package metrics defines the Prometheus metric set of the ingestion
// service. All metrics live on an explicit registry owned by the caller;
// nothing is registered globally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the service emits.
type Metrics struct {
	registry *prometheus.Registry

	ChunksUploaded      prometheus.Counter
	BytesUploaded       prometheus.Counter
	ChunkUploadFailures prometheus.Counter
	Retries             prometheus.Counter
	ThrottledRequests   *prometheus.CounterVec

	TaskQueueDepth prometheus.Gauge
	InflightChunks prometheus.Gauge
	WorkerCount    prometheus.Gauge
	WorkerBusy     prometheus.Gauge

	StoragePutLatency   prometheus.Histogram
	DBUpdateLatency     prometheus.Histogram
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the metric set on a fresh registry, including the standard
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Metrics{
		registry: reg,
		ChunksUploaded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chunks_uploaded_total",
			Help: "Number of chunks persisted successfully.",
		}),
		BytesUploaded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bytes_uploaded_total",
			Help: "Number of chunk payload bytes persisted successfully.",
		}),
		ChunkUploadFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chunk_upload_failures_total",
			Help: "Number of chunk persistence attempts that failed permanently.",
		}),
		Retries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "retries_total",
			Help: "Number of chunk persistence retry attempts.",
		}),
		ThrottledRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "throttled_requests_total",
			Help: "Number of requests rejected with 429, by reason.",
		}, []string{"reason"}),
		TaskQueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "task_queue_depth",
			Help: "Number of chunk tasks waiting for a worker.",
		}),
		InflightChunks: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "inflight_chunks",
			Help: "Number of chunk tasks admitted and not yet finished.",
		}),
		WorkerCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "worker_count",
			Help: "Current number of pool workers.",
		}),
		WorkerBusy: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "worker_busy_count",
			Help: "Number of pool workers currently executing a task.",
		}),
		StoragePutLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "s3_put_latency_seconds",
			Help:    "Latency of chunk writes to the storage backend.",
			Buckets: prometheus.DefBuckets,
		}),
		DBUpdateLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "db_update_latency_seconds",
			Help:    "Latency of metadata transactions.",
			Buckets: prometheus.DefBuckets,
		}),
		HTTPRequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration by method, route and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status_code"}),
	}
}

// Handler returns the scrape endpoint for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
