// Package metrics provides Prometheus collectors for the gateway,
// exposed at /metrics via promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Generation ─────────────────────────────────────────────────────────────

// GenerateLatency tracks end-to-end /v1/generate duration.
var GenerateLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "inferencegate",
	Name:      "generate_latency_seconds",
	Help:      "Generation request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"model_id", "modality", "status"})

// GenerateRequests counts generation requests by terminal status.
var GenerateRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "inferencegate",
	Name:      "generate_requests_total",
	Help:      "Total generation requests by terminal status.",
}, []string{"model_id", "modality", "status"})

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// ModelsLoaded tracks the number of currently materialized model instances.
var ModelsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "inferencegate",
	Name:      "models_loaded",
	Help:      "Number of currently loaded model instances.",
})

// ModelLoadLatency tracks cold-load materialization duration.
var ModelLoadLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "inferencegate",
	Name:      "model_load_latency_seconds",
	Help:      "Model materialization duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
}, []string{"model_id"})

// ModelEvictions counts evictions by reason.
var ModelEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "inferencegate",
	Name:      "model_evictions_total",
	Help:      "Total model evictions by reason.",
}, []string{"reason"})

// ─── Queue ──────────────────────────────────────────────────────────────────

// QueueDepth tracks the current FIFO depth per model.
var QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "inferencegate",
	Name:      "queue_depth",
	Help:      "Current queue depth per model.",
}, []string{"model_id"})

// QueueRejections counts requests rejected with queue_full.
var QueueRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "inferencegate",
	Name:      "queue_rejections_total",
	Help:      "Total requests rejected for queue_full per model.",
}, []string{"model_id"})

// ─── Providers ──────────────────────────────────────────────────────────────

// ProviderDiscoveryRefreshes counts discovery cache refreshes by provider
// and outcome.
var ProviderDiscoveryRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "inferencegate",
	Name:      "provider_discovery_refreshes_total",
	Help:      "Total provider discovery refreshes by provider and outcome.",
}, []string{"provider", "outcome"})

// ProviderCircuitState tracks the circuit breaker state per provider
// (0=closed, 1=open, 2=half_open).
var ProviderCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "inferencegate",
	Name:      "provider_circuit_state",
	Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half_open).",
}, []string{"provider"})

// ─── Downloads ──────────────────────────────────────────────────────────────

// DownloadJobsActive tracks in-flight download jobs.
var DownloadJobsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "inferencegate",
	Name:      "download_jobs_active",
	Help:      "Number of currently running download jobs.",
})

// DiskUsageBytes tracks model-root disk usage.
var DiskUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "inferencegate",
	Name:      "disk_usage_bytes",
	Help:      "Current disk usage of the model root in bytes.",
})

// ─── Artifacts ──────────────────────────────────────────────────────────────

// ArtifactsStored counts artifacts written, by type.
var ArtifactsStored = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "inferencegate",
	Name:      "artifacts_stored_total",
	Help:      "Total artifacts written by type.",
}, []string{"type"})
