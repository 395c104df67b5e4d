// Package metrics exposes pipeline and serving measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives measurements from the pipeline and the prediction API.
type Recorder interface {
	StageCompleted(stage string, d time.Duration)
	SubstepFailed(stage, step string)
	ObserveTraining(model string, d time.Duration)
	PredictionServed(status string, d time.Duration)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) StageCompleted(string, time.Duration)   {}
func (Nop) SubstepFailed(string, string)           {}
func (Nop) ObserveTraining(string, time.Duration)  {}
func (Nop) PredictionServed(string, time.Duration) {}

// Prometheus records into collectors registered on one registry.
type Prometheus struct {
	stageDuration      *prometheus.HistogramVec
	substepFailures    *prometheus.CounterVec
	trainingSeconds    *prometheus.HistogramVec
	predictionRequests *prometheus.CounterVec
	predictionLatency  prometheus.Histogram

	requestDuration *prometheus.HistogramVec
	requestCounter  *prometheus.CounterVec
	activeRequests  prometheus.Gauge

	hostMemory prometheus.Gauge
	hostCPU    prometheus.Gauge
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"stage"},
		),
		substepFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_substep_failures_total",
				Help: "Total number of recoverable sub-step failures",
			},
			[]string{"stage", "step"},
		),
		trainingSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "model_training_seconds",
				Help:    "Wall-clock model fitting time in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"model"},
		),
		predictionRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_requests_total",
				Help: "Total number of prediction requests",
			},
			[]string{"status"},
		),
		predictionLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prediction_latency_seconds",
				Help:    "Latency of prediction requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		requestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_count_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		activeRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_request_active",
				Help: "Number of active HTTP requests",
			},
		),
		hostMemory: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_memory_used_bytes",
				Help: "Host memory in use at the last collection",
			},
		),
		hostCPU: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_cpu_percent",
				Help: "Host CPU utilisation at the last collection",
			},
		),
	}
}

func (p *Prometheus) StageCompleted(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *Prometheus) SubstepFailed(stage, step string) {
	p.substepFailures.WithLabelValues(stage, step).Inc()
}

func (p *Prometheus) ObserveTraining(model string, d time.Duration) {
	p.trainingSeconds.WithLabelValues(model).Observe(d.Seconds())
}

func (p *Prometheus) PredictionServed(status string, d time.Duration) {
	p.predictionRequests.WithLabelValues(status).Inc()
	p.predictionLatency.Observe(d.Seconds())
}

// ObserveSystem stores a system snapshot in the host gauges.
func (p *Prometheus) ObserveSystem(memoryBytes int64, cpuPercent float64) {
	p.hostMemory.Set(float64(memoryBytes))
	p.hostCPU.Set(cpuPercent)
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
