package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes download metrics.
type Collector struct {
	registry      *prometheus.Registry
	chunksTotal   *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec
	bytesTotal    prometheus.Counter
	chunkDuration prometheus.Histogram
	runDuration   prometheus.Histogram
}

// New creates a new metrics collector with its own registry, so multiple
// runs in one process never fight over metric registration.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "download_chunks_total",
				Help: "Total number of chunks processed",
			},
			[]string{"status"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "download_runs_total",
				Help: "Total number of runs processed",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "download_bytes_total",
				Help: "Total bytes downloaded",
			},
		),
		chunkDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "download_chunk_duration_seconds",
				Help:    "Time taken to download one chunk",
				Buckets: prometheus.DefBuckets,
			},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "download_run_duration_seconds",
				Help:    "Time taken to download one run",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
	}

	c.registry.MustRegister(c.chunksTotal)
	c.registry.MustRegister(c.runsTotal)
	c.registry.MustRegister(c.bytesTotal)
	c.registry.MustRegister(c.chunkDuration)
	c.registry.MustRegister(c.runDuration)

	return c
}

// IncChunk increments the chunk counter for the given status.
func (c *Collector) IncChunk(status string) {
	c.chunksTotal.WithLabelValues(status).Inc()
}

// IncRun increments the run counter for the given terminal state.
func (c *Collector) IncRun(status string) {
	c.runsTotal.WithLabelValues(status).Inc()
}

// AddBytes adds to the total bytes downloaded.
func (c *Collector) AddBytes(bytes int64) {
	c.bytesTotal.Add(float64(bytes))
}

// ObserveChunkDuration observes one chunk's download duration.
func (c *Collector) ObserveChunkDuration(d time.Duration) {
	c.chunkDuration.Observe(d.Seconds())
}

// ObserveRunDuration observes one run's total duration.
func (c *Collector) ObserveRunDuration(d time.Duration) {
	c.runDuration.Observe(d.Seconds())
}

// StartServer serves /metrics on addr, blocking until the server fails.
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
