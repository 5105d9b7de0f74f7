// Package metrics provides Prometheus metrics for the ingestion engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Read metrics
	ReadsTotal   prometheus.Counter
	ReadsFailed  prometheus.Counter
	ReadDuration prometheus.Histogram

	// Pipeline metrics
	BlocksTotal prometheus.Counter
	RowsTotal   prometheus.Counter
	BytesTotal  prometheus.Counter

	// Ingest service metrics
	IngestRequests *prometheus.CounterVec
	IngestDuration prometheus.Histogram
}

// Default holds metrics registered against the default registry.
var Default = New("jsontable")

// New creates a Metrics instance with the given namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		ReadsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_total",
			Help:      "Total number of table reads started",
		}),
		ReadsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_failed_total",
			Help:      "Total number of table reads that failed",
		}),
		ReadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_duration_seconds",
			Help:      "Table read latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		BlocksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Total number of blocks processed",
		}),
		RowsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Total number of rows ingested",
		}),
		BytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total input bytes segmented into blocks",
		}),

		IngestRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_requests_total",
			Help:      "Total ingest requests by status",
		}, []string{"status"}),
		IngestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Ingest request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// RecordRead records one completed table read.
func (m *Metrics) RecordRead(blocks, rows, bytes int64, success bool, duration time.Duration) {
	m.ReadsTotal.Inc()
	m.ReadDuration.Observe(duration.Seconds())
	if !success {
		m.ReadsFailed.Inc()
		return
	}
	m.BlocksTotal.Add(float64(blocks))
	m.RowsTotal.Add(float64(rows))
	m.BytesTotal.Add(float64(bytes))
}

// RecordIngest records one ingest request.
func (m *Metrics) RecordIngest(status string, duration time.Duration) {
	m.IngestRequests.WithLabelValues(status).Inc()
	m.IngestDuration.Observe(duration.Seconds())
}

// Server runs an HTTP server exposing the /metrics endpoint.
type Server struct {
	server *http.Server
}

// NewServer creates a metrics server on the given address.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{server: &http.Server{Addr: addr, Handler: mux}}
}

// StartAsync starts the metrics server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop stops the metrics server.
func (s *Server) Stop() error {
	return s.server.Close()
}
