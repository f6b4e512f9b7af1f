package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so capture components can run without a registry.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Capture metrics
	JobsTotal      *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	StepDuration   *prometheus.HistogramVec
	BodyFetches    *prometheus.CounterVec
	ArchiveErrors  prometheus.Counter
	Replacements   *prometheus.CounterVec
	PoolSize       prometheus.Gauge
	PoolBusy       prometheus.Gauge
	PoolQueueDepth prometheus.Gauge

	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON stats endpoint
type Snapshot struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	JobsSucceeded int64   `json:"jobs_succeeded"`
	JobsFailed    int64   `json:"jobs_failed"`
	ArchiveErrors int64   `json:"archive_errors"`
	AvgJobSeconds float64 `json:"avg_job_seconds"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	jobSeconds float64
}

var latencyBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// NewMetrics registers all collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{startTime: time.Now()}

	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecapture_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagecapture_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"method", "path"},
	)
	m.RequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagecapture_http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)
	m.ResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagecapture_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(1000, 10, 6),
		},
		[]string{"method", "path"},
	)

	m.JobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecapture_jobs_total",
			Help: "Capture jobs by outcome",
		},
		[]string{"outcome"},
	)
	m.JobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagecapture_job_duration_seconds",
			Help:    "Capture job duration in seconds, queue time excluded",
			Buckets: latencyBuckets,
		},
		[]string{"outcome"},
	)
	m.StepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagecapture_step_duration_seconds",
			Help:    "Duration of individual capture steps",
			Buckets: latencyBuckets,
		},
		[]string{"step", "status"},
	)
	m.BodyFetches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecapture_body_fetches_total",
			Help: "Response body fetches by outcome",
		},
		[]string{"outcome"},
	)
	m.ArchiveErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "pagecapture_archive_errors_total",
			Help: "Archives that could not be built",
		},
	)
	m.Replacements = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecapture_context_replacements_total",
			Help: "Execution context replacements by outcome",
		},
		[]string{"outcome"},
	)
	m.PoolSize = factory.NewGauge(prometheus.GaugeOpts{
		Name: "pagecapture_pool_size",
		Help: "Number of execution contexts in the pool",
	})
	m.PoolBusy = factory.NewGauge(prometheus.GaugeOpts{
		Name: "pagecapture_pool_busy",
		Help: "Execution contexts currently running a job",
	})
	m.PoolQueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Name: "pagecapture_pool_queue_depth",
		Help: "Jobs waiting for an execution context",
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pagecapture_uptime_seconds",
		Help: "Service uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordJob records a finished job. outcome is "ok" or the error kind.
func (m *Metrics) RecordJob(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDuration.WithLabelValues(outcome).Observe(duration.Seconds())

	m.mu.Lock()
	if outcome == "ok" {
		m.snapshot.JobsSucceeded++
	} else {
		m.snapshot.JobsFailed++
	}
	m.snapshot.jobSeconds += duration.Seconds()
	m.mu.Unlock()
}

// RecordStep records one runner step
func (m *Metrics) RecordStep(step, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step, status).Observe(duration.Seconds())
}

// RecordBodyFetch counts a response body fetch
func (m *Metrics) RecordBodyFetch(outcome string) {
	if m == nil {
		return
	}
	m.BodyFetches.WithLabelValues(outcome).Inc()
}

// IncArchiveErrors counts an archive that failed to build
func (m *Metrics) IncArchiveErrors() {
	if m == nil {
		return
	}
	m.ArchiveErrors.Inc()
	m.mu.Lock()
	m.snapshot.ArchiveErrors++
	m.mu.Unlock()
}

// RecordReplacement counts an execution context replacement attempt
func (m *Metrics) RecordReplacement(outcome string) {
	if m == nil {
		return
	}
	m.Replacements.WithLabelValues(outcome).Inc()
}

// SetPool publishes pool occupancy
func (m *Metrics) SetPool(size, busy, queued int) {
	if m == nil {
		return
	}
	m.PoolSize.Set(float64(size))
	m.PoolBusy.Set(float64(busy))
	m.PoolQueueDepth.Set(float64(queued))
}

// Snapshot returns the current JSON view
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()

	if jobs := s.JobsSucceeded + s.JobsFailed; jobs > 0 {
		s.AvgJobSeconds = s.jobSeconds / float64(jobs)
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
