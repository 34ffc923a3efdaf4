// Package anomaly implements the thread-safe anomaly sink and metrics
// registry described in spec.md §4.1/§5: a mutex-guarded collector of typed
// failure/warning records, plus counters and log-scale histograms exported
// through prometheus/client_golang.
package anomaly

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hatlesswizard/ucg/pkg/rows"
)

// Sink collects AnomalyRows under a single mutex, the only genuinely shared
// piece of builder state besides the metrics registry itself (spec.md §5).
type Sink struct {
	mu      sync.Mutex
	records []rows.AnomalyRow
	metrics *Metrics
	log     *zap.Logger
}

// NewSink builds a Sink backed by the given Metrics registry and logger. If
// logger is nil, a no-op logger is used.
func NewSink(metrics *Metrics, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{metrics: metrics, log: logger}
}

// Record appends an AnomalyRow, bumps its kind/severity counter, and logs
// it at a level matching its severity. now is the caller-supplied unix-nano
// timestamp (this package never calls time.Now so behavior stays
// deterministic under replay).
func (s *Sink) Record(row rows.AnomalyRow, now int64) {
	row.Timestamp = now

	s.mu.Lock()
	s.records = append(s.records, row)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Observe(row)
	}

	fields := []zap.Field{
		zap.String("kind", string(row.Kind)),
		zap.String("path", row.Path),
		zap.String("detail", row.Detail),
	}
	switch row.Severity {
	case rows.SevError:
		s.log.Error("anomaly", fields...)
	case rows.SevWarn:
		s.log.Warn("anomaly", fields...)
	default:
		s.log.Info("anomaly", fields...)
	}
}

// Snapshot returns a copy of every recorded anomaly so far.
func (s *Sink) Snapshot() []rows.AnomalyRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rows.AnomalyRow, len(s.records))
	copy(out, s.records)
	return out
}

// Count returns the number of anomalies recorded so far.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Metrics is the lock-protected counters/histograms registry spec.md §5
// calls out as the second genuinely shared resource. Histograms use
// log-scale (exponential) buckets so that rare, large spans don't blow out
// the resolution of common, small ones.
type Metrics struct {
	registry *prometheus.Registry

	anomalyTotal  *prometheus.CounterVec
	filesTotal    prometheus.Counter
	filesParsed   prometheus.Counter
	rowsEmitted   *prometheus.CounterVec
	fileBytes     prometheus.Histogram
	flushBytes    prometheus.Histogram
}

// NewMetrics builds a Metrics registry with fresh collectors. Each run of the
// pipeline should construct its own, mirroring prometheus's convention of
// one Registry per process/test rather than relying on the global default.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		anomalyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ucg_anomaly_total",
			Help: "Count of anomalies recorded, by kind and severity.",
		}, []string{"kind", "severity"}),
		filesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ucg_files_total",
			Help: "Files discovered for this run.",
		}),
		filesParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ucg_files_parsed_total",
			Help: "Files successfully parsed into at least a FILE node.",
		}),
		rowsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ucg_rows_emitted_total",
			Help: "Rows emitted, by table.",
		}, []string{"table"}),
		fileBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ucg_file_bytes",
			Help:    "Size in bytes of processed files (log-scale buckets).",
			Buckets: prometheus.ExponentialBuckets(64, 4, 12), // 64B .. 256MB
		}),
		flushBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ucg_store_flush_bytes",
			Help:    "Estimated bytes per Store flush (log-scale buckets).",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12), // 1KB .. 4GB
		}),
	}
	reg.MustRegister(m.anomalyTotal, m.filesTotal, m.filesParsed, m.rowsEmitted, m.fileBytes, m.flushBytes)
	return m
}

// Registry exposes the underlying prometheus registry for a /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records one anomaly in the counters.
func (m *Metrics) Observe(row rows.AnomalyRow) {
	m.anomalyTotal.WithLabelValues(string(row.Kind), string(row.Severity)).Inc()
}

// FileDiscovered increments the files_total counter.
func (m *Metrics) FileDiscovered() { m.filesTotal.Inc() }

// FileParsed increments files_parsed and records the file's size.
func (m *Metrics) FileParsed(sizeBytes int64) {
	m.filesParsed.Inc()
	if sizeBytes > 0 {
		m.fileBytes.Observe(float64(sizeBytes))
	}
}

// RowEmitted increments the per-table row counter.
func (m *Metrics) RowEmitted(table string) { m.rowsEmitted.WithLabelValues(table).Inc() }

// FlushObserved records the estimated byte size of a Store flush.
func (m *Metrics) FlushObserved(bytes int64) {
	if bytes > 0 {
		m.flushBytes.Observe(float64(bytes))
	}
}
