package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	importOnce sync.Once

	// ImportRowsTotal counts input rows by outcome: imported, invalid or failed.
	ImportRowsTotal *prometheus.CounterVec
	// ImportChunkDuration records chunk processing latency in milliseconds.
	ImportChunkDuration *prometheus.HistogramVec
	// ImportRunsTotal counts finished or rejected import runs.
	ImportRunsTotal *prometheus.CounterVec
	// TaxCacheLookups counts cache diff results by hit or miss.
	TaxCacheLookups *prometheus.CounterVec
	// GeometryBatchDuration records batch containment query latency in milliseconds.
	GeometryBatchDuration prometheus.Histogram
	// GeometryBatchPoints records how many points each containment query carried.
	GeometryBatchPoints prometheus.Histogram
)

// MustRegisterImportMetrics initialises and registers import and resolution collectors.
// Until it is called every Observe helper is a no-op.
func MustRegisterImportMetrics(namespace string, reg prometheus.Registerer) {
	importOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		rows := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Count of import rows by outcome.",
		}, []string{"result"})
		chunks := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_chunk_duration_ms",
			Help:      "Latency for processing and committing one import chunk in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"result"})
		runs := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_runs_total",
			Help:      "Count of import runs by outcome.",
		}, []string{"result"})
		lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_cache_lookups_total",
			Help:      "Count of tax cache lookups by result.",
		}, []string{"result"})
		geoDur := prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geometry_batch_duration_ms",
			Help:      "Latency for batched point-in-polygon queries in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		})
		geoPoints := prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geometry_batch_points",
			Help:      "Number of points carried by each batched containment query.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		})

		ImportRowsTotal = mustRegisterCollector(reg, rows)
		ImportChunkDuration = mustRegisterCollector(reg, chunks)
		ImportRunsTotal = mustRegisterCollector(reg, runs)
		TaxCacheLookups = mustRegisterCollector(reg, lookups)
		GeometryBatchDuration = mustRegisterCollector(reg, geoDur)
		GeometryBatchPoints = mustRegisterCollector(reg, geoPoints)
	})
}

func mustRegisterCollector[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
			return collector
		}
		panic(fmt.Errorf("register import metric: %w", err))
	}
	return collector
}

// DurationMillis converts a duration to milliseconds for metric observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// AddImportRows records n rows with the given outcome.
func AddImportRows(result string, n int) {
	if ImportRowsTotal == nil || n <= 0 {
		return
	}
	ImportRowsTotal.WithLabelValues(result).Add(float64(n))
}

// ObserveChunk records one chunk's outcome and latency.
func ObserveChunk(result string, d time.Duration) {
	if ImportChunkDuration == nil {
		return
	}
	ImportChunkDuration.WithLabelValues(result).Observe(DurationMillis(d))
}

// IncImportRun records a run outcome.
func IncImportRun(result string) {
	if ImportRunsTotal == nil {
		return
	}
	ImportRunsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheLookups records cache hits and misses from one diff.
func ObserveCacheLookups(hits, misses int) {
	if TaxCacheLookups == nil {
		return
	}
	if hits > 0 {
		TaxCacheLookups.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		TaxCacheLookups.WithLabelValues("miss").Add(float64(misses))
	}
}

// ObserveGeometryBatch records one containment round trip.
func ObserveGeometryBatch(d time.Duration, points int) {
	if GeometryBatchDuration == nil {
		return
	}
	GeometryBatchDuration.Observe(DurationMillis(d))
	GeometryBatchPoints.Observe(float64(points))
}
