package obs_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/drone-tax/internal/obs"
)

func TestImportMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterImportMetrics("taxtest", registry)
	obs.MustRegisterImportMetrics("taxtest", registry)

	obs.AddImportRows("imported", 3)
	obs.AddImportRows("invalid", 0)
	obs.ObserveCacheLookups(2, 1)
	obs.ObserveChunk("committed", 15*time.Millisecond)
	obs.ObserveGeometryBatch(4*time.Millisecond, 12)
	obs.IncImportRun("completed")

	require.Equal(t, float64(3), testutil.ToFloat64(obs.ImportRowsTotal.WithLabelValues("imported")))
	require.Equal(t, float64(2), testutil.ToFloat64(obs.TaxCacheLookups.WithLabelValues("hit")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.TaxCacheLookups.WithLabelValues("miss")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.ImportRunsTotal.WithLabelValues("completed")))
	require.Equal(t, 1, testutil.CollectAndCount(obs.ImportChunkDuration))
	require.Equal(t, 1, testutil.CollectAndCount(obs.GeometryBatchDuration))
}
