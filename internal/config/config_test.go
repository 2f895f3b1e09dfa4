package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/drone-tax/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":          "postgres://localhost/tax",
		"IMPORT_CHUNK_SIZE":     "",
		"IMPORT_WORKERS":        "",
		"SERVICE_REGION_BOUNDS": "",
		"TAX_TIMEZONE":          "",
		"OBS_LOG_FORMAT":        "",
	})
	require.NoError(t, err)
	require.NoError(t, cfg.RequireDatabase())
	require.Equal(t, 500, cfg.Import.ChunkSize)
	require.Equal(t, 4, cfg.Import.Workers)
	require.Equal(t, 10, cfg.Import.MaxReportedErrors)
	require.Equal(t, 10*time.Minute, cfg.Import.LockTTL)
	require.Equal(t, "America/New_York", cfg.Import.TimeZone.String())
	require.InDelta(t, 40.49, cfg.Import.ServiceRegion.MinLat, 1e-9)
	require.InDelta(t, -71.78, cfg.Import.ServiceRegion.MaxLon, 1e-9)
	require.Equal(t, "json", cfg.Obs.LogFormat)
	require.Equal(t, "otlp", cfg.Obs.TracingExporter)
}

func TestRequireDatabase(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{"DATABASE_URL": ""})
	require.NoError(t, err)
	require.ErrorIs(t, cfg.RequireDatabase(), config.ErrDatabaseURLRequired)

	cfg, err = config.LoadForTests(map[string]string{"DATABASE_URL": "postgres://localhost/tax"})
	require.NoError(t, err)
	require.NoError(t, cfg.RequireDatabase())
}

func TestLoadRejectsOutOfRange(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":   "postgres://localhost/tax",
		"IMPORT_WORKERS": "0",
	})
	require.Error(t, err)

	_, err = config.LoadForTests(map[string]string{
		"DATABASE_URL":          "postgres://localhost/tax",
		"SERVICE_REGION_BOUNDS": "1,2,3",
	})
	require.Error(t, err)
}

func TestLoadTracingExporter(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{"OBS_TRACING_EXPORTER": "NONE"})
	require.NoError(t, err)
	require.Equal(t, "none", cfg.Obs.TracingExporter)

	_, err = config.LoadForTests(map[string]string{"OBS_TRACING_EXPORTER": "jaeger"})
	require.Error(t, err)
}
