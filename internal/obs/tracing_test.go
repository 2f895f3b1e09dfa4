package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerNoneLeavesGlobalProvider(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := InitTracer(context.Background(), TracingConfig{ServiceName: "drone-tax", Exporter: " None "})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.Equal(t, before, otel.GetTracerProvider())
}

func TestInitTracerRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracer(context.Background(), TracingConfig{Exporter: "zipkin"})
	require.ErrorIs(t, err, ErrUnsupportedExporter)
}

func TestSamplingRatio(t *testing.T) {
	require.Equal(t, 1.0, samplingRatio(0))
	require.Equal(t, 1.0, samplingRatio(2))
	require.Equal(t, 0.25, samplingRatio(0.25))
}
