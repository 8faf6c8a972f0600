package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewTracerProvider(t *testing.T) {
	t.Parallel()

	t.Run("returns no-op provider without tracing config", func(t *testing.T) {
		t.Parallel()

		tp, err := NewTracerProvider(context.Background())
		require.NoError(t, err)
		require.NotNil(t, tp)
		assert.IsType(t, noop.NewTracerProvider(), tp)
	})

	t.Run("returns no-op provider when tracing disabled", func(t *testing.T) {
		t.Parallel()

		tp, err := NewTracerProvider(context.Background(),
			WithTracingConfig(&TracingConfig{Enabled: false}),
			WithTracerServiceName("test-service"),
			WithTracerServiceVersion("0.0.1"),
		)
		require.NoError(t, err)
		require.NotNil(t, tp)
		assert.IsType(t, noop.NewTracerProvider(), tp)
	})
}
