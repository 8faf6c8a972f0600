package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())
	assert.False(t, cfg.GetInsecure())
}

func TestConfigOverrides(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		ServiceName:    "custom-sync",
		ServiceVersion: "1.2.3",
		Endpoint:       "collector:4318",
		Insecure:       true,
	}
	assert.Equal(t, "custom-sync", cfg.GetServiceName())
	assert.Equal(t, "1.2.3", cfg.GetServiceVersion())
	assert.Equal(t, "collector:4318", cfg.GetEndpoint())
	assert.True(t, cfg.GetInsecure())
}

func TestTracingConfigGetSampling(t *testing.T) {
	t.Parallel()

	tc := &TracingConfig{}
	assert.InDelta(t, DefaultSampling, tc.GetSampling(), 0.0001)

	tc.Sampling = 0.5
	assert.InDelta(t, 0.5, tc.GetSampling(), 0.0001)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "nil config is valid",
			config:  nil,
			wantErr: false,
		},
		{
			name:    "disabled config skips validation",
			config:  &Config{Enabled: false, Tracing: &TracingConfig{Enabled: true, Sampling: 5.0}},
			wantErr: false,
		},
		{
			name:    "valid sampling",
			config:  &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: 0.25}},
			wantErr: false,
		},
		{
			name:    "sampling above one",
			config:  &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: 1.5}},
			wantErr: true,
		},
		{
			name:    "negative sampling",
			config:  &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: -0.1}},
			wantErr: true,
		},
		{
			name:    "disabled tracing ignores sampling",
			config:  &Config{Enabled: true, Tracing: &TracingConfig{Enabled: false, Sampling: 9.0}},
			wantErr: false,
		},
		{
			name:    "metrics only",
			config:  &Config{Enabled: true, Metrics: &MetricsConfig{Enabled: true}},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
