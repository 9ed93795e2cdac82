package exporters

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracingExporter(t *testing.T) {
	Stdout = io.Discard
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")

	tests := []struct {
		name    string
		wantNil bool
		wantErr error
	}{
		{name: "stdout"},
		{name: "none", wantNil: true},
		{name: "", wantNil: true},
		{name: "otlp", wantNil: true, wantErr: ErrEndpointNotConfigured},
		{name: "zipkin", wantNil: true, wantErr: ErrUnknownExporter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, err := NewTracingExporter(context.Background(), tt.name)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNil, exp == nil)
		})
	}
}

func TestNewMetricsReader(t *testing.T) {
	Stdout = io.Discard
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")

	for _, name := range []string{"stdout", "none", ""} {
		reader, err := NewMetricsReader(context.Background(), name)
		require.NoError(t, err, name)
		require.NotNil(t, reader, name)
	}

	_, err := NewMetricsReader(context.Background(), "otlp")
	assert.ErrorIs(t, err, ErrEndpointNotConfigured)
	_, err = NewMetricsReader(context.Background(), "statsd")
	assert.ErrorIs(t, err, ErrUnknownExporter)
}
