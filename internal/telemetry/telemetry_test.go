package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewDisabledReturnsNoop(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, noopTelemetry{}, tel)

	tel.RecordRun(context.Background(), time.Second, 10, nil)
	tel.RecordLayer(context.Background(), attack.DimensionGroups, 10)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestInstrumentsRecord(t *testing.T) {
	tel, err := newTelemetry(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		tel.RecordRun(ctx, 2*time.Second, 600, nil)
		tel.RecordRun(ctx, time.Second, 0, errors.New("download failed"))
		tel.RecordLayer(ctx, attack.DimensionReferences, 600)
	})
	assert.NoError(t, tel.Shutdown(ctx), "no tracer provider to flush")
}
