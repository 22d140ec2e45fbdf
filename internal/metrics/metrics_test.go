package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupOTel(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	return reader
}

func TestWALCommitRecordsCountAndLatency(t *testing.T) {
	reader := setupOTel(t)
	h, err := New()
	require.NoError(t, err)

	h.WALCommit(context.Background(), 5*time.Millisecond)

	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &data))
	require.NotEmpty(t, data.ScopeMetrics)
}

func TestNoopHandleNeverPanics(t *testing.T) {
	h := NewNoop()
	ctx := context.Background()
	h.WALCommit(ctx, time.Second)
	h.WALAbort(ctx)
	h.CompressionRatio(ctx, 0.5)
	h.ArenaHighWater(ctx, 1024)
	h.RebalanceCount(ctx, 1)
	h.RecoveryReplay(ctx, 1, 0)
	h.LockWait(ctx, time.Millisecond)
}
