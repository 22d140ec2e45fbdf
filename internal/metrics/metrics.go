// Package metrics instruments the engine's own operation, separate from
// whatever metrics the filesystem bridge collects at the kernel boundary:
// a narrow Handle interface, an OTel-backed implementation, and a no-op
// fallback for callers that mount without a configured meter provider.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Handle is the engine-wide metrics surface: WAL commit/abort accounting,
// compression ratio, arena high-water marks, rebalance count, recovery
// replay count, and lock wait time.
type Handle interface {
	WALCommit(ctx context.Context, latency time.Duration)
	WALAbort(ctx context.Context)
	CompressionRatio(ctx context.Context, ratio float64)
	ArenaHighWater(ctx context.Context, bytes int64)
	RebalanceCount(ctx context.Context, inc int64)
	RecoveryReplay(ctx context.Context, replayed, discarded int64)
	LockWait(ctx context.Context, latency time.Duration)
}

var latencyDistributionUs = metric.WithExplicitBucketBoundaries(
	10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 25000, 50000, 100000, 250000, 500000, 1000000,
)

type otelHandle struct {
	walCommitCount    metric.Int64Counter
	walCommitLatency  metric.Float64Histogram
	walAbortCount     metric.Int64Counter
	compressionRatio  metric.Float64Histogram
	arenaHighWater    metric.Int64Gauge
	rebalanceCount    metric.Int64Counter
	recoveryReplayed  metric.Int64Counter
	recoveryDiscarded metric.Int64Counter
	lockWaitLatency   metric.Float64Histogram
}

// New builds an OTel-backed Handle against the global meter provider,
// under the "razorfs" meter name.
func New() (Handle, error) {
	meter := otel.Meter("razorfs")

	walCommitCount, err1 := meter.Int64Counter("wal/commit_count",
		metric.WithDescription("Cumulative number of WAL transactions committed."))
	walCommitLatency, err2 := meter.Float64Histogram("wal/commit_latency",
		metric.WithDescription("Distribution of WAL commit latency, BEGIN through fsync'd COMMIT."),
		metric.WithUnit("us"), latencyDistributionUs)
	walAbortCount, err3 := meter.Int64Counter("wal/abort_count",
		metric.WithDescription("Cumulative number of WAL transactions aborted or left incomplete."))
	compressionRatio, err4 := meter.Float64Histogram("block/compression_ratio",
		metric.WithDescription("Distribution of stored-to-logical byte ratio across written blocks."))
	arenaHighWater, err5 := meter.Int64Gauge("arena/high_water_bytes",
		metric.WithDescription("Current high-water mark of persisted arena payload bytes."), metric.WithUnit("By"))
	rebalanceCount, err6 := meter.Int64Counter("tree/rebalance_count",
		metric.WithDescription("Cumulative number of node-arena rebalance passes run."))
	recoveryReplayed, err7 := meter.Int64Counter("recovery/replayed_count",
		metric.WithDescription("Cumulative number of WAL sub-operation records replayed at mount."))
	recoveryDiscarded, err8 := meter.Int64Counter("recovery/discarded_count",
		metric.WithDescription("Cumulative number of WAL sub-operation records discarded as incomplete at mount."))
	lockWaitLatency, err9 := meter.Float64Histogram("lock/wait_latency",
		metric.WithDescription("Distribution of time spent waiting to acquire a node lock."),
		metric.WithUnit("us"), latencyDistributionUs)

	for _, err := range []error{err1, err2, err3, err4, err5, err6, err7, err8, err9} {
		if err != nil {
			return nil, err
		}
	}

	return &otelHandle{
		walCommitCount:    walCommitCount,
		walCommitLatency:  walCommitLatency,
		walAbortCount:     walAbortCount,
		compressionRatio:  compressionRatio,
		arenaHighWater:    arenaHighWater,
		rebalanceCount:    rebalanceCount,
		recoveryReplayed:  recoveryReplayed,
		recoveryDiscarded: recoveryDiscarded,
		lockWaitLatency:   lockWaitLatency,
	}, nil
}

func (o *otelHandle) WALCommit(ctx context.Context, latency time.Duration) {
	o.walCommitCount.Add(ctx, 1)
	o.walCommitLatency.Record(ctx, float64(latency.Microseconds()))
}

func (o *otelHandle) WALAbort(ctx context.Context) {
	o.walAbortCount.Add(ctx, 1)
}

func (o *otelHandle) CompressionRatio(ctx context.Context, ratio float64) {
	o.compressionRatio.Record(ctx, ratio)
}

func (o *otelHandle) ArenaHighWater(ctx context.Context, bytes int64) {
	o.arenaHighWater.Record(ctx, bytes)
}

func (o *otelHandle) RebalanceCount(ctx context.Context, inc int64) {
	o.rebalanceCount.Add(ctx, inc)
}

func (o *otelHandle) RecoveryReplay(ctx context.Context, replayed, discarded int64) {
	o.recoveryReplayed.Add(ctx, replayed)
	o.recoveryDiscarded.Add(ctx, discarded)
}

func (o *otelHandle) LockWait(ctx context.Context, latency time.Duration) {
	o.lockWaitLatency.Record(ctx, float64(latency.Microseconds()))
}

// NewNoop returns a Handle whose every method is a no-op, for mounts that
// don't want the OTel SDK's overhead (tests, short-lived tooling).
func NewNoop() Handle { return noopHandle{} }

type noopHandle struct{}

func (noopHandle) WALCommit(context.Context, time.Duration)       {}
func (noopHandle) WALAbort(context.Context)                       {}
func (noopHandle) CompressionRatio(context.Context, float64)      {}
func (noopHandle) ArenaHighWater(context.Context, int64)          {}
func (noopHandle) RebalanceCount(context.Context, int64)          {}
func (noopHandle) RecoveryReplay(context.Context, int64, int64)   {}
func (noopHandle) LockWait(context.Context, time.Duration)        {}
