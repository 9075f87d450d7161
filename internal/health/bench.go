package health

import (
	"context"
	"fmt"

	"github.com/zsiec/fcbus/internal/harness"
	"github.com/zsiec/fcbus/internal/queue"
)

// SnapshotFunc returns the current bench counters.
type SnapshotFunc func() harness.Snapshot

// BenchChecker reports the bench down once the streamer has failed, and degraded once
// any frame has miscompared.
type BenchChecker struct {
	snapshot SnapshotFunc
}

// NewBenchChecker creates a checker over a bench snapshot.
func NewBenchChecker(snapshot SnapshotFunc) *BenchChecker {
	return &BenchChecker{snapshot: snapshot}
}

func (b *BenchChecker) Name() string {
	return "bench"
}

func (b *BenchChecker) Check(ctx context.Context) error {
	snap := b.snapshot()
	if snap.Error != "" {
		return fmt.Errorf("streamer failed: %s", snap.Error)
	}
	if snap.Failures > 0 {
		return Degraded(fmt.Sprintf("%d of %d frames failed the check", snap.Failures, snap.Frames))
	}
	return nil
}

func (b *BenchChecker) Details() map[string]interface{} {
	snap := b.snapshot()
	return map[string]interface{}{
		"run_id":   snap.RunID,
		"width":    snap.Width,
		"running":  snap.Running,
		"cycles":   snap.Cycles,
		"frames":   snap.Frames,
		"failures": snap.Failures,
		"state":    snap.Streamer.State.String(),
	}
}

// QueueStatsFunc returns the stats of a frame queue.
type QueueStatsFunc func() queue.Stats

// QueueChecker reports a frame queue degraded above a pressure threshold.
type QueueChecker struct {
	stats     QueueStatsFunc
	threshold float64
}

// NewQueueChecker creates a checker that degrades at threshold pressure (0..1).
func NewQueueChecker(stats QueueStatsFunc, threshold float64) *QueueChecker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.9
	}
	return &QueueChecker{stats: stats, threshold: threshold}
}

func (q *QueueChecker) Name() string {
	return "queue"
}

func (q *QueueChecker) Check(ctx context.Context) error {
	s := q.stats()
	if s.Pressure >= q.threshold {
		return Degraded(fmt.Sprintf("queue %s at %.0f%% pressure", s.Name, s.Pressure*100))
	}
	return nil
}

func (q *QueueChecker) Details() map[string]interface{} {
	s := q.stats()
	return map[string]interface{}{
		"depth":    s.Depth,
		"spilled":  s.Spilled,
		"pressure": s.Pressure,
	}
}
