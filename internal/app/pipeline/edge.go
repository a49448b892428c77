// Package pipeline moves raw samples from the device transport through the
// WAL and queue to the engine.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

// RunEdge starts col and persists every sample it produces before queueing
// it. The returned channel closes once the forwarding goroutine exits.
func RunEdge(ctx context.Context, col ports.Collector, wal ports.WAL, q ports.SampleQueue, pol ports.Policy, obs ports.Observability) (<-chan struct{}, error) {
	ch := make(chan *domain.Sample, pol.MaxQueueLen)
	if err := col.Start(ch); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-ch:
				if s == nil {
					continue
				}
				forward(ctx, s, wal, q, pol, obs)
			}
		}
	}()
	return done, nil
}

func forward(ctx context.Context, s *domain.Sample, wal ports.WAL, q ports.SampleQueue, pol ports.Policy, obs ports.Observability) {
	if !waitForWALCapacity(ctx, wal, pol, obs) {
		obs.IncCounter(ports.MetricQueueDropped, 1)
		return
	}
	id, err := wal.Append(s)
	if err != nil {
		obs.LogCritical("wal_append_failed", err, ports.Field{Key: "channel", Value: s.Channel})
		return
	}
	if !enqueueWithPolicy(ctx, q, id, s, pol, obs) {
		obs.IncCounter(ports.MetricQueueDropped, 1)
	}
}

func idle(pol ports.Policy) time.Duration {
	if pol.IdleSleep <= 0 {
		return 5 * time.Millisecond
	}
	return pol.IdleSleep
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func waitForWALCapacity(ctx context.Context, wal ports.WAL, pol ports.Policy, obs ports.Observability) bool {
	if pol.MaxWALSizeBytes <= 0 {
		return true
	}
	for {
		stats := wal.Stats()
		if stats.SizeBytes < pol.MaxWALSizeBytes {
			return true
		}
		switch pol.OnWALFull {
		case ports.OnFullBlock:
			if !sleep(ctx, idle(pol)) {
				return false
			}
		case ports.OnFullDrop, ports.OnFullReject:
			obs.LogError("wal_full_drop", fmt.Errorf("size=%d limit=%d", stats.SizeBytes, pol.MaxWALSizeBytes))
			return false
		default:
			obs.LogError("wal_policy_invalid", fmt.Errorf("policy=%s", pol.OnWALFull))
			return false
		}
	}
}

func enqueueWithPolicy(ctx context.Context, q ports.SampleQueue, id ports.WALEntryID, s *domain.Sample, pol ports.Policy, obs ports.Observability) bool {
	for {
		if q.Enqueue(id, s) {
			return true
		}
		switch pol.OnQueueFull {
		case ports.OnFullBlock:
			if !sleep(ctx, idle(pol)) {
				return false
			}
		case ports.OnFullDrop, ports.OnFullReject:
			obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen),
				ports.Field{Key: "channel", Value: s.Channel})
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}

// ReplayWAL re-queues every uncommitted WAL entry, oldest first.
func ReplayWAL(ctx context.Context, wal ports.WAL, q ports.SampleQueue, pol ports.Policy, obs ports.Observability) (int, error) {
	stats := wal.Stats()
	if stats.LatestAppended == 0 || stats.OldestUncommitted == 0 || stats.OldestUncommitted > stats.LatestAppended {
		return 0, nil
	}

	var replayed int
	err := wal.Iterate(stats.OldestUncommitted, func(id ports.WALEntryID, s *domain.Sample) error {
		for !q.Enqueue(id, s) {
			if pol.OnQueueFull != ports.OnFullBlock {
				return fmt.Errorf("queue full during WAL replay at entry %d", id)
			}
			if !sleep(ctx, idle(pol)) {
				return ctx.Err()
			}
		}
		replayed++
		return nil
	})
	if err != nil {
		return replayed, err
	}
	if replayed > 0 {
		obs.LogInfo("wal_replay_complete",
			ports.Field{Key: "samples", Value: replayed},
			ports.Field{Key: "from_id", Value: uint64(stats.OldestUncommitted)})
	}
	return replayed, nil
}
