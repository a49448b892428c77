package pipeline

import (
	"context"
	"time"

	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

// Deliver hands a calibrated batch to the engine goroutine and returns once
// the engine has processed it.
type Deliver func(ctx context.Context, batch []*domain.Sample) error

// Ingest drains the queue into the engine. Archive is optional.
type Ingest struct {
	WAL         ports.WAL
	Queue       ports.SampleQueue
	Transformer ports.Transformer
	Archive     ports.Sink
	Deliver     Deliver
	Policy      ports.Policy
	Obs         ports.Observability
}

// Run processes batches until ctx is cancelled.
func (in *Ingest) Run(ctx context.Context) error {
	rq, _ := in.Queue.(ports.Notifier)
	for {
		n, err := in.Step(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if rq != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-rq.Ready():
			case <-time.After(idle(in.Policy) * 20):
			}
			continue
		}
		if !sleep(ctx, idle(in.Policy)) {
			return nil
		}
	}
}

// Step processes at most one batch and reports how many samples it dequeued.
// WAL entries are committed once the engine has the batch; the archive write
// does not hold the commit back.
func (in *Ingest) Step(ctx context.Context) (int, error) {
	batch := in.Queue.DequeueBatch(in.Policy.MaxBatchSize)
	if len(batch) == 0 {
		return 0, nil
	}

	var (
		out   = make([]*domain.Sample, 0, len(batch))
		maxID ports.WALEntryID
	)
	for _, item := range batch {
		if item.ID > maxID {
			maxID = item.ID
		}
		s, err := in.Transformer.Transform(item.Sample)
		if err != nil {
			in.Obs.RecordDLQ(item.ID, item.Sample, err)
			continue
		}
		s.TransformVer = in.Transformer.Version()
		out = append(out, s)
	}

	if len(out) > 0 {
		if err := in.Deliver(ctx, out); err != nil {
			in.Obs.LogError("engine_delivery_failed", err, ports.Field{Key: "samples", Value: len(out)})
			return len(batch), err
		}
		in.archive(out)
	}

	if err := in.WAL.Commit(maxID); err != nil {
		in.Obs.LogError("wal_commit_failed", err)
		return len(batch), nil
	}
	in.compact()
	return len(batch), nil
}

func (in *Ingest) archive(out []*domain.Sample) {
	if in.Archive == nil {
		return
	}
	start := time.Now()
	if err := in.Archive.WriteBatch(out); err != nil {
		in.Obs.LogError("archive_write_failed", err,
			ports.Field{Key: "sink", Value: in.Archive.Name()},
			ports.Field{Key: "samples", Value: len(out)})
		return
	}
	in.Obs.ObserveLatency(ports.MetricArchiveLatency, time.Since(start).Seconds())
}

// compact drops committed entries once the log uses half its budget.
func (in *Ingest) compact() {
	if in.Policy.MaxWALSizeBytes <= 0 {
		return
	}
	if in.WAL.Stats().SizeBytes < in.Policy.MaxWALSizeBytes/2 {
		return
	}
	if err := in.WAL.TruncateCommitted(); err != nil {
		in.Obs.LogError("wal_compact_failed", err)
	}
}
