// Package ports declares the boundaries between the bench engine and the
// adapters that feed, archive and observe it.
package ports

import (
	"time"

	"github.com/ghalamif/TensileFlow/internal/domain"
)

// Collector streams raw channel samples from a device transport.
type Collector interface {
	Start(out chan<- *domain.Sample) error
	Stop() error
}

type WALEntryID uint64

// WAL persists raw samples until the engine has accepted them.
type WAL interface {
	Append(s *domain.Sample) (WALEntryID, error)
	Iterate(from WALEntryID, fn func(id WALEntryID, s *domain.Sample) error) error
	Commit(upto WALEntryID) error
	TruncateCommitted() error
	Stats() WALStats
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}

// QueuedSample is a sample waiting for the engine together with its WAL entry.
type QueuedSample struct {
	ID     WALEntryID
	Sample *domain.Sample
}

// SampleQueue is the bounded hand-off between the transport goroutine and
// the engine goroutine.
type SampleQueue interface {
	Enqueue(id WALEntryID, s *domain.Sample) bool
	DequeueBatch(max int) []QueuedSample
	Len() int
}

// Notifier is implemented by queues that can wake a consumer instead of
// being polled.
type Notifier interface {
	Ready() <-chan struct{}
}

// Transformer calibrates a raw sample. Version is stamped on every output.
type Transformer interface {
	Transform(*domain.Sample) (*domain.Sample, error)
	Version() uint16
}

// Sink archives batches of raw samples after they reached the engine.
type Sink interface {
	WriteBatch(samples []*domain.Sample) error
	Name() string
}

// Backpressure actions for a full WAL or queue.
const (
	OnFullBlock  = "block"
	OnFullDrop   = "drop"
	OnFullReject = "reject"
)

// Policy bounds the durable ingestion path between transport and engine.
type Policy struct {
	MaxWALSizeBytes int64         `yaml:"max_wal_size_bytes"`
	MaxQueueLen     int           `yaml:"max_queue_len"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
	IdleSleep       time.Duration `yaml:"idle_sleep"`

	OnWALFull   string `yaml:"on_wal_full"`
	OnQueueFull string `yaml:"on_queue_full"`
}
