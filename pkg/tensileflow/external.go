package tensileflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

var (
	ErrCollectorStopped = errors.New("tensileflow: collector stopped")
	ErrCollectorStarted = errors.New("tensileflow: collector already started")
)

var _ ports.Collector = (*ExternalCollector)(nil)

// ExternalCollector lets any transport push channel samples into the
// runtime in place of the OPC UA collector. Samples still go through the
// WAL, the queue and calibration.
type ExternalCollector struct {
	source string

	mu      sync.Mutex
	out     chan<- *domain.Sample
	seq     map[string]uint64
	started chan struct{}
	stopped chan struct{}
	stop    sync.Once
}

// NewExternalCollector tags every sample with source as its source node id.
func NewExternalCollector(source string) *ExternalCollector {
	if source == "" {
		source = "external"
	}
	return &ExternalCollector{
		source:  source,
		seq:     make(map[string]uint64),
		started: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (c *ExternalCollector) Start(out chan<- *domain.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out != nil {
		return ErrCollectorStarted
	}
	c.out = out
	close(c.started)
	return nil
}

func (c *ExternalCollector) Stop() error {
	c.stop.Do(func() { close(c.stopped) })
	return nil
}

// Publish hands one reading to the runtime. It blocks until the runtime has
// started and accepted the sample, ctx is done or the collector is stopped.
// Readings of one channel must be published in time order.
func (c *ExternalCollector) Publish(ctx context.Context, channel string, ts time.Time, value float64) error {
	select {
	case <-c.started:
	case <-c.stopped:
		return ErrCollectorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.seq[channel]++
	s := &domain.Sample{
		Channel:      channel,
		Timestamp:    ts,
		Seq:          c.seq[channel],
		Value:        value,
		SourceNodeID: c.source,
	}
	out := c.out
	c.mu.Unlock()

	select {
	case out <- s:
		return nil
	case <-c.stopped:
		return ErrCollectorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
