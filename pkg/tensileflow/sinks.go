package tensileflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/TensileFlow/internal/domain"
)

var ErrChannelSinkClosed = errors.New("tensileflow: channel sink closed")

// SampleBatchSink receives a copy of each batch the engine accepted.
type SampleBatchSink func([]Sample) error

// NewCallbackSink turns fn into a Sink.
func NewCallbackSink(name string, fn SampleBatchSink) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

type callbackSink struct {
	name string
	fn   SampleBatchSink
}

func (s *callbackSink) WriteBatch(samples []*domain.Sample) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if len(samples) == 0 {
		return nil
	}
	return s.fn(copyBatch(samples))
}

func (s *callbackSink) Name() string { return s.name }

// NewChannelSink exposes batches on a channel. A full channel makes the
// write fail instead of stalling ingestion. Call the returned function on
// shutdown to close the channel.
func NewChannelSink(name string, buffer int) (Sink, <-chan []Sample, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 1 {
		buffer = 1
	}
	s := &channelSink{name: name, ch: make(chan []Sample, buffer)}
	return s, s.ch, s.close
}

type channelSink struct {
	name string

	mu     sync.Mutex
	ch     chan []Sample
	closed bool
}

func (s *channelSink) WriteBatch(samples []*domain.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrChannelSinkClosed
	}
	if len(samples) == 0 {
		return nil
	}
	select {
	case s.ch <- copyBatch(samples):
		return nil
	default:
		return fmt.Errorf("channel sink %q: receiver is not keeping up", s.name)
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func copyBatch(samples []*domain.Sample) []Sample {
	out := make([]Sample, len(samples))
	for i, s := range samples {
		out[i] = *s
	}
	return out
}
