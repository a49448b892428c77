// Package channel holds the append-only numeric streams fed by the device transport.
package channel

import (
	"errors"
	"fmt"
	"math"

	"github.com/ghalamif/TensileFlow/internal/dataflow"
	"github.com/ghalamif/TensileFlow/internal/domain"
)

var (
	// ErrOutOfOrder marks a sample older than the latest accepted one.
	ErrOutOfOrder = errors.New("channel: sample out of order")
	// ErrMalformed marks a sample that cannot be appended at all.
	ErrMalformed = errors.New("channel: malformed sample")
)

// Source is one named channel. Appends must arrive with non-decreasing timestamps.
//
// A volatile source replays only its latest sample to new subscribers. A
// persisted source retains every sample for the process lifetime and replays
// the full history.
type Source struct {
	name   string
	signal *dataflow.Signal[float64]
	store  *dataflow.Store[float64]
	latest domain.Sample
	has    bool
}

func NewSource(g *dataflow.Graph, name string, persisted bool) *Source {
	s := &Source{
		name:   name,
		signal: dataflow.NewSignal[float64](g, "channel."+name),
	}
	if persisted {
		s.store = dataflow.Persist(s.signal.Node, "channel."+name+".history")
	}
	return s
}

func (s *Source) Name() string { return s.name }

// Persisted reports whether the source retains its full history.
func (s *Source) Persisted() bool { return s.store != nil }

// Append adds sample to the channel and propagates it through the graph.
func (s *Source) Append(sample domain.Sample) error {
	if sample.Channel != s.name {
		return fmt.Errorf("%w: channel %q delivered to %q", ErrMalformed, sample.Channel, s.name)
	}
	if sample.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return fmt.Errorf("%w: non-finite value %v", ErrMalformed, sample.Value)
	}
	if s.has && sample.Timestamp.Before(s.latest.Timestamp) {
		return fmt.Errorf("%w: %s at %s precedes %s", ErrOutOfOrder, s.name,
			sample.Timestamp.Format("15:04:05.000"), s.latest.Timestamp.Format("15:04:05.000"))
	}

	s.latest, s.has = sample, true
	s.signal.Emit(dataflow.Event[float64]{Time: sample.Timestamp, Data: sample.Value})
	return nil
}

// Latest returns the most recent accepted sample.
func (s *Source) Latest() (domain.Sample, bool) { return s.latest, s.has }

// Node is the stream downstream operators subscribe to.
func (s *Source) Node() *dataflow.Node[float64] {
	if s.store != nil {
		return s.store.Node
	}
	return s.signal.Node
}

// History returns every retained sample value; nil for volatile sources.
func (s *Source) History() []dataflow.Event[float64] {
	if s.store == nil {
		return nil
	}
	return s.store.All()
}
